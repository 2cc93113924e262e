package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

type AppConfig struct {
	StoreBackend string // redis | dynamodb
	RedisURL     string

	AWSRegion            string
	DynamoUsersTable     string
	DynamoNicknamesTable string
	DynamoDedupTable     string

	SQSQueueURL string
	BatchSize   int

	Gateway        string // pinpoint | http | dryrun
	PinpointAppID  string
	GatewayHTTPURL string

	DatabaseURL string

	LockTTLSec  int
	DedupTTLSec int

	MsgTemplateDir string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		StoreBackend: "redis",
		Gateway:      "dryrun",
		BatchSize:    10,
		LockTTLSec:   10,
		DedupTTLSec:  10,
	}

	if v := strings.ToLower(strings.TrimSpace(os.Getenv("STORE_BACKEND"))); v != "" {
		cfg.StoreBackend = v
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))

	cfg.AWSRegion = strings.TrimSpace(os.Getenv("AWS_REGION"))
	cfg.DynamoUsersTable = strings.TrimSpace(os.Getenv("DYNAMODB_USERS_TABLE"))
	cfg.DynamoNicknamesTable = strings.TrimSpace(os.Getenv("DYNAMODB_NICKNAMES_TABLE"))
	cfg.DynamoDedupTable = strings.TrimSpace(os.Getenv("DYNAMODB_DEDUP_TABLE"))

	cfg.SQSQueueURL = strings.TrimSpace(os.Getenv("SQS_QUEUE_URL"))
	if v := strings.TrimSpace(os.Getenv("BATCH_SIZE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 10 {
			cfg.BatchSize = n
		}
	}

	if v := strings.ToLower(strings.TrimSpace(os.Getenv("GATEWAY"))); v != "" {
		cfg.Gateway = v
	}
	cfg.PinpointAppID = strings.TrimSpace(os.Getenv("PINPOINT_APP_ID"))
	cfg.GatewayHTTPURL = strings.TrimSpace(os.Getenv("GATEWAY_HTTP_URL"))

	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	if v := strings.TrimSpace(os.Getenv("LOCK_TTL")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.LockTTLSec = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("DEDUP_TTL")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DedupTTLSec = n
		}
	}

	cfg.MsgTemplateDir = strings.TrimSpace(os.Getenv("MSG_TEMPLATE_DIR"))

	if cfg.SQSQueueURL == "" {
		return nil, errors.New("SQS_QUEUE_URL is required")
	}
	switch cfg.StoreBackend {
	case "redis":
		if cfg.RedisURL == "" {
			return nil, errors.New("REDIS_URL is required for the redis store")
		}
	case "dynamodb":
		if cfg.DynamoUsersTable == "" || cfg.DynamoNicknamesTable == "" || cfg.DynamoDedupTable == "" {
			return nil, errors.New("DYNAMODB_USERS_TABLE, DYNAMODB_NICKNAMES_TABLE and DYNAMODB_DEDUP_TABLE are required for the dynamodb store")
		}
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
	switch cfg.Gateway {
	case "pinpoint":
		if cfg.PinpointAppID == "" {
			return nil, errors.New("PINPOINT_APP_ID is required for the pinpoint gateway")
		}
	case "http":
		if cfg.GatewayHTTPURL == "" {
			return nil, errors.New("GATEWAY_HTTP_URL is required for the http gateway")
		}
	case "dryrun":
	default:
		return nil, fmt.Errorf("unknown GATEWAY %q", cfg.Gateway)
	}

	return cfg, nil
}
