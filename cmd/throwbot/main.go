package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"throwbot/internal/archive"
	"throwbot/internal/batch"
	appcfg "throwbot/internal/config"
	"throwbot/internal/dedup"
	"throwbot/internal/gateway"
	"throwbot/internal/match"
	"throwbot/internal/msgcat"
	"throwbot/internal/nickname"
	"throwbot/internal/obslog"
	"throwbot/internal/store"
	"throwbot/internal/transport"
	"throwbot/internal/userlock"
)

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	records, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("store init error: %v", err)
	}
	defer closeStore()

	cat, err := msgcat.New(cfg.MsgTemplateDir)
	if err != nil {
		log.Fatalf("message catalog error: %v", err)
	}

	locks := userlock.NewManager(records, time.Duration(cfg.LockTTLSec)*time.Second)
	guard := dedup.NewGuard(records, time.Duration(cfg.DedupTTLSec)*time.Second)
	nicks := nickname.NewDirectory(records)
	engine := match.NewEngine(records, nicks, locks, cat)

	var repo *archive.Repository
	if cfg.DatabaseURL != "" {
		repo, err = archive.New(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("archive init error: %v", err)
		}
		engine.AttachArchive(repo)
	}
	defer func() { _ = repo.Close() }()

	notify, err := openGateway(ctx, cfg)
	if err != nil {
		log.Fatalf("gateway init error: %v", err)
	}

	queue, err := transport.OpenSQS(ctx, cfg.AWSRegion, cfg.SQSQueueURL)
	if err != nil {
		log.Fatalf("queue init error: %v", err)
	}

	coord := batch.NewCoordinator(guard, locks, engine, notify, queue)

	done := make(chan struct{})
	go func() {
		defer close(done)
		runLoop(ctx, coord, queue, int32(cfg.BatchSize))
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	obslog.L().Info("shutting_down")
	cancel()
	<-done
}

// runLoop long-polls the queue and drives batches until ctx is canceled.
// A batch error only means some messages stay for redelivery.
func runLoop(ctx context.Context, coord *batch.Coordinator, queue transport.Queue, batchSize int32) {
	for {
		if ctx.Err() != nil {
			return
		}
		msgs, err := queue.Receive(ctx, batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			obslog.L().Warn("receive_failed", zap.Error(err))
			time.Sleep(2 * time.Second)
			continue
		}
		if len(msgs) == 0 {
			continue
		}
		if err := coord.Process(ctx, msgs); err != nil {
			var berr *batch.Error
			if errors.As(err, &berr) {
				obslog.L().Warn("batch_incomplete",
					zap.Int("failed", berr.Failed),
					zap.Int("skipped", berr.Skipped),
					zap.Int("total", berr.Total),
				)
			} else {
				obslog.L().Error("batch_error", zap.Error(err))
			}
		}
	}
}

func openStore(ctx context.Context, cfg *appcfg.AppConfig) (store.Records, func(), error) {
	switch cfg.StoreBackend {
	case "dynamodb":
		s, err := store.OpenDynamo(ctx, cfg.AWSRegion, cfg.DynamoUsersTable, cfg.DynamoNicknamesTable, cfg.DynamoDedupTable)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	default:
		s, err := store.OpenRedis(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	}
}

func openGateway(ctx context.Context, cfg *appcfg.AppConfig) (gateway.Notifier, error) {
	switch cfg.Gateway {
	case "pinpoint":
		return gateway.OpenPinpoint(ctx, cfg.AWSRegion, cfg.PinpointAppID)
	case "http":
		return gateway.NewHTTP(cfg.GatewayHTTPURL)
	default:
		return gateway.Dryrun{}, nil
	}
}
