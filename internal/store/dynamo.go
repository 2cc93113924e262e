package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Dynamo maps the Records contract onto three DynamoDB tables. Predicates
// become condition expressions, so DynamoDB evaluates them atomically with
// the write. Reads are consistent reads.
type Dynamo struct {
	client    *dynamodb.Client
	users     string
	nicknames string
	dedup     string
}

// NewDynamo wraps an existing client.
func NewDynamo(client *dynamodb.Client, users, nicknames, dedup string) *Dynamo {
	return &Dynamo{client: client, users: users, nicknames: nicknames, dedup: dedup}
}

// OpenDynamo loads the default AWS config for region and returns a backend.
func OpenDynamo(ctx context.Context, region, users, nicknames, dedup string) (*Dynamo, error) {
	if strings.TrimSpace(users) == "" || strings.TrimSpace(nicknames) == "" || strings.TrimSpace(dedup) == "" {
		return nil, fmt.Errorf("dynamodb store requires users, nicknames and dedup table names")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewDynamo(dynamodb.NewFromConfig(cfg), users, nicknames, dedup), nil
}

// asConditionFailed translates DynamoDB's conditional-check failure into the
// store's sentinel; everything else passes through.
func asConditionFailed(err error) error {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return ErrConditionFailed
	}
	return err
}

func userKey(userID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"user_id": &types.AttributeValueMemberS{Value: userID},
	}
}

func nickKey(nickname string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"nickname": &types.AttributeValueMemberS{Value: strings.ToLower(nickname)},
	}
}

func dedupKey(messageID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"message_id": &types.AttributeValueMemberS{Value: messageID},
	}
}

func nowAttr(now time.Time) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)}
}

func (s *Dynamo) GetUser(ctx context.Context, userID string) (*UserRecord, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.users),
		Key:            userKey(userID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", userID, err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	var u UserRecord
	if err := attributevalue.UnmarshalMap(out.Item, &u); err != nil {
		return nil, fmt.Errorf("unmarshal user %s: %w", userID, err)
	}
	return &u, nil
}

func (s *Dynamo) SetNickname(ctx context.Context, userID, nickname, displayName string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.users),
		Key:              userKey(userID),
		UpdateExpression: aws.String("SET nickname = :n, display_name = :d"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":n": &types.AttributeValueMemberS{Value: nickname},
			":d": &types.AttributeValueMemberS{Value: displayName},
		},
	})
	if err != nil {
		return fmt.Errorf("set nickname for %s: %w", userID, err)
	}
	return nil
}

func (s *Dynamo) SetGames(ctx context.Context, userID string, games map[string]string) error {
	if games == nil {
		games = map[string]string{}
	}
	gamesAV, err := attributevalue.Marshal(games)
	if err != nil {
		return fmt.Errorf("marshal games: %w", err)
	}
	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.users),
		Key:              userKey(userID),
		UpdateExpression: aws.String("SET games = :g"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":g": gamesAV,
		},
	})
	if err != nil {
		return fmt.Errorf("set games for %s: %w", userID, err)
	}
	return nil
}

func (s *Dynamo) SetLock(ctx context.Context, userID string, lock Lock) error {
	lockAV, err := attributevalue.MarshalMap(&lock)
	if err != nil {
		return fmt.Errorf("marshal lock: %w", err)
	}
	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.users),
		Key:                 userKey(userID),
		UpdateExpression:    aws.String("SET #lk = :lock"),
		ConditionExpression: aws.String("attribute_not_exists(#lk) OR #lk.expires_at < :now"),
		ExpressionAttributeNames: map[string]string{
			"#lk": "lock",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":lock": &types.AttributeValueMemberM{Value: lockAV},
			":now":  nowAttr(time.Now()),
		},
	})
	if err != nil {
		return asConditionFailed(err)
	}
	return nil
}

func (s *Dynamo) ClearLock(ctx context.Context, userID, token string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.users),
		Key:                 userKey(userID),
		UpdateExpression:    aws.String("REMOVE #lk"),
		ConditionExpression: aws.String("#lk.#tk = :token"),
		ExpressionAttributeNames: map[string]string{
			"#lk": "lock",
			"#tk": "token",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":token": &types.AttributeValueMemberS{Value: token},
		},
	})
	if err != nil {
		return asConditionFailed(err)
	}
	return nil
}

func (s *Dynamo) DeleteUser(ctx context.Context, userID string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.users),
		Key:       userKey(userID),
	})
	if err != nil {
		return fmt.Errorf("delete user %s: %w", userID, err)
	}
	return nil
}

func (s *Dynamo) GetNickname(ctx context.Context, nickname string) (*NicknameRecord, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.nicknames),
		Key:            nickKey(nickname),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get nickname %s: %w", nickname, err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	var rec NicknameRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal nickname %s: %w", nickname, err)
	}
	return &rec, nil
}

func (s *Dynamo) PutNickname(ctx context.Context, rec NicknameRecord) error {
	item, err := attributevalue.MarshalMap(&rec)
	if err != nil {
		return fmt.Errorf("marshal nickname: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.nicknames),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(nickname)"),
	})
	if err != nil {
		return asConditionFailed(err)
	}
	return nil
}

func (s *Dynamo) DeleteNickname(ctx context.Context, nickname string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.nicknames),
		Key:       nickKey(nickname),
	})
	if err != nil {
		return fmt.Errorf("delete nickname %s: %w", nickname, err)
	}
	return nil
}

func (s *Dynamo) PutDedup(ctx context.Context, messageID string, ttl time.Duration) error {
	now := time.Now()
	rec := DedupRecord{MessageID: messageID, ExpiresAt: now.Add(ttl).Unix()}
	item, err := attributevalue.MarshalMap(&rec)
	if err != nil {
		return fmt.Errorf("marshal dedup record: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.dedup),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(message_id) OR expires_at < :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": nowAttr(now),
		},
	})
	if err != nil {
		return asConditionFailed(err)
	}
	return nil
}

func (s *Dynamo) DeleteDedup(ctx context.Context, messageID string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.dedup),
		Key:       dedupKey(messageID),
	})
	if err != nil {
		return fmt.Errorf("delete dedup %s: %w", messageID, err)
	}
	return nil
}

var _ Records = (*Dynamo)(nil)
