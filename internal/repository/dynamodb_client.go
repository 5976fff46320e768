package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	pkPrefixMessage = "MID#"
	defaultTTL      = 24 * time.Hour
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Client is the delivery ledger: one item per Messenger message id, expiring
// after the TTL. It stores ids and timestamps only.
type Client struct {
	api       dynamodbAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

// New creates a ledger on tableName. A non-positive ttl falls back to 24h.
func New(api dynamodbAPI, tableName string, ttl time.Duration) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Client{api: api, tableName: tableName, ttl: ttl, now: time.Now}, nil
}

func messagePK(messageID string) string {
	return pkPrefixMessage + messageID
}

// MarkProcessed records messageID and reports whether this call was the first
// to do so. A conditional-check failure means the id was already recorded.
func (c *Client) MarkProcessed(ctx context.Context, messageID string) (bool, error) {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return false, errors.New("repository: MarkProcessed: message id is required")
	}

	now := c.now().UTC()
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"PK":          &types.AttributeValueMemberS{Value: messagePK(messageID)},
			"processedAt": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
			"ttl":         &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(c.ttl).Unix(), 10)},
		},
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return false, nil
		}
		return false, fmt.Errorf("repository: MarkProcessed: %w", err)
	}
	return true, nil
}

// Release drops the record for messageID so a redelivery is handled again.
// Releasing an unknown id is not an error.
func (c *Client) Release(ctx context.Context, messageID string) error {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return errors.New("repository: Release: message id is required")
	}
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: messagePK(messageID)},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: Release: %w", err)
	}
	return nil
}

// ProcessedAt returns when messageID was recorded, or the zero time when it
// is unknown or its TTL has passed.
func (c *Client) ProcessedAt(ctx context.Context, messageID string) (time.Time, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: messagePK(strings.TrimSpace(messageID))},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: ProcessedAt get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return time.Time{}, nil
	}

	// DynamoDB deletes expired items lazily, so the ttl is checked here too.
	expires, err := intAttr(out.Item, "ttl")
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: ProcessedAt decode ttl: %w", err)
	}
	if c.now().Unix() >= expires {
		return time.Time{}, nil
	}

	raw, err := strAttr(out.Item, "processedAt")
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: ProcessedAt: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: ProcessedAt parse: %w", err)
	}
	return ts, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
