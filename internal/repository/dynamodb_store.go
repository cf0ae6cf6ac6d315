package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"travel-time-bot/internal/dialog"
	"travel-time-bot/internal/domain"
)

const (
	skUserData         = "DATA#"
	skStack            = "STACK#"
	defaultTTLDuration = 30 * 24 * time.Hour // 30-day TTL on conversation stacks
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// userItem is the stored shape of per-user data. User data has no TTL.
type userItem struct {
	PK   string          `json:"PK"`
	SK   string          `json:"SK"`
	Data domain.UserData `json:"data"`
}

// conversationItem is the stored shape of a conversation's dialog stack.
type conversationItem struct {
	PK      string         `json:"PK"`
	SK      string         `json:"SK"`
	Stack   []dialog.Frame `json:"stack"`
	Version int64          `json:"version"`
	TTL     int64          `json:"ttl"`
}

// Client wraps a DynamoDB table holding user data and dialog stacks.
// It satisfies dialog.Store.
type Client struct {
	api       dynamodbAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

type Option func(*Client)

// WithTTL sets how long an idle conversation stack is kept.
func WithTTL(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	c := &Client{api: api, tableName: tableName, ttl: defaultTTLDuration, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// userPK returns the partition key for a user's data.
func userPK(key string) string {
	return "USER#" + key
}

// convPK returns the partition key for a conversation.
func convPK(key string) string {
	return "CONV#" + key
}

func (c *Client) ttlValue() int64 {
	return c.now().Add(c.ttl).Unix()
}

func itemKey(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// GetUserData returns the stored user data, or the zero value for a new user.
func (c *Client) GetUserData(ctx context.Context, key string) (domain.UserData, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            itemKey(userPK(key), skUserData),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.UserData{}, fmt.Errorf("repository: GetUserData get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.UserData{}, nil
	}
	var item userItem
	if err := unmarshalItem(out.Item, &item); err != nil {
		return domain.UserData{}, fmt.Errorf("repository: GetUserData unmarshal: %w", err)
	}
	return item.Data, nil
}

// PutUserData writes or replaces the user's data.
func (c *Client) PutUserData(ctx context.Context, key string, data domain.UserData) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("repository: PutUserData: key is required")
	}
	item, err := marshalItem(userItem{PK: userPK(key), SK: skUserData, Data: data})
	if err != nil {
		return fmt.Errorf("repository: PutUserData marshal: %w", err)
	}
	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("repository: PutUserData: %w", err)
	}
	return nil
}

// GetConversation returns the stored dialog stack and its version.
func (c *Client) GetConversation(ctx context.Context, key string) (dialog.ConversationState, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            itemKey(convPK(key), skStack),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return dialog.ConversationState{}, fmt.Errorf("repository: GetConversation get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return dialog.ConversationState{}, nil
	}
	var item conversationItem
	if err := unmarshalItem(out.Item, &item); err != nil {
		return dialog.ConversationState{}, fmt.Errorf("repository: GetConversation unmarshal: %w", err)
	}
	return dialog.ConversationState{Stack: item.Stack, Version: item.Version}, nil
}

// PutConversation writes the stack only if the stored version still equals
// st.Version, bumping the version on success.
func (c *Client) PutConversation(ctx context.Context, key string, st dialog.ConversationState) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("repository: PutConversation: key is required")
	}
	item, err := marshalItem(conversationItem{
		PK:      convPK(key),
		SK:      skStack,
		Stack:   st.Stack,
		Version: st.Version + 1,
		TTL:     c.ttlValue(),
	})
	if err != nil {
		return fmt.Errorf("repository: PutConversation marshal: %w", err)
	}
	_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) OR version = :v"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberN{Value: strconv.FormatInt(st.Version, 10)},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("repository: PutConversation: %w", dialog.ErrConflict)
		}
		return fmt.Errorf("repository: PutConversation: %w", err)
	}
	return nil
}

// Items use the json tags of the domain types so the stored attribute names
// match the payloads exchanged with the calendar workers.
func marshalItem(v any) (map[string]types.AttributeValue, error) {
	return attributevalue.MarshalMapWithOptions(v, func(o *attributevalue.EncoderOptions) {
		o.TagKey = "json"
	})
}

func unmarshalItem(item map[string]types.AttributeValue, v any) error {
	return attributevalue.UnmarshalMapWithOptions(item, v, func(o *attributevalue.DecoderOptions) {
		o.TagKey = "json"
	})
}
