package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"llm-chat-api/internal/domain"
)

const (
	pkPrefix = "THREAD#"
	skThread = "THREAD"

	// gsiName indexes every thread under one partition keyed by updatedAt so
	// List can read newest-first without scanning the table.
	gsiName      = "updated_at-index"
	gsiPartition = "THREAD"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Client wraps a DynamoDB table holding one item per chat thread. Messages
// live inside the thread item as a list attribute, so every write replaces
// the whole document in a single PutItem; that item-level atomicity is the
// only concurrency guarantee this store provides (last writer wins).
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

// threadPK returns the partition key for a thread id.
func threadPK(id string) string {
	return pkPrefix + id
}

// Create persists a new thread document. The condition rejects a write that
// would silently replace an existing thread with the same id.
func (c *Client) Create(ctx context.Context, thread domain.ChatThread) error {
	if thread.ID == "" {
		return errors.New("repository: Create: thread id is required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                threadItem(thread),
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: Create: %w", err)
	}
	return nil
}

// Get reads a thread by id with a strongly consistent read.
func (c *Client) Get(ctx context.Context, id string) (domain.ChatThread, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: threadPK(id)},
			"SK": &types.AttributeValueMemberS{Value: skThread},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.ChatThread{}, fmt.Errorf("repository: Get: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.ChatThread{}, fmt.Errorf("repository: Get %q: %w", id, domain.ErrThreadNotFound)
	}
	thread, err := itemToThread(out.Item)
	if err != nil {
		return domain.ChatThread{}, fmt.Errorf("repository: Get unmarshal: %w", err)
	}
	return thread, nil
}

// List queries the updatedAt index newest-first, optionally filtered by
// userId, and returns at most limit threads. DynamoDB applies filters after
// the page limit, so pages are walked until enough matches accumulate or the
// index is exhausted.
func (c *Client) List(ctx context.Context, userID string, limit int) ([]domain.ChatThread, error) {
	if limit <= 0 {
		return nil, errors.New("repository: List: limit must be positive")
	}

	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		IndexName:              aws.String(gsiName),
		KeyConditionExpression: aws.String("gsi1pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: gsiPartition},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	}
	if userID != "" {
		in.FilterExpression = aws.String("userId = :uid")
		in.ExpressionAttributeValues[":uid"] = &types.AttributeValueMemberS{Value: userID}
	}

	threads := make([]domain.ChatThread, 0, limit)
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: List query: %w", err)
		}
		for _, item := range out.Items {
			thread, err := itemToThread(item)
			if err != nil {
				return nil, fmt.Errorf("repository: List unmarshal: %w", err)
			}
			threads = append(threads, thread)
			if len(threads) == limit {
				return threads, nil
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return threads, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// Update replaces the whole thread document. A thread deleted since it was
// read fails the condition and surfaces as ErrThreadNotFound rather than
// being recreated.
func (c *Client) Update(ctx context.Context, thread domain.ChatThread) error {
	if thread.ID == "" {
		return errors.New("repository: Update: thread id is required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                threadItem(thread),
		ConditionExpression: aws.String("attribute_exists(PK)"),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return fmt.Errorf("repository: Update %q: %w", thread.ID, domain.ErrThreadNotFound)
		}
		return fmt.Errorf("repository: Update: %w", err)
	}
	return nil
}

// Delete removes a thread and all its messages (one document).
func (c *Client) Delete(ctx context.Context, id string) error {
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: threadPK(id)},
			"SK": &types.AttributeValueMemberS{Value: skThread},
		},
		ConditionExpression: aws.String("attribute_exists(PK)"),
	})
	if err != nil {
		if isConditionalCheckFailed(err) {
			return fmt.Errorf("repository: Delete %q: %w", id, domain.ErrThreadNotFound)
		}
		return fmt.Errorf("repository: Delete: %w", err)
	}
	return nil
}

func isConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func threadItem(thread domain.ChatThread) map[string]types.AttributeValue {
	messages := make([]types.AttributeValue, 0, len(thread.Messages))
	for _, m := range thread.Messages {
		messages = append(messages, messageAttr(m))
	}
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: threadPK(thread.ID)},
		"SK":        &types.AttributeValueMemberS{Value: skThread},
		"gsi1pk":    &types.AttributeValueMemberS{Value: gsiPartition},
		"gsi1sk":    &types.AttributeValueMemberS{Value: formatTime(thread.UpdatedAt)},
		"id":        &types.AttributeValueMemberS{Value: thread.ID},
		"title":     &types.AttributeValueMemberS{Value: thread.Title},
		"model":     &types.AttributeValueMemberS{Value: thread.Model},
		"userId":    &types.AttributeValueMemberS{Value: thread.UserID},
		"messages":  &types.AttributeValueMemberL{Value: messages},
		"createdAt": &types.AttributeValueMemberS{Value: formatTime(thread.CreatedAt)},
		"updatedAt": &types.AttributeValueMemberS{Value: formatTime(thread.UpdatedAt)},
	}
}

func messageAttr(m domain.Message) types.AttributeValue {
	return &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
		"role":      &types.AttributeValueMemberS{Value: m.Role},
		"content":   &types.AttributeValueMemberS{Value: m.Content},
		"timestamp": &types.AttributeValueMemberS{Value: formatTime(m.Timestamp)},
	}}
}

// itemToThread converts a DynamoDB attribute map to a typed ChatThread;
// documents never pass through untyped.
func itemToThread(item map[string]types.AttributeValue) (domain.ChatThread, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.ChatThread{}, err
	}
	title, err := strAttr(item, "title")
	if err != nil {
		return domain.ChatThread{}, err
	}
	model, err := strAttr(item, "model")
	if err != nil {
		return domain.ChatThread{}, err
	}
	userID, _ := strAttr(item, "userId") // allow empty
	createdAt, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.ChatThread{}, err
	}
	updatedAt, err := timeAttr(item, "updatedAt")
	if err != nil {
		return domain.ChatThread{}, err
	}
	messages, err := messagesAttr(item)
	if err != nil {
		return domain.ChatThread{}, err
	}
	return domain.ChatThread{
		ID:        id,
		Title:     title,
		Model:     model,
		UserID:    userID,
		Messages:  messages,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}

func messagesAttr(item map[string]types.AttributeValue) ([]domain.Message, error) {
	v, ok := item["messages"]
	if !ok {
		return nil, errors.New(`repository: missing attribute "messages"`)
	}
	list, ok := v.(*types.AttributeValueMemberL)
	if !ok {
		return nil, errors.New(`repository: attribute "messages" is not a list`)
	}
	messages := make([]domain.Message, 0, len(list.Value))
	for i, entry := range list.Value {
		m, ok := entry.(*types.AttributeValueMemberM)
		if !ok {
			return nil, fmt.Errorf("repository: message %d is not a map", i)
		}
		role, err := strAttr(m.Value, "role")
		if err != nil {
			return nil, fmt.Errorf("repository: message %d: %w", i, err)
		}
		content, err := strAttr(m.Value, "content")
		if err != nil {
			return nil, fmt.Errorf("repository: message %d: %w", i, err)
		}
		ts, err := timeAttr(m.Value, "timestamp")
		if err != nil {
			return nil, fmt.Errorf("repository: message %d: %w", i, err)
		}
		messages = append(messages, domain.Message{Role: role, Content: content, Timestamp: ts})
	}
	return messages, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
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

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	raw, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return t, nil
}
