package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"llm-chat-api/internal/domain"
)

type fakeDynamo struct {
	getOut    *dynamodb.GetItemOutput
	getErr    error
	putErr    error
	deleteErr error
	queryOuts []*dynamodb.QueryOutput
	queryErr  error

	lastGetInput    *dynamodb.GetItemInput
	lastPutInput    *dynamodb.PutItemInput
	lastDeleteInput *dynamodb.DeleteItemInput
	queryInputs     []*dynamodb.QueryInput
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	return f.getOut, f.getErr
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutInput = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	copied := *in
	f.queryInputs = append(f.queryInputs, &copied)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if len(f.queryOuts) == 0 {
		return &dynamodb.QueryOutput{}, nil
	}
	out := f.queryOuts[0]
	f.queryOuts = f.queryOuts[1:]
	return out, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.lastDeleteInput = in
	return &dynamodb.DeleteItemOutput{}, f.deleteErr
}

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	c, err := New(db, "threads-table")
	require.NoError(t, err)
	return c
}

func sampleThread(id string) domain.ChatThread {
	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	return domain.ChatThread{
		ID:     id,
		Title:  "What is 2+2?",
		Model:  "modelA",
		UserID: "user-1",
		Messages: []domain.Message{
			{Role: domain.RoleUser, Content: "What is 2+2?", Timestamp: created},
			{Role: domain.RoleAssistant, Content: "4", Timestamp: created},
		},
		CreatedAt: created,
		UpdatedAt: created.Add(time.Minute),
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, "threads-table")
	require.Error(t, err)
	_, err = New(&fakeDynamo{}, "  ")
	require.Error(t, err)
}

func TestThreadItem_RoundTrip(t *testing.T) {
	want := sampleThread("thread-1")
	got, err := itemToThread(threadItem(want))
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestThreadItem_Keys(t *testing.T) {
	item := threadItem(sampleThread("thread-1"))

	pk := item["PK"].(*types.AttributeValueMemberS)
	require.Equal(t, "THREAD#thread-1", pk.Value)
	sk := item["SK"].(*types.AttributeValueMemberS)
	require.Equal(t, "THREAD", sk.Value)

	gsiPK := item["gsi1pk"].(*types.AttributeValueMemberS)
	require.Equal(t, "THREAD", gsiPK.Value)
	gsiSK := item["gsi1sk"].(*types.AttributeValueMemberS)
	updatedAt := item["updatedAt"].(*types.AttributeValueMemberS)
	require.Equal(t, updatedAt.Value, gsiSK.Value, "index sort key must track updatedAt")
}

func TestCreate_HappyPath(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	require.NoError(t, c.Create(context.Background(), sampleThread("thread-1")))
	require.NotNil(t, db.lastPutInput)
	require.Equal(t, "attribute_not_exists(PK)", *db.lastPutInput.ConditionExpression)
	require.Equal(t, "threads-table", *db.lastPutInput.TableName)
}

func TestCreate_MissingID(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	err := c.Create(context.Background(), domain.ChatThread{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "id is required")
}

func TestCreate_PutError(t *testing.T) {
	db := &fakeDynamo{putErr: errors.New("boom")}
	c := mustNewClient(t, db)
	err := c.Create(context.Background(), sampleThread("thread-1"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "Create")
}

func TestGet_HappyPath(t *testing.T) {
	want := sampleThread("thread-1")
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: threadItem(want)}}
	c := mustNewClient(t, db)

	got, err := c.Get(context.Background(), "thread-1")
	require.NoError(t, err)
	require.Equal(t, want, got)

	require.NotNil(t, db.lastGetInput)
	require.True(t, *db.lastGetInput.ConsistentRead)
	key := db.lastGetInput.Key["PK"].(*types.AttributeValueMemberS)
	require.Equal(t, "THREAD#thread-1", key.Value)
}

func TestGet_NotFound(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{}}
	c := mustNewClient(t, db)
	_, err := c.Get(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrThreadNotFound)
}

func TestGet_APIError(t *testing.T) {
	db := &fakeDynamo{getErr: errors.New("boom")}
	c := mustNewClient(t, db)
	_, err := c.Get(context.Background(), "thread-1")
	require.Error(t, err)
	require.NotErrorIs(t, err, domain.ErrThreadNotFound)
}

func TestGet_MalformedItem(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: "thread-1"},
	}}}
	c := mustNewClient(t, db)
	_, err := c.Get(context.Background(), "thread-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing attribute")
}

func TestList_HappyPath(t *testing.T) {
	a := sampleThread("thread-a")
	b := sampleThread("thread-b")
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{
		{Items: []map[string]types.AttributeValue{threadItem(a), threadItem(b)}},
	}}
	c := mustNewClient(t, db)

	threads, err := c.List(context.Background(), "", 20)
	require.NoError(t, err)
	require.Equal(t, []domain.ChatThread{a, b}, threads)

	require.Len(t, db.queryInputs, 1)
	in := db.queryInputs[0]
	require.Equal(t, "updated_at-index", *in.IndexName)
	require.False(t, *in.ScanIndexForward, "list must read newest first")
	require.Nil(t, in.FilterExpression)
}

func TestList_UserFilter(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	_, err := c.List(context.Background(), "user-1", 20)
	require.NoError(t, err)
	in := db.queryInputs[0]
	require.Equal(t, "userId = :uid", *in.FilterExpression)
	uid := in.ExpressionAttributeValues[":uid"].(*types.AttributeValueMemberS)
	require.Equal(t, "user-1", uid.Value)
}

func TestList_PaginatesUntilLimit(t *testing.T) {
	a := sampleThread("thread-a")
	b := sampleThread("thread-b")
	c1 := sampleThread("thread-c")
	startKey := map[string]types.AttributeValue{"PK": &types.AttributeValueMemberS{Value: "THREAD#thread-a"}}
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{
		{Items: []map[string]types.AttributeValue{threadItem(a)}, LastEvaluatedKey: startKey},
		{Items: []map[string]types.AttributeValue{threadItem(b), threadItem(c1)}},
	}}
	c := mustNewClient(t, db)

	threads, err := c.List(context.Background(), "", 2)
	require.NoError(t, err)
	require.Len(t, threads, 2)
	require.Equal(t, "thread-a", threads[0].ID)
	require.Equal(t, "thread-b", threads[1].ID)

	require.Len(t, db.queryInputs, 2)
	require.Equal(t, startKey, db.queryInputs[1].ExclusiveStartKey)
}

func TestList_StopsWhenExhausted(t *testing.T) {
	a := sampleThread("thread-a")
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{
		{Items: []map[string]types.AttributeValue{threadItem(a)}},
	}}
	c := mustNewClient(t, db)

	threads, err := c.List(context.Background(), "", 20)
	require.NoError(t, err)
	require.Len(t, threads, 1)
	require.Len(t, db.queryInputs, 1)
}

func TestList_InvalidLimit(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	_, err := c.List(context.Background(), "", 0)
	require.Error(t, err)
}

func TestList_QueryError(t *testing.T) {
	db := &fakeDynamo{queryErr: errors.New("boom")}
	c := mustNewClient(t, db)
	_, err := c.List(context.Background(), "", 20)
	require.Error(t, err)
	require.Contains(t, err.Error(), "List query")
}

func TestUpdate_HappyPath(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	require.NoError(t, c.Update(context.Background(), sampleThread("thread-1")))
	require.Equal(t, "attribute_exists(PK)", *db.lastPutInput.ConditionExpression)
}

func TestUpdate_ConcurrentDelete(t *testing.T) {
	db := &fakeDynamo{putErr: &types.ConditionalCheckFailedException{}}
	c := mustNewClient(t, db)

	err := c.Update(context.Background(), sampleThread("thread-1"))
	require.ErrorIs(t, err, domain.ErrThreadNotFound)
}

func TestUpdate_PutError(t *testing.T) {
	db := &fakeDynamo{putErr: errors.New("boom")}
	c := mustNewClient(t, db)

	err := c.Update(context.Background(), sampleThread("thread-1"))
	require.Error(t, err)
	require.NotErrorIs(t, err, domain.ErrThreadNotFound)
}

func TestDelete_HappyPath(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	require.NoError(t, c.Delete(context.Background(), "thread-1"))
	require.NotNil(t, db.lastDeleteInput)
	require.Equal(t, "attribute_exists(PK)", *db.lastDeleteInput.ConditionExpression)
	key := db.lastDeleteInput.Key["PK"].(*types.AttributeValueMemberS)
	require.Equal(t, "THREAD#thread-1", key.Value)
}

func TestDelete_NotFound(t *testing.T) {
	db := &fakeDynamo{deleteErr: &types.ConditionalCheckFailedException{}}
	c := mustNewClient(t, db)

	err := c.Delete(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrThreadNotFound)
}
