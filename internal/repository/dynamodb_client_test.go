package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"
)

type fakeDynamo struct {
	getOut       *dynamodb.GetItemOutput
	getErr       error
	putErr       error
	deleteErr    error
	lastGetInput *dynamodb.GetItemInput
	lastPutInput *dynamodb.PutItemInput
	lastDelInput *dynamodb.DeleteItemInput
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.lastDelInput = in
	return &dynamodb.DeleteItemOutput{}, f.deleteErr
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	return f.getOut, f.getErr
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutInput = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

var fixedNow = time.Date(2026, 10, 18, 8, 30, 0, 0, time.UTC)

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	c, err := New(db, "deliveries", time.Hour)
	require.NoError(t, err)
	c.now = func() time.Time { return fixedNow }
	return c
}

func TestNew_Validates(t *testing.T) {
	_, err := New(nil, "deliveries", time.Hour)
	require.ErrorContains(t, err, "api must not be nil")

	_, err = New(&fakeDynamo{}, " ", time.Hour)
	require.ErrorContains(t, err, "table name")

	c, err := New(&fakeDynamo{}, "deliveries", 0)
	require.NoError(t, err)
	require.Equal(t, defaultTTL, c.ttl)
}

func TestMarkProcessed_FirstDelivery(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	first, err := c.MarkProcessed(context.Background(), "mid.1457764197618:41d102a3e1ae206a38")
	require.NoError(t, err)
	require.True(t, first)

	in := db.lastPutInput
	require.NotNil(t, in)
	require.Equal(t, "deliveries", *in.TableName)
	require.Equal(t, "attribute_not_exists(PK)", *in.ConditionExpression)
	require.Equal(t, &types.AttributeValueMemberS{Value: "MID#mid.1457764197618:41d102a3e1ae206a38"}, in.Item["PK"])
	require.Equal(t, &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", fixedNow.Add(time.Hour).Unix())}, in.Item["ttl"])
	require.Equal(t, &types.AttributeValueMemberS{Value: fixedNow.Format(time.RFC3339Nano)}, in.Item["processedAt"])
}

func TestMarkProcessed_Redelivery(t *testing.T) {
	db := &fakeDynamo{putErr: &types.ConditionalCheckFailedException{Message: strPtr("exists")}}
	c := mustNewClient(t, db)

	first, err := c.MarkProcessed(context.Background(), "mid.1")
	require.NoError(t, err)
	require.False(t, first)
}

func TestMarkProcessed_WrappedConditionalFailure(t *testing.T) {
	wrapped := fmt.Errorf("operation error DynamoDB: PutItem: %w", &types.ConditionalCheckFailedException{})
	c := mustNewClient(t, &fakeDynamo{putErr: wrapped})

	first, err := c.MarkProcessed(context.Background(), "mid.1")
	require.NoError(t, err)
	require.False(t, first)
}

func TestMarkProcessed_Errors(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{putErr: errors.New("ProvisionedThroughputExceededException")})
	_, err := c.MarkProcessed(context.Background(), "mid.1")
	require.ErrorContains(t, err, "MarkProcessed")
	require.ErrorContains(t, err, "ProvisionedThroughput")

	_, err = c.MarkProcessed(context.Background(), "  ")
	require.ErrorContains(t, err, "message id is required")
}

func TestRelease(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	require.NoError(t, c.Release(context.Background(), " mid.1 "))
	require.Equal(t, "deliveries", *db.lastDelInput.TableName)
	require.Equal(t, &types.AttributeValueMemberS{Value: "MID#mid.1"}, db.lastDelInput.Key["PK"])

	require.ErrorContains(t, c.Release(context.Background(), ""), "message id is required")

	db.deleteErr = errors.New("AccessDenied")
	require.ErrorContains(t, c.Release(context.Background(), "mid.1"), "AccessDenied")
}

func ledgerItem(processedAt time.Time, ttl int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":          &types.AttributeValueMemberS{Value: "MID#mid.1"},
		"processedAt": &types.AttributeValueMemberS{Value: processedAt.Format(time.RFC3339Nano)},
		"ttl":         &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ttl)},
	}
}

func TestProcessedAt(t *testing.T) {
	recorded := fixedNow.Add(-10 * time.Minute)

	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: ledgerItem(recorded, fixedNow.Add(time.Hour).Unix())}}
	c := mustNewClient(t, db)
	ts, err := c.ProcessedAt(context.Background(), "mid.1")
	require.NoError(t, err)
	require.True(t, recorded.Equal(ts))
	require.True(t, *db.lastGetInput.ConsistentRead)

	db.getOut = &dynamodb.GetItemOutput{Item: ledgerItem(recorded, fixedNow.Add(-time.Second).Unix())}
	ts, err = c.ProcessedAt(context.Background(), "mid.1")
	require.NoError(t, err)
	require.True(t, ts.IsZero(), "expired items must read as unknown")

	db.getOut = &dynamodb.GetItemOutput{}
	ts, err = c.ProcessedAt(context.Background(), "mid.1")
	require.NoError(t, err)
	require.True(t, ts.IsZero())
}

func TestProcessedAt_Errors(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{getErr: errors.New("boom")})
	_, err := c.ProcessedAt(context.Background(), "mid.1")
	require.ErrorContains(t, err, "get item")

	c = mustNewClient(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"PK":  &types.AttributeValueMemberS{Value: "MID#mid.1"},
		"ttl": &types.AttributeValueMemberS{Value: "bad"},
	}}})
	_, err = c.ProcessedAt(context.Background(), "mid.1")
	require.ErrorContains(t, err, "decode ttl")
}

func strPtr(s string) *string { return &s }
