package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/merchantkit/coflink-gateway/internal/aws"
)

// ErrStateConflict indicates a transition's expected source state no longer
// matched the stored state. Under duplicate callback delivery this is a
// benign signal, not a failure.
var ErrStateConflict = errors.New("order state conflict")

// ErrNotFound indicates no order exists for the given id.
var ErrNotFound = errors.New("order not found")

// Store encapsulates operations on the orders table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// CreateWithIdempotencyTransaction atomically creates:
//   - idempotency record in idempotencyTable (guarded by
//     attribute_not_exists(idempotency_key))
//   - the order record in the orders table
//
// so a retried checkout POST can never mint a second order for the same
// idempotency key. idempotencyItem must marshal with an idempotency_key
// attribute; order.OrderID must be set by the caller.
func (s *Store) CreateWithIdempotencyTransaction(ctx context.Context, idempotencyTable string, idempotencyItem interface{}, order Order, ttlWindow time.Duration) error {
	idempMap, err := attributevalue.MarshalMap(idempotencyItem)
	if err != nil {
		return fmt.Errorf("marshal idempotency item: %w", err)
	}
	if _, ok := idempMap["expires_at"]; !ok && ttlWindow > 0 {
		expires := s.nowFunc().Add(ttlWindow).Unix()
		idempMap["expires_at"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", expires)}
	}

	now := s.nowFunc()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	orderMap, err := attributevalue.MarshalMap(order)
	if err != nil {
		return fmt.Errorf("marshal order item: %w", err)
	}

	transactItems := []types.TransactWriteItem{
		{
			Put: &types.Put{
				TableName:           &idempotencyTable,
				Item:                idempMap,
				ConditionExpression: awsString("attribute_not_exists(idempotency_key)"),
			},
		},
		{
			Put: &types.Put{
				TableName:           &s.tableName,
				Item:                orderMap,
				ConditionExpression: awsString("attribute_not_exists(order_id)"),
			},
		},
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: transactItems,
	})
	if err != nil {
		// depending on the client path the cancellation surfaces either as
		// the typed exception or as a generic API error
		var tce *types.TransactionCanceledException
		var apiErr smithy.APIError
		if errors.As(err, &tce) || (errors.As(err, &apiErr) && apiErr.ErrorCode() == "TransactionCanceledException") {
			return fmt.Errorf("transaction canceled (likely idempotency key exists): %w", err)
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

// Get fetches an order by order_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// CurrentState reads the persisted state of an order. Returns ErrNotFound for
// an unknown id.
func (s *Store) CurrentState(ctx context.Context, orderID string) (string, error) {
	o, err := s.Get(ctx, orderID)
	if err != nil {
		return "", err
	}
	if o == nil {
		return "", ErrNotFound
	}
	return o.State, nil
}

// ApplyTransition conditionally moves the order from expectedState to
// nextState as a single read-check-write against DynamoDB. Concurrent
// deliveries of the same callback race on the condition; exactly one wins,
// the rest get ErrStateConflict.
func (s *Store) ApplyTransition(ctx context.Context, orderID, expectedState, nextState string) error {
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression:         awsString("SET #s = :next, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{"#s": "order_state"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":next":     &types.AttributeValueMemberS{Value: nextState},
			":expected": &types.AttributeValueMemberS{Value: expectedState},
			":ua":       &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
		ConditionExpression: awsString("attribute_exists(order_id) AND #s = :expected"),
	}

	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrStateConflict
		}
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// MarkNotified records that downstream notification for the order has been
// handled. The condition makes redelivered queue messages a no-op; duplicates
// surface as ErrStateConflict for the caller to swallow.
func (s *Store) MarkNotified(ctx context.Context, orderID string) error {
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression: awsString("SET notified_at = :na, updated_at = :ua"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":na": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
			":ua": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
		ConditionExpression: awsString("attribute_exists(order_id) AND attribute_not_exists(notified_at)"),
	}

	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrStateConflict
		}
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

func awsString(s string) *string { return &s }
