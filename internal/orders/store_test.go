package orders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// mockDynamo stores items per table: table -> pk -> item. It implements the
// conditional expressions the store actually issues.
type mockDynamo struct {
	mu     sync.Mutex
	tables map[string]map[string]map[string]types.AttributeValue
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{
		tables: map[string]map[string]map[string]types.AttributeValue{},
	}
}

func (m *mockDynamo) ensureTable(tbl string) {
	if _, ok := m.tables[tbl]; !ok {
		m.tables[tbl] = map[string]map[string]types.AttributeValue{}
	}
}

func itemPK(item map[string]types.AttributeValue) (string, error) {
	if v, ok := item["order_id"]; ok {
		return v.(*types.AttributeValueMemberS).Value, nil
	}
	if v, ok := item["idempotency_key"]; ok {
		return v.(*types.AttributeValueMemberS).Value, nil
	}
	return "", errors.New("no primary key attribute")
}

func (m *mockDynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	table := *params.TableName
	m.ensureTable(table)
	pk, err := itemPK(params.Item)
	if err != nil {
		return nil, err
	}
	m.tables[table][pk] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	table := *params.TableName
	m.ensureTable(table)
	pk, err := itemPK(params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.tables[table][pk]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (m *mockDynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	table := *params.TableName
	m.ensureTable(table)
	pk, err := itemPK(params.Key)
	if err != nil {
		return nil, err
	}
	item, exists := m.tables[table][pk]

	if params.ConditionExpression != nil {
		switch *params.ConditionExpression {
		case "attribute_exists(order_id) AND #s = :expected":
			if !exists {
				return nil, &types.ConditionalCheckFailedException{}
			}
			expected := params.ExpressionAttributeValues[":expected"].(*types.AttributeValueMemberS).Value
			attr := params.ExpressionAttributeNames["#s"]
			cur, ok := item[attr].(*types.AttributeValueMemberS)
			if !ok || cur.Value != expected {
				return nil, &types.ConditionalCheckFailedException{}
			}
		case "attribute_exists(order_id) AND attribute_not_exists(notified_at)":
			if !exists {
				return nil, &types.ConditionalCheckFailedException{}
			}
			if _, set := item["notified_at"]; set {
				return nil, &types.ConditionalCheckFailedException{}
			}
		default:
			return nil, errors.New("unsupported condition: " + *params.ConditionExpression)
		}
	}
	if !exists {
		item = map[string]types.AttributeValue{}
		m.tables[table][pk] = item
	}

	if v, ok := params.ExpressionAttributeValues[":next"]; ok {
		item[params.ExpressionAttributeNames["#s"]] = v
	}
	if v, ok := params.ExpressionAttributeValues[":na"]; ok {
		item["notified_at"] = v
	}
	if v, ok := params.ExpressionAttributeValues[":ua"]; ok {
		item["updated_at"] = v
	}
	return &dyn.UpdateItemOutput{Attributes: item}, nil
}

func (m *mockDynamo) DeleteItem(ctx context.Context, params *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	table := *params.TableName
	m.ensureTable(table)
	pk, err := itemPK(params.Key)
	if err != nil {
		return nil, err
	}
	delete(m.tables[table], pk)
	return &dyn.DeleteItemOutput{}, nil
}

func (m *mockDynamo) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// check all conditions first, then apply
	for _, it := range params.TransactItems {
		p := it.Put
		if p == nil || p.ConditionExpression == nil {
			continue
		}
		table := *p.TableName
		m.ensureTable(table)
		pk, err := itemPK(p.Item)
		if err != nil {
			return nil, err
		}
		switch *p.ConditionExpression {
		case "attribute_not_exists(idempotency_key)", "attribute_not_exists(order_id)":
			if _, ok := m.tables[table][pk]; ok {
				return nil, &types.TransactionCanceledException{}
			}
		default:
			return nil, errors.New("unsupported condition: " + *p.ConditionExpression)
		}
	}
	for _, it := range params.TransactItems {
		if p := it.Put; p != nil {
			table := *p.TableName
			m.ensureTable(table)
			pk, err := itemPK(p.Item)
			if err != nil {
				return nil, err
			}
			m.tables[table][pk] = p.Item
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func testOrder(id string) Order {
	return Order{
		OrderID:    id,
		CustomerID: "cust-1",
		State:      StatePendingBank,
		Email:      "a@b.ee",
		Items: []LineItem{
			{Name: "Widget", Code: "W-1", GrossAmount: 24.9, VATPercent: 20},
		},
	}
}

func TestCreateWithIdempotencyTransaction(t *testing.T) {
	mock := newMockDynamo()
	s := NewStore(mock, "orders")
	ctx := context.Background()

	idemp := map[string]interface{}{
		"idempotency_key": "key-1",
		"status":          "IN_PROGRESS",
		"order_id":        "order-1",
	}
	if err := s.CreateWithIdempotencyTransaction(ctx, "idempotency", idemp, testOrder("order-1"), 48*time.Hour); err != nil {
		t.Fatalf("create error: %v", err)
	}

	got, err := s.Get(ctx, "order-1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got == nil || got.State != StatePendingBank {
		t.Fatalf("unexpected order: %+v", got)
	}
	if len(got.Items) != 1 || got.Items[0].Code != "W-1" {
		t.Fatalf("items not persisted: %+v", got.Items)
	}

	// same idempotency key again must cancel the whole transaction
	err = s.CreateWithIdempotencyTransaction(ctx, "idempotency", idemp, testOrder("order-2"), 48*time.Hour)
	if err == nil {
		t.Fatal("expected duplicate create to fail")
	}
	if o2, _ := s.Get(ctx, "order-2"); o2 != nil {
		t.Fatal("second order must not exist after canceled transaction")
	}
}

func TestGet_NotFound(t *testing.T) {
	s := NewStore(newMockDynamo(), "orders")
	got, err := s.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}

	if _, err := s.CurrentState(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestApplyTransition_CAS(t *testing.T) {
	mock := newMockDynamo()
	s := NewStore(mock, "orders")
	ctx := context.Background()

	idemp := map[string]interface{}{"idempotency_key": "k", "order_id": "order-1"}
	if err := s.CreateWithIdempotencyTransaction(ctx, "idempotency", idemp, testOrder("order-1"), 0); err != nil {
		t.Fatalf("create error: %v", err)
	}

	if err := s.ApplyTransition(ctx, "order-1", StatePendingBank, StateConfirmed); err != nil {
		t.Fatalf("first transition error: %v", err)
	}
	state, err := s.CurrentState(ctx, "order-1")
	if err != nil {
		t.Fatalf("CurrentState error: %v", err)
	}
	if state != StateConfirmed {
		t.Fatalf("expected CONFIRMED, got %s", state)
	}

	// replayed delivery: expected state no longer matches
	if err := s.ApplyTransition(ctx, "order-1", StatePendingBank, StateConfirmed); !errors.Is(err, ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict, got %v", err)
	}

	// unknown order id
	if err := s.ApplyTransition(ctx, "order-9", StatePendingBank, StateConfirmed); !errors.Is(err, ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict for missing order, got %v", err)
	}
}

func TestApplyTransition_ConcurrentDeliveries(t *testing.T) {
	mock := newMockDynamo()
	s := NewStore(mock, "orders")
	ctx := context.Background()

	idemp := map[string]interface{}{"idempotency_key": "k", "order_id": "order-1"}
	if err := s.CreateWithIdempotencyTransaction(ctx, "idempotency", idemp, testOrder("order-1"), 0); err != nil {
		t.Fatalf("create error: %v", err)
	}

	const n = 8
	results := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- s.ApplyTransition(ctx, "order-1", StatePendingBank, StateConfirmed)
		}()
	}
	wg.Wait()
	close(results)

	wins, conflicts := 0, 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrStateConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != n-1 {
		t.Fatalf("expected exactly one winner, got wins=%d conflicts=%d", wins, conflicts)
	}
}

func TestMarkNotified_Idempotent(t *testing.T) {
	mock := newMockDynamo()
	s := NewStore(mock, "orders")
	ctx := context.Background()

	idemp := map[string]interface{}{"idempotency_key": "k", "order_id": "order-1"}
	if err := s.CreateWithIdempotencyTransaction(ctx, "idempotency", idemp, testOrder("order-1"), 0); err != nil {
		t.Fatalf("create error: %v", err)
	}

	if err := s.MarkNotified(ctx, "order-1"); err != nil {
		t.Fatalf("MarkNotified error: %v", err)
	}
	if err := s.MarkNotified(ctx, "order-1"); !errors.Is(err, ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict on redelivery, got %v", err)
	}
}
