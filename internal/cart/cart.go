package cart

import (
	"context"
	"fmt"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/merchantkit/coflink-gateway/internal/aws"
)

// Store clears persisted carts once a payment outcome empties the basket.
// Carts live in their own table keyed on customer_id.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
}

// NewStore returns a cart Store bound to a table.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
	}
}

// Clear deletes the customer's cart row. Deleting an absent row succeeds;
// clearing twice is harmless.
func (s *Store) Clear(ctx context.Context, customerID string) error {
	_, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"customer_id": &types.AttributeValueMemberS{Value: customerID},
		},
	})
	if err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}
	return nil
}
