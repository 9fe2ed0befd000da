package orders

import "time"

// Order states. Transitions only move forward from the two pending states;
// once a terminal state is reached, redelivered callbacks must not re-trigger
// side effects.
const (
	StateNew              = "NEW"
	StatePendingBank      = "PENDING_BANK_DECISION"
	StatePendingManual    = "PENDING_MANUAL_SIGNATURE"
	StateConfirmed        = "CONFIRMED"
	StateRejectedBank     = "REJECTED_BY_BANK"
	StateRejectedMerchant = "REJECTED_BY_MERCHANT"
)

// LineItem is one basket line as persisted with the order.
type LineItem struct {
	Name        string  `dynamodbav:"name"`
	Code        string  `dynamodbav:"code"`
	GrossAmount float64 `dynamodbav:"gross_amount"` // includes VAT
	VATPercent  float64 `dynamodbav:"vat_percent"`
}

// Order represents the item stored in the orders DynamoDB table.
type Order struct {
	OrderID    string     `dynamodbav:"order_id"` // PK, doubles as the protocol order stamp
	CustomerID string     `dynamodbav:"customer_id"`
	State      string     `dynamodbav:"order_state"`
	Email      string     `dynamodbav:"email,omitempty"`
	Phone      string     `dynamodbav:"phone,omitempty"`
	Items      []LineItem `dynamodbav:"items,omitempty"`
	CreatedAt  time.Time  `dynamodbav:"created_at"`
	UpdatedAt  time.Time  `dynamodbav:"updated_at"`
	NotifiedAt *time.Time `dynamodbav:"notified_at,omitempty"`
}
