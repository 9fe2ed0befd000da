package validation

// Item is a single checkout line. GrossAmount includes tax; shipping rides
// along as an ordinary item. Lines with a non-positive gross amount are
// dropped before the bank request is built, since the bank rejects them.
type Item struct {
	Name        string  `json:"name" validate:"required"`
	Code        string  `json:"code" validate:"required"` // SKU, or "#<id> <name>" when the product has none
	GrossAmount float64 `json:"gross_amount"`
	VATPercent  float64 `json:"vat_percent" validate:"min=0"`
}

// CheckoutRequest is the payload for POST /checkout.
type CheckoutRequest struct {
	CustomerID string  `json:"customer_id" validate:"required"`
	Email      string  `json:"email" validate:"required,email"`
	Phone      string  `json:"phone" validate:"required"`
	Items      []Item  `json:"items" validate:"required,min=1,dive"`
	Total      float64 `json:"total" validate:"required,gt=0"` // gross total the client claims
}
