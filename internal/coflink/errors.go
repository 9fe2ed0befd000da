package coflink

import "errors"

// Sentinel errors for the protocol engine. Callers match with errors.Is.
var (
	// ErrEmptyOrder is returned when a request is built with zero line items.
	// The bank rejects empty baskets outright.
	ErrEmptyOrder = errors.New("order has no line items")

	// ErrFieldTooLong is returned when a field value exceeds the 999-character
	// bound of the 3-digit length prefix. This is a caller bug, not a
	// protocol condition.
	ErrFieldTooLong = errors.New("field value exceeds 999 characters")

	// ErrPrivateKey indicates the merchant private key could not be loaded
	// (bad PEM or wrong passphrase).
	ErrPrivateKey = errors.New("cannot load private key")

	// ErrSigning indicates the signing primitive itself failed.
	ErrSigning = errors.New("signing failed")
)
