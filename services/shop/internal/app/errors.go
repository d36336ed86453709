package app

import "errors"

var (
	// ErrMissingProductID means the checkout request had no product id.
	ErrMissingProductID = errors.New("productId is required")
	// ErrProductNotFound means the product id is not in the catalog.
	ErrProductNotFound = errors.New("product not found")
	// ErrInvalidEmail means the optional customer email failed the shape check.
	ErrInvalidEmail = errors.New("customerEmail is not a valid email address")
	// ErrMissingIdempotencyKey means the Idempotency-Key header was absent.
	ErrMissingIdempotencyKey = errors.New("Idempotency-Key header is required")
	// ErrInvalidIdempotencyKey means the key is not a UUID.
	ErrInvalidIdempotencyKey = errors.New("Idempotency-Key must be a UUID")
	// ErrGatewayUnavailable means the payment gateway call failed.
	ErrGatewayUnavailable = errors.New("payment gateway call failed")
	// ErrOrderNotFound means no order exists for the id.
	ErrOrderNotFound = errors.New("order not found")
)
