package app

import "errors"

var (
	// ErrInvalidInput means a required field is missing or malformed.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotEligible means no paid or completed order exists for the email.
	ErrNotEligible = errors.New("no paid order found for this email")
	// ErrUnauthorized means the session token is missing, expired or revoked.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden means the order belongs to another customer.
	ErrForbidden = errors.New("order belongs to another customer")
	// ErrNotCompleted means the order's content is not delivered yet.
	ErrNotCompleted = errors.New("order is not completed yet")
)
