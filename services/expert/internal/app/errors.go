package app

import "errors"

var (
	// ErrEmailInUse means an operator account already exists for the email.
	ErrEmailInUse = errors.New("email already registered")
	// ErrInvalidCredentials covers unknown email or wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidInput means a required field is missing or malformed.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidAction means the validation action is neither approve nor reject.
	ErrInvalidAction = errors.New("action must be approve or reject")
	// ErrRejectionReasonRequired means a reject decision came without a reason.
	ErrRejectionReasonRequired = errors.New("a rejection reason is required")
	// ErrNoGeneratedContent means a reject decision targets an order with no
	// generated content to reject.
	ErrNoGeneratedContent = errors.New("order has no generated content to reject")
)
