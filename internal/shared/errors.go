package shared

import "errors"

// Error taxonomy for the allocation and posting engine. Services wrap these
// with fmt.Errorf("pkg: ...: %w", err) so handlers can map them to HTTP codes
// with errors.Is.
var (
	// ErrValidation indicates rejected user input; nothing was mutated.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates the operation is not allowed in the document's
	// current state, e.g. editing money fields after posting.
	ErrConflict = errors.New("operation conflicts with document state")
	// ErrNotFound indicates a referenced document or master record is missing.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition indicates a status change outside the transition table.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrStockConsumed blocks reversal of a receipt whose stock a sale has
	// already taken.
	ErrStockConsumed = errors.New("stock already consumed downstream")
)
