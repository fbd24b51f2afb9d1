package receiving

import (
	"fmt"

	"github.com/bookhaul-erp/bookhaul-erp/internal/shared"
)

// Event is a requested lifecycle change.
type Event string

const (
	// EventMarkReceived posts the document.
	EventMarkReceived Event = "MARK_RECEIVED"
	// EventCancel cancels the document, reversing stock when it was posted.
	EventCancel Event = "CANCEL"
)

type transitionKey struct {
	from  Status
	event Event
}

// The full transition table. MarkReceived on an already received document is
// a permitted self-transition: the posting guard turns it into a no-op, which
// is what makes client retries of "mark received" safe.
var transitions = map[transitionKey]Status{
	{StatusDraft, EventMarkReceived}:    StatusReceived,
	{StatusReceived, EventMarkReceived}: StatusReceived,
	{StatusDraft, EventCancel}:          StatusCancelled,
	{StatusReceived, EventCancel}:       StatusCancelled,
}

// Next resolves the target status for an event, or ErrInvalidTransition.
func Next(from Status, event Event) (Status, error) {
	to, ok := transitions[transitionKey{from, event}]
	if !ok {
		return "", fmt.Errorf("receiving: %s on %s document: %w", event, from, shared.ErrInvalidTransition)
	}
	return to, nil
}
