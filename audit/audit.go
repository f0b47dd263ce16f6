/*
Package audit records who did what, from where, to which payment.

It is separate from the payment history ledger. History is written in the
same transaction as the change it describes; audit events are handed to a
Dispatcher and written later on its own goroutine, so a slow sink never
delays the caller.

Events are plain values. Callers copy actor, origin and request id into the
Event before Emit, because nothing request-scoped survives the hand-off to
the worker goroutine.
*/
package audit

import (
	"context"
	"time"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Event is one audited operation.
type Event struct {
	ID        string
	At        time.Time
	ActorID   string
	ActorName string
	Origin    string
	RequestID string
	Operation string
	Target    string // payment, record or worker id
	Outcome   Outcome
	Detail    string // error text on failure
}

type Filter struct {
	Target  string
	ActorID string
	Limit   int // 0 = no limit
}

// Sink persists events. Append-only.
type Sink interface {
	Append(ctx context.Context, e Event) error
	List(ctx context.Context, f Filter) ([]Event, error)
}
