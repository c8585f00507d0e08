package fromcheck

import (
	"time"

	"github.com/google/uuid"
)

// Transaction is the state of one mail transaction, from MAIL FROM until
// end-of-message or abort. It is never reused.
type Transaction struct {
	id            string
	authenticated bool
	envFrom       string
	reject        bool
	started       time.Time
	release       func()
}

func newTransaction(envFrom string, authenticated bool, release func()) *Transaction {
	return &Transaction{
		id:            uuid.NewString(),
		authenticated: authenticated,
		envFrom:       envFrom,
		started:       time.Now(),
		release:       release,
	}
}

// ID is a correlation id for log lines of this transaction.
func (t *Transaction) ID() string { return t.id }

// Authenticated reports whether the sender authenticated before MAIL FROM.
func (t *Transaction) Authenticated() bool { return t.authenticated }

// EnvelopeFrom is the bare envelope sender address.
func (t *Transaction) EnvelopeFrom() string { return t.envFrom }

// Rejected reports whether a mismatching From header was seen.
func (t *Transaction) Rejected() bool { return t.reject }

func (t *Transaction) markRejected() { t.reject = true }

func (t *Transaction) elapsed() time.Duration { return time.Since(t.started) }

// done returns the budget slot. Safe to call more than once.
func (t *Transaction) done() {
	if t.release != nil {
		t.release()
		t.release = nil
	}
}
