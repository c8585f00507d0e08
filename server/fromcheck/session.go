package fromcheck

import (
	"fmt"
	"log/slog"

	"github.com/migadu/milterfrom/consts"
	"github.com/migadu/milterfrom/helpers"
	"github.com/migadu/milterfrom/logger"
	"github.com/migadu/milterfrom/pkg/metrics"
)

// Budget hands out transaction slots. Acquire fails when no slot is left.
type Budget interface {
	Acquire() (release func(), err error)
}

// AuthInfo describes the SMTP authentication of the sender, taken from the
// {auth_type} macro the MTA sends with MAIL FROM.
type AuthInfo struct {
	Authenticated bool
	Mechanism     string
}

// Options configure a Session.
type Options struct {
	Budget        Budget       // nil means unlimited
	Reply         Reply        // zero value means DefaultReply
	HashAddresses bool         // log digests instead of addresses
	Logger        *slog.Logger // nil means the global logger
}

// Session is the callback state machine of one MTA connection. It is not
// safe for concurrent use; the runtime calls it from a single goroutine.
type Session struct {
	caps Capabilities
	opts Options
	log  *slog.Logger
	trx  *Transaction
}

// NewSession creates the state machine for a freshly negotiated connection.
func NewSession(caps Capabilities, opts Options) *Session {
	if opts.Reply == (Reply{}) {
		opts.Reply = DefaultReply
	}
	log := opts.Logger
	if log == nil {
		log = logger.Get()
	}
	return &Session{
		caps: caps,
		opts: opts,
		log:  log,
	}
}

// Capabilities returns what was negotiated for this connection.
func (s *Session) Capabilities() Capabilities { return s.caps }

// Transaction returns the transaction in progress, or nil.
func (s *Session) Transaction() *Transaction { return s.trx }

// MailFrom starts a new transaction for envelope sender envFrom.
func (s *Session) MailFrom(envFrom string, auth AuthInfo) Disposition {
	if s.trx != nil {
		// The MTA started over without abort; drop the old state first.
		s.log.Debug("Mail transaction replaced", "trx", s.trx.id)
		s.finish(metrics.ResultAborted)
	}

	release := func() {}
	if s.opts.Budget != nil {
		var err error
		release, err = s.opts.Budget.Acquire()
		if err != nil {
			s.log.Warn("Cannot start mail transaction", "error", err)
			metrics.TransactionsTotal.WithLabelValues(metrics.ResultTempFail).Inc()
			return TempFail
		}
	}

	s.trx = newTransaction(helpers.ExtractAddress(envFrom), auth.Authenticated, release)
	if auth.Authenticated {
		metrics.AuthenticatedSenders.WithLabelValues(metrics.MechanismLabel(auth.Mechanism)).Inc()
	}

	s.log.Debug("Mail transaction started", "trx", s.trx.id,
		"from", helpers.MaskAddress(s.trx.envFrom, s.opts.HashAddresses),
		"authenticated", auth.Authenticated, "mechanism", auth.Mechanism)
	return Continue
}

// Header inspects one header field. Only From headers of authenticated
// transactions are compared; once a mismatch was seen the transaction stays
// rejected.
func (s *Session) Header(name, value string) Disposition {
	if s.trx == nil {
		s.violation("header")
		return TempFail
	}

	trx := s.trx
	if trx.authenticated && !trx.reject && helpers.EqualFoldASCII(name, "from") {
		headerFrom := helpers.ExtractAddress(value)
		if helpers.EqualFoldASCII(trx.envFrom, headerFrom) {
			metrics.HeaderChecks.WithLabelValues("match").Inc()
		} else {
			metrics.HeaderChecks.WithLabelValues("mismatch").Inc()
			trx.markRejected()
			s.log.Info("Envelope and header sender differ", "trx", trx.id,
				"envelope_from", helpers.MaskAddress(trx.envFrom, s.opts.HashAddresses),
				"header_from", helpers.MaskAddress(headerFrom, s.opts.HashAddresses))
		}
	}

	if s.caps.NoHeaderReply {
		return NoReply
	}
	return Continue
}

// EndOfMessage finishes the transaction. It returns Reject together with the
// configured reply when a mismatching From header was seen.
func (s *Session) EndOfMessage() (Disposition, *Reply) {
	if s.trx == nil {
		s.violation("eom")
		return TempFail, nil
	}

	if s.trx.reject {
		reply := s.opts.Reply
		s.log.Info("Message rejected", "trx", s.trx.id,
			"from", helpers.MaskAddress(s.trx.envFrom, s.opts.HashAddresses), "reply", reply.String())
		s.finish(metrics.ResultRejected)
		return Reject, &reply
	}

	s.finish(metrics.ResultAccepted)
	return Continue, nil
}

// Abort discards the transaction in progress, if any.
func (s *Session) Abort() Disposition {
	s.finish(metrics.ResultAborted)
	return Continue
}

// Close releases everything still held when the connection goes away.
func (s *Session) Close() {
	s.finish(metrics.ResultAborted)
}

// finish releases the current transaction and records its outcome.
func (s *Session) finish(result string) {
	trx := s.trx
	if trx == nil {
		return
	}
	s.trx = nil
	trx.done()

	metrics.TransactionsTotal.WithLabelValues(result).Inc()
	metrics.TransactionDuration.WithLabelValues(result).Observe(trx.elapsed().Seconds())
	s.log.Debug("Mail transaction finished", "trx", trx.id, "result", result)
}

// violation logs a callback that arrived outside of a transaction.
func (s *Session) violation(callback string) {
	err := fmt.Errorf("%s callback: %w", callback, consts.ErrNoTransaction)
	s.log.Error("Milter callback out of order", "callback", callback, "error", err)
	metrics.ContractViolations.WithLabelValues(callback).Inc()
}
