// Package fromcheck holds the per-connection state machine that compares the
// envelope sender of authenticated submissions with the From header.
//
// A Session is created for every MTA connection after option negotiation.
// The milter runtime feeds it the callbacks of that connection in order:
//
//	MailFrom -> Header* -> EndOfMessage | Abort
//
// Nothing in this package is shared between connections except the
// transaction Budget handed in by the caller.
package fromcheck

import "fmt"

// Disposition is the verdict returned to the MTA for one callback.
type Disposition int

const (
	// Continue lets the MTA proceed with the transaction.
	Continue Disposition = iota
	// TempFail asks the MTA to answer the client with a temporary failure.
	TempFail
	// Reject rejects the message with the accompanying Reply.
	Reject
	// NoReply means no answer is sent because the MTA agreed not to expect one.
	NoReply
)

func (d Disposition) String() string {
	switch d {
	case Continue:
		return "continue"
	case TempFail:
		return "tempfail"
	case Reject:
		return "reject"
	case NoReply:
		return "noreply"
	default:
		return fmt.Sprintf("disposition(%d)", int(d))
	}
}

// Reply is the SMTP reply sent with a Reject disposition.
type Reply struct {
	Code   uint16 // e.g. 550
	Status string // RFC 3463 enhanced status code, e.g. "5.7.1"
	Text   string
}

// DefaultReply is used when the session is created without an explicit reply.
var DefaultReply = Reply{
	Code:   550,
	Status: "5.7.1",
	Text:   "Rejected due to unmatching envelope and header sender.",
}

// Reason returns the reply without the numeric code: "5.7.1 Rejected ...".
func (r Reply) Reason() string {
	if r.Status == "" {
		return r.Text
	}
	return r.Status + " " + r.Text
}

func (r Reply) String() string {
	return fmt.Sprintf("%d %s", r.Code, r.Reason())
}
