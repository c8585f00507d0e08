package milter

import (
	"fmt"

	gomilter "github.com/d--j/go-milter"
	"github.com/migadu/milterfrom/server/fromcheck"
)

// backend is the go-milter handler of one MTA connection. It translates the
// wire callbacks into fromcheck.Session calls and the dispositions back into
// milter responses.
type backend struct {
	gomilter.NoOpMilter
	session *fromcheck.Session
}

var _ gomilter.Milter = (*backend)(nil)

func (b *backend) MailFrom(from string, esmtpArgs string, m gomilter.Modifier) (*gomilter.Response, error) {
	authType, ok := m.GetEx(gomilter.MacroAuthType)
	auth := fromcheck.AuthInfo{Authenticated: ok, Mechanism: authType}
	// go-milter strips the outer angle brackets; restore the MAIL FROM
	// argument so the address is extracted from what the MTA sent.
	return toResponse(b.session.MailFrom("<"+from+">", auth))
}

func (b *backend) Header(name string, value string, m gomilter.Modifier) (*gomilter.Response, error) {
	return toResponse(b.session.Header(name, value))
}

func (b *backend) EndOfMessage(m gomilter.Modifier) (*gomilter.Response, error) {
	disposition, reply := b.session.EndOfMessage()
	if disposition == fromcheck.Reject && reply != nil {
		resp, err := gomilter.RejectWithCodeAndReason(reply.Code, reply.Reason())
		if err != nil {
			// unusable reply text, fall back to the generic rejection
			return gomilter.RespReject, nil
		}
		return resp, nil
	}
	return toResponse(disposition)
}

func (b *backend) Abort(m gomilter.Modifier) error {
	b.session.Abort()
	return nil
}

func (b *backend) Cleanup(m gomilter.Modifier) {
	b.session.Close()
}

// toResponse maps a disposition to the go-milter response. NoReply becomes
// RespContinue: once header replies are switched off during negotiation the
// library does not put the response on the wire.
func toResponse(d fromcheck.Disposition) (*gomilter.Response, error) {
	switch d {
	case fromcheck.Continue, fromcheck.NoReply:
		return gomilter.RespContinue, nil
	case fromcheck.TempFail:
		return gomilter.RespTempFail, nil
	case fromcheck.Reject:
		return gomilter.RespReject, nil
	default:
		return nil, fmt.Errorf("unknown disposition %v", d)
	}
}
