package fromcheck

import (
	"github.com/d--j/go-milter"
)

// Capabilities records what was agreed with the MTA for one connection.
type Capabilities struct {
	// NoHeaderReply is set when the MTA accepted that header callbacks get no reply.
	NoHeaderReply bool
}

// requiredProtocol are the protocol steps this filter never needs to see.
const requiredProtocol = milter.OptNoConnect | milter.OptNoHelo | milter.OptNoRcptTo

// Negotiate picks the actions and protocol steps to request from an MTA that
// offered mtaActions and mtaProtocol. The filter never modifies messages, so
// no actions are requested. Connect, HELO and RCPT events are switched off,
// and header replies are dropped when the MTA supports it.
func Negotiate(mtaActions milter.OptAction, mtaProtocol milter.OptProtocol) (milter.OptAction, milter.OptProtocol, Capabilities) {
	protocol := requiredProtocol
	caps := Capabilities{}
	if mtaProtocol&milter.OptNoHeaderReply != 0 {
		protocol |= milter.OptNoHeaderReply
		caps.NoHeaderReply = true
	}
	return 0, protocol, caps
}

// CapabilitiesFromProtocol derives the connection capabilities from the
// protocol mask that negotiation settled on.
func CapabilitiesFromProtocol(protocol milter.OptProtocol) Capabilities {
	return Capabilities{
		NoHeaderReply: protocol&milter.OptNoHeaderReply != 0,
	}
}
