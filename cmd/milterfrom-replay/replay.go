package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	gomilter "github.com/d--j/go-milter"
	"github.com/emersion/go-message/textproto"
	"github.com/emersion/go-sasl"
	"github.com/migadu/milterfrom/config"
	"github.com/migadu/milterfrom/helpers"
)

// replayOptions describe the SMTP transaction to simulate.
type replayOptions struct {
	Socket       string
	EnvelopeFrom string // defaults to the address in the From header
	Recipient    string
	AuthType     string // empty means an unauthenticated sender
	AuthUser     string // {auth_authen}, the SASL login name
	Timeout      time.Duration
}

// bodyChunkSize stays below the default milter data size.
const bodyChunkSize = int(gomilter.DataSize64K)

// macroMap is the {auth_type} macro source handed to the client session.
type macroMap map[gomilter.MacroName]string

func (m macroMap) Get(name gomilter.MacroName) string {
	return m[name]
}

func (m macroMap) GetEx(name gomilter.MacroName) (string, bool) {
	v, ok := m[name]
	return v, ok
}

// saslClients start the mechanisms whose exchange the tool can simulate.
var saslClients = map[string]func(user string) sasl.Client{
	sasl.Plain: func(user string) sasl.Client {
		return sasl.NewPlainClient("", user, "")
	},
	sasl.External: func(user string) sasl.Client {
		return sasl.NewExternalClient(user)
	},
	sasl.Anonymous: func(user string) sasl.Client {
		return sasl.NewAnonymousClient(user)
	},
	sasl.OAuthBearer: func(user string) sasl.Client {
		return sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{Username: user})
	},
}

// authMacros returns the macros an MTA sends for a sender that authenticated
// with mechanism as user. Mechanisms without a client are passed on upper-cased.
func authMacros(mechanism, user string) (macroMap, error) {
	macros := macroMap{}
	if mechanism == "" {
		return macros, nil
	}

	name := strings.ToUpper(mechanism)
	if newClient, ok := saslClients[name]; ok {
		mech, _, err := newClient(user).Start()
		if err != nil {
			return nil, fmt.Errorf("sasl %s: %w", name, err)
		}
		name = mech
	}

	macros[gomilter.MacroAuthType] = name
	if user != "" {
		macros[gomilter.MacroAuthAuthen] = user
	}
	return macros, nil
}

// replay sends the RFC 5322 message read from r through the filter and
// returns the filter's final action.
func replay(r io.Reader, opts replayOptions) (*gomilter.Action, error) {
	network, address, err := config.ParseListenAddress(opts.Socket)
	if err != nil {
		return nil, err
	}
	if network == "tcp4" || network == "tcp6" {
		network = "tcp"
	}

	br := bufio.NewReader(r)
	hdr, err := textproto.ReadHeader(br)
	if err != nil {
		return nil, fmt.Errorf("failed to parse message header: %w", err)
	}

	envFrom := opts.EnvelopeFrom
	if envFrom == "" {
		envFrom = helpers.ExtractAddress(hdr.Get("From"))
	}
	recipient := opts.Recipient
	if recipient == "" {
		recipient = "postmaster@localhost"
	}

	macros, err := authMacros(opts.AuthType, opts.AuthUser)
	if err != nil {
		return nil, err
	}

	var clientOpts []gomilter.Option
	if opts.Timeout > 0 {
		clientOpts = append(clientOpts,
			gomilter.WithReadTimeout(opts.Timeout),
			gomilter.WithWriteTimeout(opts.Timeout))
	}
	client := gomilter.NewClient(network, address, clientOpts...)

	session, err := client.Session(macros)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	steps := []func() (*gomilter.Action, error){
		func() (*gomilter.Action, error) {
			return session.Conn("localhost", gomilter.FamilyInet, 25, "127.0.0.1")
		},
		func() (*gomilter.Action, error) { return session.Helo("localhost") },
		func() (*gomilter.Action, error) { return session.Mail(gomilter.RemoveAngle(envFrom), "") },
		func() (*gomilter.Action, error) { return session.Rcpt(gomilter.RemoveAngle(recipient), "") },
		func() (*gomilter.Action, error) { return session.Header(hdr) },
	}
	for _, step := range steps {
		act, err := step()
		if err != nil {
			return nil, err
		}
		if act.Type != gomilter.ActionContinue {
			return act, nil
		}
	}

	buf := make([]byte, bodyChunkSize)
	sentBody := false
	for {
		n, readErr := br.Read(buf)
		if n > 0 {
			sentBody = true
			act, err := session.BodyChunk(buf[:n])
			if err != nil {
				return nil, err
			}
			if act.StopProcessing() {
				return act, nil
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("failed to read message body: %w", readErr)
		}
	}
	if !sentBody {
		// End needs at least one body event.
		if _, err := session.BodyChunk(nil); err != nil {
			return nil, err
		}
	}

	_, act, err := session.End()
	return act, err
}

// verdict renders an action the way an MTA would report it.
func verdict(act *gomilter.Action) string {
	switch act.Type {
	case gomilter.ActionContinue, gomilter.ActionAccept:
		return "accept"
	case gomilter.ActionReject, gomilter.ActionTempFail, gomilter.ActionRejectWithCode:
		return act.SMTPReply
	default:
		return act.String()
	}
}
