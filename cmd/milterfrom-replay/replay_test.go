package main

import (
	"context"
	"strings"
	"testing"

	gomilter "github.com/d--j/go-milter"
	"github.com/migadu/milterfrom/server/milter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const message = "From: Alice <alice@example.com>\r\n" +
	"To: bob@example.net\r\n" +
	"Subject: test\r\n" +
	"\r\n" +
	"Hello Bob.\r\n"

func startFilter(t *testing.T) string {
	t.Helper()
	srv, err := milter.New(context.Background(), milter.ServerOptions{Socket: "inet:0@127.0.0.1"})
	require.NoError(t, err)
	require.NoError(t, srv.Listen())

	errChan := make(chan error, 1)
	go srv.Start(errChan)
	t.Cleanup(func() { srv.Close() })

	return "inet:" + portOf(t, srv.Addr().String()) + "@127.0.0.1"
}

func portOf(t *testing.T, addr string) string {
	t.Helper()
	i := strings.LastIndexByte(addr, ':')
	require.Greater(t, i, 0)
	return addr[i+1:]
}

func TestReplayAuthenticatedMatch(t *testing.T) {
	socket := startFilter(t)

	act, err := replay(strings.NewReader(message), replayOptions{Socket: socket, AuthType: "PLAIN"})
	require.NoError(t, err)
	assert.Equal(t, gomilter.ActionAccept, act.Type)
	assert.Equal(t, "accept", verdict(act))
}

func TestReplayAuthenticatedMismatch(t *testing.T) {
	socket := startFilter(t)

	act, err := replay(strings.NewReader(message), replayOptions{
		Socket:       socket,
		EnvelopeFrom: "mallory@example.com",
		AuthType:     "LOGIN",
	})
	require.NoError(t, err)
	assert.Equal(t, gomilter.ActionRejectWithCode, act.Type)
	assert.Contains(t, verdict(act), "550 5.7.1")
	assert.Equal(t, 1, exitCode(act))
}

func TestReplayUnauthenticated(t *testing.T) {
	socket := startFilter(t)

	act, err := replay(strings.NewReader(message), replayOptions{
		Socket:       socket,
		EnvelopeFrom: "mallory@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "accept", verdict(act))
}

func TestReplayEmptyBody(t *testing.T) {
	socket := startFilter(t)

	act, err := replay(strings.NewReader("From: <alice@example.com>\r\n\r\n"), replayOptions{Socket: socket, AuthType: "PLAIN"})
	require.NoError(t, err)
	assert.Equal(t, gomilter.ActionAccept, act.Type)
}

func TestReplayBracketedEnvelope(t *testing.T) {
	socket := startFilter(t)

	act, err := replay(strings.NewReader(message), replayOptions{
		Socket:       socket,
		EnvelopeFrom: "<alice@example.com>",
		AuthType:     "plain",
		AuthUser:     "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, gomilter.ActionAccept, act.Type)
}

func TestAuthMacros(t *testing.T) {
	tests := []struct {
		mechanism string
		user      string
		want      macroMap
	}{
		{"", "alice", macroMap{}},
		{"plain", "alice", macroMap{gomilter.MacroAuthType: "PLAIN", gomilter.MacroAuthAuthen: "alice"}},
		{"external", "", macroMap{gomilter.MacroAuthType: "EXTERNAL"}},
		{"oauthbearer", "alice", macroMap{gomilter.MacroAuthType: "OAUTHBEARER", gomilter.MacroAuthAuthen: "alice"}},
		{"cram-md5", "alice", macroMap{gomilter.MacroAuthType: "CRAM-MD5", gomilter.MacroAuthAuthen: "alice"}},
	}
	for _, tt := range tests {
		t.Run(tt.mechanism, func(t *testing.T) {
			got, err := authMacros(tt.mechanism, tt.user)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReplayBadSocket(t *testing.T) {
	_, err := replay(strings.NewReader(message), replayOptions{Socket: "nope:x"})
	assert.Error(t, err)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 2, exitCode(&gomilter.Action{Type: gomilter.ActionTempFail, SMTPCode: 451}))
	assert.Equal(t, 1, exitCode(&gomilter.Action{Type: gomilter.ActionReject, SMTPCode: 550}))
}
