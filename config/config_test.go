package config

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/migadu/milterfrom/consts"
)

func TestNewDefaultConfig_PolicyMatchesClassicReply(t *testing.T) {
	cfg := NewDefaultConfig()

	if cfg.Policy.RejectCode != 550 {
		t.Errorf("Expected reject code 550, got %d", cfg.Policy.RejectCode)
	}
	if cfg.Policy.RejectStatus != "5.7.1" {
		t.Errorf("Expected reject status 5.7.1, got %s", cfg.Policy.RejectStatus)
	}
	if cfg.Policy.RejectText != "Rejected due to unmatching envelope and header sender." {
		t.Errorf("Unexpected reject text %q", cfg.Policy.RejectText)
	}
	if err := cfg.Policy.Validate(); err != nil {
		t.Errorf("Default policy should validate, got %v", err)
	}
}

func TestMilterConfig_Timeouts(t *testing.T) {
	cfg := MilterConfig{}

	readTimeout, err := cfg.GetReadTimeout()
	if err != nil {
		t.Fatalf("Failed to get default read timeout: %v", err)
	}
	if readTimeout != 10*time.Second {
		t.Errorf("Expected default read timeout 10s, got %v", readTimeout)
	}

	cfg.WriteTimeout = "250ms"
	writeTimeout, err := cfg.GetWriteTimeout()
	if err != nil {
		t.Fatalf("Failed to get write timeout: %v", err)
	}
	if writeTimeout != 250*time.Millisecond {
		t.Errorf("Expected write timeout 250ms, got %v", writeTimeout)
	}

	cfg.ReadTimeout = "soon"
	if _, err := cfg.GetReadTimeout(); err == nil {
		t.Error("Expected error for invalid read timeout")
	}

	cfg.ReadTimeout = "-1s"
	if _, err := cfg.GetReadTimeout(); err == nil {
		t.Error("Expected error for negative read timeout")
	}
}

func TestMilterConfig_SocketMode(t *testing.T) {
	tests := []struct {
		mode    string
		want    os.FileMode
		wantErr bool
	}{
		{mode: "", want: 0660},
		{mode: "0600", want: 0600},
		{mode: "666", want: 0666},
		{mode: "0999", wantErr: true},
		{mode: "01777", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			cfg := MilterConfig{SocketMode: tt.mode}
			got, err := cfg.GetSocketMode()
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error for mode %q", tt.mode)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected mode %o, got %o", tt.want, got)
			}
		})
	}
}

func TestPolicyConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		policy  PolicyConfig
		wantErr bool
	}{
		{name: "classic", policy: PolicyConfig{RejectCode: 550, RejectStatus: "5.7.1", RejectText: "no"}},
		{name: "other permanent", policy: PolicyConfig{RejectCode: 554, RejectStatus: "5.7.0", RejectText: "no"}},
		{name: "temporary code", policy: PolicyConfig{RejectCode: 451, RejectStatus: "5.7.1"}, wantErr: true},
		{name: "temporary status", policy: PolicyConfig{RejectCode: 550, RejectStatus: "4.7.1"}, wantErr: true},
		{name: "malformed status", policy: PolicyConfig{RejectCode: 550, RejectStatus: "5.7"}, wantErr: true},
		{name: "non numeric status", policy: PolicyConfig{RejectCode: 550, RejectStatus: "5.x.1"}, wantErr: true},
		{name: "multi line text", policy: PolicyConfig{RejectCode: 550, RejectStatus: "5.7.1", RejectText: "a\r\nb"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if tt.wantErr {
				if !errors.Is(err, consts.ErrInvalidReply) {
					t.Errorf("Expected ErrInvalidReply, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); !errors.Is(err, consts.ErrInvalidListenAddress) {
		t.Errorf("Expected missing socket to fail with ErrInvalidListenAddress, got %v", err)
	}

	cfg.Milter.Socket = "inet:8890@127.0.0.1"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected valid config, got %v", err)
	}

	cfg.Milter.MaxTransactions = -1
	if err := cfg.Validate(); err == nil {
		t.Error("Expected negative max_transactions to fail")
	}
	cfg.Milter.MaxTransactions = 0

	cfg.Metrics.Enabled = true
	cfg.Metrics.Path = "metrics"
	if err := cfg.Validate(); err == nil {
		t.Error("Expected relative metrics path to fail")
	}
}

func TestParseListenAddress(t *testing.T) {
	tests := []struct {
		spec        string
		wantNetwork string
		wantAddress string
		wantErr     bool
	}{
		{spec: "unix:/var/run/milterfrom.sock", wantNetwork: "unix", wantAddress: "/var/run/milterfrom.sock"},
		{spec: "local:/var/run/milterfrom.sock", wantNetwork: "unix", wantAddress: "/var/run/milterfrom.sock"},
		{spec: "/var/run/milterfrom.sock", wantNetwork: "unix", wantAddress: "/var/run/milterfrom.sock"},
		{spec: "/tmp/odd:name.sock", wantNetwork: "unix", wantAddress: "/tmp/odd:name.sock"},
		{spec: "milterfrom.sock", wantNetwork: "unix", wantAddress: "milterfrom.sock"},
		{spec: "inet:8890@127.0.0.1", wantNetwork: "tcp4", wantAddress: "127.0.0.1:8890"},
		{spec: "INET:8890@localhost", wantNetwork: "tcp4", wantAddress: "localhost:8890"},
		{spec: "inet:8890", wantNetwork: "tcp4", wantAddress: ":8890"},
		{spec: "inet6:8890@[::1]", wantNetwork: "tcp6", wantAddress: "[::1]:8890"},
		{spec: "inet6:8890@::1", wantNetwork: "tcp6", wantAddress: "[::1]:8890"},
		{spec: "", wantErr: true},
		{spec: "unix:", wantErr: true},
		{spec: "inet:port@127.0.0.1", wantErr: true},
		{spec: "inet:70000@127.0.0.1", wantErr: true},
		{spec: "smtp:25@127.0.0.1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			network, address, err := ParseListenAddress(tt.spec)
			if tt.wantErr {
				if !errors.Is(err, consts.ErrInvalidListenAddress) {
					t.Errorf("Expected ErrInvalidListenAddress for %q, got %v", tt.spec, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error for %q: %v", tt.spec, err)
			}
			if network != tt.wantNetwork || address != tt.wantAddress {
				t.Errorf("ParseListenAddress(%q) = %s %s, want %s %s", tt.spec, network, address, tt.wantNetwork, tt.wantAddress)
			}
		})
	}
}
