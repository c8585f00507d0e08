// Package milter runs the sender check as a milter service on top of
// github.com/d--j/go-milter.
package milter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	gomilter "github.com/d--j/go-milter"
	"github.com/migadu/milterfrom/config"
	"github.com/migadu/milterfrom/logger"
	"github.com/migadu/milterfrom/pkg/metrics"
	"github.com/migadu/milterfrom/server"
	"github.com/migadu/milterfrom/server/fromcheck"
)

type ServerOptions struct {
	Socket              string // libmilter style connection spec
	SocketMode          os.FileMode
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxConnections      int
	MaxConnectionsPerIP int
	TrustedNetworks     []string
	MaxTransactions     int
	Reply               fromcheck.Reply
	HashAddresses       bool
}

// OptionsFromConfig builds ServerOptions from a validated configuration.
func OptionsFromConfig(cfg *config.Config) (ServerOptions, error) {
	mode, err := cfg.Milter.GetSocketMode()
	if err != nil {
		return ServerOptions{}, err
	}
	readTimeout, err := cfg.Milter.GetReadTimeout()
	if err != nil {
		return ServerOptions{}, err
	}
	writeTimeout, err := cfg.Milter.GetWriteTimeout()
	if err != nil {
		return ServerOptions{}, err
	}
	return ServerOptions{
		Socket:              cfg.Milter.Socket,
		SocketMode:          mode,
		ReadTimeout:         readTimeout,
		WriteTimeout:        writeTimeout,
		MaxConnections:      cfg.Milter.MaxConnections,
		MaxConnectionsPerIP: cfg.Milter.MaxConnectionsPerIP,
		TrustedNetworks:     cfg.Milter.TrustedNetworks,
		MaxTransactions:     cfg.Milter.MaxTransactions,
		Reply: fromcheck.Reply{
			Code:   uint16(cfg.Policy.RejectCode),
			Status: cfg.Policy.RejectStatus,
			Text:   cfg.Policy.RejectText,
		},
		HashAddresses: cfg.Logging.HashAddresses,
	}, nil
}

// Server owns the listening socket and the go-milter server.
type Server struct {
	appCtx       context.Context
	network      string
	address      string
	options      ServerOptions
	server       *gomilter.Server
	listener     net.Listener
	limiter      *server.ConnectionLimiter
	transactions *server.TransactionLimiter
	connSeq      atomic.Uint64
	closing      atomic.Bool
}

func New(appCtx context.Context, options ServerOptions) (*Server, error) {
	network, address, err := config.ParseListenAddress(options.Socket)
	if err != nil {
		return nil, err
	}

	limiter, err := server.NewConnectionLimiter(options.MaxConnections, options.MaxConnectionsPerIP, options.TrustedNetworks)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection limiter: %w", err)
	}

	s := &Server{
		appCtx:       appCtx,
		network:      network,
		address:      address,
		options:      options,
		limiter:      limiter,
		transactions: server.NewTransactionLimiter(options.MaxTransactions),
	}

	milterOptions := []gomilter.Option{
		gomilter.WithNegotiationCallback(s.negotiate),
		gomilter.WithDynamicMilter(s.newBackend),
	}
	if options.ReadTimeout > 0 {
		milterOptions = append(milterOptions, gomilter.WithReadTimeout(options.ReadTimeout))
	}
	if options.WriteTimeout > 0 {
		milterOptions = append(milterOptions, gomilter.WithWriteTimeout(options.WriteTimeout))
	}
	s.server = gomilter.NewServer(milterOptions...)

	metrics.LimiterCapacity.WithLabelValues("connections").Set(float64(options.MaxConnections))
	metrics.LimiterCapacity.WithLabelValues("transactions").Set(float64(options.MaxTransactions))

	return s, nil
}

// negotiate answers the MTA's option negotiation for a new connection.
func (s *Server) negotiate(mtaVersion, milterVersion uint32, mtaActions, milterActions gomilter.OptAction, mtaProtocol, milterProtocol gomilter.OptProtocol, offeredDataSize gomilter.DataSize) (uint32, gomilter.OptAction, gomilter.OptProtocol, gomilter.DataSize, error) {
	version := mtaVersion
	if milterVersion < version {
		version = milterVersion
	}

	actions, protocol, caps := fromcheck.Negotiate(mtaActions, mtaProtocol)

	metrics.ConnectionsTotal.Inc()
	metrics.NegotiationsTotal.WithLabelValues(strconv.FormatBool(caps.NoHeaderReply)).Inc()
	logger.Debug("Milter: negotiated", "version", version, "mta_protocol", uint32(mtaProtocol), "protocol", uint32(protocol), "no_header_reply", caps.NoHeaderReply)

	return version, actions, protocol, gomilter.DataSize64K, nil
}

// newBackend creates the handler of one connection from the negotiated protocol.
func (s *Server) newBackend(version uint32, action gomilter.OptAction, protocol gomilter.OptProtocol, maxData gomilter.DataSize) gomilter.Milter {
	id := s.connSeq.Add(1)
	session := fromcheck.NewSession(fromcheck.CapabilitiesFromProtocol(protocol), fromcheck.Options{
		Budget:        s.transactions,
		Reply:         s.options.Reply,
		HashAddresses: s.options.HashAddresses,
		Logger:        logger.With("conn", id),
	})
	return &backend{session: session}
}

// Listen opens the listening socket. A stale unix socket left behind by a
// previous run is removed first.
func (s *Server) Listen() error {
	if s.listener != nil {
		return nil
	}

	if s.network == "unix" {
		if err := removeStaleSocket(s.address); err != nil {
			return err
		}
	}

	ln, err := net.Listen(s.network, s.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s %s: %w", s.network, s.address, err)
	}

	if s.network == "unix" && s.options.SocketMode != 0 {
		if err := os.Chmod(s.address, s.options.SocketMode); err != nil {
			ln.Close()
			return fmt.Errorf("failed to set socket mode: %w", err)
		}
	}

	s.listener = server.LimitListener(ln, s.limiter)
	return nil
}

// removeStaleSocket deletes path if it is a unix socket nobody listens on.
func removeStaleSocket(path string) error {
	info, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat socket %s: %w", path, err)
	}
	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("%s exists and is not a socket", path)
	}

	if conn, err := net.DialTimeout("unix", path, time.Second); err == nil {
		conn.Close()
		return fmt.Errorf("socket %s is in use by another process", path)
	}

	logger.Info("Milter: removing stale socket", "path", path)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove stale socket %s: %w", path, err)
	}
	return nil
}

// Addr returns the listening address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start serves connections until the server is closed. Errors other than a
// graceful stop are sent to errChan.
func (s *Server) Start(errChan chan error) {
	if err := s.Listen(); err != nil {
		errChan <- err
		return
	}
	logger.Info("Milter server listening", "network", s.network, "addr", s.address)

	if err := s.server.Serve(s.listener); err != nil {
		// Closing the listener under Serve surfaces as a network error.
		stopped := s.closing.Load() && server.IsConnectionError(err)
		if errors.Is(err, gomilter.ErrServerClosed) || stopped || s.appCtx.Err() != nil {
			logger.Info("Milter server stopped gracefully")
			return
		}
		errChan <- fmt.Errorf("milter server error: %w", err)
		return
	}
	logger.Info("Milter server stopped gracefully")
}

// Shutdown stops accepting connections and waits for open ones to finish
// until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closing.Store(true)
	return s.server.Shutdown(ctx)
}

// Close stops the server immediately. A unix socket is unlinked by the listener.
func (s *Server) Close() error {
	s.closing.Store(true)
	err := s.server.Close()
	if s.listener != nil {
		// Serve may never have run; the error of a second close is expected.
		_ = s.listener.Close()
	}
	return err
}

// ConnectionLimiter exposes the connection limiter for metrics collection.
func (s *Server) ConnectionLimiter() *server.ConnectionLimiter {
	return s.limiter
}

// TransactionLimiter exposes the transaction budget for metrics collection.
func (s *Server) TransactionLimiter() *server.TransactionLimiter {
	return s.transactions
}
