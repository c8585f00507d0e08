// Package errors reports startup and runtime failures of the milterfrom
// daemon and turns them into process exit codes.
package errors

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/migadu/milterfrom/logger"
)

// Exit codes follow sysexits(3) where one applies.
const (
	ExitFailure     = 1
	ExitUsage       = 64 // EX_USAGE
	ExitConfig      = 78 // EX_CONFIG
	ExitUnavailable = 69 // EX_UNAVAILABLE
)

type GracefulError struct {
	Operation string
	Err       error
}

func (g *GracefulError) Error() string {
	return fmt.Sprintf("operation '%s' failed: %v", g.Operation, g.Err)
}

func (g *GracefulError) Unwrap() error {
	return g.Err
}

func NewGracefulError(operation string, err error) *GracefulError {
	return &GracefulError{
		Operation: operation,
		Err:       err,
	}
}

// ErrorHandler collects the first fatal error and its exit code. Messages go
// to stderr because they can happen before logging is configured.
type ErrorHandler struct {
	exitChannel chan int
	logger      *log.Logger
}

func NewErrorHandler() *ErrorHandler {
	return NewErrorHandlerWithOutput(os.Stderr)
}

// NewErrorHandlerWithOutput writes error messages to w.
func NewErrorHandlerWithOutput(w io.Writer) *ErrorHandler {
	return &ErrorHandler{
		exitChannel: make(chan int, 1),
		logger:      log.New(w, "milterfrom: ", 0),
	}
}

func (eh *ErrorHandler) exit(code int) {
	select {
	case eh.exitChannel <- code:
	default:
	}
}

// FatalError reports a failure of a running operation.
func (eh *ErrorHandler) FatalError(operation string, err error) {
	gracefulErr := NewGracefulError(operation, err)
	eh.logger.Printf("FATAL: %v", gracefulErr)
	logger.Error("Fatal error", "operation", operation, "error", err)
	eh.exit(ExitUnavailable)
}

// UsageError reports bad command line arguments.
func (eh *ErrorHandler) UsageError(err error, usage string) {
	eh.logger.Printf("%v", err)
	if usage != "" {
		eh.logger.Print(usage)
	}
	eh.exit(ExitUsage)
}

func (eh *ErrorHandler) ConfigError(configPath string, err error) {
	if os.IsNotExist(err) {
		eh.logger.Printf("ERROR: configuration file '%s' not found: %v", configPath, err)
	} else {
		eh.logger.Printf("ERROR: failed to parse configuration file '%s': %v", configPath, err)
	}
	eh.exit(ExitConfig)
}

func (eh *ErrorHandler) ValidationError(field string, err error) {
	eh.logger.Printf("ERROR: invalid configuration - %s: %v", field, err)
	eh.exit(ExitConfig)
}

// WaitForExit blocks until an error was reported and returns its exit code.
func (eh *ErrorHandler) WaitForExit() int {
	return <-eh.exitChannel
}

func (eh *ErrorHandler) Shutdown(ctx context.Context) {
	select {
	case <-ctx.Done():
		logger.Info("Graceful shutdown initiated")
	default:
		logger.Warn("Unexpected shutdown")
	}
}
