package consts

import "errors"

var (
	ErrNoTransaction        = errors.New("no transaction in progress")
	ErrBudgetExhausted      = errors.New("transaction budget exhausted")
	ErrInvalidListenAddress = errors.New("invalid listen address")
	ErrInvalidReply         = errors.New("invalid reject reply")
	ErrPidFileLocked        = errors.New("pid file is locked by another process")
)
