package domain

import "errors"

// Error taxonomy shared across the core. Callers branch with errors.Is;
// wrapped messages carry the specifics.
var (
	// ErrInsufficientHistory: not enough bars for the SMA windows.
	// Recoverable, retry next cycle once more data exists.
	ErrInsufficientHistory = errors.New("insufficient candle history")

	// ErrLockHeld: another process holds the state lock beyond the
	// bounded wait. Recoverable, skip or retry the cycle.
	ErrLockHeld = errors.New("state lock held by another process")

	// ErrExecutionFailed: order submission rejected or timed out after
	// the retry budget. Position state is left untouched.
	ErrExecutionFailed = errors.New("order execution failed")

	// ErrStateCorrupt: persisted state unreadable; the store falls back
	// to the backup copy, then to a default flat state.
	ErrStateCorrupt = errors.New("persisted state corrupt")

	// ErrInvalidParameters: configuration rejected at load time.
	ErrInvalidParameters = errors.New("invalid parameters")
)
