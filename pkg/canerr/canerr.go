// Package canerr defines the error taxonomy for canlake processing runs.
// Only ConfigError is allowed to unwind to the top level; every other kind
// is handled at the unit that produced it.
package canerr

import (
	"errors"
	"fmt"
)

// Kind categorizes a processing error.
type Kind int

const (
	KindUnknown Kind = iota
	// KindConfig marks malformed required configuration. Fatal: the run
	// aborts before any unit work begins.
	KindConfig
	// KindStorage marks a list/download/upload failure. The affected unit
	// yields empty results and the run continues.
	KindStorage
	// KindDecode marks a nonzero exit from the external decoder. The whole
	// batch is failed; sibling batches still run.
	KindDecode
	// KindData marks a missing/unsortable column, empty window or unknown
	// aggregation type. The specific (unit, signal) combination is skipped.
	KindData
	// KindNotification marks a failed publish. Logged, never affects
	// detection correctness or batch success.
	KindNotification
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindStorage:
		return "storage"
	case KindDecode:
		return "decode"
	case KindData:
		return "data"
	case KindNotification:
		return "notification"
	default:
		return "unknown"
	}
}

// Error carries a kind alongside the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s error in %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s error in %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with a kind and operation name.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Configf builds a fatal configuration error.
func Configf(op, format string, args ...interface{}) error {
	return &Error{Kind: KindConfig, Op: op, Err: fmt.Errorf(format, args...)}
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}
