// Package synerr classifies the failures the sync engine can hit into the
// kinds §7 of the specification names, so callers can branch on
// errors.As/errors.Is instead of matching error strings. The teacher
// (accounting-agent) wraps errors with fmt.Errorf("...: %w", err)
// throughout; this package gives those wrapped errors a machine-readable
// kind on top of the human-readable chain.
package synerr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Kind is the classification of a failure per §7.
type Kind string

const (
	KindTransient  Kind = "transient"
	KindValidation Kind = "validation"
	KindIntegrity  Kind = "integrity"
	KindAuth       Kind = "auth"
	KindSchema     Kind = "schema_drift"
	KindLockHeld   Kind = "lock_held"
	KindCancelled  Kind = "cancelled"
	KindUnknown    Kind = "unknown"
)

// Transient wraps a failure the RetryExecutor should retry: network
// timeouts, 5xx, 429, optimistic-lock conflicts.
type Transient struct{ Cause error }

func (e *Transient) Error() string { return "transient: " + e.Cause.Error() }
func (e *Transient) Unwrap() error { return e.Cause }

// Validation wraps a permanent, per-item input failure.
type Validation struct{ Cause error }

func (e *Validation) Error() string { return "validation: " + e.Cause.Error() }
func (e *Validation) Unwrap() error { return e.Cause }

// Integrity wraps a permanent constraint/foreign-key failure.
type Integrity struct{ Cause error }

func (e *Integrity) Error() string { return "integrity: " + e.Cause.Error() }
func (e *Integrity) Unwrap() error { return e.Cause }

// Auth wraps a permanent, run-fatal authentication/authorization failure.
type Auth struct{ Cause error }

func (e *Auth) Error() string { return "auth: " + e.Cause.Error() }
func (e *Auth) Unwrap() error { return e.Cause }

// Schema wraps a response that is missing an expected field or carries an
// unknown one in a way the caller cannot safely proceed with.
type Schema struct {
	Field   string
	Payload string
}

func (e *Schema) Error() string {
	return fmt.Sprintf("schema drift on field %q: %s", e.Field, e.Payload)
}

// ErrLockHeld is returned by DistributedLock.Acquire when another holder
// owns the key. It is soft: callers skip the tick, nothing is surfaced.
var ErrLockHeld = errors.New("lock held by another holder")

// ErrCancelled marks a cooperative stop, not counted as a failure.
var ErrCancelled = errors.New("cancelled")

// Classify inspects err and returns its Kind. Already-classified errors
// (Transient, Validation, ...) are recognized via errors.As. Raw errors
// from pgx and the network stack are classified by a best-effort
// heuristic, matching the kinds enumerated in §7.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var t *Transient
	if errors.As(err, &t) {
		return KindTransient
	}
	var v *Validation
	if errors.As(err, &v) {
		return KindValidation
	}
	var i *Integrity
	if errors.As(err, &i) {
		return KindIntegrity
	}
	var a *Auth
	if errors.As(err, &a) {
		return KindAuth
	}
	var s *Schema
	if errors.As(err, &s) {
		return KindSchema
	}
	if errors.Is(err, ErrLockHeld) {
		return KindLockHeld
	}
	if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) {
		return KindCancelled
	}

	// pgx.ErrNoRows is a "not found" condition, never transient.
	if errors.Is(err, pgx.ErrNoRows) {
		return KindValidation
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "429"),
		strings.Contains(msg, "throttled"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "500"):
		return KindTransient
	case strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "forbidden"),
		strings.Contains(msg, "401"),
		strings.Contains(msg, "403"),
		strings.Contains(msg, "invalid api key"),
		strings.Contains(msg, "invalid access token"):
		return KindAuth
	case strings.Contains(msg, "unique constraint"),
		strings.Contains(msg, "foreign key"),
		strings.Contains(msg, "duplicate key"):
		return KindIntegrity
	}

	return KindUnknown
}

// IsTransient is a convenience wrapper for the common RetryExecutor check.
func IsTransient(err error) bool { return Classify(err) == KindTransient }

// IsFatal reports whether err should terminate the whole run (§7: AuthError
// is permanent and fatal for the run).
func IsFatal(err error) bool { return Classify(err) == KindAuth }
