// Package rerank provides backends for the second-stage reranking hook
// that search.HybridEngine calls over its top fused results: a local
// TF-IDF scorer, a local cross-encoder-style scorer, an external HTTP
// rerank API client, and a hybrid combinator over any two of those.
package rerank

import (
	"errors"
	"fmt"
)

// ErrKind classifies a rerank failure so callers (and the hybrid
// combinator's fallback logic) can distinguish a transient condition
// from one worth giving up on for the rest of the process lifetime.
type ErrKind int

const (
	// ErrKindUnknown is the zero value; treated like ErrKindNetwork.
	ErrKindUnknown ErrKind = iota
	// ErrKindRateLimited means the backend is reachable but throttling.
	ErrKindRateLimited
	// ErrKindAuthFailed means the request was rejected for credentials.
	ErrKindAuthFailed
	// ErrKindNetwork means the backend could not be reached at all.
	ErrKindNetwork
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindRateLimited:
		return "rate_limited"
	case ErrKindAuthFailed:
		return "auth_failed"
	case ErrKindNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// Error wraps a rerank backend failure with its ErrKind so callers can
// type-switch without parsing error strings.
type Error struct {
	Kind ErrKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("rerank %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind ErrKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// errReRankerClosed is returned (wrapped) when Rerank is called after Close.
var errReRankerClosed = errors.New("reranker is closed")

// KindOf reports the ErrKind of err, or ErrKindUnknown if err does not
// wrap a *rerank.Error.
func KindOf(err error) ErrKind {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Kind
	}
	return ErrKindUnknown
}
