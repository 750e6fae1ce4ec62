// Copyright (c) 2024 the authors
// Use of this source code is governed by a MIT license found in the LICENSE file.

package concierge

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/conciergekit/concierge/client"
)

// Kind classifies every error returned by this package into a stable
// category so that callers can decide whether to retry, fix their input,
// or surface the failure.
type Kind uint8

const (
	// KindNotFound reports that a remote object does not exist.
	KindNotFound Kind = iota + 1
	// KindValidation reports invalid caller input, e.g. a duplicate alias
	// or a local file path that does not exist.
	KindValidation
	// KindRemote reports a network or provider-side failure.
	KindRemote
	// KindPartial reports a cascading operation that succeeded for some
	// resources and failed for others. The wrapped error is a *PartialError.
	KindPartial
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindValidation:
		return "validation"
	case KindRemote:
		return "remote"
	case KindPartial:
		return "partial failure"
	default:
		return "unknown"
	}
}

// Error is the error type returned by every remote operation in this package.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or zero if err carries no kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return 0
}

// ErrAlreadyDeleted marks a delete of an object whose remote counterpart
// is already gone. It is informational, not a failure.
var ErrAlreadyDeleted = errors.New("already deleted")

// PartialError records a cascading operation that removed some resources
// but not others.
type PartialError struct {
	// Deleted lists the resources that were removed.
	Deleted []string
	// Failed maps each remaining resource to the error that kept it alive.
	Failed map[string]error
}

func (e *PartialError) Error() string {
	names := make([]string, 0, len(e.Failed))
	for name := range e.Failed {
		names = append(names, name)
	}
	sort.Strings(names)

	return fmt.Sprintf("%d deleted, %d failed (%s)", len(e.Deleted), len(e.Failed), strings.Join(names, ", "))
}

func validationError(op, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Err: fmt.Errorf(format, args...)} //nolint:err113
}

// remoteError classifies a transport failure, mapping a 404 status to
// KindNotFound and everything else to KindRemote.
func remoteError(op string, err error) error {
	kind := KindRemote
	var status *client.StatusError
	if errors.As(err, &status) && status.Code == http.StatusNotFound {
		kind = KindNotFound
	}

	return &Error{Kind: kind, Op: op, Err: err}
}

func partialError(op string, partial *PartialError) error {
	return &Error{Kind: KindPartial, Op: op, Err: partial}
}
