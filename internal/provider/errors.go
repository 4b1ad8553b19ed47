package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies why a source could not produce a record.
type ErrorKind string

const (
	// KindTransient covers timeouts, transport failures, rate limiting and non-2xx responses.
	KindTransient ErrorKind = "transient"
	// KindMalformed means the payload was missing the fields we need.
	KindMalformed ErrorKind = "malformed"
	// KindNotFound means the provider does not know the identifier.
	KindNotFound ErrorKind = "not_found"
	// KindUnmapped means the adapter refused the identifier without any I/O.
	KindUnmapped ErrorKind = "unmapped"
)

// ErrThrottled marks a call refused by a local rate limiter before it reached
// the upstream.
var ErrThrottled = errors.New("throttled locally")

// SourceError is the failure value returned by every adapter.
type SourceError struct {
	Source string
	Kind   ErrorKind
	Status int
	Err    error
}

func (e *SourceError) Error() string {
	var b strings.Builder
	b.WriteString(e.Source)
	b.WriteString(": ")
	b.WriteString(string(e.Kind))
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *SourceError) Unwrap() error { return e.Err }

// Transient wraps err as a transient failure of source.
func Transient(source string, err error) error {
	return &SourceError{Source: source, Kind: KindTransient, Err: err}
}

// Malformed reports a payload that could not be interpreted.
func Malformed(source string, format string, args ...any) error {
	return &SourceError{Source: source, Kind: KindMalformed, Err: fmt.Errorf(format, args...)}
}

// NotFound reports an identifier unknown to source.
func NotFound(source, id string) error {
	return &SourceError{Source: source, Kind: KindNotFound, Err: fmt.Errorf("%q not found", id)}
}

// Unmapped reports an identifier the adapter does not serve.
func Unmapped(source, id string) error {
	return &SourceError{Source: source, Kind: KindUnmapped, Err: fmt.Errorf("%q is not in the allow-list", id)}
}

// KindOf extracts the ErrorKind of err. Anything unclassified, context expiry
// included, counts as transient.
func KindOf(err error) ErrorKind {
	var se *SourceError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindTransient
}

// IsTimeout reports whether err stems from an expired or cancelled context.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// TypeMismatchError is returned when a query belongs to a different asset class
// than the one requested. No network I/O happens before it is returned.
type TypeMismatchError struct {
	Query string
	Want  AssetClass
	Got   AssetClass
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("%s is a %s symbol, not %s", e.Query, e.Got, article(e.Want))
}

func article(c AssetClass) string {
	switch c {
	case Equity:
		return "an equity"
	case Crypto:
		return "a crypto asset"
	default:
		return string(c)
	}
}

// Attempt records one adapter's failure during a ladder walk.
type Attempt struct {
	Source string    `json:"source"`
	Kind   ErrorKind `json:"kind"`
	Detail string    `json:"detail"`
}

// NewAttempt builds an Attempt from an adapter error.
func NewAttempt(source string, err error) Attempt {
	a := Attempt{Source: source, Kind: KindOf(err)}
	if err != nil {
		a.Detail = err.Error()
	}
	return a
}

// UnresolvedError is terminal: no adapter produced a record for the query.
type UnresolvedError struct {
	Query       string
	Class       AssetClass
	Attempts    []Attempt
	Suggestions []string
}

func (e *UnresolvedError) Error() string {
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("%q not found as %s", e.Query, describe(e.Class))
	}
	names := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		names = append(names, a.Source+"="+string(a.Kind))
	}
	return fmt.Sprintf("%q not found as %s (tried %s)", e.Query, describe(e.Class), strings.Join(names, ", "))
}

func describe(c AssetClass) string {
	switch c {
	case Crypto:
		return "cryptocurrency"
	case Equity:
		return "stock"
	default:
		return "cryptocurrency or stock"
	}
}
