package feed

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifica falhas do provedor para a política de retry
type ErrorKind string

const (
	KindRateLimited ErrorKind = "rate_limited" // 429: espera Retry-After
	KindTransient   ErrorKind = "transient"    // 5xx/rede: backoff exponencial
	KindPermanent   ErrorKind = "permanent"    // demais 4xx: falha imediata
)

var (
	ErrRateLimited        = errors.New("feed: rate limited")
	ErrTransientUpstream  = errors.New("feed: transient upstream failure")
	ErrPermanentUpstream  = errors.New("feed: permanent upstream failure")
	errUnknownFailureKind = errors.New("feed: unknown failure")
)

// UpstreamError descreve uma tentativa que falhou contra o provedor
type UpstreamError struct {
	Kind       ErrorKind
	Endpoint   string
	StatusCode int
	RetryAfter time.Duration
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("feed %s: %s (status=%d) %s", e.Endpoint, e.Kind, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("feed %s: %s: %v", e.Endpoint, e.Kind, e.Err)
}

func (e *UpstreamError) Unwrap() []error {
	out := []error{sentinel(e.Kind)}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func sentinel(k ErrorKind) error {
	switch k {
	case KindRateLimited:
		return ErrRateLimited
	case KindTransient:
		return ErrTransientUpstream
	case KindPermanent:
		return ErrPermanentUpstream
	}
	return errUnknownFailureKind
}

func kindOf(err error) ErrorKind {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Kind
	}
	return KindTransient
}
