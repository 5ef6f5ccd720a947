// Package domain holds the records shared by the probe, the monitor and the
// history stores.
package domain

import "time"

type OwnerID = int64

// Outcome is the single classification of one check.
type Outcome string

const (
	OutcomeUp           Outcome = "up"
	OutcomeDown         Outcome = "down"
	OutcomeCertificate  Outcome = "certificate_error"
	OutcomeNetworkError Outcome = "network_error"
	OutcomeTimeout      Outcome = "timeout"
)

// Healthy reports whether o belongs to the healthy class {Up}.
func (o Outcome) Healthy() bool { return o == OutcomeUp }

// ErrorKind classifies a failed HTTP attempt.
type ErrorKind string

const (
	ErrKindNone    ErrorKind = ""
	ErrKindDNS     ErrorKind = "dns"
	ErrKindRefused ErrorKind = "connection_refused"
	ErrKindReset   ErrorKind = "connection_reset"
	ErrKindTLS     ErrorKind = "tls"
	ErrKindTimeout ErrorKind = "timeout"
	ErrKindNetwork ErrorKind = "network"
)

// CertErrKind classifies a failed certificate lookup.
type CertErrKind string

const (
	CertErrNone         CertErrKind = ""
	CertErrHandshake    CertErrKind = "handshake"
	CertErrParse        CertErrKind = "parse"
	CertErrMissingField CertErrKind = "missing_field"
)

// WatchEntry is one registered (owner, url) subscription.
// LastState is empty until the first result is recorded.
type WatchEntry struct {
	OwnerID   OwnerID   `json:"owner_id"`
	URL       string    `json:"url"`
	AddedAt   time.Time `json:"added_at"`
	LastState Outcome   `json:"last_state,omitempty"`
}

// Prev returns LastState as the optional previous outcome.
func (w WatchEntry) Prev() *Outcome {
	if w.LastState == "" {
		return nil
	}
	o := w.LastState
	return &o
}

// CheckResult is one immutable history row. Zero HTTPStatus, empty
// CertIssuer and empty ErrorKind mean "absent".
type CheckResult struct {
	ID         string        `json:"id"`
	OwnerID    OwnerID       `json:"owner_id"`
	URL        string        `json:"url"`
	Timestamp  time.Time     `json:"ts"`
	Outcome    Outcome       `json:"outcome"`
	HTTPStatus int           `json:"http_status,omitempty"`
	CertIssuer string        `json:"cert_issuer,omitempty"`
	ErrorKind  ErrorKind     `json:"error_kind,omitempty"`
	CertError  CertErrKind   `json:"cert_error,omitempty"`
	Duration   time.Duration `json:"duration_ns,omitempty"`
}
