// Package vigilerr defines the error-kind taxonomy shared across vigil's
// ingest, persistence, replication, and merge layers.
package vigilerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error by the layer that produced it and how callers
// should react to it, rather than by its concrete Go type.
type Kind string

const (
	// Input errors — caller-correctable, map to 4xx at the HTTP boundary.
	KindMalformedFrame        Kind = "malformed_frame"
	KindUnsupportedFormat     Kind = "unsupported_format"
	KindLineTooLong           Kind = "line_too_long"
	KindInvalidCanonIP        Kind = "invalid_canon_ip"
	KindInvalidCanonDomain    Kind = "invalid_canon_domain"
	KindInvalidCanonHash      Kind = "invalid_canon_hash"
	KindInvalidCanonEmail     Kind = "invalid_canon_email"
	KindInvalidCanonTimestamp Kind = "invalid_canon_timestamp"
	KindInvalidCanonCIDR      Kind = "invalid_canon_cidr"
	KindFrameTooLarge         Kind = "frame_too_large"

	// Back-pressure.
	KindQueueFull   Kind = "queue_full"
	KindQueueClosed Kind = "queue_closed"

	// Persistence errors — map to 5xx.
	KindStoreUnavailable Kind = "store_unavailable"
	KindBatchFailed      Kind = "batch_failed"
	KindPerItemFailed    Kind = "per_item_failed"

	// Replication errors — never propagated to a caller, logged/counted only.
	KindAuthFailed        Kind = "auth_failed"
	KindKeyIDUnknown      Kind = "key_id_unknown"
	KindPushCountMismatch Kind = "push_count_mismatch"
	KindPullTimeout       Kind = "pull_timeout"

	// TLS/startup — fatal, unrecoverable.
	KindCertificateInvalid Kind = "certificate_invalid"
	KindCertificateExpired Kind = "certificate_expired"
	KindHostnameMismatch   Kind = "hostname_mismatch"
	KindNoPrivateKey       Kind = "no_private_key"
	KindSelfSignedRejected Kind = "self_signed_rejected"

	// Merge errors.
	KindIncompatibleMerge Kind = "incompatible_merge"

	// PII policy errors — fatal on startup (bad key material) or
	// caller-correctable (key ID mismatch on decrypt).
	KindPiiInvalidKey      Kind = "pii_invalid_key"
	KindPiiKeyIDMismatch   Kind = "pii_key_id_mismatch"
	KindPiiDecryptFailed   Kind = "pii_decrypt_failed"
	KindPiiPlaintextLeaked Kind = "pii_plaintext_leaked"
)

// Error is the concrete error type carried through vigil's layers. Kind
// drives both logging and HTTP status mapping; Err holds the wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an *Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an *Error of the given kind around an existing error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// As extracts the *Error from err, if any wraps one.
func As(err error) (*Error, bool) {
	var ve *Error
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// HTTPStatus maps a Kind to the status code the ingest HTTP surface should
// return for it. Kinds never surfaced to HTTP (replication, merge) fall back
// to 500.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindMalformedFrame, KindUnsupportedFormat, KindLineTooLong,
		KindInvalidCanonIP, KindInvalidCanonDomain, KindInvalidCanonHash,
		KindInvalidCanonEmail, KindInvalidCanonTimestamp, KindInvalidCanonCIDR,
		KindFrameTooLarge:
		return http.StatusBadRequest
	case KindQueueFull:
		return http.StatusServiceUnavailable
	case KindQueueClosed:
		return http.StatusServiceUnavailable
	case KindStoreUnavailable, KindBatchFailed, KindPerItemFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
