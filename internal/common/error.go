// Package common defines shared constants and sentinel errors used across
// the client and provider layers of PeerVault. Callers should use errors.Is
// to match these values.
package common

import "errors"

var (
	// Store-level errors.
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// Identity errors (signing keys missing or locked).
	ErrIdentityUnavailable = errors.New("identity unavailable")

	// Relationship preconditions.
	ErrProviderNotFound  = errors.New("provider not found")
	ErrProviderNotActive = errors.New("provider relationship not active")
	ErrClientNotActive   = errors.New("client relationship not active")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidCallsign   = errors.New("invalid callsign")
	ErrInvalidPath       = errors.New("invalid path element")

	// Inbound protocol validation. These never surface to users; the
	// router logs and drops the offending message.
	ErrSignatureInvalid = errors.New("event signature invalid")
	ErrEventStale       = errors.New("event timestamp outside freshness window")

	// Executor errors.
	ErrAlreadyInProgress = errors.New("operation already in progress")
	ErrTimeout           = errors.New("timed out waiting for response")
	ErrUploadFailed      = errors.New("upload failed")
	ErrManifestDownload  = errors.New("manifest download failed")
	ErrHashMismatch      = errors.New("content hash mismatch")

	// Quota bookkeeping. Advisory only; see relationship.Store.HasQuotaAvailable.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
)
