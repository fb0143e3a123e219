package store

import "errors"

var (
	// ErrNotFound signals a missing memory or candidate within the caller's
	// tenancy.
	ErrNotFound = errors.New("document not found")
	// ErrDuplicateIdempotencyKey signals a unique-index violation on
	// (orgId, projectId, subjectId, idempotencyKey).
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")
	// ErrNotProvisioned signals an unreachable backend. Queries surface it
	// as empty reads with ProvisioningHint; mutations surface it directly.
	ErrNotProvisioned = errors.New("document store is not provisioned")
)

// ProvisioningHint is the fixed hint attached to reads against an
// unprovisioned store.
const ProvisioningHint = "document store unavailable; check CAPSULE_VECTOR_STORE and backend connectivity"
