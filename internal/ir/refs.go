package ir

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// NamespaceID identifies an isolation domain. Fresh IDs are UUIDv7
// (time-sortable), which keeps namespace registration order visible in
// debug output.
type NamespaceID string

// NewNamespaceID returns a fresh UUIDv7 namespace identity.
func NewNamespaceID() NamespaceID {
	return NamespaceID(uuid.Must(uuid.NewV7()).String())
}

// TransactionID identifies a committed or aborted transaction.
type TransactionID string

// NewTransactionID returns a fresh UUIDv7 transaction identity.
func NewTransactionID() TransactionID {
	return TransactionID(uuid.Must(uuid.NewV7()).String())
}

// EntityRef is a namespace-qualified entity identity.
//
// An entity's true identity is the (namespace, local id) pair - no global
// entity exists without an owning namespace, and there is no implicit
// global counter at this layer. Two refs are equal iff both fields match.
type EntityRef struct {
	Namespace NamespaceID `json:"namespace"`
	LocalID   uint64      `json:"local_id"`
}

// String renders the ref as "namespace/local_id" for logs and errors.
func (r EntityRef) String() string {
	return fmt.Sprintf("%s/%d", r.Namespace, r.LocalID)
}

// IsZero reports whether the ref is the zero value.
func (r EntityRef) IsZero() bool {
	return r.Namespace == "" && r.LocalID == 0
}

// ParseEntityRef parses the "namespace/local_id" form produced by String.
func ParseEntityRef(s string) (EntityRef, error) {
	idx := strings.LastIndex(s, "/")
	if idx < 0 {
		return EntityRef{}, fmt.Errorf("invalid entity ref %q", s)
	}
	id, err := strconv.ParseUint(s[idx+1:], 10, 64)
	if err != nil {
		return EntityRef{}, fmt.Errorf("invalid entity ref %q: %w", s, err)
	}
	return EntityRef{Namespace: NamespaceID(s[:idx]), LocalID: id}, nil
}
