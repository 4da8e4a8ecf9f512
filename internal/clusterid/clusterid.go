// Package clusterid defines the opaque 128-bit identifiers used throughout
// the coordinator and agent: HostID and InvocationID. Both are thin wrappers
// over uuid.UUID so that equality is by bit-value and the ids are safe to use
// as map keys, URL path segments, and JSON fields.
package clusterid

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// HostID identifies a registered host. The zero value is not a valid id —
// always construct one with NewHostID or parse one with ParseHostID.
type HostID struct{ u uuid.UUID }

// InvocationID identifies one request-to-run at a specific (url, commit).
type InvocationID struct{ u uuid.UUID }

// NewHostID allocates a fresh, random HostID.
func NewHostID() HostID { return HostID{u: uuid.New()} }

// NewInvocationID allocates a fresh, random InvocationID.
func NewInvocationID() InvocationID { return InvocationID{u: uuid.New()} }

// ParseHostID decodes a HostID from its URL/JSON text form.
func ParseHostID(s string) (HostID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return HostID{}, fmt.Errorf("clusterid: invalid host id %q: %w", s, err)
	}
	return HostID{u: u}, nil
}

// ParseInvocationID decodes an InvocationID from its URL/JSON text form.
func ParseInvocationID(s string) (InvocationID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return InvocationID{}, fmt.Errorf("clusterid: invalid invocation id %q: %w", s, err)
	}
	return InvocationID{u: u}, nil
}

func (id HostID) String() string { return id.u.String() }
func (id InvocationID) String() string { return id.u.String() }

func (id HostID) IsZero() bool       { return id.u == uuid.Nil }
func (id InvocationID) IsZero() bool { return id.u == uuid.Nil }

func (id HostID) MarshalText() ([]byte, error) { return []byte(id.u.String()), nil }
func (id *HostID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return fmt.Errorf("clusterid: invalid host id %q: %w", b, err)
	}
	id.u = u
	return nil
}

func (id InvocationID) MarshalText() ([]byte, error) { return []byte(id.u.String()), nil }
func (id *InvocationID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return fmt.Errorf("clusterid: invalid invocation id %q: %w", b, err)
	}
	id.u = u
	return nil
}

var (
	_ json.Marshaler   = HostID{}
	_ json.Unmarshaler = (*HostID)(nil)
	_ json.Marshaler   = InvocationID{}
	_ json.Unmarshaler = (*InvocationID)(nil)
)

func (id HostID) MarshalJSON() ([]byte, error)       { return json.Marshal(id.u.String()) }
func (id InvocationID) MarshalJSON() ([]byte, error) { return json.Marshal(id.u.String()) }

func (id *HostID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	return id.UnmarshalText([]byte(s))
}

func (id *InvocationID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	return id.UnmarshalText([]byte(s))
}
