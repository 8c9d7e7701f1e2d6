package reservation

import "github.com/google/uuid"

// ID is an opaque, globally-unique identifier for a reservation, slice, or
// actor. It wraps a 128-bit UUID, has total ordering (by string form), and is
// safe to use as a map key.
type ID struct {
	value uuid.UUID
}

// NewID generates a fresh random ID.
func NewID() ID {
	return ID{value: uuid.New()}
}

// ParseID parses a string-form ID (e.g. round-tripped from storage).
func ParseID(s string) (ID, error) {
	v, err := uuid.Parse(s)
	if err != nil {
		return ID{}, err
	}
	return ID{value: v}, nil
}

// IsZero reports whether the ID is the unset zero value.
func (id ID) IsZero() bool {
	return id.value == uuid.Nil
}

// String returns the canonical string form of the ID.
func (id ID) String() string {
	return id.value.String()
}

// Equal reports whether two IDs identify the same entity.
func (id ID) Equal(other ID) bool {
	return id.value == other.value
}

// Less defines a total order over IDs, used to keep ordered collections
// (e.g. predecessor sets in deterministic tests) stable.
func (id ID) Less(other ID) bool {
	return id.value.String() < other.value.String()
}

// MarshalText implements encoding.TextMarshaler so IDs serialize as plain
// strings in JSON and other text-based formats.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.value.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	v, err := uuid.Parse(string(text))
	if err != nil {
		return err
	}
	id.value = v
	return nil
}
