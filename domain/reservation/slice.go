package reservation

// SliceState is the lifecycle state of a slice, independent of the state of
// any one reservation inside it.
type SliceState int

const (
	SliceNascent SliceState = iota
	SliceConfiguring
	SliceStableOK
	SliceStableError
	SliceClosing
	SliceDead
)

func (s SliceState) String() string {
	switch s {
	case SliceNascent:
		return "Nascent"
	case SliceConfiguring:
		return "Configuring"
	case SliceStableOK:
		return "StableOK"
	case SliceStableError:
		return "StableError"
	case SliceClosing:
		return "Closing"
	case SliceDead:
		return "Dead"
	default:
		return "Unknown"
	}
}

// Slice is the logical grouping a set of reservations belongs to. A slice's
// own lifecycle is independent of any single reservation's state, but every
// reservation references exactly one slice.
type Slice struct {
	id    ID
	name  string
	owner string
	state SliceState
}

// NewSlice constructs a Slice in SliceNascent.
func NewSlice(name, owner string) *Slice {
	return &Slice{id: NewID(), name: name, owner: owner, state: SliceNascent}
}

func (s *Slice) ID() ID             { return s.id }
func (s *Slice) Name() string       { return s.name }
func (s *Slice) Owner() string      { return s.owner }
func (s *Slice) State() SliceState  { return s.state }

// Transition moves the slice to a new state. Slice transitions are
// advisory bookkeeping, not gated by a strict table like reservations.
func (s *Slice) Transition(next SliceState) {
	s.state = next
}

// SliceSnapshot is the flat, fully-exported view of a Slice a Store
// implementation persists and restores.
type SliceSnapshot struct {
	ID    ID
	Name  string
	Owner string
	State SliceState
}

// Snapshot captures s's current fields for persistence.
func (s *Slice) Snapshot() SliceSnapshot {
	return SliceSnapshot{ID: s.id, Name: s.name, Owner: s.owner, State: s.state}
}

// RestoreSlice rebuilds a Slice exactly as it was snapshotted.
func RestoreSlice(snap SliceSnapshot) *Slice {
	return &Slice{id: snap.ID, name: snap.Name, owner: snap.Owner, state: snap.State}
}
