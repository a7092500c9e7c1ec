package cache

import "time"

type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateError   State = "error"
)

// Entry is the whole cached record for one key. Entries are replaced, never
// merged: every write produces a new Entry value.
type Entry struct {
	Key         Key
	Value       any
	State       State
	Stale       bool
	Err         error
	LastUpdated time.Time
	// Version identifies the write that produced Value. Restoring a snapshot
	// brings its Version back with it.
	Version uint64
}

// Snapshot is an Entry together with whether the key held one at all.
type Snapshot struct {
	Entry   Entry
	Present bool
}

func absent(key Key) Snapshot {
	return Snapshot{Entry: Entry{Key: key}}
}

// Value returns the entry value as T. ok is false when the entry is absent or
// holds another type.
func Value[T any](snap Snapshot) (T, bool) {
	var zero T
	if !snap.Present {
		return zero, false
	}
	v, ok := snap.Entry.Value.(T)
	if !ok {
		return zero, false
	}
	return v, true
}
