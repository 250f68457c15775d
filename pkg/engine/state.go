package engine

import (
	"encoding/json"
	"fmt"
	"sync"
)

// ShortCircuit is the monotonic flag the entry node sets to halt expensive
// work downstream. Only the entry node may declare it as an output.
var ShortCircuit = NewKey[bool]("short_circuit")

// HaltReason carries the entry node's explanation when it sets ShortCircuit.
var HaltReason = NewKey[string]("halt_reason")

// Halt sets the short-circuit flag and its reason on an output.
func Halt(o *Output, reason string) {
	ShortCircuit.Set(o, true)
	HaltReason.Set(o, reason)
}

// Continue clears the short-circuit flag on an output.
func Continue(o *Output) {
	ShortCircuit.Set(o, false)
	HaltReason.Set(o, "")
}

// StateStore is the shared state record of one run: an append-only sequence
// of patches merged into a single view. Each field is written once, except
// that a node re-run overwrites its own fields. The short-circuit flag never
// goes from true back to false.
type StateStore struct {
	mu       sync.RWMutex
	values   map[string]any
	writers  map[string]string
	statuses map[string]PatchStatus
	reasons  map[string]string
	patches  []Patch
}

// NewStateStore creates an empty store.
func NewStateStore() *StateStore {
	return &StateStore{
		values:   make(map[string]any),
		writers:  make(map[string]string),
		statuses: make(map[string]PatchStatus),
		reasons:  make(map[string]string),
	}
}

// Get returns the value of a field. The boolean is false when the field is
// absent or was resolved without a value.
func (s *StateStore) Get(field string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[field]
	return v, ok && v != nil
}

// Has reports whether the field has been resolved by a merged patch.
func (s *StateStore) Has(field string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.writers[field]
	return ok
}

// HasAll reports whether every field is resolved.
func (s *StateStore) HasAll(fields []FieldDecl) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, f := range fields {
		if _, ok := s.writers[f.Name]; !ok {
			return false
		}
	}
	return true
}

// Writer returns the node that resolved a field.
func (s *StateStore) Writer(field string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.writers[field]
	return w, ok
}

// Apply merges a patch atomically. It fails if any field in the patch was
// already written by a different node, or if the patch would reset the
// short-circuit flag. A failed apply leaves the store unchanged.
func (s *StateStore) Apply(p Patch) error {
	if p.NodeID == "" {
		return NewInternalError("patch has no producing node", nil)
	}
	if err := p.Status.Validate(); err != nil {
		return NewInternalError("patch has invalid status", err).WithNode(p.NodeID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for field, value := range p.Values {
		if writer, ok := s.writers[field]; ok && writer != p.NodeID {
			return NewInternalError(
				fmt.Sprintf("field already written by %s", writer), nil,
			).WithCode(ErrCodeConflictingWrite).WithNode(p.NodeID).WithField(field)
		}
		if field == ShortCircuit.Name() {
			if prev, _ := s.values[field].(bool); prev {
				if next, _ := value.(bool); !next {
					return NewInternalError("short-circuit flag cannot be reset", nil).
						WithCode(ErrCodeConflictingWrite).WithNode(p.NodeID).WithField(field)
				}
			}
		}
	}

	for field, value := range p.Values {
		s.values[field] = value
		s.writers[field] = p.NodeID
		s.statuses[field] = p.Status
		if p.Reason != "" {
			s.reasons[field] = p.Reason
		} else {
			delete(s.reasons, field)
		}
	}
	s.patches = append(s.patches, p)

	return nil
}

// ShortCircuited reports whether the flag is set, with the halt reason.
func (s *StateStore) ShortCircuited() (bool, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	halted, _ := s.values[ShortCircuit.Name()].(bool)
	if !halted {
		return false, ""
	}
	reason, _ := s.values[HaltReason.Name()].(string)
	return true, reason
}

// View builds the read-only projection of the given fields for a node.
func (s *StateStore) View(node string, fields []FieldDecl) View {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := View{
		node:     node,
		values:   make(map[string]any, len(fields)),
		statuses: make(map[string]PatchStatus, len(fields)),
		reasons:  make(map[string]string),
	}
	for _, f := range fields {
		if _, ok := s.writers[f.Name]; !ok {
			continue
		}
		v.values[f.Name] = s.values[f.Name]
		v.statuses[f.Name] = s.statuses[f.Name]
		if r, ok := s.reasons[f.Name]; ok {
			v.reasons[f.Name] = r
		}
	}
	return v
}

// Patches returns a copy of the patch log in merge order.
func (s *StateStore) Patches() []Patch {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Patch, len(s.patches))
	copy(out, s.patches)
	return out
}

// Snapshot returns a copy of the committed state.
func (s *StateStore) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Values:   make(map[string]any, len(s.values)),
		Writers:  make(map[string]string, len(s.writers)),
		Statuses: make(map[string]PatchStatus, len(s.statuses)),
		Reasons:  make(map[string]string, len(s.reasons)),
	}
	for k, v := range s.values {
		snap.Values[k] = v
	}
	for k, v := range s.writers {
		snap.Writers[k] = v
	}
	for k, v := range s.statuses {
		snap.Statuses[k] = v
	}
	for k, v := range s.reasons {
		snap.Reasons[k] = v
	}
	return snap
}

// Snapshot is a point-in-time copy of a store. It does not include the patch
// log, so two runs that merged the same patches in different orders produce
// equal snapshots.
type Snapshot struct {
	Values   map[string]any         `json:"values"`
	Writers  map[string]string      `json:"writers"`
	Statuses map[string]PatchStatus `json:"statuses"`
	Reasons  map[string]string      `json:"reasons,omitempty"`
}

// Canonical returns a deterministic JSON encoding of the snapshot.
func (s Snapshot) Canonical() ([]byte, error) {
	// encoding/json sorts map keys.
	return json.Marshal(s)
}
