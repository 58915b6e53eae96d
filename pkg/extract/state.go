package extract

import (
	"time"
)

// Entity names the record streams the pipeline produces.
type Entity string

const (
	EntityUsers       Entity = "users"
	EntityLabels      Entity = "labels"
	EntityCards       Entity = "cards"
	EntityComments    Entity = "comments"
	EntityAttachments Entity = "attachments"
)

// dataEntities is the fixed extraction order of the data phase.
var dataEntities = []Entity{EntityUsers, EntityLabels, EntityCards}

// EntityState tracks per-entity extraction progress across invocations.
type EntityState struct {
	Completed bool `json:"completed"`

	// Cursor is the pagination cursor of the last fully pushed page.
	Cursor string `json:"cursor,omitempty"`

	// Index is the position within the attachment list already
	// streamed, for attachment resumption.
	Index int `json:"index,omitempty"`

	// ModifiedSince bounds incremental extraction for this entity.
	ModifiedSince *time.Time `json:"modified_since,omitempty"`

	// Skipped counts records dropped by normalization failures.
	Skipped int `json:"skipped,omitempty"`

	// Error records a non-fatal extraction problem for diagnostics.
	Error string `json:"error,omitempty"`
}

// CheckpointState is the value threaded through the pipeline. It is
// owned by the state machine for the duration of a run and snapshotted
// into the outgoing event.
type CheckpointState struct {
	Entities map[Entity]*EntityState `json:"entities"`

	// Attachments collected during the data phase, consumed by the
	// attachments phase.
	Attachments []*NormalizedAttachment `json:"attachments,omitempty"`
}

// NewCheckpointState returns an empty state.
func NewCheckpointState() *CheckpointState {
	return &CheckpointState{Entities: map[Entity]*EntityState{}}
}

// Entity returns the state for one entity, creating it when absent.
func (s *CheckpointState) Entity(e Entity) *EntityState {
	if s.Entities == nil {
		s.Entities = map[Entity]*EntityState{}
	}
	st, ok := s.Entities[e]
	if !ok {
		st = &EntityState{}
		s.Entities[e] = st
	}
	return st
}

// Clone deep-copies the state so the returned event snapshot cannot be
// mutated by a later run.
func (s *CheckpointState) Clone() *CheckpointState {
	if s == nil {
		return nil
	}
	out := &CheckpointState{Entities: make(map[Entity]*EntityState, len(s.Entities))}
	for k, v := range s.Entities {
		cp := *v
		if v.ModifiedSince != nil {
			t := *v.ModifiedSince
			cp.ModifiedSince = &t
		}
		out.Entities[k] = &cp
	}
	if len(s.Attachments) > 0 {
		out.Attachments = make([]*NormalizedAttachment, len(s.Attachments))
		for i, a := range s.Attachments {
			cp := *a
			out.Attachments[i] = &cp
		}
	}
	return out
}

// ResetForIncremental prepares the state for a catch-up sync. Cards,
// comments and attachments restart bounded by modifiedSince; users and
// labels keep their completion flags because membership and label
// definitions change rarely and their re-extraction is a full pass
// anyway.
func (s *CheckpointState) ResetForIncremental(modifiedSince time.Time) {
	for _, e := range []Entity{EntityCards, EntityComments, EntityAttachments} {
		since := modifiedSince
		s.Entities[e] = &EntityState{ModifiedSince: &since}
	}
	s.Attachments = nil
}

// AllDataCompleted reports whether every data-phase entity finished.
func (s *CheckpointState) AllDataCompleted() bool {
	for _, e := range dataEntities {
		if !s.Entity(e).Completed {
			return false
		}
	}
	return true
}
