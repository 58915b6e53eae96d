package extract

import (
	"time"
)

// Kind identifies which extraction phase an invocation runs.
type Kind string

const (
	KindExternalSyncUnits Kind = "external_sync_units"
	KindMetadata          Kind = "metadata"
	KindData              Kind = "data"
	KindAttachments       Kind = "attachments"
	KindDataDelete        Kind = "data_delete"
	KindAttachmentsDelete Kind = "attachments_delete"
)

// Mode distinguishes a first sync from a catch-up sync.
type Mode string

const (
	ModeInitial     Mode = "initial"
	ModeIncremental Mode = "incremental"
)

// Request describes one pipeline invocation. State is carried between
// invocations by the caller; the pipeline mutates its own copy and
// returns the updated snapshot inside the Event.
type Request struct {
	Kind               Kind
	Mode               Mode
	ExternalSyncUnitID string
	OrgID              string
	ConnectionKey      string

	// LastSuccessfulSyncStarted bounds incremental extraction. Zero
	// means no lower bound.
	LastSuccessfulSyncStarted time.Time

	// State resumes a previous run. Nil starts fresh.
	State *CheckpointState

	// Budget caps wall-clock time for this invocation. Zero applies
	// the default.
	Budget time.Duration
}

// EventClass is the coarse outcome of a run.
type EventClass string

const (
	ClassDone     EventClass = "done"
	ClassError    EventClass = "error"
	ClassProgress EventClass = "progress"
	ClassDelay    EventClass = "delay"
)

// SyncUnit is one selectable unit of work, a board.
type SyncUnit struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ItemType    string `json:"item_type"`
	// ItemCount is -1 when counting failed for this unit.
	ItemCount int `json:"item_count"`
}

// Event is the single outcome of a pipeline invocation. Exactly one of
// the class-specific fields is meaningful for a given Class.
type Event struct {
	Kind  Kind       `json:"kind"`
	Class EventClass `json:"class"`

	// SyncUnits is set on a Done event of the external-sync-units kind.
	SyncUnits []SyncUnit `json:"sync_units,omitempty"`

	// Message is set on Error events.
	Message string `json:"message,omitempty"`

	// Percent is a best-effort completion estimate on Progress events.
	Percent int `json:"percent,omitempty"`

	// DelaySeconds tells the caller when to re-invoke after a Delay.
	DelaySeconds int `json:"delay_seconds,omitempty"`

	// State is the checkpoint snapshot to persist for the next
	// invocation.
	State *CheckpointState `json:"state,omitempty"`
}

// Terminal reports whether the event ends the logical run.
func (e Event) Terminal() bool {
	return e.Class == ClassDone || e.Class == ClassError
}

func doneEvent(kind Kind, state *CheckpointState) Event {
	return Event{Kind: kind, Class: ClassDone, State: state}
}

func errorEvent(kind Kind, state *CheckpointState, message string) Event {
	return Event{Kind: kind, Class: ClassError, State: state, Message: message}
}

func progressEvent(kind Kind, state *CheckpointState, percent int) Event {
	return Event{Kind: kind, Class: ClassProgress, State: state, Percent: percent}
}

func delayEvent(kind Kind, state *CheckpointState, delaySeconds int) Event {
	return Event{Kind: kind, Class: ClassDelay, State: state, DelaySeconds: delaySeconds}
}
