// Package event implements the Event Emitter (§4.F): a fixed vocabulary of
// lifecycle events forwarded to a sink supplied by the host, in the only
// orderings §6 allows.
package event

import "github.com/mjansen/tfs/internal/model"

// Kind is the fixed event vocabulary (§6). Each kind's ordering relative
// to the others is part of the contract, not just documentation.
type Kind string

const (
	KindPlanValidated Kind = "plan_validated"
	KindOpPlanned     Kind = "op_planned" // dry-run only
	KindOpStarted     Kind = "op_started"
	KindOpCompleted   Kind = "op_completed"
	KindOpFailed      Kind = "op_failed"
	KindTxnCommitted  Kind = "txn_committed"
	KindTxnAborted    Kind = "txn_aborted"
	KindUndoStarted   Kind = "undo_started"
	KindUndoOpStarted Kind = "undo_op_started"
	KindUndoOpDone    Kind = "undo_op_completed"
	KindUndoOpFailed  Kind = "undo_op_failed"
	KindUndoCompleted Kind = "undo_completed"
)

// Event is fully self-describing (§6: "no implicit references to prior
// events") — every field a sink might need to render this event stands on
// its own rather than assuming the sink remembers earlier events.
type Event struct {
	Kind    Kind
	RunID   string
	OpID    int             `json:",omitempty"`
	OpKind  model.OpKind    `json:",omitempty"`
	Src     string          `json:",omitempty"`
	Dst     string          `json:",omitempty"`
	Effect  *model.Effect   `json:",omitempty"`
	ErrKind model.ErrorKind `json:",omitempty"`
	Message string          `json:",omitempty"`
}

// Sink receives events as they happen. Implementations must not block the
// caller indefinitely — the engine is single-threaded and a slow sink
// stalls the whole run.
type Sink interface {
	Emit(Event)
}

// NopSink discards every event, for callers (tests, standalone undo
// without reporting) that don't need the stream.
type NopSink struct{}

func (NopSink) Emit(Event) {}

// Collector is a Sink that buffers every event in order, the shape
// internal/report and the "agent" JSON format consume.
type Collector struct {
	Events []Event
}

func (c *Collector) Emit(e Event) {
	c.Events = append(c.Events, e)
}

// MultiSink fans a single event out to every sink in order.
type MultiSink []Sink

func (m MultiSink) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}
