package update

// State is a step of an update batch.
type State int

const (
	StateIdle State = iota
	StateDiffing
	StateNoUpdate
	StateBackingUp
	StateTransferring
	StateCommitting
	StateDone
	StateRollingBack
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:         "idle",
	StateDiffing:      "diffing",
	StateNoUpdate:     "no-update",
	StateBackingUp:    "backing-up",
	StateTransferring: "transferring",
	StateCommitting:   "committing",
	StateDone:         "done",
	StateRollingBack:  "rolling-back",
	StateFailed:       "failed",
}

// String returns the string representation of a State.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether no further transitions follow s.
func (s State) Terminal() bool {
	return s == StateNoUpdate || s == StateDone || s == StateFailed
}

// Event is reported to a ProgressFunc on every state change and while a
// file is being transferred.
type Event struct {
	State State
	// Path, Index and Total describe the file being transferred (Index is
	// 1-based). They are zero outside StateTransferring.
	Path  string
	Index int
	Total int
	// BytesDone and BytesTotal track the current file. BytesTotal is -1
	// when the server did not advertise a length.
	BytesDone  int64
	BytesTotal int64
	// Err is set when a file finished with an error.
	Err error
}

// ProgressFunc receives batch events. It is called synchronously from the
// goroutine running the batch.
type ProgressFunc func(Event)

func (f ProgressFunc) emit(ev Event) {
	if f != nil {
		f(ev)
	}
}
