package debounce

// State is the debouncer state.
type State int

const (
	// Idle means nothing is waiting to be committed.
	Idle State = iota
	// Pending means an update is waiting for quiescence.
	Pending
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Pending:
		return "PENDING"
	default:
		return "UNKNOWN"
	}
}

// DefaultThreshold is the number of quiet ticks before a commit.
const DefaultThreshold = 3

// Buffer holds the newest uncommitted update. It is a pure state machine
// with no clock of its own and is not safe for concurrent use; a Debouncer
// owns exactly one.
type Buffer struct {
	text      string
	ageTicks  int
	pending   bool
	threshold int
}

// NewBuffer creates an idle buffer that commits after threshold quiet
// ticks. A threshold below 1 uses DefaultThreshold.
func NewBuffer(threshold int) *Buffer {
	if threshold < 1 {
		threshold = DefaultThreshold
	}
	return &Buffer{threshold: threshold}
}

// Update replaces the held text and restarts the quiet period.
func (b *Buffer) Update(text string) {
	b.text = text
	b.ageTicks = 0
	b.pending = true
}

// Tick advances the quiet period by one tick. When the threshold is
// reached it returns the held text with commit set and the buffer goes
// back to Idle. Ticks while Idle do nothing.
func (b *Buffer) Tick() (text string, commit bool) {
	if !b.pending {
		return "", false
	}
	b.ageTicks++
	if b.ageTicks < b.threshold {
		return "", false
	}
	text = b.text
	b.text = ""
	b.ageTicks = 0
	b.pending = false
	return text, true
}

// Pending reports whether an update is waiting.
func (b *Buffer) Pending() bool {
	return b.pending
}

// State returns Idle or Pending.
func (b *Buffer) State() State {
	if b.pending {
		return Pending
	}
	return Idle
}
