package transfer

import "time"

type Direction int

const (
	Download Direction = iota + 1
	Upload
)

func (d Direction) String() string {
	switch d {
	case Download:
		return "download"
	case Upload:
		return "upload"
	default:
		return "unknown"
	}
}

type State int

const (
	Pending State = iota + 1
	Active
	Completed
	Failed
	Cancelled
)

// Terminal states admit no further transitions, byte counts or speed
// updates.
func (s State) Terminal() bool {
	return s == Completed || s == Failed || s == Cancelled
}

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Active:
		return "active"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Transfer is the caller-visible snapshot of one transfer. The manager owns
// the live record; snapshots are safe to retain and never mutate.
type Transfer struct {
	ID          string
	RefNum      [4]byte
	Title       string
	Direction   Direction
	IsFolder    bool
	TotalSize   int64
	Transferred int64
	State       State
	Speed       float64 // bytes per second, smoothed
	Err         error   // set for Failed
	Preview     []byte  // set for completed preview downloads
}

// ETA estimates time to completion; undefined until a speed sample exists.
func (t Transfer) ETA() (time.Duration, bool) {
	if t.Speed <= 0 || t.TotalSize <= t.Transferred {
		return 0, false
	}
	secs := float64(t.TotalSize-t.Transferred) / t.Speed
	return time.Duration(secs * float64(time.Second)), true
}

// speedometer keeps an exponential moving average of the byte rate so the
// displayed speed does not jitter with per-chunk timing noise.
type speedometer struct {
	last time.Time
	rate float64
}

const speedAlpha = 0.3

func (sp *speedometer) sample(n int, now time.Time) float64 {
	if sp.last.IsZero() {
		sp.last = now
		return sp.rate
	}
	dt := now.Sub(sp.last).Seconds()
	if dt <= 0 {
		return sp.rate
	}
	inst := float64(n) / dt
	if sp.rate == 0 {
		sp.rate = inst
	} else {
		sp.rate = speedAlpha*inst + (1-speedAlpha)*sp.rate
	}
	sp.last = now
	return sp.rate
}
