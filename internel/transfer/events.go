package transfer

type EventType int

const (
	// EventProgress reports byte-count/speed movement on an active
	// transfer. Delivery is best-effort; a lagging subscriber misses
	// intermediate samples, never the terminal event.
	EventProgress EventType = iota + 1
	// EventTerminal is delivered exactly once per transfer, whichever
	// path (completion, failure, cancellation) ended it.
	EventTerminal
)

// Event carries a point-in-time snapshot; inspect Transfer.State to
// distinguish completion, failure and cancellation.
type Event struct {
	Type     EventType
	Transfer Transfer
}
