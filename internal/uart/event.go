package uart

// EventKind names a discrete happening on one clock edge.
type EventKind string

const (
	EventRxByte       EventKind = "rx_byte"
	EventFramingError EventKind = "framing_error"
	EventTrigger      EventKind = "trigger"
	EventOverrun      EventKind = "overrun"
	EventTxStart      EventKind = "tx_start"
	EventTxByte       EventKind = "tx_byte"
)

// Event is one entry of the activity log derived from Outputs.
type Event struct {
	Cycle uint64    `json:"cycle"`
	Kind  EventKind `json:"kind"`
	Byte  byte      `json:"byte"`
}

// Events lists what happened on the edge that produced out, in the order
// the core evaluated it.
func Events(cycle uint64, out Outputs) []Event {
	var evs []Event
	if out.RxValid {
		evs = append(evs, Event{Cycle: cycle, Kind: EventRxByte, Byte: out.RxByte})
	}
	if out.FramingError {
		evs = append(evs, Event{Cycle: cycle, Kind: EventFramingError})
	}
	if out.Trigger {
		evs = append(evs, Event{Cycle: cycle, Kind: EventTrigger})
	}
	if out.Overrun {
		evs = append(evs, Event{Cycle: cycle, Kind: EventOverrun})
	}
	if out.TxEvent.Sent {
		evs = append(evs, Event{Cycle: cycle, Kind: EventTxByte, Byte: out.TxEvent.Byte})
	}
	if out.TxEvent.Started {
		evs = append(evs, Event{Cycle: cycle, Kind: EventTxStart, Byte: out.TxEvent.Loaded})
	}
	return evs
}
