package journal

import "time"

// EventType labels one entry in a contract's history.
type EventType string

const (
	EventContractCreated EventType = "contract_created"
	EventJobAdded        EventType = "job_added"
	EventJobRemoved      EventType = "job_removed"
	EventRoundDispatched EventType = "round_dispatched"
	EventFulfillment     EventType = "fulfillment"
	EventFinalized       EventType = "finalized"
)

// Event is one append-only history record for a contract.
type Event struct {
	ID            string
	ContractID    string
	Type          EventType
	CorrelationID string
	Result        uint64
	Payout        uint64
	Detail        map[string]string
	CreatedAt     time.Time
}
