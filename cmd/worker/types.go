package main

import "time"

// OutcomeMessage is the payload sent from the gateway -> SQS -> worker. It
// mirrors the published outcome event.
type OutcomeMessage struct {
	EventID    string    `json:"event_id"`
	OrderID    string    `json:"order_id"`
	Outcome    string    `json:"outcome"`
	OccurredAt time.Time `json:"occurred_at"`
}
