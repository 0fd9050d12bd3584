package factory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/warp/care-billing/generic"
)

// EventJSON is the JSON representation of a calendar event to bill.
// Start and end are RFC 3339 instants.
type EventJSON struct {
	ID             string `json:"id"`
	Start          string `json:"start"`
	End            string `json:"end"`
	CustomerID     string `json:"customer_id"`
	SubscriptionID string `json:"subscription_id"`
	AuxiliaryID    string `json:"auxiliary_id,omitempty"`
	IsCancelled    bool   `json:"is_cancelled,omitempty"`
}

// ParseEvents parses a JSON array of events.
func ParseEvents(data []byte) ([]generic.Event, error) {
	var ej []EventJSON
	if err := json.Unmarshal(data, &ej); err != nil {
		return nil, fmt.Errorf("%w: failed to parse events JSON: %v", generic.ErrInvalidInterval, err)
	}
	return EventsFromJSON(ej)
}

// EventsFromJSON converts events. An event ending before it starts fails
// with generic.ErrInvalidInterval; a zero-length event is accepted.
func EventsFromJSON(ej []EventJSON) ([]generic.Event, error) {
	events := make([]generic.Event, 0, len(ej))
	for _, e := range ej {
		if e.ID == "" || e.CustomerID == "" || e.SubscriptionID == "" {
			return nil, fmt.Errorf("%w: event %q: id, customer_id and subscription_id are required", generic.ErrInvalidInterval, e.ID)
		}
		start, err := time.Parse(time.RFC3339, e.Start)
		if err != nil {
			return nil, fmt.Errorf("%w: event %s: start: %v", generic.ErrInvalidInterval, e.ID, err)
		}
		end, err := time.Parse(time.RFC3339, e.End)
		if err != nil {
			return nil, fmt.Errorf("%w: event %s: end: %v", generic.ErrInvalidInterval, e.ID, err)
		}
		if end.Before(start) {
			return nil, fmt.Errorf("%w: event %s ends before it starts", generic.ErrInvalidInterval, e.ID)
		}
		events = append(events, generic.Event{
			ID:             generic.EventID(e.ID),
			Start:          start,
			End:            end,
			CustomerID:     generic.CustomerID(e.CustomerID),
			SubscriptionID: generic.SubscriptionID(e.SubscriptionID),
			AuxiliaryID:    generic.AuxiliaryID(e.AuxiliaryID),
			IsCancelled:    e.IsCancelled,
		})
	}
	return events, nil
}
