package chain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/eventweave/eventweave/internal/event"
)

// record is the wire form of a chained event as published to the durable
// log. The embedded payload envelope reuses the event package's encoding so
// the discriminant lives in one place.
type record struct {
	ContentID  string          `json:"content_id"`
	PreviousID string          `json:"previous_id,omitempty"`
	Sequence   uint64          `json:"sequence"`
	Timestamp  time.Time       `json:"timestamp"`
	Event      json.RawMessage `json:"event"`
}

// Marshal serializes a chained event for publication.
func Marshal(evt ChainedEvent) ([]byte, error) {
	body, err := event.Encode(evt.Payload)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(record{
		ContentID:  evt.ContentID,
		PreviousID: evt.PreviousID,
		Sequence:   evt.Sequence,
		Timestamp:  evt.Timestamp,
		Event:      body,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chained event: %w", err)
	}
	return data, nil
}

// Unmarshal parses a published chained event. Decoding failures surface
// the event package's errors, including ErrUnknownKind for envelopes
// outside the sealed set.
func Unmarshal(data []byte) (ChainedEvent, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return ChainedEvent{}, fmt.Errorf("unmarshal chained event: %w", err)
	}
	p, err := event.Decode(rec.Event)
	if err != nil {
		return ChainedEvent{}, err
	}
	return ChainedEvent{
		ContentID:  rec.ContentID,
		PreviousID: rec.PreviousID,
		Sequence:   rec.Sequence,
		Timestamp:  rec.Timestamp.UTC(),
		Payload:    p,
	}, nil
}
