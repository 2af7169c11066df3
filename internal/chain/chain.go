package chain

import (
	"fmt"
	"time"

	"github.com/eventweave/eventweave/internal/encoding"
	"github.com/eventweave/eventweave/internal/event"
)

// genesisLink is hashed in place of a previous id for the first event in a
// chain. Part of the wire contract; changing it invalidates existing ids.
const genesisLink = "genesis"

// ChainedEvent wraps a domain event with its integrity-chain fields.
// Append-only: never mutated or deleted once stored.
type ChainedEvent struct {
	// ContentID is the content-derived identifier of this event.
	ContentID string
	// PreviousID is the content id of the preceding event in the aggregate's
	// chain, empty for the first event.
	PreviousID string
	// Sequence is the per-aggregate sequence number, starting at 1 with no
	// gaps.
	Sequence uint64
	// Timestamp is when the event was chained, UTC at millisecond precision.
	Timestamp time.Time
	// Payload is the wrapped domain event.
	Payload event.Payload
}

// CalculateID computes the content id for a payload linked to previousID.
// The id is a pure deterministic function of (payload, previousID): the
// canonical envelope bytes concatenated with the previous id (or the genesis
// sentinel) are digested. Sequence and timestamp are deliberately excluded.
func CalculateID(p event.Payload, previousID string) (string, error) {
	body, err := event.Encode(p)
	if err != nil {
		return "", fmt.Errorf("canonical payload: %w", err)
	}
	link := previousID
	if link == "" {
		link = genesisLink
	}
	buf := make([]byte, 0, len(body)+1+len(link))
	buf = append(buf, body...)
	buf = append(buf, '\n')
	buf = append(buf, link...)
	return encoding.ContentHashBytes(buf), nil
}

// Chainer assigns sequence numbers and chain links for one aggregate's
// stream. It is a plain value guarded by its owner; the store keeps one per
// aggregate and does not arbitrate concurrent writers (callers serialize
// appends to the same aggregate).
type Chainer struct {
	head string
	next uint64
}

// NewChainer returns a chainer positioned at the start of an empty stream.
func NewChainer() *Chainer {
	return &Chainer{next: 1}
}

// Resume returns a chainer positioned after an existing stream head.
func Resume(headID string, lastSequence uint64) *Chainer {
	return &Chainer{head: headID, next: lastSequence + 1}
}

// Head returns the content id of the last chained event, empty for a fresh
// chain.
func (c *Chainer) Head() string { return c.head }

// NextSequence returns the sequence number the next Add will assign.
func (c *Chainer) NextSequence() uint64 { return c.next }

// Add links a payload into the chain: computes its content id against the
// current head, assigns the next sequence number, and stamps the given time.
// The chainer advances only on success.
func (c *Chainer) Add(p event.Payload, now time.Time) (ChainedEvent, error) {
	if p == nil {
		return ChainedEvent{}, fmt.Errorf("payload is required")
	}
	id, err := CalculateID(p, c.head)
	if err != nil {
		return ChainedEvent{}, err
	}
	evt := ChainedEvent{
		ContentID:  id,
		PreviousID: c.head,
		Sequence:   c.next,
		Timestamp:  now.UTC().Truncate(time.Millisecond),
		Payload:    p,
	}
	c.head = id
	c.next++
	return evt, nil
}
