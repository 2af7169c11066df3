package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/eventweave/eventweave/internal/encoding"
)

// ErrUnknownKind indicates a wire envelope whose event_type is not part of
// the sealed event set. Non-retryable; callers should dead-letter rather
// than drop silently.
var ErrUnknownKind = errors.New("unknown event kind")

// envelope is the wire form of a domain event. The event_type discriminant
// is mandatory; the payload holds the kind-specific fields.
type envelope struct {
	EventType Kind            `json:"event_type"`
	GraphID   string          `json:"graph_id"`
	Payload   json.RawMessage `json:"payload"`
}

// decoders maps each kind to its payload decoder. The map is the single
// registration point for the sealed set.
var decoders = map[Kind]func([]byte) (Payload, error){
	KindGraphCreated:     decodeInto[GraphCreated],
	KindGraphDeleted:     decodeInto[GraphDeleted],
	KindGraphRenamed:     decodeInto[GraphRenamed],
	KindGraphTagged:      decodeInto[GraphTagged],
	KindGraphUntagged:    decodeInto[GraphUntagged],
	KindNodeAdded:        decodeInto[NodeAdded],
	KindNodeRemoved:      decodeInto[NodeRemoved],
	KindNodeMoved:        decodeInto[NodeMoved],
	KindEdgeConnected:    decodeInto[EdgeConnected],
	KindEdgeDisconnected: decodeInto[EdgeDisconnected],
}

func decodeInto[T Payload](data []byte) (Payload, error) {
	var p T
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return p, nil
}

// Kinds returns every registered event kind in lexical order.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(decoders))
	for k := range decoders {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Encode serializes a payload into its canonical wire envelope. The returned
// bytes are deterministic for a given payload and are the exact input to
// content-id computation.
func Encode(p Payload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("payload is required")
	}
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", p.Kind(), err)
	}
	data, err := encoding.CanonicalJSON(envelope{
		EventType: p.Kind(),
		GraphID:   p.AggregateID(),
		Payload:   body,
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", p.Kind(), err)
	}
	return data, nil
}

// Decode parses a wire envelope back into its concrete payload type.
// Envelopes with an unregistered event_type fail with ErrUnknownKind.
func Decode(data []byte) (Payload, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	decode, ok := decoders[env.EventType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.EventType)
	}
	p, err := decode(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.EventType, err)
	}
	return p, nil
}
