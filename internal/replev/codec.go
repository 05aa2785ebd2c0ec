package replev

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// MaxPayloadBytes is the size cap enforced on both encode and decode (spec §4.1).
const MaxPayloadBytes = 300 * 1024

// ErrPayloadTooLarge is returned by Encode/Decode when the CBOR payload would
// exceed, or does, exceed MaxPayloadBytes.
var ErrPayloadTooLarge = errors.New("replev: payload exceeds max size")

// ErrInvalidPayload is returned by Decode for any structural or type
// deviation from the wire contract.
var ErrInvalidPayload = errors.New("replev: invalid payload")

// wireEvent mirrors the canonical field order from spec §3:
// key, node_id, seq, timestamp_ms, tombstone, value?
//
// Value is a pointer so that an explicit empty-string value (a legitimate
// non-tombstone write) is never confused with "absent" — only a tombstone
// event omits the field entirely.
type wireEvent struct {
	Key         string  `cbor:"key"`
	NodeID      string  `cbor:"node_id"`
	Seq         uint64  `cbor:"seq"`
	TimestampMs int64   `cbor:"timestamp_ms"`
	Tombstone   bool    `cbor:"tombstone"`
	Value       *string `cbor:"value,omitempty"`
}

// encMode emits struct fields in declaration order (not re-sorted), which is
// what gives us the canonical field order spec §4.1 requires. We deliberately
// do NOT use cbor.CanonicalEncOptions(), whose RFC-7049 canonical sort
// reorders map keys by length-then-bytewise and would scramble the declared
// "key, node_id, seq, timestamp_ms, tombstone, value" order.
var encMode = func() cbor.EncMode {
	opts := cbor.EncOptions{
		Sort: cbor.SortNone,
	}
	mode, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("replev: invalid cbor encode options: %v", err))
	}
	return mode
}()

var decMode = func() cbor.DecMode {
	opts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		MaxMapPairs: 32,
	}
	mode, err := opts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("replev: invalid cbor decode options: %v", err))
	}
	return mode
}()

// Encode serializes ev into deterministic canonical-order CBOR bytes.
//
// Two encodes of field-wise-equal events always produce byte-identical
// output (spec §8 property 2), because struct field order is fixed and
// smallest-width integer encoding is CBOR's normal behavior for small
// uint64/int64 values.
func Encode(ev Event) ([]byte, error) {
	w := toWire(ev)
	out, err := encMode.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if len(out) > MaxPayloadBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(out))
	}
	return out, nil
}

func toWire(ev Event) wireEvent {
	w := wireEvent{
		Key:         ev.Key,
		NodeID:      ev.NodeID,
		Seq:         ev.Seq,
		TimestampMs: ev.TimestampMs,
		Tombstone:   ev.Tombstone,
	}
	if !ev.Tombstone {
		v := ev.Value
		w.Value = &v
	}
	return w
}

// Decode parses bytes into a ReplicationEvent, enforcing the size cap, the
// map shape (five mandatory keys plus optional value), field types, and the
// tombstone/value consistency invariant.
func Decode(data []byte) (Event, error) {
	if len(data) > MaxPayloadBytes {
		return Event{}, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(data))
	}

	// Decode into a generic map first so we can positively assert the
	// required keys exist with the right CBOR types, rather than silently
	// zero-filling missing/mistyped fields the way a direct struct-unmarshal
	// would.
	raw := map[string]cbor.RawMessage{}
	if err := decMode.Unmarshal(data, &raw); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	required := []string{"key", "node_id", "seq", "timestamp_ms", "tombstone"}
	for _, k := range required {
		if _, ok := raw[k]; !ok {
			return Event{}, fmt.Errorf("%w: missing field %q", ErrInvalidPayload, k)
		}
	}

	var ev Event
	if err := decodeField(raw["key"], &ev.Key); err != nil {
		return Event{}, err
	}
	if err := decodeField(raw["node_id"], &ev.NodeID); err != nil {
		return Event{}, err
	}
	if err := decodeField(raw["seq"], &ev.Seq); err != nil {
		return Event{}, err
	}
	if err := decodeField(raw["timestamp_ms"], &ev.TimestampMs); err != nil {
		return Event{}, err
	}
	if err := decodeField(raw["tombstone"], &ev.Tombstone); err != nil {
		return Event{}, err
	}

	valueRaw, hasValue := raw["value"]
	if hasValue {
		if err := decodeField(valueRaw, &ev.Value); err != nil {
			return Event{}, err
		}
	}

	if ev.Tombstone && hasValue {
		return Event{}, fmt.Errorf("%w: tombstone event must not carry a value", ErrInvalidPayload)
	}
	if !ev.Tombstone && !hasValue {
		return Event{}, fmt.Errorf("%w: non-tombstone event missing value", ErrInvalidPayload)
	}

	return ev, nil
}

func decodeField(raw cbor.RawMessage, target any) error {
	if err := decMode.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
