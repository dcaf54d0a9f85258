package store

import (
	"fmt"

	"github.com/tinylib/msgp/msgp"

	"github.com/arloliu/rewind/types"
)

// Event wire format: a MessagePack map with the keys below. Every field is
// length-prefixed or type-tagged, so arbitrary names and payloads round-trip
// without delimiter escaping. Unknown keys are skipped for forward compatibility.
const (
	fieldID      = "id"
	fieldChannel = "ch"
	fieldName    = "name"
	fieldTime    = "t"
	fieldPayload = "p"
)

// EncodeEvent serializes an event to MessagePack.
//
// Parameters:
//   - ev: The event to encode
//
// Returns:
//   - []byte: Encoded event
//   - error: Error if the payload holds a type MessagePack cannot express
func EncodeEvent(ev types.Event) ([]byte, error) {
	return appendEvent(nil, ev)
}

// DecodeEvent deserializes an event produced by EncodeEvent.
//
// Integer payload values decode as int64 or uint64 and maps as map[string]any.
func DecodeEvent(b []byte) (types.Event, error) {
	ev, _, err := readEvent(b)
	return ev, err
}

// encodeEvents serializes a whole channel log as a MessagePack array.
func encodeEvents(events []types.Event) ([]byte, error) {
	b := msgp.AppendArrayHeader(nil, uint32(len(events))) //nolint:gosec // logs are bounded by retention
	for i := range events {
		var err error
		b, err = appendEvent(b, events[i])
		if err != nil {
			return nil, err
		}
	}

	return b, nil
}

// decodeEvents deserializes a channel log produced by encodeEvents.
func decodeEvents(b []byte) ([]types.Event, error) {
	if len(b) == 0 {
		return nil, nil
	}

	sz, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return nil, fmt.Errorf("rewind: failed to read event log header: %w", err)
	}

	events := make([]types.Event, 0, sz)
	for i := uint32(0); i < sz; i++ {
		var ev types.Event
		ev, b, err = readEvent(b)
		if err != nil {
			return nil, fmt.Errorf("rewind: failed to decode event %d: %w", i, err)
		}
		events = append(events, ev)
	}

	return events, nil
}

func appendEvent(b []byte, ev types.Event) ([]byte, error) {
	b = msgp.AppendMapHeader(b, 5)
	b = msgp.AppendString(b, fieldID)
	b = msgp.AppendString(b, ev.ID)
	b = msgp.AppendString(b, fieldChannel)
	b = msgp.AppendString(b, ev.Channel)
	b = msgp.AppendString(b, fieldName)
	b = msgp.AppendString(b, ev.Name)
	b = msgp.AppendString(b, fieldTime)
	b = msgp.AppendInt64(b, ev.Time)
	b = msgp.AppendString(b, fieldPayload)

	b, err := msgp.AppendIntf(b, ev.Payload)
	if err != nil {
		return nil, fmt.Errorf("rewind: failed to encode payload of event %q: %w", ev.Name, err)
	}

	return b, nil
}

func readEvent(b []byte) (types.Event, []byte, error) {
	var ev types.Event

	sz, b, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return ev, b, fmt.Errorf("rewind: failed to read event header: %w", err)
	}

	for i := uint32(0); i < sz; i++ {
		var key []byte
		key, b, err = msgp.ReadMapKeyZC(b)
		if err != nil {
			return ev, b, fmt.Errorf("rewind: failed to read event field: %w", err)
		}

		switch msgp.UnsafeString(key) {
		case fieldID:
			ev.ID, b, err = msgp.ReadStringBytes(b)
		case fieldChannel:
			ev.Channel, b, err = msgp.ReadStringBytes(b)
		case fieldName:
			ev.Name, b, err = msgp.ReadStringBytes(b)
		case fieldTime:
			ev.Time, b, err = msgp.ReadInt64Bytes(b)
		case fieldPayload:
			ev.Payload, b, err = msgp.ReadIntfBytes(b)
		default:
			b, err = msgp.Skip(b)
		}
		if err != nil {
			return ev, b, fmt.Errorf("rewind: failed to decode field %q: %w", key, err)
		}
	}

	return ev, b, nil
}
