package wire

import (
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/safeglove/internal/domain/threat"
)

// EventToStruct encodes a signal event for producers.
func EventToStruct(ev threat.SignalEvent) (*structpb.Struct, error) {
	fields := map[string]any{
		"source":    string(ev.Source),
		"timestamp": formatTime(ev.Timestamp),
		"value":     ev.Value,
	}

	if ev.Payload != nil {
		payload := make(map[string]any, 2)

		if ev.Payload.PersonCount != nil {
			payload["person_count"] = *ev.Payload.PersonCount
		}

		if ev.Payload.GestureID != "" {
			payload["gesture_id"] = ev.Payload.GestureID
		}

		fields["payload"] = payload
	}

	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}

	return s, nil
}

// EventFromStruct decodes a producer's event. Structural problems are
// reported as threat.ErrInvalidEvent; value ranges are checked by the bus.
func EventFromStruct(s *structpb.Struct) (threat.SignalEvent, error) {
	if s == nil {
		return threat.SignalEvent{}, fmt.Errorf("%w: empty event", threat.ErrInvalidEvent)
	}

	r := newReader(s)

	if _, ok := r["value"].GetKind().(*structpb.Value_NumberValue); !ok {
		return threat.SignalEvent{}, fmt.Errorf("%w: value must be a number", threat.ErrInvalidEvent)
	}

	timestamp, err := time.Parse(timeLayout, r.str("timestamp"))
	if err != nil {
		return threat.SignalEvent{}, fmt.Errorf("%w: timestamp: %w", threat.ErrInvalidEvent, err)
	}

	ev := threat.SignalEvent{
		Source:    threat.SourceKind(r.str("source")),
		Timestamp: timestamp,
		Value:     r.num("value"),
	}

	if r.has("payload") {
		payload := r.sub("payload")
		ev.Payload = &threat.Payload{GestureID: payload.str("gesture_id")}

		if payload.has("person_count") {
			count := payload.num("person_count")
			if count < 0 || count != math.Trunc(count) || count > math.MaxInt32 {
				return threat.SignalEvent{}, fmt.Errorf("%w: person_count %v", threat.ErrInvalidEvent, count)
			}

			n := int(count)
			ev.Payload.PersonCount = &n
		}
	}

	return ev, nil
}
