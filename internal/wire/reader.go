package wire

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

// timeLayout is used for every timestamp field.
const timeLayout = time.RFC3339Nano

// ErrMalformed is returned for documents that do not follow the schema.
var ErrMalformed = errors.New("malformed document")

// reader reads typed fields of a struct; missing fields yield zero values.
type reader map[string]*structpb.Value

func newReader(s *structpb.Struct) reader {
	return reader(s.GetFields())
}

func (r reader) has(key string) bool {
	_, ok := r[key]

	return ok
}

func (r reader) str(key string) string {
	return r[key].GetStringValue()
}

func (r reader) num(key string) float64 {
	return r[key].GetNumberValue()
}

func (r reader) integer(key string) int {
	return int(r[key].GetNumberValue())
}

func (r reader) boolean(key string) bool {
	return r[key].GetBoolValue()
}

func (r reader) sub(key string) reader {
	return newReader(r[key].GetStructValue())
}

func (r reader) list(key string) []*structpb.Value {
	return r[key].GetListValue().GetValues()
}

func (r reader) time(key string) (time.Time, error) {
	raw := r.str(key)
	if raw == "" {
		return time.Time{}, nil
	}

	parsed, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %w", ErrMalformed, key, err)
	}

	return parsed, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	return t.Format(timeLayout)
}

func anyList(values []string) []any {
	list := make([]any, 0, len(values))
	for _, value := range values {
		list = append(list, value)
	}

	return list
}

func stringList(values []*structpb.Value) []string {
	if len(values) == 0 {
		return nil
	}

	list := make([]string, 0, len(values))
	for _, value := range values {
		list = append(list, value.GetStringValue())
	}

	return list
}
