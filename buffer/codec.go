package buffer

import (
	"fmt"
	"time"

	"github.com/velmie/beacon"
	"github.com/velmie/beacon/serial"
)

// Codec converts item batches to stored text and back.
type Codec struct {
	serializer *serial.Serializer
}

// NewCodec returns a codec over serializer, or the default serializer when nil.
func NewCodec(serializer *serial.Serializer) Codec {
	if serializer == nil {
		serializer = serial.New()
	}

	return Codec{serializer: serializer}
}

// Encode serializes items. The result may be the serializer failure marker.
func (c Codec) Encode(items []beacon.Item) string {
	return c.serializer.Serialize(items)
}

// Decode restores items written by Encode.
func (c Codec) Decode(text string) ([]beacon.Item, error) {
	switch value := c.serializer.Deserialize(text).(type) {
	case *serial.Failure:
		return nil, fmt.Errorf("%w: stored batch failed to serialize: %s", ErrUndecodable, value.Message)
	case []any:
		items := make([]beacon.Item, 0, len(value))
		for i, raw := range value {
			item, err := itemFromValue(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: item %d: %w", ErrUndecodable, i, err)
			}
			items = append(items, item)
		}

		return items, nil
	default:
		return nil, fmt.Errorf("%w: expected a list, got %T", ErrUndecodable, value)
	}
}

func itemFromValue(raw any) (beacon.Item, error) {
	fields, ok := raw.(map[string]any)
	if !ok {
		return beacon.Item{}, fmt.Errorf("expected an object, got %T", raw)
	}

	kind, _ := fields["kind"].(string)
	item := beacon.Item{Kind: beacon.Kind(kind), Payload: fields["payload"]}
	if at, ok := fields["createdAt"].(time.Time); ok {
		item.CreatedAt = at
	}
	if err := item.Validate(); err != nil {
		return beacon.Item{}, err
	}

	return item, nil
}
