// Package codec converts order events to and from their wire encoding.
//
// The encoding is JSON: self-describing, readable in the broker UI, and
// identical to what dashboards receive, so the broker never has to know
// anything about the order's internal representation.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rickgao/orderfeed/internal/model"
)

// ContentType is attached to every published message.
const ContentType = "application/json"

// ErrMalformed is returned for payloads that are not a valid order event.
var ErrMalformed = errors.New("malformed order event")

// Encode serializes an order event. Empty items and selected_extras lists
// are omitted like absent ones, so they decode as nil.
func Encode(order model.Order) ([]byte, error) {
	if err := validate(order); err != nil {
		return nil, err
	}
	data, err := json.Marshal(order)
	if err != nil {
		return nil, fmt.Errorf("encode order %s: %w", order.ID, err)
	}
	return data, nil
}

// Decode parses an order event. Anything that is not a JSON object carrying
// an order id with known status and type values is ErrMalformed. Empty lists
// come back nil, whichever way the producer spelled them.
func Decode(data []byte) (model.Order, error) {
	var order model.Order
	if err := json.Unmarshal(data, &order); err != nil {
		return model.Order{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := validate(order); err != nil {
		return model.Order{}, err
	}
	return normalize(order), nil
}

// normalize replaces empty slices with nil. order must own its slices.
func normalize(order model.Order) model.Order {
	if len(order.Items) == 0 {
		order.Items = nil
	}
	for i := range order.Items {
		if len(order.Items[i].SelectedExtras) == 0 {
			order.Items[i].SelectedExtras = nil
		}
	}
	return order
}

func validate(order model.Order) error {
	if order.ID == "" {
		return fmt.Errorf("%w: missing id", ErrMalformed)
	}
	// Partial events (status-only updates) leave status or type empty.
	if order.Status != "" && !order.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrMalformed, order.Status)
	}
	if order.Type != "" && !order.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrMalformed, order.Type)
	}
	return nil
}
