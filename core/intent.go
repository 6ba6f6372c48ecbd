package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// intentTimeLayout matches the producer's timestamp format, which carries
// no zone offset ("2024-01-15T10:30:00").
const intentTimeLayout = "2006-01-02T15:04:05"

// OrderIntent is the inbound message identifying what to enrich and persist.
// ProductIDs may contain duplicates; they are preserved in input order.
type OrderIntent struct {
	OrderID    string     `json:"orderId"`
	CustomerID string     `json:"customerId"`
	ProductIDs []string   `json:"productIds"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
}

// ParseIntent decodes an intent payload with a plain fixed-schema JSON
// decode. An earlier revision of this worker extracted fields by regex;
// the payload shapes that motivated it are covered by regression tests
// against this decoder.
func ParseIntent(payload []byte) (*OrderIntent, error) {
	if len(strings.TrimSpace(string(payload))) == 0 {
		return nil, fmt.Errorf("empty payload: %w", ErrMalformedIntent)
	}

	var raw struct {
		OrderID    string   `json:"orderId"`
		CustomerID string   `json:"customerId"`
		ProductIDs []string `json:"productIds"`
		Timestamp  string   `json:"timestamp"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("decoding intent: %v: %w", err, ErrMalformedIntent)
	}

	if raw.OrderID == "" {
		return nil, fmt.Errorf("missing orderId: %w", ErrMalformedIntent)
	}
	if raw.CustomerID == "" {
		return nil, fmt.Errorf("missing customerId: %w", ErrMalformedIntent)
	}

	intent := &OrderIntent{
		OrderID:    raw.OrderID,
		CustomerID: raw.CustomerID,
		ProductIDs: raw.ProductIDs,
	}

	// An unparseable timestamp is dropped rather than failing the message;
	// the field is optional and informational only.
	if raw.Timestamp != "" && raw.Timestamp != "null" {
		if ts, err := parseIntentTime(raw.Timestamp); err == nil {
			intent.Timestamp = &ts
		}
	}

	return intent, nil
}

func parseIntentTime(s string) (time.Time, error) {
	if ts, err := time.Parse(intentTimeLayout, s); err == nil {
		return ts, nil
	}
	return time.Parse(time.RFC3339, s)
}

// MarshalJSON renders the timestamp in the producer's zoneless layout so a
// requeued payload matches what was originally consumed.
func (i *OrderIntent) MarshalJSON() ([]byte, error) {
	type alias struct {
		OrderID    string   `json:"orderId"`
		CustomerID string   `json:"customerId"`
		ProductIDs []string `json:"productIds"`
		Timestamp  string   `json:"timestamp,omitempty"`
	}
	out := alias{
		OrderID:    i.OrderID,
		CustomerID: i.CustomerID,
		ProductIDs: i.ProductIDs,
	}
	if i.Timestamp != nil {
		out.Timestamp = i.Timestamp.Format(intentTimeLayout)
	}
	return json.Marshal(out)
}
