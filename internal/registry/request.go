package registry

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Number is a JSON value that may arrive as a number or a numeric string.
// Values that cannot be coerced are kept as present-but-invalid so the
// caller can report a validation error instead of a decoding error.
type Number struct {
	Value float64
	Set   bool
	Valid bool
}

func Num(v float64) Number { return Number{Value: v, Set: true, Valid: true} }

func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*n = Number{}
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	n.Set = true
	var s string
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
	} else {
		s = string(b)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		n.Set = false
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	n.Value, n.Valid = f, true
	return nil
}

func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Set || !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

func (n Number) ptr() *float64 {
	if !n.Set || !n.Valid {
		return nil
	}
	v := n.Value
	return &v
}

func (n Number) or(def float64) float64 {
	if n.Set && n.Valid {
		return n.Value
	}
	return def
}

// Text is a JSON value accepted as a string or a bare number.
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*t = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Text(strings.TrimSpace(s))
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err != nil {
		return err
	}
	*t = Text(num.String())
	return nil
}

// UpdateRequest is the driver payload shared by the HTTP and NATS ingest paths.
type UpdateRequest struct {
	Route         Text   `json:"route"`
	Lat           Number `json:"lat"`
	Lng           Number `json:"lng"`
	Driver        Text   `json:"driver,omitempty"`
	Timestamp     Number `json:"timestamp,omitempty"`
	Speed         Number `json:"speed,omitempty"`
	Accuracy      Number `json:"accuracy,omitempty"`
	AccuracySpeed Number `json:"accuracySpeed,omitempty"`
}

// StopRequest ends location sharing for a route.
type StopRequest struct {
	Route  Text `json:"route"`
	Driver Text `json:"driver,omitempty"`
}

// update is the normalized form checked by the validator.
type update struct {
	Route string   `validate:"required"`
	Lat   *float64 `validate:"required"`
	Lng   *float64 `validate:"required"`
}
