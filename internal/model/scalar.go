package model

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Keywords accepted in place of a numeric range or resolution
const (
	KeywordAuto    = "AUTO"
	KeywordMin     = "MIN"
	KeywordMax     = "MAX"
	KeywordDefault = "DEF"
)

// Scalar is a range or resolution argument: either a number or a SCPI keyword
type Scalar struct {
	keyword string
	value   decimal.Decimal
}

// Number returns a numeric scalar
func Number(v float64) Scalar {
	return Scalar{value: decimal.NewFromFloat(v)}
}

// Keyword returns a keyword scalar such as AUTO
func Keyword(k string) Scalar {
	return Scalar{keyword: strings.ToUpper(k)}
}

// Auto is the autorange scalar
func Auto() Scalar {
	return Keyword(KeywordAuto)
}

// ParseScalar parses "AUTO", "MIN", "MAX", "DEF" or a decimal number
func ParseScalar(s string) (Scalar, error) {
	text := strings.ToUpper(strings.TrimSpace(s))
	switch text {
	case KeywordAuto, KeywordMin, KeywordMax, KeywordDefault:
		return Keyword(text), nil
	case "":
		return Scalar{}, &ConfigError{Field: "scalar", Value: s, Reason: "empty value"}
	}

	value, err := decimal.NewFromString(text)
	if err != nil {
		return Scalar{}, &ConfigError{Field: "scalar", Value: s, Reason: "not a number or keyword", Err: err}
	}
	return Scalar{value: value}, nil
}

// IsKeyword reports whether the scalar is a keyword rather than a number
func (s Scalar) IsKeyword() bool {
	return s.keyword != ""
}

// String renders the scalar as it is sent on the wire
func (s Scalar) String() string {
	if s.IsKeyword() {
		return s.keyword
	}
	return s.value.String()
}

// Equal compares two scalars by wire representation
func (s Scalar) Equal(other Scalar) bool {
	if s.IsKeyword() || other.IsKeyword() {
		return s.keyword == other.keyword
	}
	return s.value.Equal(other.value)
}

// MarshalJSON renders numbers as JSON numbers and keywords as strings
func (s Scalar) MarshalJSON() ([]byte, error) {
	if s.IsKeyword() {
		return json.Marshal(s.keyword)
	}
	return []byte(s.value.String()), nil
}

// UnmarshalJSON accepts a JSON number or a string
func (s *Scalar) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		text = string(data)
	}
	parsed, err := ParseScalar(text)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *Scalar) UnmarshalText(text []byte) error {
	parsed, err := ParseScalar(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// RangeSpec is either one range broadcast to every device or one range per device
type RangeSpec struct {
	broadcast Scalar
	perDevice []Scalar
}

// BroadcastRange applies the same range to every device
func BroadcastRange(s Scalar) RangeSpec {
	return RangeSpec{broadcast: s}
}

// PerDeviceRange assigns ranges to devices in order
func PerDeviceRange(values ...Scalar) RangeSpec {
	perDevice := make([]Scalar, len(values))
	copy(perDevice, values)
	return RangeSpec{perDevice: perDevice}
}

// ParseRangeSpec parses "AUTO", "10" or a comma separated list "10,1,AUTO"
func ParseRangeSpec(s string) (RangeSpec, error) {
	parts := strings.Split(s, ",")
	if len(parts) == 1 {
		scalar, err := ParseScalar(parts[0])
		if err != nil {
			return RangeSpec{}, err
		}
		return BroadcastRange(scalar), nil
	}

	values := make([]Scalar, 0, len(parts))
	for _, part := range parts {
		scalar, err := ParseScalar(part)
		if err != nil {
			return RangeSpec{}, err
		}
		values = append(values, scalar)
	}
	return PerDeviceRange(values...), nil
}

// IsPerDevice reports whether one value is carried per device
func (r RangeSpec) IsPerDevice() bool {
	return r.perDevice != nil
}

// Resolve returns one range per device
func (r RangeSpec) Resolve(devices int) ([]Scalar, error) {
	if !r.IsPerDevice() {
		out := make([]Scalar, devices)
		for i := range out {
			out[i] = r.broadcast
		}
		return out, nil
	}

	if len(r.perDevice) != devices {
		return nil, &RangeError{Got: len(r.perDevice), Want: devices}
	}
	return append([]Scalar(nil), r.perDevice...), nil
}

func (r RangeSpec) String() string {
	if !r.IsPerDevice() {
		return r.broadcast.String()
	}
	parts := make([]string, len(r.perDevice))
	for i, v := range r.perDevice {
		parts[i] = v.String()
	}
	return strings.Join(parts, ",")
}

// MarshalJSON renders a broadcast range as a scalar and a per-device range as a list
func (r RangeSpec) MarshalJSON() ([]byte, error) {
	if r.IsPerDevice() {
		return json.Marshal(r.perDevice)
	}
	return json.Marshal(r.broadcast)
}

// UnmarshalJSON accepts a scalar or a list of scalars
func (r *RangeSpec) UnmarshalJSON(data []byte) error {
	var list []Scalar
	if err := json.Unmarshal(data, &list); err == nil {
		*r = PerDeviceRange(list...)
		return nil
	}

	var single Scalar
	if err := json.Unmarshal(data, &single); err != nil {
		return fmt.Errorf("range must be a scalar or a list: %w", err)
	}
	*r = BroadcastRange(single)
	return nil
}
