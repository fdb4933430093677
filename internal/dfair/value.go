package dfair

import (
	"encoding/json"
	"strconv"
	"strings"
)

// NeverRead is the raw sentinel stored in a parameter that has not been read yet.
const NeverRead = -1111

type valueKind uint8

const (
	kindNumber valueKind = iota
	kindBool
)

// Value is a parameter value: either a number or a boolean. The zero Value
// is the number 0.
type Value struct {
	kind valueKind
	num  float64
	b    bool
}

// Number returns a numeric Value.
func Number(f float64) Value { return Value{kind: kindNumber, num: f} }

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{kind: kindBool, b: b} }

// Unread returns the "never yet read" sentinel value.
func Unread() Value { return Number(NeverRead) }

// IsBool reports whether v holds a boolean.
func (v Value) IsBool() bool { return v.kind == kindBool }

// IsUnread reports whether v is the never-read sentinel.
func (v Value) IsUnread() bool { return v.kind == kindNumber && v.num == NeverRead }

// Float returns the numeric value; booleans map to 0 and 1.
func (v Value) Float() float64 {
	if v.kind == kindBool {
		if v.b {
			return 1
		}
		return 0
	}
	return v.num
}

// Bool returns the boolean value; numbers are true when non-zero.
func (v Value) Bool() bool {
	if v.kind == kindBool {
		return v.b
	}
	return v.num != 0
}

func (v Value) String() string {
	if v.kind == kindBool {
		return strconv.FormatBool(v.b)
	}
	return strconv.FormatFloat(v.num, 'f', -1, 64)
}

// MarshalJSON encodes the value as a JSON number or boolean.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == kindBool {
		return json.Marshal(v.b)
	}
	return json.Marshal(v.num)
}

// UnmarshalJSON accepts a JSON number or boolean.
func (v *Value) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*v = Bool(b)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return ErrValueType
	}
	*v = Number(f)
	return nil
}

// ParseValue parses "true"/"false" ("on"/"off") or a decimal number.
func ParseValue(s string) (Value, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "on":
		return Bool(true), nil
	case "false", "off":
		return Bool(false), nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return Value{}, ErrValueType
	}
	return Number(f), nil
}
