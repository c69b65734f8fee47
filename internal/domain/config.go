package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// ConfigKey identifies a well-known device option.
type ConfigKey int

const (
	KeySampleRate ConfigKey = iota + 1
	KeyCaptureRatio
	KeyLimitSamples
	KeyTriggerType
	KeyPatternMode
	KeyBufferSize
	KeyVoltageThreshold
	KeyExternalClock
	KeyRLE
)

var configKeyNames = map[ConfigKey]string{
	KeySampleRate:       "samplerate",
	KeyCaptureRatio:     "capture_ratio",
	KeyLimitSamples:     "limit_samples",
	KeyTriggerType:      "trigger_type",
	KeyPatternMode:      "pattern_mode",
	KeyBufferSize:       "buffer_size",
	KeyVoltageThreshold: "voltage_threshold",
	KeyExternalClock:    "external_clock",
	KeyRLE:              "rle",
}

func (k ConfigKey) String() string {
	if name, ok := configKeyNames[k]; ok {
		return name
	}
	return fmt.Sprintf("config_key(%d)", int(k))
}

// ParseConfigKey maps a snake_case option name back to its key.
func ParseConfigKey(name string) (ConfigKey, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for k, n := range configKeyNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown config key %q", name)
}

// ValueKind tags the payload carried by a Value.
type ValueKind int

const (
	ValueNone ValueKind = iota
	ValueUint64
	ValueInt64
	ValueFloat64
	ValueString
	ValueBool
)

func (k ValueKind) String() string {
	switch k {
	case ValueUint64:
		return "uint64"
	case ValueInt64:
		return "int64"
	case ValueFloat64:
		return "float64"
	case ValueString:
		return "string"
	case ValueBool:
		return "bool"
	default:
		return "none"
	}
}

// ParseValueKind inverts ValueKind.String.
func ParseValueKind(name string) (ValueKind, error) {
	for k := ValueUint64; k <= ValueBool; k++ {
		if k.String() == name {
			return k, nil
		}
	}
	return ValueNone, fmt.Errorf("unknown value kind %q", name)
}

// Value is an option value for device configuration and decoder options.
// It is a plain value type; copies are independent.
type Value struct {
	kind ValueKind
	u    uint64
	i    int64
	f    float64
	s    string
	b    bool
}

func Uint64Value(v uint64) Value   { return Value{kind: ValueUint64, u: v} }
func Int64Value(v int64) Value     { return Value{kind: ValueInt64, i: v} }
func Float64Value(v float64) Value { return Value{kind: ValueFloat64, f: v} }
func StringValue(v string) Value   { return Value{kind: ValueString, s: v} }
func BoolValue(v bool) Value       { return Value{kind: ValueBool, b: v} }

func (v Value) Kind() ValueKind { return v.kind }
func (v Value) IsZero() bool    { return v.kind == ValueNone }

// Uint64 converts numeric values; ok is false for non-numeric kinds or
// negative numbers.
func (v Value) Uint64() (uint64, bool) {
	switch v.kind {
	case ValueUint64:
		return v.u, true
	case ValueInt64:
		if v.i < 0 {
			return 0, false
		}
		return uint64(v.i), true
	case ValueFloat64:
		if v.f < 0 {
			return 0, false
		}
		return uint64(v.f), true
	default:
		return 0, false
	}
}

func (v Value) Int64() (int64, bool) {
	switch v.kind {
	case ValueInt64:
		return v.i, true
	case ValueUint64:
		return int64(v.u), true
	case ValueFloat64:
		return int64(v.f), true
	default:
		return 0, false
	}
}

func (v Value) Float64() (float64, bool) {
	switch v.kind {
	case ValueFloat64:
		return v.f, true
	case ValueUint64:
		return float64(v.u), true
	case ValueInt64:
		return float64(v.i), true
	default:
		return 0, false
	}
}

func (v Value) Str() (string, bool) {
	if v.kind != ValueString {
		return "", false
	}
	return v.s, true
}

func (v Value) Bool() (bool, bool) {
	if v.kind != ValueBool {
		return false, false
	}
	return v.b, true
}

func (v Value) Equal(o Value) bool { return v == o }

func (v Value) String() string {
	switch v.kind {
	case ValueUint64:
		return strconv.FormatUint(v.u, 10)
	case ValueInt64:
		return strconv.FormatInt(v.i, 10)
	case ValueFloat64:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case ValueString:
		return v.s
	case ValueBool:
		return strconv.FormatBool(v.b)
	default:
		return ""
	}
}

// ParseValue parses text into a Value of the given kind.
func ParseValue(kind ValueKind, text string) (Value, error) {
	text = strings.TrimSpace(text)
	switch kind {
	case ValueUint64:
		u, err := strconv.ParseUint(text, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("parse uint64 %q: %w", text, err)
		}
		return Uint64Value(u), nil
	case ValueInt64:
		i, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("parse int64 %q: %w", text, err)
		}
		return Int64Value(i), nil
	case ValueFloat64:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return Value{}, fmt.Errorf("parse float64 %q: %w", text, err)
		}
		return Float64Value(f), nil
	case ValueBool:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return Value{}, fmt.Errorf("parse bool %q: %w", text, err)
		}
		return BoolValue(b), nil
	case ValueString:
		return StringValue(text), nil
	default:
		return Value{}, fmt.Errorf("cannot parse value of kind %s", kind)
	}
}
