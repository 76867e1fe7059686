package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var (
	floatPrefix = regexp.MustCompile(`^[+-]?(Infinity|[0-9]+(\.[0-9]*)?([eE][+-]?[0-9]+)?|\.[0-9]+([eE][+-]?[0-9]+)?)`)
	intPrefix   = regexp.MustCompile(`^[+-]?[0-9]+`)
	hexPrefix   = regexp.MustCompile(`^([+-]?)0[xX]([0-9a-fA-F]*)`)
)

// Coerce converts raw into a value of the type declared by f.
// It returns ErrUnknownField if f is nil and ErrInvalidValue if raw cannot
// be read as a non-nullable numeric or enum field.
func Coerce(name string, raw any, f *Field) (any, error) {
	if f == nil {
		return nil, errors.Wrapf(ErrUnknownField, "param %q does not exist", name)
	}
	switch f.Type {
	case TypeFloat:
		if v, ok := parseFloat(raw); ok {
			return v, nil
		}
		return invalid(name, raw, f)

	case TypeInteger:
		if v, ok := parseInt(raw); ok {
			return v, nil
		}
		return invalid(name, raw, f)

	case TypeBoolean:
		return truthy(raw), nil

	case TypeString:
		return stringify(raw), nil

	case TypeEnum:
		for _, candidate := range f.List {
			if sameValue(candidate, raw) {
				return candidate, nil
			}
		}
		return invalid(name, raw, f)

	default:
		return raw, nil
	}
}

func invalid(name string, raw any, f *Field) (any, error) {
	if f.Nullable {
		return nil, nil
	}
	return nil, errors.Wrapf(ErrInvalidValue, "invalid value %q for param %q", stringify(raw), name)
}

// number returns raw as a float64 when it already is a Go number.
func number(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

// parseFloat reads the leading floating point literal of raw.
func parseFloat(raw any) (float64, bool) {
	if f, ok := number(raw); ok {
		return f, !math.IsNaN(f)
	}
	s, ok := raw.(string)
	if !ok {
		return 0, false
	}
	m := floatPrefix.FindString(strings.TrimSpace(s))
	if m == "" {
		return 0, false
	}
	if strings.HasSuffix(m, "Infinity") {
		if strings.HasPrefix(m, "-") {
			return math.Inf(-1), true
		}
		return math.Inf(1), true
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, false
	}
	return f, true
}

// parseInt reads the leading integer of raw, truncating fractions.
// Strings may use a 0x prefix for hexadecimal. Values outside the int64
// range are rejected.
func parseInt(raw any) (int, bool) {
	if f, ok := number(raw); ok {
		if math.IsNaN(f) || f < -(1<<63) || f >= 1<<63 {
			return 0, false
		}
		return int(math.Trunc(f)), true
	}
	s, ok := raw.(string)
	if !ok {
		return 0, false
	}
	s = strings.TrimSpace(s)
	if m := hexPrefix.FindStringSubmatch(s); m != nil {
		if m[2] == "" {
			return 0, false
		}
		n, err := strconv.ParseInt(m[1]+m[2], 16, 64)
		if err != nil {
			return 0, false
		}
		return int(n), true
	}
	m := intPrefix.FindString(s)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	return n, true
}

func truthy(raw any) bool {
	if raw == nil {
		return false
	}
	if f, ok := number(raw); ok {
		return f != 0 && !math.IsNaN(f)
	}
	switch v := raw.(type) {
	case bool:
		return v
	case string:
		return v != ""
	}
	return true
}

func stringify(raw any) string {
	if raw == nil {
		return "null"
	}
	switch v := raw.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int, int32, int64, uint, uint32, uint64, json.Number:
		return fmt.Sprint(v)
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Sprint(raw)
	}
	return string(b)
}

// sameValue compares enum members, treating numbers of any Go type as equal
// when their values are.
func sameValue(a, b any) bool {
	fa, aNum := number(a)
	fb, bNum := number(b)
	if aNum || bNum {
		return aNum && bNum && fa == fb
	}
	sa, aStr := a.(string)
	sb, bStr := b.(string)
	if aStr || bStr {
		return aStr && bStr && sa == sb
	}
	ba, aBool := a.(bool)
	bb, bBool := b.(bool)
	if aBool || bBool {
		return aBool && bBool && ba == bb
	}
	return a == nil && b == nil
}
