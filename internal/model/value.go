package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ValueType declares the wire type of a field's serialized value.
type ValueType string

const (
	TypeText        ValueType = "text"
	TypeNumber      ValueType = "number"
	TypeBoolean     ValueType = "boolean"
	TypeDate        ValueType = "date"
	TypeSelect      ValueType = "select"
	TypeMultiselect ValueType = "multiselect"
)

// ParseValueType validates a configured value type.
func ParseValueType(s string) (ValueType, error) {
	switch t := ValueType(s); t {
	case TypeText, TypeNumber, TypeBoolean, TypeDate, TypeSelect, TypeMultiselect:
		return t, nil
	default:
		return "", fmt.Errorf("unknown value type %q", s)
	}
}

const dateLayout = "2006-01-02"

// ValidateValue checks a raw value against the field's declared type and
// returns its normalized serialized form. Values are stored typed-but-opaque;
// this is the only place field semantics are interpreted.
func ValidateValue(t ValueType, raw string) (string, error) {
	switch t {
	case TypeText:
		return raw, nil
	case TypeNumber:
		n, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return "", fmt.Errorf("%q is not a number", raw)
		}
		return strconv.FormatFloat(n, 'f', -1, 64), nil
	case TypeBoolean:
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "true":
			return "true", nil
		case "false":
			return "false", nil
		}
		return "", fmt.Errorf("%q is not a boolean", raw)
	case TypeDate:
		d, err := time.Parse(dateLayout, strings.TrimSpace(raw))
		if err != nil {
			return "", fmt.Errorf("%q is not a date (want YYYY-MM-DD)", raw)
		}
		return d.Format(dateLayout), nil
	case TypeSelect:
		v := strings.TrimSpace(raw)
		if v == "" {
			return "", fmt.Errorf("select value is empty")
		}
		return v, nil
	case TypeMultiselect:
		vals, err := ParseMultiselect(raw)
		if err != nil {
			return "", err
		}
		return EncodeMultiselect(vals), nil
	default:
		return "", fmt.Errorf("unknown value type %q", t)
	}
}

// ParseMultiselect decodes a multiselect payload. Accepts a JSON string array
// or a single bare string (treated as a one-element set).
func ParseMultiselect(raw string) ([]string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var vals []string
		if err := json.Unmarshal([]byte(trimmed), &vals); err != nil {
			return nil, fmt.Errorf("%q is not a string array", raw)
		}
		out := vals[:0]
		for _, v := range vals {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
		return out, nil
	}
	return []string{trimmed}, nil
}

// EncodeMultiselect serializes a multiselect value set, deduplicated and
// order-preserving.
func EncodeMultiselect(vals []string) string {
	seen := make(map[string]bool, len(vals))
	uniq := make([]string, 0, len(vals))
	for _, v := range vals {
		if !seen[v] {
			seen[v] = true
			uniq = append(uniq, v)
		}
	}
	b, _ := json.Marshal(uniq)
	return string(b)
}
