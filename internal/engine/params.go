package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// ParamType is the declared type of a formal parameter.
type ParamType string

const (
	ParamString ParamType = "string"
	ParamInt    ParamType = "int"
	ParamFloat  ParamType = "float"
	ParamBool   ParamType = "bool"
	ParamChoice ParamType = "choice"
)

// FormalParameter declares one parameter a component accepts.
type FormalParameter struct {
	Name     string    `json:"name"`
	Type     ParamType `json:"type"`
	Optional bool      `json:"optional,omitempty"`
	Choices  []string  `json:"choices,omitempty"`
}

// Params holds the actual parameter values of one component instance.
// Values are JSON scalars: string, float64 or bool.
type Params map[string]any

// MarshalJSON encodes the params as a plain object; nil encodes as {}.
func (p Params) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]any(p))
}

// String returns the parameter as text. Missing values give "".
func (p Params) String(name string) string {
	v, ok := p[name]
	if !ok || v == nil {
		return ""
	}
	return stringify(v)
}

// Clone returns a shallow copy; values are scalars so this is a full copy.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// ParseParams decodes a parameter blob. Both {"parameters": {...}} and a
// bare object are accepted; empty input and null mean no parameters.
func ParseParams(raw []byte) (Params, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Params{}, nil
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	if wrapped, ok := obj["parameters"]; ok && len(obj) == 1 {
		inner, isObj := wrapped.(map[string]any)
		if wrapped != nil && !isObj {
			return nil, fmt.Errorf("%w: \"parameters\" must be an object", ErrInvalidParameters)
		}
		obj = inner
	}
	if obj == nil {
		obj = map[string]any{}
	}
	return Params(obj), nil
}

// ValidateParams checks actual values against the formal parameters:
// every name must be declared, required names must be present, and each
// value must fit its type. Strings containing a @{name} placeholder are
// accepted for any type since they are only resolved at run time.
func ValidateParams(formal []FormalParameter, actual Params) error {
	declared := make(map[string]FormalParameter, len(formal))
	for _, f := range formal {
		declared[f.Name] = f
	}

	var problems []string
	for _, name := range sortedKeys(actual) {
		f, ok := declared[name]
		if !ok {
			problems = append(problems, fmt.Sprintf("unknown parameter %q", name))
			continue
		}
		if err := checkParam(f, actual[name]); err != nil {
			problems = append(problems, err.Error())
		}
	}
	for _, f := range formal {
		if _, ok := actual[f.Name]; !ok && !f.Optional {
			problems = append(problems, fmt.Sprintf("missing parameter %q", f.Name))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidParameters, strings.Join(problems, "; "))
	}
	return nil
}

func checkParam(f FormalParameter, v any) error {
	if s, ok := v.(string); ok && HasPlaceholder(s) {
		return nil
	}
	bad := func() error { return fmt.Errorf("parameter %q: %v is not a valid %s", f.Name, v, f.Type) }

	switch f.Type {
	case ParamString:
		switch v.(type) {
		case string, float64, bool:
			return nil
		}
		return bad()
	case ParamInt:
		switch x := v.(type) {
		case float64:
			if x == float64(int64(x)) {
				return nil
			}
		case string:
			if _, err := strconv.ParseInt(x, 10, 64); err == nil {
				return nil
			}
		}
		return bad()
	case ParamFloat:
		switch x := v.(type) {
		case float64:
			return nil
		case string:
			if _, err := strconv.ParseFloat(x, 64); err == nil {
				return nil
			}
		}
		return bad()
	case ParamBool:
		switch x := v.(type) {
		case bool:
			return nil
		case string:
			if _, err := strconv.ParseBool(x); err == nil {
				return nil
			}
		}
		return bad()
	case ParamChoice:
		if s, ok := v.(string); ok && slices.Contains(f.Choices, s) {
			return nil
		}
		return fmt.Errorf("parameter %q: %v is not one of %v", f.Name, v, f.Choices)
	}
	return fmt.Errorf("parameter %q: unsupported type %q", f.Name, f.Type)
}

var placeholderRE = regexp.MustCompile(`@\{([^{}]+)\}`)

// HasPlaceholder reports whether s contains a @{name} reference.
func HasPlaceholder(s string) bool {
	return placeholderRE.MatchString(s)
}

// Resolve replaces every @{name} in text with lookup(name). Names the
// lookup does not know are left as the literal placeholder.
func Resolve(text string, lookup func(name string) (string, bool)) string {
	if !strings.Contains(text, "@{") {
		return text
	}
	return placeholderRE.ReplaceAllStringFunc(text, func(m string) string {
		name := m[2 : len(m)-1]
		if v, ok := lookup(name); ok {
			return v
		}
		return m
	})
}

// ResolveParams returns a copy of p with placeholders in string values resolved.
func ResolveParams(p Params, lookup func(name string) (string, bool)) Params {
	out := make(Params, len(p))
	for k, v := range p {
		if s, ok := v.(string); ok {
			out[k] = Resolve(s, lookup)
			continue
		}
		out[k] = v
	}
	return out
}

// DecodeParams fills a struct from params using `mapstructure` tags. Input
// is weakly typed so "true" decodes into a bool and "3" into an int.
func DecodeParams(p Params, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("building decoder: %w", err)
	}
	if err := dec.Decode(map[string]any(p)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParameters, err)
	}
	return nil
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
