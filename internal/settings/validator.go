package settings

import (
	"fmt"
	"regexp"
	"strings"
)

// Validator is a pure, stateless predicate over setting values. Every
// validator serializes to a plain map with a "type" discriminator and can be
// reconstructed from one via FromMap.
type Validator interface {
	Validate(v Value) bool
	Description() string
	Map() map[string]any
}

// --- range ---

// RangeValidator accepts numeric values within inclusive bounds. At least one
// bound must be set.
type RangeValidator struct {
	min *float64
	max *float64
}

// NewRangeValidator builds a range validator. Pass nil for an open bound.
func NewRangeValidator(min, max *float64) (*RangeValidator, error) {
	if min == nil && max == nil {
		return nil, fmt.Errorf("range validator requires at least one bound")
	}
	if min != nil && max != nil && *min > *max {
		return nil, fmt.Errorf("range validator min %g exceeds max %g", *min, *max)
	}
	return &RangeValidator{min: min, max: max}, nil
}

func (r *RangeValidator) Validate(v Value) bool {
	n, ok := v.numeric()
	if !ok {
		return false
	}
	if r.min != nil && n < *r.min {
		return false
	}
	if r.max != nil && n > *r.max {
		return false
	}
	return true
}

func (r *RangeValidator) Description() string {
	switch {
	case r.min != nil && r.max != nil:
		return fmt.Sprintf("value in range [%g, %g]", *r.min, *r.max)
	case r.min != nil:
		return fmt.Sprintf("value >= %g", *r.min)
	default:
		return fmt.Sprintf("value <= %g", *r.max)
	}
}

func (r *RangeValidator) Map() map[string]any {
	m := map[string]any{"type": "range"}
	if r.min != nil {
		m["min"] = *r.min
	}
	if r.max != nil {
		m["max"] = *r.max
	}
	return m
}

// --- enum ---

// EnumValidator accepts values from a fixed, non-empty set.
type EnumValidator struct {
	allowed []Value
}

func NewEnumValidator(allowed []Value) (*EnumValidator, error) {
	if len(allowed) == 0 {
		return nil, fmt.Errorf("enum validator requires a non-empty allowed set")
	}
	return &EnumValidator{allowed: allowed}, nil
}

func (e *EnumValidator) Validate(v Value) bool {
	for _, a := range e.allowed {
		if a.Equal(v) {
			return true
		}
	}
	return false
}

func (e *EnumValidator) Description() string {
	names := make([]string, len(e.allowed))
	for i, a := range e.allowed {
		names[i] = a.String()
	}
	return "value in {" + strings.Join(names, ", ") + "}"
}

func (e *EnumValidator) Map() map[string]any {
	values := make([]any, len(e.allowed))
	for i, a := range e.allowed {
		values[i] = a.Interface()
	}
	return map[string]any{
		"type":      "enum",
		"valueType": e.allowed[0].Type().String(),
		"values":    values,
	}
}

// --- length ---

// LengthValidator bounds the length of string values.
type LengthValidator struct {
	min *int
	max *int
}

func NewLengthValidator(min, max *int) (*LengthValidator, error) {
	if err := checkLengthBounds("length", min, max); err != nil {
		return nil, err
	}
	return &LengthValidator{min: min, max: max}, nil
}

func (l *LengthValidator) Validate(v Value) bool {
	s, err := v.StringVal()
	if err != nil {
		return false
	}
	return lengthInBounds(len(s), l.min, l.max)
}

func (l *LengthValidator) Description() string {
	return lengthDescription("length", l.min, l.max)
}

func (l *LengthValidator) Map() map[string]any {
	return lengthMap("length", l.min, l.max)
}

// ListLengthValidator bounds the element count of string-list values.
type ListLengthValidator struct {
	min *int
	max *int
}

func NewListLengthValidator(min, max *int) (*ListLengthValidator, error) {
	if err := checkLengthBounds("listLength", min, max); err != nil {
		return nil, err
	}
	return &ListLengthValidator{min: min, max: max}, nil
}

func (l *ListLengthValidator) Validate(v Value) bool {
	list, err := v.StringList()
	if err != nil {
		return false
	}
	return lengthInBounds(len(list), l.min, l.max)
}

func (l *ListLengthValidator) Description() string {
	return lengthDescription("list length", l.min, l.max)
}

func (l *ListLengthValidator) Map() map[string]any {
	return lengthMap("listLength", l.min, l.max)
}

func checkLengthBounds(kind string, min, max *int) error {
	if min == nil && max == nil {
		return fmt.Errorf("%s validator requires at least one bound", kind)
	}
	if min != nil && *min < 0 {
		return fmt.Errorf("%s validator min must be non-negative, got %d", kind, *min)
	}
	if max != nil && *max < 0 {
		return fmt.Errorf("%s validator max must be non-negative, got %d", kind, *max)
	}
	if min != nil && max != nil && *min > *max {
		return fmt.Errorf("%s validator min %d exceeds max %d", kind, *min, *max)
	}
	return nil
}

func lengthInBounds(n int, min, max *int) bool {
	if min != nil && n < *min {
		return false
	}
	if max != nil && n > *max {
		return false
	}
	return true
}

func lengthDescription(kind string, min, max *int) string {
	switch {
	case min != nil && max != nil:
		return fmt.Sprintf("%s in range [%d, %d]", kind, *min, *max)
	case min != nil:
		return fmt.Sprintf("%s >= %d", kind, *min)
	default:
		return fmt.Sprintf("%s <= %d", kind, *max)
	}
}

func lengthMap(tag string, min, max *int) map[string]any {
	m := map[string]any{"type": tag}
	if min != nil {
		m["min"] = *min
	}
	if max != nil {
		m["max"] = *max
	}
	return m
}

// --- regex ---

// RegexValidator matches string values against a compiled pattern.
type RegexValidator struct {
	pattern       string
	caseSensitive bool
	multiLine     bool
	re            *regexp.Regexp
}

func NewRegexValidator(pattern string, caseSensitive, multiLine bool) (*RegexValidator, error) {
	expr := pattern
	var flags string
	if !caseSensitive {
		flags += "i"
	}
	if multiLine {
		flags += "m"
	}
	if flags != "" {
		expr = "(?" + flags + ")" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("regex validator: invalid pattern %q: %w", pattern, err)
	}
	return &RegexValidator{
		pattern:       pattern,
		caseSensitive: caseSensitive,
		multiLine:     multiLine,
		re:            re,
	}, nil
}

func (r *RegexValidator) Validate(v Value) bool {
	s, err := v.StringVal()
	if err != nil {
		return false
	}
	return r.re.MatchString(s)
}

func (r *RegexValidator) Description() string {
	return fmt.Sprintf("value matches pattern %q", r.pattern)
}

func (r *RegexValidator) Map() map[string]any {
	return map[string]any{
		"type":          "regex",
		"pattern":       r.pattern,
		"caseSensitive": r.caseSensitive,
		"multiLine":     r.multiLine,
	}
}

// --- composite ---

// CompositeMode selects how a composite combines its sub-validators.
type CompositeMode string

const (
	// CompositeAll requires every sub-validator to pass.
	CompositeAll CompositeMode = "all"
	// CompositeAny requires at least one sub-validator to pass.
	CompositeAny CompositeMode = "any"
)

// CompositeValidator combines sub-validators with AND or OR semantics.
type CompositeValidator struct {
	mode CompositeMode
	subs []Validator
}

func NewCompositeValidator(mode CompositeMode, subs []Validator) (*CompositeValidator, error) {
	if mode != CompositeAll && mode != CompositeAny {
		return nil, fmt.Errorf("composite validator: unknown mode %q", mode)
	}
	if len(subs) == 0 {
		return nil, fmt.Errorf("composite validator requires a non-empty sub-validator list")
	}
	return &CompositeValidator{mode: mode, subs: subs}, nil
}

func (c *CompositeValidator) Validate(v Value) bool {
	for _, sub := range c.subs {
		ok := sub.Validate(v)
		if c.mode == CompositeAll && !ok {
			return false
		}
		if c.mode == CompositeAny && ok {
			return true
		}
	}
	return c.mode == CompositeAll
}

func (c *CompositeValidator) Description() string {
	parts := make([]string, len(c.subs))
	for i, sub := range c.subs {
		parts[i] = sub.Description()
	}
	sep := " and "
	if c.mode == CompositeAny {
		sep = " or "
	}
	return "(" + strings.Join(parts, sep) + ")"
}

func (c *CompositeValidator) Map() map[string]any {
	subs := make([]any, len(c.subs))
	for i, sub := range c.subs {
		subs[i] = sub.Map()
	}
	return map[string]any{
		"type":       "composite",
		"mode":       string(c.mode),
		"validators": subs,
	}
}

// --- list content ---

// ListContentValidator applies an item validator to every element of a
// string-list value.
type ListContentValidator struct {
	item Validator
}

func NewListContentValidator(item Validator) (*ListContentValidator, error) {
	if item == nil {
		return nil, fmt.Errorf("list content validator requires an item validator")
	}
	return &ListContentValidator{item: item}, nil
}

func (l *ListContentValidator) Validate(v Value) bool {
	list, err := v.StringList()
	if err != nil {
		return false
	}
	for _, e := range list {
		if !l.item.Validate(String(e)) {
			return false
		}
	}
	return true
}

func (l *ListContentValidator) Description() string {
	return "every element: " + l.item.Description()
}

func (l *ListContentValidator) Map() map[string]any {
	return map[string]any{
		"type": "listContent",
		"item": l.item.Map(),
	}
}

// --- registry ---

// FromMap reconstructs a validator from its serialized map form, dispatching
// on the "type" discriminator. Unknown tags are an error.
func FromMap(m map[string]any) (Validator, error) {
	tag, ok := m["type"].(string)
	if !ok {
		return nil, fmt.Errorf("validator map missing \"type\" discriminator")
	}

	switch tag {
	case "range":
		min, err := optFloat(m, "min")
		if err != nil {
			return nil, err
		}
		max, err := optFloat(m, "max")
		if err != nil {
			return nil, err
		}
		return NewRangeValidator(min, max)

	case "enum":
		vt := TypeString
		if name, ok := m["valueType"].(string); ok {
			t, err := ParseType(name)
			if err != nil {
				return nil, fmt.Errorf("enum validator: %w", err)
			}
			vt = t
		}
		raw, ok := m["values"].([]any)
		if !ok {
			return nil, fmt.Errorf("enum validator requires a \"values\" list")
		}
		allowed := make([]Value, len(raw))
		for i, e := range raw {
			v, err := FromInterface(vt, e)
			if err != nil {
				return nil, fmt.Errorf("enum validator value %d: %w", i, err)
			}
			allowed[i] = v
		}
		return NewEnumValidator(allowed)

	case "length", "listLength":
		min, err := optInt(m, "min")
		if err != nil {
			return nil, err
		}
		max, err := optInt(m, "max")
		if err != nil {
			return nil, err
		}
		if tag == "length" {
			return NewLengthValidator(min, max)
		}
		return NewListLengthValidator(min, max)

	case "regex":
		pattern, ok := m["pattern"].(string)
		if !ok {
			return nil, fmt.Errorf("regex validator requires a \"pattern\" string")
		}
		caseSensitive := true
		if v, ok := m["caseSensitive"].(bool); ok {
			caseSensitive = v
		}
		multiLine, _ := m["multiLine"].(bool)
		return NewRegexValidator(pattern, caseSensitive, multiLine)

	case "composite":
		mode, ok := m["mode"].(string)
		if !ok {
			return nil, fmt.Errorf("composite validator requires a \"mode\" string")
		}
		raw, ok := m["validators"].([]any)
		if !ok {
			return nil, fmt.Errorf("composite validator requires a \"validators\" list")
		}
		subs := make([]Validator, len(raw))
		for i, e := range raw {
			sm, ok := e.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("composite validator entry %d is not a map", i)
			}
			sub, err := FromMap(sm)
			if err != nil {
				return nil, fmt.Errorf("composite validator entry %d: %w", i, err)
			}
			subs[i] = sub
		}
		return NewCompositeValidator(CompositeMode(mode), subs)

	case "listContent":
		raw, ok := m["item"].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("list content validator requires an \"item\" map")
		}
		item, err := FromMap(raw)
		if err != nil {
			return nil, fmt.Errorf("list content validator item: %w", err)
		}
		return NewListContentValidator(item)
	}

	return nil, fmt.Errorf("unknown validator type %q", tag)
}

func optFloat(m map[string]any, key string) (*float64, error) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return nil, nil
	}
	switch n := raw.(type) {
	case float64:
		return &n, nil
	case int:
		f := float64(n)
		return &f, nil
	case int64:
		f := float64(n)
		return &f, nil
	}
	return nil, fmt.Errorf("validator field %q must be a number, got %T", key, raw)
}

func optInt(m map[string]any, key string) (*int, error) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return nil, nil
	}
	switch n := raw.(type) {
	case int:
		return &n, nil
	case int64:
		i := int(n)
		return &i, nil
	case float64:
		i := int(n)
		return &i, nil
	}
	return nil, fmt.Errorf("validator field %q must be an integer, got %T", key, raw)
}

// MinBound and MaxBound are convenience helpers for building range bounds.
func MinBound(v float64) *float64 { return &v }
func MaxBound(v float64) *float64 { return &v }

// MinLen and MaxLen are convenience helpers for building length bounds.
func MinLen(v int) *int { return &v }
func MaxLen(v int) *int { return &v }
