package eventlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"
)

type Operator string

const (
	OpEquals            Operator = "="
	OpNotEquals         Operator = "!="
	OpGreaterThan       Operator = ">"
	OpGreaterThanEquals Operator = ">="
	OpLowerThan         Operator = "<"
	OpLowerThanEquals   Operator = "<="
	OpIn                Operator = "in"
	OpNotIn             Operator = "not in"
	OpRegex             Operator = "regex"
)

type FieldType int

const (
	FieldMetadata FieldType = iota
	FieldProperty
)

// Property names an event attribute that can be matched on.
type Property string

const (
	PropertyType      Property = "type"
	PropertyCreatedAt Property = "created_at"
	PropertyEventID   Property = "event_id"
	PropertyNumber    Property = "number"
)

// Condition is one clause of a MetadataMatcher.
type Condition struct {
	Field string
	Type  FieldType
	Op    Operator
	Value any

	re *regexp.Regexp
}

// MetadataMatcher filters loaded events. All conditions must hold. A nil
// matcher matches every event. Matchers are immutable: With* methods return
// a copy.
type MetadataMatcher struct {
	conds []Condition
	err   error
}

func NewMatcher() *MetadataMatcher {
	return &MetadataMatcher{}
}

// WithMetadata adds a condition on a metadata key.
func (m *MetadataMatcher) WithMetadata(field string, op Operator, value any) *MetadataMatcher {
	return m.with(Condition{Field: field, Type: FieldMetadata, Op: op, Value: value})
}

// WithProperty adds a condition on an event property.
func (m *MetadataMatcher) WithProperty(p Property, op Operator, value any) *MetadataMatcher {
	return m.with(Condition{Field: string(p), Type: FieldProperty, Op: op, Value: value})
}

func (m *MetadataMatcher) with(c Condition) *MetadataMatcher {
	out := &MetadataMatcher{}
	if m != nil {
		out.conds = append(out.conds, m.conds...)
		out.err = m.err
	}
	if err := c.prepare(); err != nil && out.err == nil {
		out.err = err
	}
	out.conds = append(out.conds, c)
	return out
}

// Conditions returns the matcher's clauses in insertion order.
func (m *MetadataMatcher) Conditions() []Condition {
	if m == nil {
		return nil
	}
	return append([]Condition(nil), m.conds...)
}

// Empty reports whether the matcher has no conditions.
func (m *MetadataMatcher) Empty() bool {
	return m == nil || len(m.conds) == 0
}

// Err returns the first invalid condition error, if any.
func (m *MetadataMatcher) Err() error {
	if m == nil {
		return nil
	}
	return m.err
}

// Matches evaluates the matcher against evt in memory. An invalid matcher
// matches nothing.
func (m *MetadataMatcher) Matches(evt Event) bool {
	if m == nil {
		return true
	}
	if m.err != nil {
		return false
	}
	for _, c := range m.conds {
		if !c.matches(evt) {
			return false
		}
	}
	return true
}

func (c *Condition) prepare() error {
	if c.Type == FieldProperty {
		switch Property(c.Field) {
		case PropertyType, PropertyCreatedAt, PropertyEventID, PropertyNumber:
		default:
			return fmt.Errorf("eventlog: matcher: unknown property %q", c.Field)
		}
	}
	if c.Field == "" {
		return errors.New("eventlog: matcher: empty field")
	}

	switch c.Op {
	case OpEquals, OpNotEquals, OpGreaterThan, OpGreaterThanEquals, OpLowerThan, OpLowerThanEquals:
		if values(c.Value) != nil {
			return fmt.Errorf("eventlog: matcher: %s %s: value must be scalar", c.Field, c.Op)
		}
	case OpIn, OpNotIn:
		if values(c.Value) == nil {
			return fmt.Errorf("eventlog: matcher: %s %s: value must be a slice", c.Field, c.Op)
		}
	case OpRegex:
		pattern, ok := c.Value.(string)
		if !ok {
			return fmt.Errorf("eventlog: matcher: %s regex: pattern must be a string", c.Field)
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("eventlog: matcher: %s regex: %w", c.Field, err)
		}
		c.re = re
	default:
		return fmt.Errorf("eventlog: matcher: unknown operator %q", c.Op)
	}
	return nil
}

func (c Condition) field(evt Event) (any, bool) {
	if c.Type == FieldMetadata {
		v, ok := evt.Metadata[c.Field]
		return v, ok && v != nil
	}
	switch Property(c.Field) {
	case PropertyType:
		return evt.Type, true
	case PropertyCreatedAt:
		return evt.CreatedAt, true
	case PropertyEventID:
		return evt.ID, true
	case PropertyNumber:
		return evt.Number, true
	}
	return nil, false
}

// a missing field never matches, mirroring NULL comparisons in SQL
func (c Condition) matches(evt Event) bool {
	got, ok := c.field(evt)
	if !ok {
		return false
	}

	switch c.Op {
	case OpRegex:
		return c.re.MatchString(fmt.Sprint(got))
	case OpIn, OpNotIn:
		found := false
		for _, want := range values(c.Value) {
			if cmp, ok := compare(got, want); ok && cmp == 0 {
				found = true
				break
			}
		}
		return found == (c.Op == OpIn)
	}

	cmp, ok := compare(got, c.Value)
	if !ok {
		return c.Op == OpNotEquals
	}
	switch c.Op {
	case OpEquals:
		return cmp == 0
	case OpNotEquals:
		return cmp != 0
	case OpGreaterThan:
		return cmp > 0
	case OpGreaterThanEquals:
		return cmp >= 0
	case OpLowerThan:
		return cmp < 0
	case OpLowerThanEquals:
		return cmp <= 0
	}
	return false
}

func values(v any) []any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil
	}
	if _, ok := v.([]byte); ok {
		return nil
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

// compare orders a against b. Numbers compare numerically, times
// chronologically, everything else by string form. The bool is false when
// the values are not comparable.
func compare(a, b any) (int, bool) {
	if fa, ok := number(a); ok {
		fb, ok := number(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	if ta, ok := a.(time.Time); ok {
		tb, ok := timeValue(b)
		if !ok {
			return 0, false
		}
		return ta.Compare(tb), true
	}
	if _, ok := number(b); ok {
		return 0, false
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b)), true
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func timeValue(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		return parsed, err == nil
	}
	return time.Time{}, false
}
