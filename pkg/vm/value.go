package vm

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"
)

// Value is Ember's tagged runtime value union. Every concrete type below
// implements it; type switches over Value are how the VM decodes the tag.
type Value interface {
	isValue()
}

// NumberValue is Ember's only numeric type (spec's Non-goals exclude a
// separate integer representation).
type NumberValue float64

func (NumberValue) isValue() {}

// BoolValue is true/false.
type BoolValue bool

func (BoolValue) isValue() {}

// NullValue is Ember's single null value.
type NullValue struct{}

func (NullValue) isValue() {}

// StringValue holds resolved string content. Source-level string literals
// are stored by index in a Chunk's string pool (sp); OpStr resolves that
// index into one of these at the moment the literal is pushed.
type StringValue string

func (StringValue) isValue() {}

// FunctionValue is a compiled function: a jump target plus arity, pushed by
// OpFuncVal and invoked by OpCall. Methods reached via OpCallMethod are
// stored as FunctionValue entries in a Blueprint's method table by IMPL and
// resolved from there; they are never pushed onto the stack.
type FunctionValue struct {
	Name       string
	EntryOffset uint32
	ParamCount  uint32
}

func (FunctionValue) isValue() {}

// PointerKind distinguishes what a PointerValue addresses.
type PointerKind int

const (
	PointerLocal PointerKind = iota
	PointerGlobal
	PointerField
)

// PointerValue is the runtime form of `&expr`. Unlike StructCell, pointers
// are not refcounted — spec's Non-goals exclude full memory-safety
// guarantees, and a pointer into a struct field (PointerField) keeps its
// target cell pinned by holding a counted reference for as long as the
// pointer itself is live (see (*VM).execGetAttrPtr); a pointer that is
// discarded without being dereferenced or stored through leaks that one
// reference rather than risking a dangling read.
type PointerValue struct {
	Kind       PointerKind
	StackIndex int    // PointerLocal: absolute index into vm.stack
	GlobalName string // PointerGlobal
	Cell       *StructCell
	Field      string // PointerField
}

func (PointerValue) isValue() {}

// StructCell is the refcounted heap allocation backing a struct instance.
// It is created at RefCount 1 by OpStruct and freed (recursively decref-ing
// every property) the instant RefCount reaches 0.
type StructCell struct {
	Blueprint  string
	Properties map[string]Value
	RefCount   int
}

// HeapValue wraps a StructCell so it can travel through Value-typed slots
// (the stack, globals, struct properties) without a type assertion back to
// *StructCell at every call site.
type HeapValue struct {
	Cell *StructCell
}

func (HeapValue) isValue() {}

// Blueprint is a struct's shape and method table, created by
// STRUCT_BLUEPRINT and populated in place by IMPL.
type Blueprint struct {
	Name       string
	Properties []string
	Methods    map[string]FunctionValue
}

// truthy implements Ember's boolean-coercion rule: null and false are
// falsy, everything else (including 0 and "") is truthy.
func truthy(v Value) bool {
	switch t := v.(type) {
	case NullValue:
		return false
	case BoolValue:
		return bool(t)
	default:
		return true
	}
}

func typeName(v Value) string {
	switch v.(type) {
	case NumberValue:
		return "number"
	case BoolValue:
		return "bool"
	case NullValue:
		return "null"
	case StringValue:
		return "string"
	case FunctionValue:
		return "function"
	case PointerValue:
		return "pointer"
	case HeapValue:
		return "struct"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func valueToString(v Value) string {
	switch t := v.(type) {
	case NumberValue:
		return formatNumber(float64(t))
	case BoolValue:
		if t {
			return "true"
		}
		return "false"
	case NullValue:
		return "null"
	case StringValue:
		return string(t)
	case FunctionValue:
		return fmt.Sprintf("<fn %s>", t.Name)
	case PointerValue:
		return "<pointer>"
	case HeapValue:
		var b strings.Builder
		b.WriteString(t.Cell.Blueprint)
		b.WriteString(" { ")
		first := true
		for _, k := range sortedKeys(t.Cell.Properties) {
			if !first {
				b.WriteString(", ")
			}
			first = false
			fmt.Fprintf(&b, "%s: %s", k, valueToString(t.Cell.Properties[k]))
		}
		b.WriteString(" }")
		return b.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

func formatNumber(f float64) string {
	if f == math.Trunc(f) && !math.IsInf(f, 0) {
		return fmt.Sprintf("%.0f", f)
	}
	return fmt.Sprintf("%g", f)
}

func sortedKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

// valuesEqual implements EQ's semantics: cross-type comparison is a runtime
// error, and Heap values compare structurally, guided by their shared
// blueprint's declared property list.
func valuesEqual(a, b Value, blueprints map[string]*Blueprint) (bool, error) {
	switch av := a.(type) {
	case NumberValue:
		bv, ok := b.(NumberValue)
		if !ok {
			return false, typeMismatch(a, b)
		}
		return av == bv, nil
	case BoolValue:
		bv, ok := b.(BoolValue)
		if !ok {
			return false, typeMismatch(a, b)
		}
		return av == bv, nil
	case NullValue:
		_, ok := b.(NullValue)
		if !ok {
			return false, typeMismatch(a, b)
		}
		return true, nil
	case StringValue:
		bv, ok := b.(StringValue)
		if !ok {
			return false, typeMismatch(a, b)
		}
		return av == bv, nil
	case HeapValue:
		bv, ok := b.(HeapValue)
		if !ok {
			return false, typeMismatch(a, b)
		}
		return structsEqual(av.Cell, bv.Cell, blueprints)
	default:
		return false, typeMismatch(a, b)
	}
}

func structsEqual(a, b *StructCell, blueprints map[string]*Blueprint) (bool, error) {
	if a == b {
		return true, nil
	}
	if a.Blueprint != b.Blueprint {
		return false, nil
	}
	bp, ok := blueprints[a.Blueprint]
	if !ok {
		return false, errors.Errorf("runtime error: unknown blueprint %q", a.Blueprint)
	}
	for _, prop := range bp.Properties {
		eq, err := valuesEqual(a.Properties[prop], b.Properties[prop], blueprints)
		if err != nil {
			return false, err
		}
		if !eq {
			return false, nil
		}
	}
	return true, nil
}

func typeMismatch(a, b Value) error {
	return errors.Errorf("runtime error: cannot compare %s and %s", typeName(a), typeName(b))
}
