package vm

import (
	"fmt"
	"strconv"
)

type ValueType uint8

const (
	TypeUndefined ValueType = iota
	TypeNull
	TypeBoolean
	TypeNumber
	TypeString
	TypeObject
	typeAbsent // sentinel for property-not-found, never stored in an object
)

// String returns a human-readable name for the ValueType.
func (vt ValueType) String() string {
	switch vt {
	case TypeUndefined:
		return "undefined"
	case TypeNull:
		return "null"
	case TypeBoolean:
		return "boolean"
	case TypeNumber:
		return "number"
	case TypeString:
		return "string"
	case TypeObject:
		return "object"
	case typeAbsent:
		return "absent"
	default:
		return "unknown"
	}
}

// Value is the tagged union carried in object slots and dense array storage.
type Value struct {
	typ ValueType
	num float64
	str string
	obj *Object
}

var (
	Undefined = Value{typ: TypeUndefined}
	Null      = Value{typ: TypeNull}
	True      = Value{typ: TypeBoolean, num: 1}
	False     = Value{typ: TypeBoolean}

	// Absent is the property-not-found sentinel returned by GetProperty when
	// the whole prototype chain misses. It is a normal control-flow result,
	// never an error, and is distinct from Undefined.
	Absent = Value{typ: typeAbsent}
)

func NumberValue(f float64) Value { return Value{typ: TypeNumber, num: f} }
func StringValue(s string) Value  { return Value{typ: TypeString, str: s} }
func BooleanValue(b bool) Value   { return Value{typ: TypeBoolean, num: boolNum(b)} }
func ObjectValue(o *Object) Value { return Value{typ: TypeObject, obj: o} }

func boolNum(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func (v Value) Type() ValueType   { return v.typ }
func (v Value) IsUndefined() bool { return v.typ == TypeUndefined }
func (v Value) IsNull() bool      { return v.typ == TypeNull }
func (v Value) IsObject() bool    { return v.typ == TypeObject }
func (v Value) IsAbsent() bool    { return v.typ == typeAbsent }

func (v Value) AsNumber() float64 { return v.num }
func (v Value) AsString() string  { return v.str }
func (v Value) AsBoolean() bool   { return v.num != 0 }
func (v Value) AsObject() *Object { return v.obj }

// Is reports identity equality: same type and same payload, with objects
// compared by pointer.
func (v Value) Is(other Value) bool {
	if v.typ != other.typ {
		return false
	}
	switch v.typ {
	case TypeNumber, TypeBoolean:
		return v.num == other.num
	case TypeString:
		return v.str == other.str
	case TypeObject:
		return v.obj == other.obj
	default:
		return true
	}
}

func (v Value) String() string {
	switch v.typ {
	case TypeUndefined:
		return "undefined"
	case TypeNull:
		return "null"
	case TypeBoolean:
		if v.num != 0 {
			return "true"
		}
		return "false"
	case TypeNumber:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case TypeString:
		return v.str
	case TypeObject:
		return fmt.Sprintf("[object %p]", v.obj)
	case typeAbsent:
		return "<absent>"
	default:
		return "<unknown>"
	}
}
