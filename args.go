package stages

import (
	"fmt"
	"strconv"

	"github.com/ygrebnov/errorc"
)

// ArgKind is the type tag of a start argument.
type ArgKind int

const (
	KindInt ArgKind = iota
	KindUint
	KindFloat
	KindString
	KindChar
)

func (k ArgKind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindChar:
		return "char"
	default:
		return "ArgKind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Arg is one typed start argument handed to Unit.Start.
type Arg struct {
	kind ArgKind
	i    int64
	u    uint64
	f    float64
	s    string
	c    rune
}

func IntArg(v int64) Arg     { return Arg{kind: KindInt, i: v} }
func UintArg(v uint64) Arg   { return Arg{kind: KindUint, u: v} }
func FloatArg(v float64) Arg { return Arg{kind: KindFloat, f: v} }
func StringArg(v string) Arg { return Arg{kind: KindString, s: v} }
func CharArg(v rune) Arg     { return Arg{kind: KindChar, c: v} }

// Kind returns the type tag of a.
func (a Arg) Kind() ArgKind { return a.kind }

func (a Arg) String() string {
	switch a.kind {
	case KindInt:
		return strconv.FormatInt(a.i, 10)
	case KindUint:
		return strconv.FormatUint(a.u, 10)
	case KindFloat:
		return strconv.FormatFloat(a.f, 'g', -1, 64)
	case KindChar:
		return string(a.c)
	default:
		return a.s
	}
}

// Args is the ordered list of start arguments of a stage.
type Args []Arg

// Len returns the number of arguments.
func (a Args) Len() int { return len(a) }

func (a Args) at(i int, k ArgKind) (Arg, bool) {
	if i < 0 || i >= len(a) || a[i].kind != k {
		return Arg{}, false
	}
	return a[i], true
}

// Int returns argument i if it is an integer.
func (a Args) Int(i int) (int64, bool) {
	v, ok := a.at(i, KindInt)
	return v.i, ok
}

// Uint returns argument i if it is an unsigned integer.
func (a Args) Uint(i int) (uint64, bool) {
	v, ok := a.at(i, KindUint)
	return v.u, ok
}

// Float returns argument i if it is a float.
func (a Args) Float(i int) (float64, bool) {
	v, ok := a.at(i, KindFloat)
	return v.f, ok
}

// String returns argument i if it is a string.
func (a Args) String(i int) (string, bool) {
	v, ok := a.at(i, KindString)
	return v.s, ok
}

// Char returns argument i if it is a char.
func (a Args) Char(i int) (rune, bool) {
	v, ok := a.at(i, KindChar)
	return v.c, ok
}

// ParseArgs builds Args from a format string and matching values.
// Each format letter describes one value:
//
//	d  int, int8, int16, int32, int64
//	u  uint, uint8, uint16, uint32, uint64
//	f  float32, float64
//	e  float32, float64 (exponential notation, stored as float)
//	s  string
//	c  rune or byte
//
// An unknown letter or a count mismatch yields ErrBadArgumentFormat;
// a value of the wrong type yields ErrBadArgumentType.
func ParseArgs(format string, values ...any) (Args, error) {
	letters := []rune(format)
	if len(letters) != len(values) {
		return nil, errorc.With(
			ErrBadArgumentFormat,
			errorc.String("", fmt.Sprintf("format has %d letters, got %d values", len(letters), len(values))),
		)
	}

	args := make(Args, 0, len(values))
	for i, letter := range letters {
		arg, err := parseArg(letter, values[i])
		if err != nil {
			return nil, errorc.With(err, errorc.String("position", strconv.Itoa(i)))
		}
		args = append(args, arg)
	}
	return args, nil
}

func parseArg(letter rune, v any) (Arg, error) {
	switch letter {
	case 'd':
		switch n := v.(type) {
		case int:
			return IntArg(int64(n)), nil
		case int8:
			return IntArg(int64(n)), nil
		case int16:
			return IntArg(int64(n)), nil
		case int32:
			return IntArg(int64(n)), nil
		case int64:
			return IntArg(n), nil
		}
	case 'u':
		switch n := v.(type) {
		case uint:
			return UintArg(uint64(n)), nil
		case uint8:
			return UintArg(uint64(n)), nil
		case uint16:
			return UintArg(uint64(n)), nil
		case uint32:
			return UintArg(uint64(n)), nil
		case uint64:
			return UintArg(n), nil
		}
	case 'f', 'e':
		switch n := v.(type) {
		case float32:
			return FloatArg(float64(n)), nil
		case float64:
			return FloatArg(n), nil
		}
	case 's':
		if s, ok := v.(string); ok {
			return StringArg(s), nil
		}
	case 'c':
		switch c := v.(type) {
		case rune:
			return CharArg(c), nil
		case byte:
			return CharArg(rune(c)), nil
		}
	default:
		return Arg{}, errorc.With(ErrBadArgumentFormat, errorc.String("letter", string(letter)))
	}
	return Arg{}, errorc.With(ErrBadArgumentType, errorc.String("letter", string(letter)))
}
