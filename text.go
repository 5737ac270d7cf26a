package txtrecord

import (
	"fmt"
	"golang.org/x/exp/constraints"
	"strconv"
	"unsafe"
)

// Text is the raw value of a record. The conversion methods return the zero
// value together with an error wrapping strconv.ErrSyntax or strconv.ErrRange
// if the text does not fit the requested type.
type Text string

func (t Text) Int() (int, error)         { return parseSigned[int](t) }
func (t Text) Int8() (int8, error)       { return parseSigned[int8](t) }
func (t Text) Int16() (int16, error)     { return parseSigned[int16](t) }
func (t Text) Int32() (int32, error)     { return parseSigned[int32](t) }
func (t Text) Int64() (int64, error)     { return parseSigned[int64](t) }
func (t Text) Uint() (uint, error)       { return parseUnsigned[uint](t) }
func (t Text) Uint8() (uint8, error)     { return parseUnsigned[uint8](t) }
func (t Text) Uint16() (uint16, error)   { return parseUnsigned[uint16](t) }
func (t Text) Uint32() (uint32, error)   { return parseUnsigned[uint32](t) }
func (t Text) Uint64() (uint64, error)   { return parseUnsigned[uint64](t) }
func (t Text) Float32() (float32, error) { return parseFloat[float32](t) }
func (t Text) Float64() (float64, error) { return parseFloat[float64](t) }

func (t Text) Bool() (bool, error) {
	value, err := strconv.ParseBool(string(t))
	return checked(t, value, err)
}

func (t Text) String() string {
	return string(t)
}

// bits is the size of T in bits.
func bits[T constraints.Integer | constraints.Float]() int {
	var zero T
	return int(unsafe.Sizeof(zero)) * 8
}

func parseSigned[T constraints.Signed](t Text) (T, error) {
	value, err := strconv.ParseInt(string(t), 10, bits[T]())
	return checked(t, T(value), err)
}

func parseUnsigned[T constraints.Unsigned](t Text) (T, error) {
	value, err := strconv.ParseUint(string(t), 10, bits[T]())
	return checked(t, T(value), err)
}

func parseFloat[T constraints.Float](t Text) (T, error) {
	value, err := strconv.ParseFloat(string(t), bits[T]())
	return checked(t, T(value), err)
}

// checked drops a partial result if err is set.
func checked[T any](t Text, value T, err error) (T, error) {
	if err != nil {
		var zero T
		return zero, fmt.Errorf("text %q to %T: %w", string(t), zero, err)
	}

	return value, nil
}

// parseLength accepts only plain decimal digits that fit into an int.
func parseLength(text string) (int, bool) {
	length, err := strconv.ParseUint(text, 10, strconv.IntSize-1)
	if err != nil {
		return 0, false
	}

	return int(length), true
}
