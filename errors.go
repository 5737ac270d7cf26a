package txtrecord

import (
	"errors"
	"fmt"
	"reflect"
)

var ErrUnsupportedType = errors.New("unsupported type")
var ErrRecordTooLong = errors.New("record too long")
var ErrMissingField = errors.New("missing field")
var ErrInvalidValue = errors.New("invalid value")
var ErrInvalidFormat = errors.New("invalid format")

// ErrKeysRequired is returned when decoding a map or an any value from a Lookup
// that does not implement KeyLister.
var ErrKeysRequired = errors.New("lookup can not list keys")

// UnsupportedTypeError is returned if a type can not be represented as flat records.
type UnsupportedTypeError struct {
	Type   reflect.Type
	Reason string
}

func (e UnsupportedTypeError) Error() string {
	msg := fmt.Sprintf("type %q is not supported", e.Type)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}

	return msg
}

func (e UnsupportedTypeError) Is(target error) bool {
	return target == ErrUnsupportedType
}

// RecordTooLongError is returned by the encoder if a single `key=value` record
// would exceed Config.RecordLen.
type RecordTooLongError struct {
	Key       string
	Value     string
	MaxLen    int
	ActualLen int
}

func (e RecordTooLongError) Error() string {
	return fmt.Sprintf("record %q is too long: %d bytes exceeds maximum of %d",
		e.Key+"="+e.Value, e.ActualLen, e.MaxLen)
}

func (e RecordTooLongError) Is(target error) bool {
	return target == ErrRecordTooLong
}

// MissingFieldError is returned by the decoder if a required key is absent.
type MissingFieldError struct {
	Key string
}

func (e MissingFieldError) Error() string {
	return fmt.Sprintf("missing field %q", e.Key)
}

func (e MissingFieldError) Is(target error) bool {
	return target == ErrMissingField
}

// InvalidValueError is returned by the decoder if a value can not be parsed
// into the type of its target.
type InvalidValueError struct {
	Key   string
	Value string
	Type  reflect.Type
	Err   error
}

func (e InvalidValueError) Error() string {
	return fmt.Sprintf("invalid value %q at %q for type %q: %s", e.Value, e.Key, e.Type, e.Err)
}

func (e InvalidValueError) Is(target error) bool {
	return target == ErrInvalidValue
}

func (e InvalidValueError) Unwrap() error {
	return e.Err
}

// InvalidFormatError is returned for malformed structural records, e.g. an array
// length that is not a non-negative integer, or a record without a '='.
type InvalidFormatError struct {
	Key    string
	Value  string
	Reason string
}

func (e InvalidFormatError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("invalid format %q: %s", e.Value, e.Reason)
	}

	return fmt.Sprintf("invalid format of %q=%q: %s", e.Key, e.Value, e.Reason)
}

func (e InvalidFormatError) Is(target error) bool {
	return target == ErrInvalidFormat
}
