package txtrecord

import "strconv"

// Config describes how structured locations are rendered into flat keys.
// Start with DefaultConfig and override the parts you need. None of the
// separators need to be non-empty or distinct, but a config that renders two
// different paths into the same key can not be decoded reliably.
type Config struct {
	// ArraySeparator joins a sequence's key to the index of an element.
	ArraySeparator string

	// ObjectSeparator joins an object's key to the name of a field.
	ObjectSeparator string

	// RecordLen is the maximum length in bytes of a rendered `key=value` record.
	// A value of zero or less disables the check.
	RecordLen int

	// ArrayLenSuffix is appended to a sequence's key to build the key that holds
	// the number of elements.
	ArrayLenSuffix string
}

// DefaultConfig returns the config used by Marshal and Unmarshal.
func DefaultConfig() Config {
	return Config{
		ArraySeparator:  "_",
		ObjectSeparator: ".",
		RecordLen:       255,
		ArrayLenSuffix:  "_len",
	}
}

func (c Config) WithArraySeparator(separator string) Config {
	c.ArraySeparator = separator
	return c
}

func (c Config) WithObjectSeparator(separator string) Config {
	c.ObjectSeparator = separator
	return c
}

func (c Config) WithRecordLen(recordLen int) Config {
	c.RecordLen = recordLen
	return c
}

func (c Config) WithArrayLenSuffix(suffix string) Config {
	c.ArrayLenSuffix = suffix
	return c
}

// JoinField returns the key of the field name within the object at prefix.
// Fields of the top level object use their plain name.
func (c Config) JoinField(prefix, name string) string {
	if prefix == "" {
		return name
	}

	return prefix + c.ObjectSeparator + name
}

// JoinIndex returns the key of the element at index within the sequence at prefix.
func (c Config) JoinIndex(prefix string, index int) string {
	return prefix + c.ArraySeparator + strconv.Itoa(index)
}

// LengthKey returns the key holding the number of elements of the sequence at prefix.
func (c Config) LengthKey(prefix string) string {
	return prefix + c.ArrayLenSuffix
}
