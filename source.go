package txtrecord

import "iter"

// Lookup describes access to a set of flat records, designed to work with the
// [Unmarshal] function. The decoder walks the target type and asks the Lookup for
// exactly the keys it needs. Keys that the target type does not ask for are ignored.
//
// The package provides three ready-to-use implementations:
//
//  1. **[Records]**: the output of [Marshal], e.g. after parsing it back using [ParseRecords].
//  2. **[Map]**: records indexed by key.
//  3. **[LookupFunc]**: adapts a plain function, e.g. [os.LookupEnv].
type Lookup interface {
	// Lookup returns the value stored for key. The boolean reports
	// whether the key exists.
	Lookup(key string) (value string, ok bool)
}

// KeyLister extends [Lookup] with the ability to enumerate all keys.
//
// Most of the decoding works with plain point lookups. Listing keys is needed
// to decode maps and values of type any, as the names of their entries are not
// known from the target type. It is also used to check if an optional object
// is present at all.
//
// Entry names are derived from the keys alone. A key ending in
// [Config.ArrayLenSuffix] is read as the length record of a sequence, so a map
// entry named like "max_len" can not be decoded with the default config.
// Choose a suffix that can not clash with your entry names, see
// [Config.WithArrayLenSuffix].
type KeyLister interface {
	Lookup

	// Keys iterates over all keys in the set. Order is not important.
	Keys() iter.Seq[string]
}

// Map is a set of records indexed by key.
type Map map[string]string

var _ KeyLister = Map(nil)

func (m Map) Lookup(key string) (string, bool) {
	value, ok := m[key]
	return value, ok
}

func (m Map) Keys() iter.Seq[string] {
	return func(yield func(string) bool) {
		for key := range m {
			if !yield(key) {
				return
			}
		}
	}
}

// LookupFunc adapts a function to the [Lookup] interface.
type LookupFunc func(key string) (string, bool)

func (fn LookupFunc) Lookup(key string) (string, bool) {
	return fn(key)
}
