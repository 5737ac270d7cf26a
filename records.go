package txtrecord

import (
	"iter"
	"strings"
)

// Record is a single flat `key=value` pair.
type Record struct {
	Key   string
	Value string
}

// String renders the record as `key=value`.
func (r Record) String() string {
	return r.Key + "=" + r.Value
}

// Len returns the length of the rendered record in bytes, including the '=' separator.
func (r Record) Len() int {
	return len(r.Key) + 1 + len(r.Value)
}

// Records is an ordered list of records as produced by Marshal. The order is the
// depth first order in which the encoder visited the values.
type Records []Record

var _ KeyLister = Records(nil)

// Lookup returns the value of the last record with the given key.
// For repeated lookups, convert the records into a Map first.
func (rs Records) Lookup(key string) (string, bool) {
	for idx := len(rs) - 1; idx >= 0; idx-- {
		if rs[idx].Key == key {
			return rs[idx].Value, true
		}
	}

	return "", false
}

func (rs Records) Keys() iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, record := range rs {
			if !yield(record.Key) {
				return
			}
		}
	}
}

// Map indexes the records by key. Later records win over earlier ones with the same key.
func (rs Records) Map() Map {
	m := make(Map, len(rs))
	for _, record := range rs {
		m[record.Key] = record.Value
	}

	return m
}

// Strings renders every record as `key=value`.
func (rs Records) Strings() []string {
	texts := make([]string, 0, len(rs))
	for _, record := range rs {
		texts = append(texts, record.String())
	}

	return texts
}

// ParseRecord splits text at the first '=' into key and value.
func ParseRecord(text string) (Record, error) {
	key, value, ok := strings.Cut(text, "=")
	if !ok {
		return Record{}, InvalidFormatError{Value: text, Reason: "record has no '=' separator"}
	}

	return Record{Key: key, Value: value}, nil
}

// ParseRecords parses a list of `key=value` strings, e.g. the strings of a DNS TXT record.
func ParseRecords(texts []string) (Records, error) {
	records := make(Records, 0, len(texts))
	for _, text := range texts {
		record, err := ParseRecord(text)
		if err != nil {
			return nil, err
		}

		records = append(records, record)
	}

	return records, nil
}
