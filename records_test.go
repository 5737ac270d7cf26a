package txtrecord

import (
	"github.com/stretchr/testify/require"
	"maps"
	"slices"
	"testing"
)

func TestRecord(t *testing.T) {
	record := Record{Key: "name", Value: "Zürich"}
	require.Equal(t, record.String(), "name=Zürich")

	// length is measured in bytes, ü takes two
	require.Equal(t, record.Len(), 12)
}

func TestParseRecord(t *testing.T) {
	record, err := ParseRecord("url=https://example.com/?a=b")
	require.NoError(t, err)
	require.Equal(t, record, Record{Key: "url", Value: "https://example.com/?a=b"})

	record, err = ParseRecord("empty=")
	require.NoError(t, err)
	require.Equal(t, record, Record{Key: "empty"})

	_, err = ParseRecord("no separator")
	require.ErrorIs(t, err, ErrInvalidFormat)

	var invalidFormatError InvalidFormatError
	require.ErrorAs(t, err, &invalidFormatError)
	require.Equal(t, invalidFormatError.Value, "no separator")
}

func TestParseRecords(t *testing.T) {
	records, err := ParseRecords([]string{"a=1", "b=2"})
	require.NoError(t, err)
	require.Equal(t, records, Records{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}})
	require.Equal(t, records.Strings(), []string{"a=1", "b=2"})

	records, err = ParseRecords([]string{"a=1", "b"})
	require.ErrorIs(t, err, ErrInvalidFormat)
	require.Nil(t, records)
}

func TestRecordsLookup(t *testing.T) {
	records := Records{
		{Key: "a", Value: "first"},
		{Key: "b", Value: "b"},
		{Key: "a", Value: "second"},
	}

	value, ok := records.Lookup("a")
	require.True(t, ok)
	require.Equal(t, value, "second")

	_, ok = records.Lookup("c")
	require.False(t, ok)

	require.Equal(t, records.Map(), Map{"a": "second", "b": "b"})
	require.Equal(t, slices.Collect(records.Keys()), []string{"a", "b", "a"})
}

func TestMapLookup(t *testing.T) {
	m := Map{"a": "1", "b": ""}

	value, ok := m.Lookup("b")
	require.True(t, ok)
	require.Equal(t, value, "")

	_, ok = m.Lookup("c")
	require.False(t, ok)

	require.Equal(t, slices.Sorted(m.Keys()), slices.Sorted(maps.Keys(m)))
}

func TestLookupFunc(t *testing.T) {
	var lookup Lookup = LookupFunc(func(key string) (string, bool) {
		return "value of " + key, key != ""
	})

	value, ok := lookup.Lookup("a")
	require.True(t, ok)
	require.Equal(t, value, "value of a")

	_, isLister := lookup.(KeyLister)
	require.False(t, isLister)
}
