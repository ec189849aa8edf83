// Package configdata encodes configuration entries into the blob layout the
// template reads at runtime, and decodes it back.
//
// Each entry is two records, key then value. A record is a little-endian u32
// byte length followed by the bytes, zero-padded to a multiple of four. The
// entry count is stored outside the blob.
package configdata

import (
	"encoding/binary"
	"strings"

	"github.com/reconcilerio/static-config/errors"
)

// Entry is a single configuration key/value pair.
type Entry struct {
	Key   string
	Value string
}

// Entries is an ordered list of entries. Keys may repeat; lookups return the
// first match.
type Entries []Entry

// Get returns the value of the first entry with the given key.
func (e Entries) Get(key string) (string, bool) {
	return Get(e, key)
}

// All returns the entries as a plain slice.
func (e Entries) All() []Entry {
	return e
}

// Get returns the value of the first entry in entries with the given key.
func Get(entries []Entry, key string) (string, bool) {
	for _, e := range entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return "", false
}

func pad4(n int) int {
	return (n + 3) &^ 3
}

func recordSize(s string) int {
	return 4 + pad4(len(s))
}

// EncodedSize returns the length of Encode(entries).
func EncodedSize(entries []Entry) int {
	n := 0
	for _, e := range entries {
		n += recordSize(e.Key) + recordSize(e.Value)
	}
	return n
}

// Encode serializes entries in order.
func Encode(entries []Entry) []byte {
	buf := make([]byte, EncodedSize(entries))
	off := 0
	put := func(s string) {
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(s)))
		copy(buf[off+4:], s)
		off += recordSize(s)
	}
	for _, e := range entries {
		put(e.Key)
		put(e.Value)
	}
	return buf
}

// Decode reads count entries from data. Reading past the end of data, for a
// length prefix, payload or padding, is a format error.
func Decode(data []byte, count uint32) ([]Entry, error) {
	entries := make([]Entry, 0, min(int(count), len(data)/8))
	off := 0

	read := func(index uint32, what string) (string, error) {
		if len(data)-off < 4 {
			return "", truncated(index, what, off, "length prefix")
		}
		n := int(binary.LittleEndian.Uint32(data[off:]))
		start := off + 4
		if n > len(data)-start {
			return "", truncated(index, what, off, "payload")
		}
		if pad4(n) > len(data)-start {
			return "", truncated(index, what, off, "padding")
		}
		s := string(data[start : start+n])
		off = start + pad4(n)
		return s, nil
	}

	for i := uint32(0); i < count; i++ {
		key, err := read(i, "key")
		if err != nil {
			return nil, err
		}
		value, err := read(i, "value")
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Key: key, Value: value})
	}
	return entries, nil
}

func truncated(index uint32, what string, offset int, part string) error {
	return errors.New(errors.PhaseDecode, errors.KindFormat).
		Detail("entry %d %s truncated at offset %d (%s past end of data)", index, what, offset, part).
		Build()
}

// ParseProperty parses a "key=value" argument. The key is everything before
// the first '='; the value may itself contain '='.
func ParseProperty(s string) (Entry, error) {
	key, value, ok := strings.Cut(s, "=")
	if !ok {
		return Entry{}, errors.InvalidInput("property must take form key=value, got %q", s)
	}
	return Entry{Key: key, Value: value}, nil
}

// ParseProperties parses every argument with ParseProperty, preserving order.
func ParseProperties(args []string) ([]Entry, error) {
	entries := make([]Entry, 0, len(args))
	for _, a := range args {
		e, err := ParseProperty(a)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}
