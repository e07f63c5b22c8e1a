// Package record implements the self-delimiting key/value encoding shared by
// the write-ahead log and the on-disk segments.
//
// Layout of one record:
//
//	[key_len:1][key bytes][value_len:1][value bytes]
//
// Records are concatenated without separators, so a stream of records can be
// decoded from any record boundary.
package record

// MaxFieldLen is the largest key or value representable by the one-byte
// length prefix.
const MaxFieldLen = 255

// Record is a single key/value pair.
type Record struct {
	Key   []byte
	Value []byte
}

// New copies key and value into a Record.
func New(key, value []byte) Record {
	return Record{
		Key:   append([]byte(nil), key...),
		Value: append([]byte(nil), value...),
	}
}

// EncodedLen returns the number of bytes Encode produces for r.
func (r Record) EncodedLen() int {
	return 2 + len(r.Key) + len(r.Value)
}
