package record

import (
	"unicode/utf8"
)

// Validate checks that key and value fit the one-byte prefix and are valid
// text.
func Validate(key, value []byte) error {
	if err := checkField("key", key); err != nil {
		return err
	}
	return checkField("value", value)
}

func checkField(name string, b []byte) error {
	if len(b) > MaxFieldLen {
		return &CodecError{Field: name, Cause: ErrFieldTooLarge}
	}
	if !utf8.Valid(b) {
		return &CodecError{Field: name, Cause: ErrInvalidText}
	}
	return nil
}

// Encode returns the encoded form of a single key/value pair.
func Encode(key, value []byte) ([]byte, error) {
	return AppendEncoded(make([]byte, 0, 2+len(key)+len(value)), key, value)
}

// AppendEncoded appends the encoded record to dst and returns the extended
// slice. dst is returned unchanged on error.
func AppendEncoded(dst, key, value []byte) ([]byte, error) {
	if err := Validate(key, value); err != nil {
		if ce, ok := err.(*CodecError); ok {
			ce.Offset = len(dst)
		}
		return dst, err
	}
	dst = append(dst, byte(len(key)))
	dst = append(dst, key...)
	dst = append(dst, byte(len(value)))
	dst = append(dst, value...)
	return dst, nil
}

// Decode decodes every complete record in buf, in order.
//
// If buf ends in a partial record, or a record carries invalid text, Decode
// returns the records before it together with a *CodecError whose Offset is
// the start of the bad record. Everything before Offset is well formed.
func Decode(buf []byte) ([]Record, error) {
	records := make([]Record, 0)
	off := 0
	for off < len(buf) {
		rec, n, err := decodeAt(buf, off)
		if err != nil {
			return records, err
		}
		records = append(records, rec)
		off += n
	}
	return records, nil
}

// DecodeOne decodes a buffer that must hold exactly one record.
func DecodeOne(buf []byte) (Record, error) {
	if len(buf) == 0 {
		return Record{}, &CodecError{Cause: ErrEmpty}
	}
	rec, n, err := decodeAt(buf, 0)
	if err != nil {
		return Record{}, err
	}
	if n != len(buf) {
		return Record{}, &CodecError{Offset: n, Cause: ErrTrailingBytes}
	}
	return rec, nil
}

// decodeAt decodes the record starting at off and returns it with its
// encoded length. The returned slices are copies.
func decodeAt(buf []byte, off int) (Record, int, error) {
	pos := off

	key, pos, err := readField(buf, pos, off, "key")
	if err != nil {
		return Record{}, 0, err
	}
	value, pos, err := readField(buf, pos, off, "value")
	if err != nil {
		return Record{}, 0, err
	}

	return Record{Key: key, Value: value}, pos - off, nil
}

func readField(buf []byte, pos, recStart int, name string) ([]byte, int, error) {
	if pos >= len(buf) {
		return nil, 0, &CodecError{Offset: recStart, Field: name, Cause: ErrTruncated}
	}
	n := int(buf[pos])
	pos++
	if pos+n > len(buf) {
		return nil, 0, &CodecError{Offset: recStart, Field: name, Cause: ErrTruncated}
	}
	field := buf[pos : pos+n]
	if !utf8.Valid(field) {
		return nil, 0, &CodecError{Offset: recStart, Field: name, Cause: ErrInvalidText}
	}
	return append([]byte(nil), field...), pos + n, nil
}
