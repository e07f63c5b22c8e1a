package record

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestEncode_Layout(t *testing.T) {
	got, err := Encode([]byte("foo"), []byte("bar"))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	want := []byte{3, 'f', 'o', 'o', 3, 'b', 'a', 'r'}
	if !bytes.Equal(got, want) {
		t.Errorf("Encode = %v, want %v", got, want)
	}
}

func TestEncode_EmptyFields(t *testing.T) {
	got, err := Encode(nil, nil)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !bytes.Equal(got, []byte{0, 0}) {
		t.Errorf("Encode = %v, want [0 0]", got)
	}

	rec, err := DecodeOne(got)
	if err != nil {
		t.Fatalf("DecodeOne failed: %v", err)
	}
	if len(rec.Key) != 0 || len(rec.Value) != 0 {
		t.Errorf("expected empty record, got %q=%q", rec.Key, rec.Value)
	}
}

func TestEncode_FieldTooLarge(t *testing.T) {
	big := []byte(strings.Repeat("x", MaxFieldLen+1))

	if _, err := Encode(big, []byte("v")); !errors.Is(err, ErrFieldTooLarge) {
		t.Errorf("oversized key: got %v, want ErrFieldTooLarge", err)
	}
	if _, err := Encode([]byte("k"), big); !errors.Is(err, ErrFieldTooLarge) {
		t.Errorf("oversized value: got %v, want ErrFieldTooLarge", err)
	}

	max := []byte(strings.Repeat("y", MaxFieldLen))
	enc, err := Encode(max, max)
	if err != nil {
		t.Fatalf("max-length fields should encode: %v", err)
	}
	if len(enc) != 2+2*MaxFieldLen {
		t.Errorf("encoded length = %d, want %d", len(enc), 2+2*MaxFieldLen)
	}
}

func TestEncode_InvalidText(t *testing.T) {
	_, err := Encode([]byte{0xff, 0xfe}, []byte("v"))
	if !errors.Is(err, ErrInvalidText) {
		t.Errorf("got %v, want ErrInvalidText", err)
	}
	if !IsCodecError(err) {
		t.Error("expected a *CodecError")
	}
}

func TestAppendEncoded_LeavesDstOnError(t *testing.T) {
	dst, _ := Encode([]byte("a"), []byte("1"))
	before := len(dst)

	out, err := AppendEncoded(dst, []byte{0xc3}, []byte("x"))
	if err == nil {
		t.Fatal("expected error")
	}
	if len(out) != before {
		t.Errorf("dst grew on error: %d -> %d", before, len(out))
	}

	var ce *CodecError
	if !errors.As(err, &ce) || ce.Offset != before {
		t.Errorf("expected CodecError at offset %d, got %v", before, err)
	}
}

func TestDecode_Stream(t *testing.T) {
	pairs := [][2]string{{"foo", "bar"}, {"bar", "baz"}, {"tadashi", "mizu"}, {"", "empty-key"}}

	var buf []byte
	for _, p := range pairs {
		var err error
		buf, err = AppendEncoded(buf, []byte(p[0]), []byte(p[1]))
		if err != nil {
			t.Fatalf("AppendEncoded failed: %v", err)
		}
	}

	records, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(records) != len(pairs) {
		t.Fatalf("decoded %d records, want %d", len(records), len(pairs))
	}
	for i, p := range pairs {
		if string(records[i].Key) != p[0] || string(records[i].Value) != p[1] {
			t.Errorf("record %d = %q=%q, want %q=%q", i, records[i].Key, records[i].Value, p[0], p[1])
		}
	}
}

func TestDecode_Empty(t *testing.T) {
	records, err := Decode(nil)
	if err != nil {
		t.Fatalf("Decode(nil) failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected no records, got %d", len(records))
	}
}

func TestDecode_TruncatedTail(t *testing.T) {
	full, _ := Encode([]byte("a"), []byte("1"))
	second, _ := Encode([]byte("bb"), []byte("22"))

	// Cut the second record at every possible point.
	for cut := 1; cut < len(second); cut++ {
		buf := append(append([]byte(nil), full...), second[:cut]...)

		records, err := Decode(buf)
		if !errors.Is(err, ErrTruncated) {
			t.Fatalf("cut %d: got %v, want ErrTruncated", cut, err)
		}
		if len(records) != 1 || string(records[0].Key) != "a" {
			t.Fatalf("cut %d: expected the complete prefix record, got %v", cut, records)
		}

		var ce *CodecError
		if !errors.As(err, &ce) || ce.Offset != len(full) {
			t.Errorf("cut %d: expected offset %d, got %v", cut, len(full), err)
		}
	}
}

func TestDecode_InvalidTextInStream(t *testing.T) {
	good, _ := Encode([]byte("k"), []byte("v"))
	bad := []byte{1, 0xff, 1, 'v'}

	records, err := Decode(append(good, bad...))
	if !errors.Is(err, ErrInvalidText) {
		t.Fatalf("got %v, want ErrInvalidText", err)
	}
	if len(records) != 1 {
		t.Errorf("expected 1 record before the bad one, got %d", len(records))
	}
}

func TestDecodeOne(t *testing.T) {
	one, _ := Encode([]byte("key"), []byte("value"))

	rec, err := DecodeOne(one)
	if err != nil {
		t.Fatalf("DecodeOne failed: %v", err)
	}
	if string(rec.Key) != "key" || string(rec.Value) != "value" {
		t.Errorf("got %q=%q", rec.Key, rec.Value)
	}

	if _, err := DecodeOne(append(one, 0)); !errors.Is(err, ErrTrailingBytes) {
		t.Errorf("trailing byte: got %v, want ErrTrailingBytes", err)
	}
	if _, err := DecodeOne(one[:len(one)-1]); !errors.Is(err, ErrTruncated) {
		t.Errorf("short buffer: got %v, want ErrTruncated", err)
	}
	if _, err := DecodeOne(nil); !errors.Is(err, ErrEmpty) {
		t.Errorf("empty buffer: got %v, want ErrEmpty", err)
	}
}

func TestDecode_CopiesFields(t *testing.T) {
	buf, _ := Encode([]byte("k"), []byte("v"))
	rec, err := DecodeOne(buf)
	if err != nil {
		t.Fatalf("DecodeOne failed: %v", err)
	}

	buf[1] = 'z'
	if string(rec.Key) != "k" {
		t.Error("decoded key aliases the input buffer")
	}
}

func TestCodecProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	// 63 runes of at most 4 bytes each always fit the one-byte prefix.
	fieldGen := gen.AnyString().Map(func(s string) string {
		if r := []rune(s); len(r) > 63 {
			return string(r[:63])
		}
		return s
	})

	properties.Property("decode(encode(k, v)) == [(k, v)]", prop.ForAll(
		func(k, v string) bool {
			enc, err := Encode([]byte(k), []byte(v))
			if err != nil {
				return false
			}
			records, err := Decode(enc)
			if err != nil || len(records) != 1 {
				return false
			}
			return string(records[0].Key) == k && string(records[0].Value) == v
		},
		fieldGen,
		fieldGen,
	))

	properties.Property("stream of N records decodes to N records in order", prop.ForAll(
		func(keys []string) bool {
			var buf []byte
			for i, k := range keys {
				var err error
				buf, err = AppendEncoded(buf, []byte(k), []byte(keys[len(keys)-1-i]))
				if err != nil {
					return false
				}
			}
			records, err := Decode(buf)
			if err != nil || len(records) != len(keys) {
				return false
			}
			for i, k := range keys {
				if string(records[i].Key) != k || string(records[i].Value) != keys[len(keys)-1-i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AlphaString().Map(func(s string) string {
			if len(s) > MaxFieldLen {
				return s[:MaxFieldLen]
			}
			return s
		})),
	))

	properties.Property("re-encoding decoded records reproduces the stream", prop.ForAll(
		func(k, v string) bool {
			enc, err := Encode([]byte(k), []byte(v))
			if err != nil {
				return false
			}
			rec, err := DecodeOne(enc)
			if err != nil {
				return false
			}
			again, err := Encode(rec.Key, rec.Value)
			return err == nil && bytes.Equal(enc, again)
		},
		fieldGen,
		fieldGen,
	))

	properties.TestingRun(t)
}
