package logging

import (
	"time"
)

// Common field constructors
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

func Uint64(key string, value uint64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Storage-specific helpers

func Component(name string) Field {
	return String("component", name)
}

func Key(key []byte) Field {
	return String("key", string(key))
}

func SegmentID(id uint64) Field {
	return Uint64("segment_id", id)
}

func SegmentLevel(level int) Field {
	return Int("level", level)
}

func ConnID(id string) Field {
	return String("conn_id", id)
}

func Command(name string) Field {
	return String("command", name)
}

func Latency(d time.Duration) Field {
	return Duration("latency", d)
}

func Count(n int) Field {
	return Int("count", n)
}

func Path(p string) Field {
	return String("path", p)
}

func Offset(off int64) Field {
	return Int64("offset", off)
}
