package wal

import "github.com/dd0wney/cluso-kv/pkg/record"

// Appender is the interface for appending records to a WAL.
// The MemTable depends on this rather than on the concrete log.
type Appender interface {
	// Append returns only after the record is durable.
	Append(rec record.Record) error
}

// Replayer is the interface for reading a WAL back at startup.
type Replayer interface {
	// Replay returns every complete record in append order.
	Replay() ([]record.Record, error)
}

// Manager is the interface for WAL lifecycle management.
type Manager interface {
	// Clear empties the log. Only call it once every record is durable
	// somewhere else.
	Clear() error
	Sync() error
	Close() error
	// Size returns the number of valid bytes in the log.
	Size() int64
}

// WriteAheadLog is the complete interface for a Write-Ahead Log implementation.
type WriteAheadLog interface {
	Appender
	Replayer
	Manager
}

var _ WriteAheadLog = (*WAL)(nil)
