package validation

import (
	"strings"
	"testing"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name    string
		key     []byte
		wantErr bool
	}{
		{"empty key", []byte{}, false},
		{"simple key", []byte("foo"), false},
		{"max length", []byte(strings.Repeat("k", MaxKeyLength)), false},
		{"too long", []byte(strings.Repeat("k", MaxKeyLength+1)), true},
		{"invalid utf8", []byte{0xff, 0xfe}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateKey() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !strings.HasPrefix(err.Error(), "key:") {
				t.Errorf("Expected error to name the key, got: %v", err)
			}
		})
	}
}

func TestValidateValue(t *testing.T) {
	if err := ValidateValue([]byte("mizu")); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if err := ValidateValue([]byte(strings.Repeat("v", MaxValueLength+1))); err == nil {
		t.Error("Expected error for oversized value")
	}
	if err := ValidateValue([]byte{0xc3}); err == nil {
		t.Error("Expected error for truncated UTF-8 sequence")
	}
}

func TestValidateArity(t *testing.T) {
	tests := []struct {
		name     string
		args     int
		min, max int
		wantErr  bool
	}{
		{"exact", 2, 2, 2, false},
		{"too few", 1, 2, 2, true},
		{"too many", 4, 3, 3, true},
		{"optional argument", 1, 1, 2, false},
		{"unbounded", 9, 1, -1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateArity("GET", tt.args, tt.min, tt.max)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateArity() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !strings.Contains(err.Error(), "'get'") {
				t.Errorf("Expected lowercase command name in error, got: %v", err)
			}
		})
	}
}

type listenerSettings struct {
	Addr     string `validate:"required,hostname_port"`
	Level    string `validate:"loglevel"`
	Backlog  int    `validate:"min=1"`
	MaxConns int    `validate:"max=100"`
}

func TestValidateStruct(t *testing.T) {
	tests := []struct {
		name     string
		settings listenerSettings
		errText  string
	}{
		{"valid", listenerSettings{Addr: "localhost:6379", Level: "INFO", Backlog: 1}, ""},
		{"missing address", listenerSettings{Level: "info", Backlog: 1}, "Addr: field is required"},
		{"bad address", listenerSettings{Addr: "nope", Level: "info", Backlog: 1}, "Addr: must be a host:port address"},
		{"bad level", listenerSettings{Addr: ":1", Level: "trace", Backlog: 1}, "Level: must be one of"},
		{"below min", listenerSettings{Addr: ":1", Level: "info"}, "Backlog: must be at least 1"},
		{"above max", listenerSettings{Addr: ":1", Level: "info", Backlog: 1, MaxConns: 101}, "MaxConns: must not exceed 100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(&tt.settings)
			if tt.errText == "" {
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errText) {
				t.Errorf("Expected error containing %q, got: %v", tt.errText, err)
			}
		})
	}
}

func TestValidateStruct_Nil(t *testing.T) {
	if err := ValidateStruct(nil); err == nil {
		t.Error("Expected error for nil value")
	}
}
