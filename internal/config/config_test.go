package config

import (
	"testing"
	"time"
)

func TestGetenv(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		value    string
		def      string
		expected string
	}{
		{
			name:     "variable set",
			key:      "TEST_VAR",
			value:    "test_value",
			def:      "default",
			expected: "test_value",
		},
		{
			name:     "variable not set",
			key:      "TEST_VAR_MISSING",
			def:      "default",
			expected: "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				t.Setenv(tt.key, tt.value)
			}
			if got := getenv(tt.key, tt.def); got != tt.expected {
				t.Errorf("getenv() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestGetenvInt(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected int
	}{
		{name: "valid integer", value: "42", expected: 42},
		{name: "invalid integer falls back", value: "not_a_number", expected: 7},
		{name: "missing falls back", value: "", expected: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				t.Setenv("TEST_INT", tt.value)
			}
			if got := getenvInt("TEST_INT", 7); got != tt.expected {
				t.Errorf("getenvInt() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestMustDuration(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected time.Duration
	}{
		{name: "valid duration", value: "90s", expected: 90 * time.Second},
		{name: "invalid duration falls back", value: "ninety", expected: 5 * time.Second},
		{name: "missing falls back", value: "", expected: 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value != "" {
				t.Setenv("TEST_DURATION", tt.value)
			}
			if got := mustDuration("TEST_DURATION", 5*time.Second); got != tt.expected {
				t.Errorf("mustDuration() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestMustBool(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		def      bool
		expected bool
	}{
		{name: "true", value: "true", def: false, expected: true},
		{name: "false", value: "false", def: true, expected: false},
		{name: "invalid falls back", value: "maybe", def: true, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_BOOL", tt.value)
			if got := mustBool("TEST_BOOL", tt.def); got != tt.expected {
				t.Errorf("mustBool() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestSplitAndTrim(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "empty", input: "", expected: nil},
		{name: "single", input: "10.0.0.0/8", expected: []string{"10.0.0.0/8"}},
		{
			name:     "spaces and quotes",
			input:    ` "10.0.0.0/8" , '192.168.1.1' ,, grid.example.org `,
			expected: []string{"10.0.0.0/8", "192.168.1.1", "grid.example.org"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitAndTrim(tt.input)
			if len(got) != len(tt.expected) {
				t.Fatalf("splitAndTrim() = %v, want %v", got, tt.expected)
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("splitAndTrim()[%d] = %q, want %q", i, got[i], tt.expected[i])
				}
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.ListenPort != ":8080" {
		t.Errorf("ListenPort = %q, want :8080", cfg.ListenPort)
	}
	if cfg.FetchTimeout != 10*time.Second {
		t.Errorf("FetchTimeout = %v, want 10s", cfg.FetchTimeout)
	}
	if cfg.RevalidateInterval != 24*time.Hour {
		t.Errorf("RevalidateInterval = %v, want 24h", cfg.RevalidateInterval)
	}
	if cfg.RedisAddr != "" {
		t.Errorf("RedisAddr = %q, want disabled by default", cfg.RedisAddr)
	}
}
