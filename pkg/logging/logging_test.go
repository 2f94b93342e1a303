package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{LogLevel(999), "UNKNOWN"},
	}

	for _, test := range tests {
		result := test.level.String()
		if result != test.expected {
			t.Errorf("LogLevel(%d).String() = %s, expected %s", test.level, result, test.expected)
		}
	}
}

func TestLogLevel_SlogLevel(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected slog.Level
	}{
		{LevelDebug, slog.LevelDebug},
		{LevelInfo, slog.LevelInfo},
		{LevelWarn, slog.LevelWarn},
		{LevelError, slog.LevelError},
		{LogLevel(999), slog.LevelInfo},
	}

	for _, test := range tests {
		if got := test.level.SlogLevel(); got != test.expected {
			t.Errorf("LogLevel(%d).SlogLevel() = %v, expected %v", test.level, got, test.expected)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{" error ", LevelError, false},
		{"verbose", LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestInit_FiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	Init(LevelWarn, &buf)
	defer Init(LevelInfo, nil)

	Info("Vault", "should not appear")
	Warn("Vault", "disk %s is slow", "sda")
	Error("Broker", errors.New("boom"), "refresh failed")

	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Errorf("info message leaked through warn filter: %s", out)
	}
	if !strings.Contains(out, "disk sda is slow") || !strings.Contains(out, "subsystem=Vault") {
		t.Errorf("expected formatted warn entry with subsystem, got: %s", out)
	}
	if !strings.Contains(out, "error=boom") {
		t.Errorf("expected error attribute, got: %s", out)
	}
}

func TestAudit(t *testing.T) {
	var buf bytes.Buffer
	Init(LevelInfo, &buf)
	defer Init(LevelInfo, nil)

	Audit("credential stored", "credential_stored", "provider", "anthropic")

	out := buf.String()
	if !strings.Contains(out, "SECURITY_AUDIT: credential stored") {
		t.Errorf("missing audit prefix: %s", out)
	}
	if !strings.Contains(out, "event=credential_stored") || !strings.Contains(out, "provider=anthropic") {
		t.Errorf("missing audit attributes: %s", out)
	}
}
