package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("AUDIOHOOK_TEST_STR", "value")
	if got := GetEnv("AUDIOHOOK_TEST_STR", "fallback"); got != "value" {
		t.Errorf("GetEnv = %q, want value", got)
	}
	if got := GetEnv("AUDIOHOOK_TEST_UNSET", "fallback"); got != "fallback" {
		t.Errorf("GetEnv unset = %q, want fallback", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("AUDIOHOOK_TEST_INT", "42")
	t.Setenv("AUDIOHOOK_TEST_BAD_INT", "forty-two")
	if got := GetEnvInt("AUDIOHOOK_TEST_INT", 1); got != 42 {
		t.Errorf("GetEnvInt = %d, want 42", got)
	}
	if got := GetEnvInt("AUDIOHOOK_TEST_BAD_INT", 7); got != 7 {
		t.Errorf("GetEnvInt invalid = %d, want fallback 7", got)
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"90s", 90 * time.Second},
		{"2m", 2 * time.Minute},
		{"15", 15 * time.Second},
		{"-5s", time.Minute},
		{"soon", time.Minute},
		{"", time.Minute},
	}
	for _, tt := range tests {
		t.Setenv("AUDIOHOOK_TEST_DURATION", tt.value)
		if got := GetEnvDuration("AUDIOHOOK_TEST_DURATION", time.Minute); got != tt.want {
			t.Errorf("GetEnvDuration(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("AUDIOHOOK_TEST_BOOL", "true")
	if !GetEnvBool("AUDIOHOOK_TEST_BOOL", false) {
		t.Error("GetEnvBool = false, want true")
	}
	t.Setenv("AUDIOHOOK_TEST_BOOL", "maybe")
	if GetEnvBool("AUDIOHOOK_TEST_BOOL", false) {
		t.Error("GetEnvBool invalid should return fallback")
	}
}

func TestLoad_reads_env_file(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("AUDIOHOOK_TEST_DOTENV=from-file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("AUDIOHOOK_TEST_DOTENV") })

	if err := Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := GetEnv("AUDIOHOOK_TEST_DOTENV", ""); got != "from-file" {
		t.Errorf("GetEnv after Load = %q, want from-file", got)
	}
}

func TestLoad_missing_file(t *testing.T) {
	if err := Load(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Error("expected error for missing env file")
	}
}
