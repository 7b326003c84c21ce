package config

import "testing"

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("TEST_STR_SET", "value")

	if got := getEnvOrDefault("TEST_STR_SET", "fallback"); got != "value" {
		t.Errorf("expected set value, got %q", got)
	}
	if got := getEnvOrDefault("TEST_STR_UNSET", "fallback"); got != "fallback" {
		t.Errorf("expected fallback, got %q", got)
	}
}

func TestGetEnvAsIntOrDefault(t *testing.T) {
	t.Setenv("TEST_INT_SET", "7")
	t.Setenv("TEST_INT_BAD", "not-a-number")

	if got := getEnvAsIntOrDefault("TEST_INT_SET", 3); got != 7 {
		t.Errorf("expected 7, got %d", got)
	}
	if got := getEnvAsIntOrDefault("TEST_INT_UNSET", 3); got != 3 {
		t.Errorf("expected default 3, got %d", got)
	}
	if got := getEnvAsIntOrDefault("TEST_INT_BAD", 3); got != 3 {
		t.Errorf("expected default 3 for unparseable value, got %d", got)
	}
}

func TestMustGetEnvPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for missing required variable")
		}
	}()
	mustGetEnv("TEST_DEFINITELY_UNSET_VAR")
}
