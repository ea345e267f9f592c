package config

import (
	"testing"
	"time"
)

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("TEST_TIMEOUT_SECS", "45")
	if got := getEnvDuration("TEST_TIMEOUT_SECS", 30*time.Second); got != 45*time.Second {
		t.Errorf("got %v, want 45s", got)
	}
	if got := getEnvDuration("TEST_TIMEOUT_MISSING", 30*time.Second); got != 30*time.Second {
		t.Errorf("got %v, want fallback 30s", got)
	}

	t.Setenv("TEST_TIMEOUT_BAD", "not-a-number")
	if got := getEnvDuration("TEST_TIMEOUT_BAD", 30*time.Second); got != 30*time.Second {
		t.Errorf("got %v, want fallback on parse failure", got)
	}
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("TEST_LIST", "rest, metrics ,,extra")
	got := getEnvList("TEST_LIST", []string{"fallback"})
	want := []string{"rest", "metrics", "extra"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}

	if got := getEnvList("TEST_LIST_MISSING", []string{"fallback"}); len(got) != 1 || got[0] != "fallback" {
		t.Errorf("got %v, want fallback", got)
	}
}

func TestGetEnvFloat(t *testing.T) {
	t.Setenv("TEST_RATIO", "0.66")
	if got := getEnvFloat("TEST_RATIO", 0.5); got != 0.66 {
		t.Errorf("got %v, want 0.66", got)
	}
	if got := getEnvFloat("TEST_RATIO_MISSING", 0.5); got != 0.5 {
		t.Errorf("got %v, want fallback 0.5", got)
	}
}
