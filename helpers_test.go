package topviews

import (
	"testing"
	"time"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("TV_NAME", "docs")
	t.Setenv("TV_N", "7")
	t.Setenv("TV_BAD_N", "seven")
	t.Setenv("TV_SECURE", "true")
	t.Setenv("TV_EVERY", "90s")

	if got := EnvOr("TV_NAME", "x"); got != "docs" {
		t.Errorf("EnvOr = %q, want docs", got)
	}
	if got := EnvOr("TV_UNSET", "fallback"); got != "fallback" {
		t.Errorf("EnvOr unset = %q, want fallback", got)
	}
	if _, err := RequireEnv("TV_UNSET"); err == nil {
		t.Error("RequireEnv on unset variable should fail")
	}
	if n, err := EnvInt("TV_N", 1); err != nil || n != 7 {
		t.Errorf("EnvInt = %d, %v; want 7", n, err)
	}
	if n, err := EnvInt("TV_UNSET", 3); err != nil || n != 3 {
		t.Errorf("EnvInt unset = %d, %v; want 3", n, err)
	}
	if _, err := EnvInt("TV_BAD_N", 1); err == nil {
		t.Error("EnvInt on a non-number should fail")
	}
	if b, err := EnvBool("TV_SECURE", false); err != nil || !b {
		t.Errorf("EnvBool = %v, %v; want true", b, err)
	}
	if d, err := EnvDuration("TV_EVERY", time.Minute); err != nil || d != 90*time.Second {
		t.Errorf("EnvDuration = %v, %v; want 1m30s", d, err)
	}
}
