package xrayctl

import (
	"os"
	"testing"
)

func TestEnvStr(t *testing.T) {
	key := "XRAYCTL_ENV_STR"
	os.Unsetenv(key)
	if got := envStr(key, "def"); got != "def" {
		t.Fatalf("envStr default: got %q", got)
	}
	os.Setenv(key, "val")
	t.Cleanup(func() { os.Unsetenv(key) })
	if got := envStr(key, "def"); got != "val" {
		t.Fatalf("envStr set: got %q", got)
	}
}

func TestSetLogLevel(t *testing.T) {
	t.Cleanup(func() { SetLogLevel("info") })

	SetLogLevel("debug")
	if currentLevel != levelDebug {
		t.Fatalf("debug -> %v", currentLevel)
	}
	SetLogLevel("warning")
	if currentLevel != levelWarn {
		t.Fatalf("warning -> %v", currentLevel)
	}
	SetLogLevel("err")
	if currentLevel != levelError {
		t.Fatalf("err -> %v", currentLevel)
	}
	SetLogLevel("nonsense")
	if currentLevel != levelInfo {
		t.Fatalf("nonsense should fall back to info, got %v", currentLevel)
	}
}
