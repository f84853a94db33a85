package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestKey(t *testing.T) {
	content := []byte("image-bytes")

	k1 := Key(content, "gradcam")
	k2 := Key(content, "gradcam")
	if k1 != k2 {
		t.Errorf("same content and method produced different keys: %q vs %q", k1, k2)
	}
	if !strings.HasPrefix(k1, "chest_xray:") {
		t.Errorf("key %q missing namespace prefix", k1)
	}
	if !strings.HasSuffix(k1, ":gradcam") {
		t.Errorf("key %q missing method segment", k1)
	}

	if Key(content, "scorecam") == k1 {
		t.Error("different methods must produce different keys")
	}
	if Key([]byte("other-bytes"), "gradcam") == k1 {
		t.Error("different content must produce different keys")
	}
}

func TestMemoryRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, ok := m.Get(ctx, "absent"); ok {
		t.Error("empty cache reported a hit")
	}

	m.Set(ctx, "k", []byte("payload"), time.Minute)
	got, ok := m.Get(ctx, "k")
	if !ok || string(got) != "payload" {
		t.Fatalf("Get = %q/%v, expected payload hit", got, ok)
	}
}

func TestMemoryExpiry(t *testing.T) {
	m := NewMemory()
	now := time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	m.Set(ctx, "k", []byte("v"), 10*time.Minute)
	if _, ok := m.Get(ctx, "k"); !ok {
		t.Fatal("entry missing before expiry")
	}

	now = now.Add(11 * time.Minute)
	if _, ok := m.Get(ctx, "k"); ok {
		t.Error("entry survived past its ttl")
	}
	if m.Len() != 0 {
		t.Errorf("expired entry not collected, Len = %d", m.Len())
	}
}

func TestMemorySetCopiesPayload(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	payload := []byte("original")
	m.Set(ctx, "k", payload, time.Minute)
	payload[0] = 'X'

	got, ok := m.Get(ctx, "k")
	if !ok || string(got) != "original" {
		t.Errorf("cached payload mutated by caller: %q", got)
	}
}

func TestMemoryDefaultTTL(t *testing.T) {
	m := NewMemory()
	now := time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	m.Set(ctx, "k", []byte("v"), 0)
	now = now.Add(DefaultPredictionTTL - time.Second)
	if _, ok := m.Get(ctx, "k"); !ok {
		t.Error("entry with default ttl expired early")
	}
	now = now.Add(2 * time.Second)
	if _, ok := m.Get(ctx, "k"); ok {
		t.Error("entry outlived the default ttl")
	}
}

func TestRedisDegradesWhenUnavailable(t *testing.T) {
	ctx := context.Background()
	log := zerolog.Nop()

	t.Run("Bad URL", func(t *testing.T) {
		r := NewRedis(ctx, "not a url", log)
		if r.Enabled() {
			t.Error("cache should be disabled for an unparseable url")
		}
		if _, ok := r.Get(ctx, "k"); ok {
			t.Error("disabled cache reported a hit")
		}
		r.Set(ctx, "k", []byte("v"), time.Minute)
		if _, ok := r.Get(ctx, "k"); ok {
			t.Error("disabled cache stored a value")
		}
	})

	t.Run("Unreachable server", func(t *testing.T) {
		r := NewRedis(ctx, "redis://127.0.0.1:0", log)
		if r.Enabled() {
			t.Error("cache should be disabled when the ping fails")
		}
		r.Set(ctx, "k", []byte("v"), time.Minute)
		if _, ok := r.Get(ctx, "k"); ok {
			t.Error("disabled cache reported a hit")
		}
		if err := r.Close(); err != nil {
			t.Errorf("Close on disabled cache: %v", err)
		}
	})
}
