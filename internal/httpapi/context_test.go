package httpapi

import (
	"context"
	"testing"
	"time"
)

func TestSetBaseContext_NilResetsToBackground(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	SetBaseContext(ctx)
	// nolint:staticcheck // SA1012: intentionally passes nil to verify fallback
	SetBaseContext(nil)
	if serverBaseCtx != context.Background() {
		t.Fatalf("base context not reset")
	}
}

func TestJoinContexts_CancelsWhenEitherDone(t *testing.T) {
	a, ac := context.WithCancel(context.Background())
	b, bc := context.WithCancel(context.Background())
	defer bc()
	j, cancelJ := joinContexts(a, b)
	defer cancelJ()
	ac()
	select {
	case <-j.Done():
	case <-time.After(500 * time.Millisecond):
		t.Fatal("joined context did not cancel when first parent canceled")
	}

	a2, ac2 := context.WithCancel(context.Background())
	defer ac2()
	b2, bc2 := context.WithCancel(context.Background())
	j2, cancelJ2 := joinContexts(a2, b2)
	defer cancelJ2()
	bc2()
	select {
	case <-j2.Done():
	case <-time.After(500 * time.Millisecond):
		t.Fatal("joined context did not cancel when second parent canceled")
	}
}
