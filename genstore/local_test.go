package genstore

import (
	"context"
	"testing"
	"time"
)

func TestLocalBumpAndSnapshot(t *testing.T) {
	ctx := context.Background()
	s := NewLocalGenStore(0, 0)
	t.Cleanup(func() { _ = s.Close(ctx) })

	if g, _ := s.Snapshot(ctx, "slot:ns:profile"); g != 0 {
		t.Fatalf("missing key should read 0, got %d", g)
	}
	if g, _ := s.Bump(ctx, "slot:ns:profile"); g != 1 {
		t.Fatalf("first bump: got %d want 1", g)
	}
	if g, _ := s.Bump(ctx, "slot:ns:profile"); g != 2 {
		t.Fatalf("second bump: got %d want 2", g)
	}
	if g, _ := s.Snapshot(ctx, "slot:ns:profile"); g != 2 {
		t.Fatalf("snapshot: got %d want 2", g)
	}
}

func TestLocalBumpManyTouchesEveryKey(t *testing.T) {
	ctx := context.Background()
	s := NewLocalGenStore(0, 0)
	t.Cleanup(func() { _ = s.Close(ctx) })

	_, _ = s.Bump(ctx, "b")
	if err := s.BumpMany(ctx, []string{"a", "b", "c"}); err != nil {
		t.Fatal(err)
	}
	want := map[string]uint64{"a": 1, "b": 2, "c": 1, "d": 0}
	for k, w := range want {
		if g, _ := s.Snapshot(ctx, k); g != w {
			t.Fatalf("%s: got %d want %d", k, g, w)
		}
	}
}

func TestLocalCleanupPrunesOld(t *testing.T) {
	ctx := context.Background()
	s := NewLocalGenStore(0, time.Second)
	t.Cleanup(func() { _ = s.Close(ctx) })

	if _, err := s.Bump(ctx, "old"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(1200 * time.Millisecond)
	if _, err := s.Bump(ctx, "recent"); err != nil {
		t.Fatal(err)
	}
	s.Cleanup(time.Second)

	if g, _ := s.Snapshot(ctx, "old"); g != 0 {
		t.Fatalf("expected pruned -> 0, got %d", g)
	}
	if g, _ := s.Snapshot(ctx, "recent"); g != 1 {
		t.Fatalf("recent entry pruned: got %d", g)
	}
}

func TestLocalCloseIdempotent(t *testing.T) {
	s := NewLocalGenStore(time.Millisecond, time.Hour)
	if err := s.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
