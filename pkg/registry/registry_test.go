package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/wheelhouse-dev/wheelhouse/pkg/automation"
)

type stubSession struct{ automation.Session }

func TestRegisterReturnsDisplacedEntry(t *testing.T) {
	r := New()
	first, prev := r.Register("w1", &stubSession{}, automation.SessionRequest{}, nil)
	if prev != nil {
		t.Fatal("no previous entry expected on first register")
	}

	second, prev := r.Register("w1", &stubSession{}, automation.SessionRequest{}, nil)
	if prev != first {
		t.Fatal("expected first entry to be displaced")
	}
	if got, _ := r.Get("w1"); got != second {
		t.Fatal("registry should hold the latest entry")
	}
	if r.Len() != 1 {
		t.Fatalf("one entry per requester, got %d", r.Len())
	}
}

func TestRemoveEntryOnlyRemovesMatching(t *testing.T) {
	r := New()
	stale, _ := r.Register("w1", &stubSession{}, automation.SessionRequest{}, nil)
	replacement, _ := r.Register("w1", &stubSession{}, automation.SessionRequest{}, nil)

	if r.RemoveEntry("w1", stale) {
		t.Fatal("stale entry must not remove its replacement")
	}
	if got, ok := r.Get("w1"); !ok || got != replacement {
		t.Fatal("replacement should survive a stale removal")
	}
	if !r.RemoveEntry("w1", replacement) {
		t.Fatal("matching removal should succeed")
	}
	if _, ok := r.Get("w1"); ok {
		t.Fatal("entry should be gone")
	}
}

func TestRemoveMissingIsNil(t *testing.T) {
	r := New()
	if entry := r.Remove("ghost"); entry != nil {
		t.Fatalf("expected nil for missing requester, got %+v", entry)
	}
}

func TestCancelSignalsInitContext(t *testing.T) {
	r := New()
	ctx, cancel := context.WithCancel(context.Background())
	entry, _ := r.Register("w1", &stubSession{}, automation.SessionRequest{}, cancel)

	entry.Cancel()
	select {
	case <-ctx.Done():
	default:
		t.Fatal("Cancel should have signalled the init context")
	}

	// Cancel on an entry without a cancel func must not panic.
	bare, _ := r.Register("w2", &stubSession{}, automation.SessionRequest{}, nil)
	bare.Cancel()
}

func TestConcurrentRegisterKeepsOneEntry(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Register("w1", &stubSession{}, automation.SessionRequest{}, nil)
		}()
	}
	wg.Wait()
	if r.Len() != 1 {
		t.Fatalf("invariant violated: %d entries for one requester", r.Len())
	}
}
