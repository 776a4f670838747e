package presence_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/zephyrtronium/warden/presence"
)

type setter struct {
	mu  sync.Mutex
	got []string
	err error
}

func (s *setter) SetStatus(ctx context.Context, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, status)
	return s.err
}

func (s *setter) statuses() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.got...)
}

func TestStep(t *testing.T) {
	ctx := context.Background()
	s := new(setter)
	r := presence.New(s, []string{"a", "b", "c"})
	for range 7 {
		r.Step(ctx)
	}
	want := []string{"a", "b", "c", "a", "b", "c", "a"}
	if diff := cmp.Diff(want, s.statuses()); diff != "" {
		t.Errorf("wrong statuses (+got/-want):\n%s", diff)
	}
}

func TestStepFailure(t *testing.T) {
	ctx := context.Background()
	s := &setter{err: errors.New("disconnected")}
	r := presence.New(s, []string{"a", "b"})
	if got := r.Step(ctx); got != "a" {
		t.Errorf("wrong first status: want a, got %q", got)
	}
	// Failures still advance.
	if got := r.Step(ctx); got != "b" {
		t.Errorf("wrong second status: want b, got %q", got)
	}
}

func TestRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := new(setter)
	r := presence.New(s, []string{"a", "b"})
	done := make(chan error)
	go func() { done <- r.Run(ctx, time.Millisecond) }()
	deadline := time.Now().Add(5 * time.Second)
	for len(s.statuses()) < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("run failed: %v", err)
	}
	got := s.statuses()
	if len(got) < 3 {
		t.Fatalf("too few statuses: %q", got)
	}
	for i, v := range got {
		if want := []string{"a", "b"}[i%2]; v != want {
			t.Errorf("wrong status %d: want %q, got %q", i, want, v)
		}
	}
}

func TestRunEmpty(t *testing.T) {
	s := new(setter)
	if err := presence.New(s, nil).Run(context.Background(), time.Millisecond); err != nil {
		t.Errorf("run failed: %v", err)
	}
	if got := s.statuses(); len(got) != 0 {
		t.Errorf("statuses set with none configured: %q", got)
	}
}
