package autoclear

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/time/rate"
)

type source map[string]Config

func (s source) All(ctx context.Context) (map[string]Config, error) {
	return s, nil
}

// channel is a fake channel. Message IDs increase with time.
type channel struct {
	msgs   []Message // oldest first
	manage bool
}

type platform struct {
	mu       sync.Mutex
	channels map[string]*channel
	bulks    [][]string
	singles  []string
	// If block is not nil, reading history sends on entered and then
	// receives from block.
	block    chan struct{}
	entered  chan struct{}
}

func (p *platform) CanManage(ctx context.Context, ch string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.channels[ch]
	if c == nil {
		return false, errors.New("unknown channel")
	}
	return c.manage, nil
}

func (p *platform) History(ctx context.Context, ch, before string) ([]Message, error) {
	if p.block != nil {
		p.entered <- struct{}{}
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.channels[ch]
	var r []Message
	for i := len(c.msgs) - 1; i >= 0 && len(r) < PageSize; i-- {
		m := c.msgs[i]
		if before != "" && !older(m.ID, before) {
			continue
		}
		r = append(r, m)
	}
	return r, nil
}

func older(a, b string) bool {
	x, _ := strconv.Atoi(a)
	y, _ := strconv.Atoi(b)
	return x < y
}

func (p *platform) BulkDelete(ctx context.Context, ch string, ids []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(ids) < 2 || len(ids) > PageSize {
		return fmt.Errorf("bad bulk delete of %d messages", len(ids))
	}
	p.bulks = append(p.bulks, slices.Clone(ids))
	p.remove(ch, ids...)
	return nil
}

func (p *platform) Delete(ctx context.Context, ch, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.singles = append(p.singles, id)
	p.remove(ch, id)
	return nil
}

func (p *platform) remove(ch string, ids ...string) {
	c := p.channels[ch]
	c.msgs = slices.DeleteFunc(c.msgs, func(m Message) bool { return slices.Contains(ids, m.ID) })
}

var epoch = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

// history creates messages at the given ages, oldest first.
func history(ages ...time.Duration) []Message {
	r := make([]Message, len(ages))
	for i, a := range ages {
		r[i] = Message{ID: strconv.Itoa(i + 1), Time: epoch.Add(-a)}
	}
	return r
}

func newSweeper(src Source, p Platform) *Sweeper {
	s := New(src, p, rate.NewLimiter(rate.Inf, 1), nil)
	s.clock = func() time.Time { return epoch }
	return s
}

func TestSweep(t *testing.T) {
	p := &platform{channels: map[string]*channel{
		"C1": {manage: true, msgs: history(20*time.Minute, 10*time.Minute, 6*time.Minute, 4*time.Minute, time.Minute)},
		"C2": {manage: false, msgs: history(time.Hour)},
		"C3": {manage: true, msgs: history(time.Hour, time.Second)},
	}}
	src := source{
		"G": {Channels: []string{"C1", "C2"}, Delay: 300},
		"H": {Channels: []string{"C3"}, Delay: 60},
	}
	s := newSweeper(src, p)
	n, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Errorf("wrong number deleted: want 4, got %d", n)
	}
	if diff := cmp.Diff([][]string{{"3", "2", "1"}}, p.bulks); diff != "" {
		t.Errorf("wrong bulk deletions (+got/-want):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"1"}, p.singles); diff != "" {
		t.Errorf("wrong single deletions (+got/-want):\n%s", diff)
	}
	if diff := cmp.Diff(history(20*time.Minute, 10*time.Minute, 6*time.Minute, 4*time.Minute, time.Minute)[3:], p.channels["C1"].msgs); diff != "" {
		t.Errorf("wrong remaining messages in C1 (+got/-want):\n%s", diff)
	}
	if len(p.channels["C2"].msgs) != 1 {
		t.Errorf("cleared channel without permission")
	}
}

func TestSweepBatches(t *testing.T) {
	ages := make([]time.Duration, 250)
	for i := range ages {
		ages[i] = time.Duration(500-i) * time.Minute
	}
	p := &platform{channels: map[string]*channel{"C": {manage: true, msgs: history(ages...)}}}
	s := newSweeper(source{"G": {Channels: []string{"C"}, Delay: 300}}, p)
	n, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 250 {
		t.Errorf("wrong number deleted: want 250, got %d", n)
	}
	var sizes []int
	for _, b := range p.bulks {
		sizes = append(sizes, len(b))
	}
	if diff := cmp.Diff([]int{100, 100, 50}, sizes); diff != "" {
		t.Errorf("wrong batch sizes (+got/-want):\n%s", diff)
	}
	if len(p.channels["C"].msgs) != 0 {
		t.Errorf("%d messages left", len(p.channels["C"].msgs))
	}
}

func TestSweepAncient(t *testing.T) {
	// Messages too old for bulk deletion go one at a time.
	p := &platform{channels: map[string]*channel{"C": {manage: true, msgs: history(30*24*time.Hour, 20*24*time.Hour, time.Hour, 30*time.Minute)}}}
	s := newSweeper(source{"G": {Channels: []string{"C"}, Delay: 300}}, p)
	if _, err := s.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([][]string{{"4", "3"}}, p.bulks); diff != "" {
		t.Errorf("wrong bulk deletions (+got/-want):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"2", "1"}, p.singles); diff != "" {
		t.Errorf("wrong single deletions (+got/-want):\n%s", diff)
	}
}

func TestSweepExclusive(t *testing.T) {
	p := &platform{
		channels: map[string]*channel{"C": {manage: true, msgs: history(time.Hour, time.Hour)}},
		block:    make(chan struct{}),
		entered:  make(chan struct{}),
	}
	s := newSweeper(source{"G": {Channels: []string{"C"}, Delay: 300}}, p)
	done := make(chan int)
	go func() {
		n, _ := s.Sweep(context.Background())
		done <- n
	}()
	<-p.entered
	if n, err := s.Sweep(context.Background()); n != 0 || err != nil {
		t.Errorf("concurrent sweep did something: %d, %v", n, err)
	}
	close(p.block)
	if n := <-done; n != 2 {
		t.Errorf("wrong number deleted by first sweep: want 2, got %d", n)
	}
}
