package deque_test

import (
	"slices"
	"testing"

	"github.com/zephyrtronium/warden/deque"
)

func TestDeque(t *testing.T) {
	cases := []struct {
		name   string
		append []int
		drop   int
		more   []int
		want   []int
	}{
		{
			name: "empty",
			want: nil,
		},
		{
			name:   "append",
			append: []int{1, 2},
			want:   []int{1, 2},
		},
		{
			name:   "drop",
			append: []int{1, 2, 3},
			drop:   2,
			want:   []int{3},
		},
		{
			name:   "drop-all",
			append: []int{1, 2},
			drop:   2,
			want:   nil,
		},
		{
			name:   "reuse",
			append: []int{1, 2, 3, 4},
			drop:   3,
			more:   []int{5, 6, 7, 8, 9},
			want:   []int{4, 5, 6, 7, 8, 9},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			var d deque.Deque[int]
			invariants := func() {
				if d.Len() != len(d.Slice()) {
					t.Errorf("lens disagree: d.Len gave %d, len(d.Slice) gave %d", d.Len(), len(d.Slice()))
				}
			}
			invariants()
			d = d.Append(c.append...)
			invariants()
			n := 0
			d = d.DropFrontWhile(func(int) bool { n++; return n <= c.drop })
			invariants()
			d = d.Append(c.more...)
			invariants()
			if !slices.Equal(d.Slice(), c.want) {
				t.Errorf("wrong result: want %v, got %v", c.want, d.Slice())
			}
		})
	}
}

func TestDropFrontWhile(t *testing.T) {
	cases := []struct {
		name  string
		start []bool
		want  []bool
	}{
		{
			name:  "empty",
			start: nil,
			want:  nil,
		},
		{
			name:  "none",
			start: []bool{false, false},
			want:  []bool{false, false},
		},
		{
			name:  "one",
			start: []bool{true, false},
			want:  []bool{false},
		},
		{
			name:  "end",
			start: []bool{false, true},
			want:  []bool{false, true},
		},
		{
			name:  "all",
			start: []bool{true, true},
			want:  nil,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			d := deque.Deque[bool]{}.Append(c.start...)
			d = d.DropFrontWhile(func(b bool) bool { return b })
			if !slices.Equal(d.Slice(), c.want) {
				t.Errorf("wrong result: want %v, got %v", c.want, d.Slice())
			}
		})
	}
}
