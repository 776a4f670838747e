package invites_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/zephyrtronium/warden/invites"
)

type lister struct {
	inv []invites.Invite
	err error
}

func (l *lister) Invites(ctx context.Context, guild string) ([]invites.Invite, error) {
	return l.inv, l.err
}

func TestFindInviter(t *testing.T) {
	ctx := context.Background()
	src := &lister{inv: []invites.Invite{
		{Code: "aaa", Uses: 3, Inviter: "A"},
		{Code: "bbb", Uses: 0, Inviter: "B"},
	}}
	tr := invites.NewTracker(src)
	// Before caching, nothing can be attributed.
	if got, err := tr.FindInviter(ctx, "G"); got != "" || err != nil {
		t.Errorf("uncached guild: want empty, got %q, %v", got, err)
	}
	if err := tr.Cache(ctx, "G"); err != nil {
		t.Fatal(err)
	}
	steps := []struct {
		name string
		inv  []invites.Invite
		want string
	}{
		{
			name: "used",
			inv:  []invites.Invite{{Code: "aaa", Uses: 3, Inviter: "A"}, {Code: "bbb", Uses: 1, Inviter: "B"}},
			want: "B",
		},
		{
			name: "unchanged",
			inv:  []invites.Invite{{Code: "aaa", Uses: 3, Inviter: "A"}, {Code: "bbb", Uses: 1, Inviter: "B"}},
			want: "",
		},
		{
			name: "new",
			inv:  []invites.Invite{{Code: "aaa", Uses: 3, Inviter: "A"}, {Code: "bbb", Uses: 1, Inviter: "B"}, {Code: "ccc", Uses: 1, Inviter: "C"}},
			want: "C",
		},
		{
			name: "first",
			inv:  []invites.Invite{{Code: "aaa", Uses: 4, Inviter: "A"}, {Code: "bbb", Uses: 2, Inviter: "B"}, {Code: "ccc", Uses: 1, Inviter: "C"}},
			want: "A",
		},
		{
			name: "expired",
			inv:  []invites.Invite{{Code: "ccc", Uses: 1, Inviter: "C"}},
			want: "",
		},
	}
	for _, s := range steps {
		src.inv = s.inv
		got, err := tr.FindInviter(ctx, "G")
		if err != nil {
			t.Errorf("%s: %v", s.name, err)
		}
		if got != s.want {
			t.Errorf("%s: wrong inviter: want %q, got %q", s.name, s.want, got)
		}
	}
}

func TestFindInviterError(t *testing.T) {
	ctx := context.Background()
	src := &lister{inv: []invites.Invite{{Code: "aaa", Uses: 0, Inviter: "A"}}}
	tr := invites.NewTracker(src)
	if err := tr.Cache(ctx, "G"); err != nil {
		t.Fatal(err)
	}
	src.err = errors.New("missing access")
	if _, err := tr.FindInviter(ctx, "G"); err == nil {
		t.Errorf("no error from failed listing")
	}
	// The snapshot survives the failure.
	src.err = nil
	src.inv = []invites.Invite{{Code: "aaa", Uses: 1, Inviter: "A"}}
	if got, _ := tr.FindInviter(ctx, "G"); got != "A" {
		t.Errorf("wrong inviter after failure: want %q, got %q", "A", got)
	}
}

var dbCount atomic.Int64

func testDB(ctx context.Context) *sqlitex.Pool {
	k := dbCount.Add(1)
	pool, err := sqlitex.NewPool(fmt.Sprintf("file:test-invites-%d.db?mode=memory&cache=shared", k), sqlitex.PoolOptions{Flags: sqlite.OpenReadWrite | sqlite.OpenCreate | sqlite.OpenMemory | sqlite.OpenSharedCache | sqlite.OpenURI})
	if err != nil {
		panic(err)
	}
	if err := invites.Init(ctx, pool); err != nil {
		panic(err)
	}
	return pool
}

func TestLedger(t *testing.T) {
	ctx := context.Background()
	db := testDB(ctx)
	defer db.Close()
	l := invites.Open(db)
	joins := []struct {
		member, inviter string
		want            int
	}{
		{"m1", "A", 1},
		{"m2", "A", 2},
		{"m3", "B", 1},
		{"m4", "A", 3},
		{"m5", "C", 1},
	}
	for _, j := range joins {
		n, err := l.Join(ctx, "G", j.member, j.inviter)
		if err != nil {
			t.Fatalf("couldn't record join of %s: %v", j.member, err)
		}
		if n != j.want {
			t.Errorf("wrong count after %s joined: want %d, got %d", j.member, j.want, n)
		}
	}
	// Another guild is separate.
	if n, err := l.Join(ctx, "H", "m1", "B"); n != 1 || err != nil {
		t.Errorf("wrong count in other guild: want 1, got %d, %v", n, err)
	}

	lb, err := l.Leaderboard(ctx, "G", 2)
	if err != nil {
		t.Fatal(err)
	}
	want := []invites.Entry{{Inviter: "A", Count: 3}, {Inviter: "B", Count: 1}}
	if diff := cmp.Diff(want, lb); diff != "" {
		t.Errorf("wrong leaderboard (+got/-want):\n%s", diff)
	}

	inv, n, err := l.Leave(ctx, "G", "m2")
	if inv != "A" || n != 2 || err != nil {
		t.Errorf("wrong leave of m2: want A 2, got %q %d %v", inv, n, err)
	}
	inv, n, err = l.Leave(ctx, "G", "m3")
	if inv != "B" || n != 0 || err != nil {
		t.Errorf("wrong leave of m3: want B 0, got %q %d %v", inv, n, err)
	}
	inv, n, err = l.Leave(ctx, "G", "m3")
	if inv != "" || n != 0 || err != nil {
		t.Errorf("wrong second leave of m3: want empty, got %q %d %v", inv, n, err)
	}
	inv, _, err = l.Leave(ctx, "G", "stranger")
	if inv != "" || err != nil {
		t.Errorf("wrong leave of unattributed member: want empty, got %q %v", inv, err)
	}

	lb, err = l.Leaderboard(ctx, "G", 10)
	if err != nil {
		t.Fatal(err)
	}
	want = []invites.Entry{{Inviter: "A", Count: 2}, {Inviter: "C", Count: 1}}
	if diff := cmp.Diff(want, lb); diff != "" {
		t.Errorf("wrong leaderboard after leaves (+got/-want):\n%s", diff)
	}
}

func TestLedgerRejoin(t *testing.T) {
	ctx := context.Background()
	db := testDB(ctx)
	defer db.Close()
	l := invites.Open(db)
	if _, err := l.Join(ctx, "G", "m1", "A"); err != nil {
		t.Fatal(err)
	}
	// The member's departure was missed, and they came back through B.
	if n, err := l.Join(ctx, "G", "m1", "B"); n != 1 || err != nil {
		t.Errorf("wrong count on rejoin: want 1, got %d %v", n, err)
	}
	lb, err := l.Leaderboard(ctx, "G", 10)
	if err != nil {
		t.Fatal(err)
	}
	want := []invites.Entry{{Inviter: "B", Count: 1}}
	if diff := cmp.Diff(want, lb); diff != "" {
		t.Errorf("wrong leaderboard (+got/-want):\n%s", diff)
	}
}
