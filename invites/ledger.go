package invites

import (
	"context"
	_ "embed"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Ledger counts the members each user has invited to each guild.
type Ledger struct {
	db *sqlitex.Pool
}

// Entry is an inviter's line on a leaderboard.
type Entry struct {
	Inviter string
	Count   int
}

//go:embed schema.sql
var schemaSQL string

// Init initializes an SQLite DB to record invites.
// For convenience, it accepts either a single connection or a pool.
func Init[DB *sqlite.Conn | *sqlitex.Pool](ctx context.Context, db DB) error {
	var conn *sqlite.Conn
	switch db := any(db).(type) {
	case *sqlite.Conn:
		conn = db
	case *sqlitex.Pool:
		var err error
		conn, err = db.Take(ctx)
		defer db.Put(conn)
		if err != nil {
			return fmt.Errorf("couldn't get connection from pool: %w", err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, schemaSQL, nil); err != nil {
		return fmt.Errorf("couldn't initialize invites schema: %w", err)
	}
	return nil
}

// Open opens an invite ledger in an initialized SQL database.
func Open(db *sqlitex.Pool) *Ledger {
	return &Ledger{db: db}
}

// Join records that inviter invited member to guild and returns the
// inviter's new count. If the member was already recorded, e.g. because
// their departure was missed, the previous inviter loses them first.
func (l *Ledger) Join(ctx context.Context, guild, member, inviter string) (count int, err error) {
	conn, err := l.db.Take(ctx)
	defer l.db.Put(conn)
	if err != nil {
		return 0, fmt.Errorf("couldn't get connection to record join: %w", err)
	}
	defer sqlitex.Transaction(conn)(&err)
	if _, _, err := leave(conn, guild, member); err != nil {
		return 0, err
	}
	opts := sqlitex.ExecOptions{
		Named: map[string]any{
			":guild":   guild,
			":member":  member,
			":inviter": inviter,
		},
	}
	if err := sqlitex.Execute(conn, `INSERT INTO invited (guild, member, inviter) VALUES (:guild, :member, :inviter)`, &opts); err != nil {
		return 0, fmt.Errorf("couldn't record invited member: %w", err)
	}
	opts.Named = map[string]any{
		":guild":   guild,
		":inviter": inviter,
	}
	opts.ResultFunc = func(st *sqlite.Stmt) error {
		count = st.ColumnInt(0)
		return nil
	}
	const upsert = `INSERT INTO invite_counts (guild, inviter, count) VALUES (:guild, :inviter, 1)
		ON CONFLICT (guild, inviter) DO UPDATE SET count = count + 1
		RETURNING count`
	if err := sqlitex.Execute(conn, upsert, &opts); err != nil {
		return 0, fmt.Errorf("couldn't count invite: %w", err)
	}
	return count, nil
}

// Leave removes a member from guild's records and returns who invited them
// and that inviter's remaining count. The inviter is empty if the member's
// arrival was not attributed.
func (l *Ledger) Leave(ctx context.Context, guild, member string) (inviter string, count int, err error) {
	conn, err := l.db.Take(ctx)
	defer l.db.Put(conn)
	if err != nil {
		return "", 0, fmt.Errorf("couldn't get connection to record leave: %w", err)
	}
	defer sqlitex.Transaction(conn)(&err)
	return leave(conn, guild, member)
}

func leave(conn *sqlite.Conn, guild, member string) (inviter string, count int, err error) {
	st, err := conn.Prepare(`SELECT inviter FROM invited WHERE guild=:guild AND member=:member`)
	if err != nil {
		return "", 0, fmt.Errorf("couldn't prepare statement to find inviter: %w", err)
	}
	st.SetText(":guild", guild)
	st.SetText(":member", member)
	ok, err := st.Step()
	if err != nil {
		return "", 0, fmt.Errorf("couldn't find inviter: %w", err)
	}
	if !ok {
		return "", 0, nil
	}
	inviter = st.ColumnText(0)
	// Clean up the statement.
	st.Step()

	opts := sqlitex.ExecOptions{
		Named: map[string]any{
			":guild":  guild,
			":member": member,
		},
	}
	if err := sqlitex.Execute(conn, `DELETE FROM invited WHERE guild=:guild AND member=:member`, &opts); err != nil {
		return "", 0, fmt.Errorf("couldn't remove invited member: %w", err)
	}
	opts.Named = map[string]any{
		":guild":   guild,
		":inviter": inviter,
	}
	opts.ResultFunc = func(st *sqlite.Stmt) error {
		count = max(st.ColumnInt(0), 0)
		return nil
	}
	if err := sqlitex.Execute(conn, `UPDATE invite_counts SET count = count - 1 WHERE guild=:guild AND inviter=:inviter RETURNING count`, &opts); err != nil {
		return "", 0, fmt.Errorf("couldn't uncount invite: %w", err)
	}
	opts.ResultFunc = nil
	if err := sqlitex.Execute(conn, `DELETE FROM invite_counts WHERE guild=:guild AND inviter=:inviter AND count <= 0`, &opts); err != nil {
		return "", 0, fmt.Errorf("couldn't remove empty invite count: %w", err)
	}
	return inviter, count, nil
}

// Leaderboard returns up to n of a guild's inviters with the most invites,
// most first. Ties are ordered by inviter ID.
func (l *Ledger) Leaderboard(ctx context.Context, guild string, n int) ([]Entry, error) {
	conn, err := l.db.Take(ctx)
	defer l.db.Put(conn)
	if err != nil {
		return nil, fmt.Errorf("couldn't get connection for leaderboard: %w", err)
	}
	var r []Entry
	opts := sqlitex.ExecOptions{
		Named: map[string]any{
			":guild": guild,
			":n":     n,
		},
		ResultFunc: func(st *sqlite.Stmt) error {
			r = append(r, Entry{Inviter: st.ColumnText(0), Count: st.ColumnInt(1)})
			return nil
		},
	}
	const sel = `SELECT inviter, count FROM invite_counts WHERE guild=:guild ORDER BY count DESC, inviter LIMIT :n`
	if err := sqlitex.Execute(conn, sel, &opts); err != nil {
		return nil, fmt.Errorf("couldn't read leaderboard: %w", err)
	}
	return r, nil
}
