package modlog

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// History is a Recorder in an SQLite database.
type History struct {
	db *sqlitex.Pool
}

var _ Recorder = (*History)(nil)

//go:embed schema.sql
var schemaSQL string

// Init initializes an SQLite DB to record moderation history.
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
		return fmt.Errorf("couldn't initialize moderation history schema: %w", err)
	}
	return nil
}

// OpenHistory opens moderation history in an initialized SQL database.
func OpenHistory(db *sqlitex.Pool) *History {
	return &History{db: db}
}

// Record records a moderation entry.
func (h *History) Record(ctx context.Context, e *Entry) error {
	conn, err := h.db.Take(ctx)
	defer h.db.Put(conn)
	if err != nil {
		return fmt.Errorf("couldn't get conn to record moderation: %w", err)
	}
	const insert = `INSERT INTO modlog (guild, kind, user, moderator, channel, reason, count, time) VALUES (:guild, :kind, :user, :moderator, :channel, :reason, :count, :time)`
	st, err := conn.Prepare(insert)
	if err != nil {
		return fmt.Errorf("couldn't prepare statement to record moderation: %w", err)
	}
	st.SetText(":guild", e.Guild)
	st.SetText(":kind", string(e.Kind))
	st.SetText(":user", e.User)
	st.SetText(":moderator", e.Moderator)
	st.SetText(":channel", e.Channel)
	st.SetText(":reason", e.Reason)
	st.SetInt64(":count", int64(e.Count))
	st.SetInt64(":time", e.Time.UnixNano())
	if _, err := st.Step(); err != nil {
		return fmt.Errorf("couldn't insert moderation entry: %w", err)
	}
	return nil
}

// Recent returns up to n of the most recent moderation entries concerning a
// user in a guild, newest first.
func (h *History) Recent(ctx context.Context, guild, user string, n int) ([]Entry, error) {
	conn, err := h.db.Take(ctx)
	defer h.db.Put(conn)
	if err != nil {
		return nil, fmt.Errorf("couldn't get conn to read moderation history: %w", err)
	}
	var r []Entry
	opts := sqlitex.ExecOptions{
		Named: map[string]any{
			":guild": guild,
			":user":  user,
			":n":     n,
		},
		ResultFunc: func(st *sqlite.Stmt) error {
			r = append(r, Entry{
				Guild:     guild,
				User:      user,
				Kind:      Kind(st.ColumnText(0)),
				Moderator: st.ColumnText(1),
				Channel:   st.ColumnText(2),
				Reason:    st.ColumnText(3),
				Count:     st.ColumnInt(4),
				Time:      time.Unix(0, st.ColumnInt64(5)),
			})
			return nil
		},
	}
	const sel = `SELECT kind, moderator, channel, reason, count, time FROM modlog WHERE guild=:guild AND user=:user ORDER BY time DESC LIMIT :n`
	if err := sqlitex.Execute(conn, sel, &opts); err != nil {
		return nil, fmt.Errorf("couldn't read moderation history: %w", err)
	}
	return r, nil
}
