package voice

import (
	"bytes"
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// Ledger persists tracked channels across restarts.
type Ledger interface {
	// Put records a channel, replacing any previous record with its ID.
	Put(ctx context.Context, ch Channel) error
	// Delete removes the record of a channel. Deleting a channel which is not
	// recorded is not an error.
	Delete(ctx context.Context, id string) error
	// All returns all recorded channels.
	All(ctx context.Context) ([]Channel, error)
}

type nopLedger struct{}

func (nopLedger) Put(context.Context, Channel) error     { return nil }
func (nopLedger) Delete(context.Context, string) error   { return nil }
func (nopLedger) All(context.Context) ([]Channel, error) { return nil, nil }

/*
Key structure:
"voice\xff" × channel ID
Value structure:
guild ID × \xff × owner ID

IDs are decimal snowflakes, so \xff never appears within them.
*/

var keyPrefix = []byte("voice\xff")

// KV is a Ledger in a Badger database.
type KV struct {
	db *badger.DB
}

var _ Ledger = (*KV)(nil)

// NewKV creates a ledger in a Badger database.
func NewKV(db *badger.DB) *KV {
	return &KV{db: db}
}

func kvkey(id string) []byte {
	return append(bytes.Clone(keyPrefix), id...)
}

func (l *KV) Put(ctx context.Context, ch Channel) error {
	v := make([]byte, 0, len(ch.Guild)+1+len(ch.Owner))
	v = append(v, ch.Guild...)
	v = append(v, 0xff)
	v = append(v, ch.Owner...)
	err := l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(kvkey(ch.ID), v)
	})
	if err != nil {
		return fmt.Errorf("couldn't record channel %s: %w", ch.ID, err)
	}
	return nil
}

func (l *KV) Delete(ctx context.Context, id string) error {
	err := l.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(kvkey(id))
	})
	if err != nil {
		return fmt.Errorf("couldn't delete channel %s: %w", id, err)
	}
	return nil
}

func (l *KV) All(ctx context.Context) ([]Channel, error) {
	var r []Channel
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = keyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			id := string(bytes.TrimPrefix(item.Key(), keyPrefix))
			err := item.Value(func(val []byte) error {
				guild, owner, ok := bytes.Cut(val, []byte{0xff})
				if !ok {
					return fmt.Errorf("malformed record for channel %s", id)
				}
				r = append(r, Channel{ID: id, Guild: string(guild), Owner: string(owner)})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("couldn't read channels: %w", err)
	}
	return r, nil
}
