// Package ledger is the append-only, durably persisted record of every
// lifecycle event the supervisor produces, with strictly increasing,
// contiguous sequence numbers and at-least-once fan-out to subscribers.
package ledger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/pfin/nova-mcp/internal/logging"
)

// Ledger is a single bbolt-backed append-only event log.
type Ledger struct {
	db           *bolt.DB
	log          *logging.Logger
	seqCounter   uint64
	batcher      *appendBatcher
	retentionCap int

	subs *subscribers
}

// Open opens (creating if absent) the bbolt database at path and recovers
// the sequence counter from its highest existing key.
func Open(path string, retentionCap int, log *logging.Logger) (*Ledger, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}

	var last uint64
	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName)
		if err != nil {
			return err
		}
		if k, _ := b.Cursor().Last(); k != nil {
			last = binary.BigEndian.Uint64(k)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ledger: init bucket: %w", err)
	}

	l := &Ledger{
		db:           db,
		log:          log,
		seqCounter:   last,
		retentionCap: retentionCap,
		subs:         newSubscribers(),
	}
	l.batcher = newAppendBatcher(l)
	return l, nil
}

// Append durably writes evt, assigning it the next sequence number, and
// fans it out to all live subscribers. Concurrent Append calls are batched
// into a single bbolt write transaction.
func (l *Ledger) Append(ctx context.Context, evt Event) (uint64, error) {
	evt.Timestamp = timeNow()
	job := &pendingAppend{event: evt}
	result, err := l.batcher.submit(ctx, job)
	if err != nil {
		return 0, fmt.Errorf("ledger: submit: %w", err)
	}
	if err := result.Wait(ctx); err != nil {
		return 0, fmt.Errorf("ledger: append: %w", err)
	}
	l.subs.publish(job.event)
	return job.seq, nil
}

// Since returns every retained event with Seq > fromSeq, in order. Used for
// catch-up after a subscriber's live channel has fallen behind or a process
// restart.
func (l *Ledger) Since(fromSeq uint64) ([]Event, error) {
	var out []Event
	err := l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		c := b.Cursor()
		for k, v := c.Seek(seqKey(fromSeq + 1)); k != nil; k, v = c.Next() {
			var evt Event
			if err := json.Unmarshal(v, &evt); err != nil {
				return fmt.Errorf("ledger: unmarshal seq %d: %w", binary.BigEndian.Uint64(k), err)
			}
			out = append(out, evt)
		}
		return nil
	})
	return out, err
}

// LastSeq returns the highest sequence number appended so far.
func (l *Ledger) LastSeq() uint64 {
	return l.batcher.currentSeq()
}

// Subscribe registers a live subscriber and returns its delivery channel
// plus an unregister function. Delivery is at-least-once: if the channel's
// buffer fills, the subscriber is expected to fall back to Since for
// catch-up using the last Seq it actually processed.
func (l *Ledger) Subscribe() (<-chan Event, func()) {
	return l.subs.subscribe()
}

// Close flushes pending batched appends and closes the underlying store.
func (l *Ledger) Close() error {
	l.batcher.close()
	l.subs.closeAll()
	return l.db.Close()
}

var timeNow = time.Now
