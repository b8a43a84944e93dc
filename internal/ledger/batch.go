package ledger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-microbatch"
	bolt "go.etcd.io/bbolt"

	"github.com/pfin/nova-mcp/internal/metrics"
)

var bucketName = []byte("events")

// pendingAppend is one job submitted to the append batcher: the caller
// supplies everything but Seq, which the batch processor assigns while
// holding the single bbolt write transaction for the whole batch.
type pendingAppend struct {
	event Event
	seq   uint64
}

// appendBatcher groups concurrent Append calls into one bbolt write
// transaction (and therefore one fsync), via github.com/joeycumines/go-microbatch.
type appendBatcher struct {
	batcher *microbatch.Batcher[*pendingAppend]
	seq     atomic.Uint64
}

func newAppendBatcher(l *Ledger) *appendBatcher {
	ab := &appendBatcher{}
	ab.seq.Store(l.seqCounter)

	cfg := &microbatch.BatcherConfig{
		MaxSize:        64,
		FlushInterval:  5 * time.Millisecond,
		MaxConcurrency: 1,
	}
	ab.batcher = microbatch.NewBatcher[*pendingAppend](cfg, func(ctx context.Context, jobs []*pendingAppend) error {
		timer := metrics.NewTimer()
		defer timer.ObserveDuration(metrics.LedgerAppendDuration)
		err := l.db.Update(func(tx *bolt.Tx) error {
			b := tx.Bucket(bucketName)
			for _, job := range jobs {
				job.seq = ab.seq.Add(1)
				job.event.Seq = job.seq

				buf, err := json.Marshal(job.event)
				if err != nil {
					return fmt.Errorf("ledger: marshal event: %w", err)
				}
				if err := b.Put(seqKey(job.seq), buf); err != nil {
					return fmt.Errorf("ledger: put event: %w", err)
				}
			}
			if l.retentionCap > 0 {
				if err := compact(b, l.retentionCap); err != nil {
					return err
				}
			}
			return nil
		})
		if err == nil {
			metrics.LedgerAppends.Add(float64(len(jobs)))
		}
		return err
	})
	return ab
}

func (ab *appendBatcher) submit(ctx context.Context, job *pendingAppend) (*microbatch.JobResult[*pendingAppend], error) {
	return ab.batcher.Submit(ctx, job)
}

func (ab *appendBatcher) currentSeq() uint64 {
	return ab.seq.Load()
}

func (ab *appendBatcher) close() {
	_ = ab.batcher.Shutdown(context.Background())
}

// compact enforces retentionCap by deleting the oldest entries once the
// bucket exceeds it. This runs inside the same write transaction as the
// append batch that triggered it.
func compact(b *bolt.Bucket, retentionCap int) error {
	n := b.Stats().KeyN
	over := n - retentionCap
	if over <= 0 {
		return nil
	}
	c := b.Cursor()
	k, _ := c.First()
	for i := 0; i < over && k != nil; i++ {
		if err := b.Delete(k); err != nil {
			return err
		}
		k, _ = c.Next()
	}
	return nil
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
