package task

import "sync"

// outputBuffer accumulates an execution's byte stream, retaining only the
// most recent recentCap bytes in memory (older bytes remain retrievable
// from the Ledger) while tracking the lifetime total, which the Supervisor
// checks against cfg.OutputCap.
type outputBuffer struct {
	mu        sync.Mutex
	data      []byte
	recentCap int64
	total     int64
}

func newOutputBuffer(recentCap int64) *outputBuffer {
	if recentCap <= 0 {
		recentCap = 2 << 20
	}
	return &outputBuffer{recentCap: recentCap}
}

// Append adds b to the buffer, evicting the oldest bytes beyond recentCap,
// and returns the new lifetime total.
func (o *outputBuffer) Append(b []byte) int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.total += int64(len(b))
	o.data = append(o.data, b...)
	if int64(len(o.data)) > o.recentCap {
		o.data = o.data[int64(len(o.data))-o.recentCap:]
	}
	return o.total
}

// Total returns the lifetime byte count observed, including evicted bytes.
func (o *outputBuffer) Total() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.total
}

// Tail returns the last n lines of the retained buffer, or the whole
// retained buffer if n <= 0.
func (o *outputBuffer) Tail(n int) []byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	if n <= 0 {
		out := make([]byte, len(o.data))
		copy(out, o.data)
		return out
	}
	lines := 0
	for i := len(o.data) - 1; i >= 0; i-- {
		if o.data[i] == '\n' {
			lines++
			if lines > n {
				out := make([]byte, len(o.data)-i-1)
				copy(out, o.data[i+1:])
				return out
			}
		}
	}
	out := make([]byte, len(o.data))
	copy(out, o.data)
	return out
}
