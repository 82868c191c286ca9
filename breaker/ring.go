// breaker/ring.go
package breaker

import "time"

// floatRing is a fixed-capacity ring buffer of float64 samples with
// overwrite-oldest semantics. Not safe for concurrent use; its owner holds
// the appropriate lock.
type floatRing struct {
	buf  []float64
	next int
	full bool
}

func newFloatRing(capacity int) *floatRing {
	if capacity <= 0 {
		capacity = 1
	}
	return &floatRing{buf: make([]float64, capacity)}
}

func (r *floatRing) Push(v float64) {
	r.buf[r.next] = v
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

func (r *floatRing) Len() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// Values returns the samples oldest-first.
func (r *floatRing) Values() []float64 {
	n := r.Len()
	out := make([]float64, 0, n)
	if r.full {
		out = append(out, r.buf[r.next:]...)
	}
	out = append(out, r.buf[:r.next]...)
	return out
}

func (r *floatRing) Avg() float64 {
	n := r.Len()
	if n == 0 {
		return 0
	}
	var sum float64
	for _, v := range r.Values() {
		sum += v
	}
	return sum / float64(n)
}

// latencyRing records trigger-handling durations as milliseconds.
type latencyRing struct {
	ring *floatRing
}

func newLatencyRing(capacity int) *latencyRing {
	return &latencyRing{ring: newFloatRing(capacity)}
}

func (l *latencyRing) Record(d time.Duration) {
	l.ring.Push(float64(d) / float64(time.Millisecond))
}

func (l *latencyRing) AvgMs() float64 {
	return l.ring.Avg()
}

func (l *latencyRing) ValuesMs() []float64 {
	return l.ring.Values()
}
