package metrics

import (
	"sort"
	"time"
)

type Sample struct {
	Value float64
	Time  time.Time
}

// SampleBuffer is a fixed capacity ring of timestamped samples. Appending
// beyond capacity evicts the oldest sample. It is not safe for concurrent
// use, callers are expected to hold their own lock.
type SampleBuffer struct {
	samples []Sample
	next    int
	size    int
}

func NewSampleBuffer(capacity int) *SampleBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &SampleBuffer{
		samples: make([]Sample, capacity),
	}
}

func (b *SampleBuffer) Append(value float64, t time.Time) {
	b.samples[b.next] = Sample{Value: value, Time: t}
	b.next = (b.next + 1) % len(b.samples)
	if b.size < len(b.samples) {
		b.size++
	}
}

func (b *SampleBuffer) Len() int {
	return b.size
}

// Values returns a copy of the buffered values, oldest first.
func (b *SampleBuffer) Values() []float64 {
	values := make([]float64, 0, b.size)
	start := b.next - b.size
	if start < 0 {
		start += len(b.samples)
	}
	for i := 0; i < b.size; i++ {
		values = append(values, b.samples[(start+i)%len(b.samples)].Value)
	}
	return values
}

// CountSince returns the number of samples recorded at or after cutoff.
func (b *SampleBuffer) CountSince(cutoff time.Time) int {
	count := 0
	start := b.next - b.size
	if start < 0 {
		start += len(b.samples)
	}
	for i := 0; i < b.size; i++ {
		if !b.samples[(start+i)%len(b.samples)].Time.Before(cutoff) {
			count++
		}
	}
	return count
}

// Percentile returns the nearest rank percentile of ascending sorted values,
// with the index floor(q * n). No interpolation is performed, so for any
// q1 <= q2 the result is monotonically non decreasing.
func Percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(q * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func SortAscending(values []float64) []float64 {
	sort.Float64s(values)
	return values
}

func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func Min(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	min := values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
	}
	return min
}

func Max(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	max := values[0]
	for _, v := range values[1:] {
		if v > max {
			max = v
		}
	}
	return max
}
