package workload

import (
	"slices"
	"time"
)

const maxSamples = 4096

// durations keeps count/sum/max over all samples and the most recent
// maxSamples values for percentiles.
type durations struct {
	n    int
	sum  time.Duration
	max  time.Duration
	ring []time.Duration
	next int
}

func (d *durations) add(v time.Duration) {
	d.n++
	d.sum += v
	d.max = max(d.max, v)
	if len(d.ring) < maxSamples {
		d.ring = append(d.ring, v)
		return
	}
	d.ring[d.next] = v
	d.next = (d.next + 1) % maxSamples
}

func (d *durations) mean() time.Duration {
	if d.n == 0 {
		return 0
	}
	return d.sum / time.Duration(d.n)
}

// percentile uses nearest-rank over the retained samples; p in [0,100].
func (d *durations) percentile(p float64) time.Duration {
	if len(d.ring) == 0 {
		return 0
	}
	sorted := slices.Clone(d.ring)
	slices.Sort(sorted)
	rank := int(p/100*float64(len(sorted))+0.5) - 1
	rank = min(max(rank, 0), len(sorted)-1)
	return sorted[rank]
}
