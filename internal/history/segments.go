// Package history turns the raw state log into timeline segments and daily
// statistics.
package history

import (
	"math"
	"slices"
	"sort"
	"time"

	"sidekick/internal/model"
)

type Options struct {
	BucketWidth     time.Duration
	MaxEntryWeight  time.Duration
	LastEntryWeight time.Duration

	// FocusBlockMinMinutes is the shortest focused segment reported as a
	// focus block in daily stats.
	FocusBlockMinMinutes float64
}

func DefaultOptions() Options {
	return Options{
		BucketWidth:          5 * time.Minute,
		MaxEntryWeight:       30 * time.Second,
		LastEntryWeight:      5 * time.Second,
		FocusBlockMinMinutes: 5,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.BucketWidth <= 0 {
		o.BucketWidth = def.BucketWidth
	}
	if o.MaxEntryWeight <= 0 {
		o.MaxEntryWeight = def.MaxEntryWeight
	}
	if o.LastEntryWeight <= 0 {
		o.LastEntryWeight = def.LastEntryWeight
	}
	if o.FocusBlockMinMinutes <= 0 {
		o.FocusBlockMinMinutes = def.FocusBlockMinMinutes
	}
	return o
}

type bucket struct {
	start   float64
	order   []model.State
	weights map[model.State]float64
}

func (b *bucket) add(state model.State, w float64) {
	if _, ok := b.weights[state]; !ok {
		b.order = append(b.order, state)
	}
	b.weights[state] += w
}

// dominant picks the heaviest state; ties go to the state seen first.
func (b *bucket) dominant() model.State {
	best := b.order[0]
	for _, s := range b.order[1:] {
		if b.weights[s] > b.weights[best] {
			best = s
		}
	}
	return best
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func fromUnixSeconds(sec float64) time.Time {
	return time.Unix(0, int64(math.Round(sec*float64(time.Second)))).UTC()
}

// BuildSegments weights each entry by the time until the next entry, votes
// a dominant state per fixed-width bucket and merges adjacent buckets that
// agree. Buckets without entries leave gaps.
func BuildSegments(entries []model.StateLogEntry, opts Options) []model.Segment {
	segments := make([]model.Segment, 0)
	if len(entries) == 0 {
		return segments
	}
	opts = opts.withDefaults()

	sorted := slices.Clone(entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	size := opts.BucketWidth.Seconds()
	maxWeight := opts.MaxEntryWeight.Seconds()
	buckets := make(map[float64]*bucket)
	keys := make([]float64, 0)

	for i, e := range sorted {
		ts := unixSeconds(e.Timestamp)
		weight := opts.LastEntryWeight.Seconds()
		if i+1 < len(sorted) {
			weight = math.Min(unixSeconds(sorted[i+1].Timestamp)-ts, maxWeight)
		}
		key := math.Floor(ts/size) * size
		b, ok := buckets[key]
		if !ok {
			b = &bucket{start: key, weights: make(map[model.State]float64)}
			buckets[key] = b
			keys = append(keys, key)
		}
		b.add(e.State, weight)
	}
	sort.Float64s(keys)

	var openEnd float64
	for _, key := range keys {
		b := buckets[key]
		state := b.dominant()
		end := key + size
		if n := len(segments); n > 0 && segments[n-1].State == state && openEnd == key {
			last := &segments[n-1]
			last.EndTime = fromUnixSeconds(end)
			last.DurationMin = last.EndTime.Sub(last.StartTime).Minutes()
			for s, w := range b.weights {
				last.Breakdown[s] += w
			}
			openEnd = end
			continue
		}
		breakdown := make(map[model.State]float64, len(b.weights))
		for s, w := range b.weights {
			breakdown[s] = w
		}
		segments = append(segments, model.Segment{
			State:       state,
			StartTime:   fromUnixSeconds(key),
			EndTime:     fromUnixSeconds(end),
			DurationMin: size / 60,
			Breakdown:   breakdown,
		})
		openEnd = end
	}
	return segments
}

// ExtractFocusBlocks keeps focused segments lasting at least minMinutes.
func ExtractFocusBlocks(segments []model.Segment, minMinutes float64, loc *time.Location) []model.FocusBlock {
	if loc == nil {
		loc = time.Local
	}
	blocks := make([]model.FocusBlock, 0)
	for _, seg := range segments {
		if seg.State != model.StateFocused || seg.DurationMin < minMinutes {
			continue
		}
		blocks = append(blocks, model.FocusBlock{
			Start:       seg.StartTime.In(loc).Format("15:04"),
			End:         seg.EndTime.In(loc).Format("15:04"),
			DurationMin: int(math.RoundToEven(seg.DurationMin)),
		})
	}
	return blocks
}
