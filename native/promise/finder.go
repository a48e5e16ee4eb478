package promise

import "errors"

var errNilFinderState = errors.New("promise finder: state not configured")

type finderState interface {
	PromiseGet(id uint64) (*Promise, bool)
	JoinableBucket(creatorAsset, joinerAsset string, bucket int64) ([]uint64, error)
}

// Interval describes one populated time bucket of the joinable index.
type Interval struct {
	Start int64
	Count int
}

// Finder answers read-side range queries over joinable promises without
// scanning the full joinable list. It only reads the time-index
// maintained by the engine; the promise records stay authoritative.
type Finder struct {
	state finderState
}

// NewFinder creates a finder bound to the supplied state backend.
func NewFinder(state finderState) *Finder {
	return &Finder{state: state}
}

// JoinableIntervals returns the bucket start times between from and to
// (inclusive) together with the number of joinable promises per bucket.
// Empty buckets are skipped.
func (f *Finder) JoinableIntervals(creatorAsset, joinerAsset string, from, to int64) ([]Interval, error) {
	if f == nil || f.state == nil {
		return nil, errNilFinderState
	}
	normalizedCreator, err := NormalizeAsset(creatorAsset)
	if err != nil {
		return nil, err
	}
	normalizedJoiner, err := NormalizeAsset(joinerAsset)
	if err != nil {
		return nil, err
	}
	if to < from {
		return nil, nil
	}
	intervals := make([]Interval, 0)
	for bucket := bucketStart(from); bucket <= to; bucket += BucketSeconds {
		ids, err := f.state.JoinableBucket(normalizedCreator, normalizedJoiner, bucket)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			continue
		}
		intervals = append(intervals, Interval{Start: bucket, Count: len(ids)})
	}
	return intervals, nil
}

// JoinableIDs returns the joinable ids stored in the supplied buckets,
// capped at limit entries overall. A non-positive limit means no cap.
func (f *Finder) JoinableIDs(creatorAsset, joinerAsset string, buckets []int64, limit int) ([]uint64, error) {
	if f == nil || f.state == nil {
		return nil, errNilFinderState
	}
	normalizedCreator, err := NormalizeAsset(creatorAsset)
	if err != nil {
		return nil, err
	}
	normalizedJoiner, err := NormalizeAsset(joinerAsset)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, 0)
	for _, bucket := range buckets {
		ids, err := f.state.JoinableBucket(normalizedCreator, normalizedJoiner, bucketStart(bucket))
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
			out = append(out, id)
		}
	}
	return out, nil
}

// PromisesRaw resolves ids to promise records, skipping ids that no
// longer exist and capping the result at limit entries. A non-positive
// limit means no cap.
func (f *Finder) PromisesRaw(ids []uint64, limit int) ([]*Promise, error) {
	if f == nil || f.state == nil {
		return nil, errNilFinderState
	}
	out := make([]*Promise, 0, len(ids))
	for _, id := range ids {
		if limit > 0 && len(out) >= limit {
			break
		}
		p, ok := f.state.PromiseGet(id)
		if !ok {
			continue
		}
		out = append(out, p.Clone())
	}
	return out, nil
}
