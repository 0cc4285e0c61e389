package region

import "sync"

// writingRanges is the "ranges-being-written" registry spec §4.1/§4.3
// reference: the write-batch/apply path (out of scope, spec §1)
// registers a range for the duration of an apply; Delete-Range consults
// it before physically erasing anything, so erasure never races a
// concurrent insert into the same keys (spec §5 "Delete-Range never
// runs concurrently with a write to the same key range").
type writingRanges struct {
	mu     sync.Mutex
	active []KeyRange
}

func newWritingRanges() writingRanges { return writingRanges{} }

func (w *writingRanges) register(rng KeyRange) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.active = append(w.active, rng)
}

// unregister removes one matching registration. If a range was
// registered more than once (nested applies to overlapping batches),
// only the first match is removed, consistent with a register/
// unregister pair per apply call.
func (w *writingRanges) unregister(rng KeyRange) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, r := range w.active {
		if string(r.Start) == string(rng.Start) && endEqual(r.End, rng.End) {
			w.active = append(w.active[:i], w.active[i+1:]...)
			return
		}
	}
}

func endEqual(a, b []byte) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return string(a) == string(b)
}

func (w *writingRanges) overlaps(rng KeyRange) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, r := range w.active {
		if r.Overlaps(rng) {
			return true
		}
	}
	return false
}
