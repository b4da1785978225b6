package sequence

// Iterator reads events of a sorted sequence in consecutive windows of
// time measured in seconds. Reading from an unsorted sequence gives
// undefined results.
type Iterator struct {
	s     *Sequence
	time  float64
	index int
}

// NewIterator returns an iterator positioned at the start of the sequence.
func (s *Sequence) NewIterator() *Iterator {
	return &Iterator{s: s}
}

// SetTime moves the iterator to provided time. After seek the next window
// starts with the first event at or after t.
func (it *Iterator) SetTime(t float64) {
	entries := it.s.entries
	for it.index > 0 && entries[it.index-1].Timestamp >= t {
		it.index--
	}
	for it.index < len(entries) && entries[it.index].Timestamp < t {
		it.index++
	}
	it.time = t
}

// Time returns current time of the iterator.
func (it *Iterator) Time() float64 {
	return it.time
}

// ReadNextEvents returns events with timestamps in [Time(), Time()+d) and
// advances the iterator to the end of this window. Returned slice shares
// storage with the sequence.
func (it *Iterator) ReadNextEvents(d float64) []Entry {
	entries := it.s.entries
	start := it.index
	end := start
	it.time += d
	for end < len(entries) && entries[end].Timestamp < it.time {
		end++
	}
	it.index = end
	return entries[start:end]
}

// SampleIterator reads events of a sorted sequence in consecutive windows
// measured in samples. Event timestamps are converted with the sample rate
// provided to the iterator.
type SampleIterator struct {
	s          *Sequence
	sampleRate float64
	time       int64
	index      int
}

// NewSampleIterator returns a sample iterator positioned at the start of
// the sequence.
func (s *Sequence) NewSampleIterator(sampleRate float64) *SampleIterator {
	return &SampleIterator{s: s, sampleRate: sampleRate}
}

// SetTime moves the iterator to provided sample position.
func (it *SampleIterator) SetTime(t int64) {
	entries := it.s.entries
	pos := float64(t)
	for it.index > 0 && entries[it.index-1].Timestamp*it.sampleRate >= pos {
		it.index--
	}
	for it.index < len(entries) && entries[it.index].Timestamp*it.sampleRate < pos {
		it.index++
	}
	it.time = t
}

// Time returns current position of the iterator in samples.
func (it *SampleIterator) Time() int64 {
	return it.time
}

// SampleRate returns the sample rate used to convert timestamps.
func (it *SampleIterator) SampleRate() float64 {
	return it.sampleRate
}

// ReadNextEvents returns events within [Time(), Time()+frames) samples
// and advances the iterator to the end of this window. Returned slice
// shares storage with the sequence.
func (it *SampleIterator) ReadNextEvents(frames int) []Entry {
	entries := it.s.entries
	start := it.index
	end := start
	it.time += int64(frames)
	pos := float64(it.time)
	for end < len(entries) && entries[end].Timestamp*it.sampleRate < pos {
		end++
	}
	it.index = end
	return entries[start:end]
}
