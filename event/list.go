package event

import (
	"cmp"
	"slices"
)

// DefaultListSize is the default capacity of event lists.
const DefaultListSize = 512

// List is a bounded buffer of events. Its storage is reserved once and
// never grows, so it can be filled and sorted on the audio goroutine.
type List struct {
	events []Event
}

// NewList returns a list that holds up to capacity events.
func NewList(capacity int) *List {
	if capacity <= 0 {
		capacity = DefaultListSize
	}
	return &List{events: make([]Event, 0, capacity)}
}

// TryPush copies the event into the list. It returns false if the list is
// full.
func (l *List) TryPush(e Event) bool {
	if len(l.events) == cap(l.events) {
		return false
	}
	l.events = append(l.events, e)
	return true
}

// Len returns the number of events in the list.
func (l *List) Len() int {
	return len(l.events)
}

// Cap returns maximum number of events the list can hold.
func (l *List) Cap() int {
	return cap(l.events)
}

// At returns the event at index i.
func (l *List) At(i int) Event {
	return l.events[i]
}

// Last returns the most recently pushed event.
func (l *List) Last() (Event, bool) {
	if len(l.events) == 0 {
		return Event{}, false
	}
	return l.events[len(l.events)-1], true
}

// Events returns the events of the list. The slice is only valid until the
// list is modified.
func (l *List) Events() []Event {
	return l.events
}

// Clear removes all events, storage is kept.
func (l *List) Clear() {
	l.events = l.events[:0]
}

// Sort orders events by time. Events with equal time keep the order they
// were pushed in.
func (l *List) Sort() {
	slices.SortStableFunc(l.events, compareTime)
}

func compareTime(a, b Event) int {
	return cmp.Compare(a.Time, b.Time)
}
