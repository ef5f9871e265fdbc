package queue

import "sort"

// Order computes the serving sequence for a day's entries. It is a pure
// function of its input: the same entries always produce the same
// order. The sequence is never persisted, so emergency escalations take
// effect on the next listing without renumbering.
//
// Ordering key, highest precedence first:
//  1. emergency entries before non-emergency,
//  2. among emergency entries, higher priority first,
//  3. non-skipped entries before skipped ones,
//  4. queue number ascending (arrival order).
func Order(entries []Entry) []Entry {
	ordered := make([]Entry, len(entries))
	copy(ordered, entries)

	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := &ordered[i], &ordered[j]
		if a.Emergency != b.Emergency {
			return a.Emergency
		}
		if a.Emergency && a.EmergencyPriority != b.EmergencyPriority {
			return a.EmergencyPriority > b.EmergencyPriority
		}
		aSkipped := a.LastSkippedAt != nil
		bSkipped := b.LastSkippedAt != nil
		if aSkipped != bSkipped {
			return bSkipped
		}
		return a.QueueNumber < b.QueueNumber
	})

	return ordered
}
