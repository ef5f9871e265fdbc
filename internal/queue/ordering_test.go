package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func entryWithNumber(n int) Entry {
	return Entry{QueueNumber: n, Status: StatusWaiting}
}

func numbers(entries []Entry) []int {
	out := make([]int, len(entries))
	for i, e := range entries {
		out[i] = e.QueueNumber
	}
	return out
}

func TestOrderArrivalOrder(t *testing.T) {
	entries := []Entry{entryWithNumber(3), entryWithNumber(1), entryWithNumber(2)}
	ordered := Order(entries)
	assert.Equal(t, []int{1, 2, 3}, numbers(ordered))
}

func TestOrderEmergencyFirst(t *testing.T) {
	e3 := entryWithNumber(3)
	e3.Emergency = true
	e3.EmergencyPriority = 2

	entries := []Entry{entryWithNumber(1), entryWithNumber(2), e3}
	ordered := Order(entries)

	// Emergency queue number 3 jumps ahead of 1 and 2.
	assert.Equal(t, []int{3, 1, 2}, numbers(ordered))
}

func TestOrderEmergencyPriorityDescending(t *testing.T) {
	low := entryWithNumber(1)
	low.Emergency = true
	low.EmergencyPriority = 1

	high := entryWithNumber(2)
	high.Emergency = true
	high.EmergencyPriority = 5

	entries := []Entry{low, high, entryWithNumber(3)}
	ordered := Order(entries)
	assert.Equal(t, []int{2, 1, 3}, numbers(ordered))
}

func TestOrderEqualEmergencyPriorityByNumber(t *testing.T) {
	a := entryWithNumber(4)
	a.Emergency = true
	a.EmergencyPriority = 2
	b := entryWithNumber(2)
	b.Emergency = true
	b.EmergencyPriority = 2

	ordered := Order([]Entry{a, b})
	assert.Equal(t, []int{2, 4}, numbers(ordered))
}

func TestOrderSkippedDropsBehind(t *testing.T) {
	skippedAt := time.Now()
	skipped := entryWithNumber(1)
	skipped.LastSkippedAt = &skippedAt

	entries := []Entry{skipped, entryWithNumber(2), entryWithNumber(3)}
	ordered := Order(entries)
	assert.Equal(t, []int{2, 3, 1}, numbers(ordered))
}

func TestOrderSkippedEmergencyStaysAheadOfNonEmergency(t *testing.T) {
	skippedAt := time.Now()
	em := entryWithNumber(5)
	em.Emergency = true
	em.EmergencyPriority = 1
	em.LastSkippedAt = &skippedAt

	ordered := Order([]Entry{entryWithNumber(1), em})
	assert.Equal(t, []int{5, 1}, numbers(ordered))
}

func TestOrderIsPure(t *testing.T) {
	em := entryWithNumber(3)
	em.Emergency = true
	em.EmergencyPriority = 2
	entries := []Entry{entryWithNumber(1), em, entryWithNumber(2)}

	first := Order(entries)
	second := Order(entries)
	assert.Equal(t, numbers(first), numbers(second))

	// Input order must not leak into the result beyond the documented
	// tie-breaks.
	reversed := []Entry{entryWithNumber(2), em, entryWithNumber(1)}
	third := Order(reversed)
	assert.Equal(t, numbers(first), numbers(third))
}

func TestOrderDoesNotMutateInput(t *testing.T) {
	entries := []Entry{entryWithNumber(2), entryWithNumber(1)}
	_ = Order(entries)
	assert.Equal(t, []int{2, 1}, numbers(entries))
}
