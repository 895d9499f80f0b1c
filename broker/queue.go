// Package broker implements VoteBroker: durable staging
// between station and center with priority ordering and exponential
// backoff retry. The two internal queues are container/heap priority
// queues, the same structuring the pack's aistore checkfs.go uses for its
// atime eviction heap, generalized here to vote priority and retry
// readiness.
package broker

import (
	"time"

	"github.com/electoral-net/votepipeline/vote"
)

// item is one entry in the primary priority queue.
type item struct {
	vote  vote.PendingVote
	index int
}

// primaryQueue orders by priorityValue ASC, tie-breaking on timestamp ASC
//.
type primaryQueue []*item

func (q primaryQueue) Len() int { return len(q) }

func (q primaryQueue) Less(i, j int) bool {
	if q[i].vote.Priority != q[j].vote.Priority {
		return q[i].vote.Priority < q[j].vote.Priority
	}
	return q[i].vote.Timestamp.Before(q[j].vote.Timestamp)
}

func (q primaryQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *primaryQueue) Push(x any) {
	it := x.(*item)
	it.index = len(*q)
	*q = append(*q, it)
}

func (q *primaryQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*q = old[:n-1]
	return it
}

// retryItem is one entry in the retry delay queue.
type retryItem struct {
	vote    vote.PendingVote
	readyAt time.Time
	index   int
}

// retryQueue orders by readyAt ASC so the earliest-eligible item surfaces
// first.
type retryQueue []*retryItem

func (q retryQueue) Len() int            { return len(q) }
func (q retryQueue) Less(i, j int) bool  { return q[i].readyAt.Before(q[j].readyAt) }
func (q retryQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i]; q[i].index = i; q[j].index = j }
func (q *retryQueue) Push(x any) {
	it := x.(*retryItem)
	it.index = len(*q)
	*q = append(*q, it)
}
func (q *retryQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*q = old[:n-1]
	return it
}

// backoffSchedule implements backoff(n) = min(30 * 2^min(n,4), 300) seconds
//: 30, 60, 120, 240, 300.
func backoffSchedule(attempt int) time.Duration {
	capped := attempt
	if capped > 4 {
		capped = 4
	}
	seconds := 30 << uint(capped)
	if seconds > 300 {
		seconds = 300
	}
	return time.Duration(seconds) * time.Second
}
