package agent

import (
	"sort"
	"sync"
)

// SteeringMessage redirects the conversation ahead of the next model turn.
// Higher priority values are injected first; equal priorities keep arrival
// order.
type SteeringMessage struct {
	Text     string
	Priority int
}

type steeringItem struct {
	msg SteeringMessage
	seq int
}

// steeringQueue is a priority queue safe for producers outside the loop
// goroutine (a UI thread steering a running agent).
type steeringQueue struct {
	mu    sync.Mutex
	items []steeringItem
	seq   int
}

func (q *steeringQueue) push(msg SteeringMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, steeringItem{msg: msg, seq: q.seq})
	q.seq++
}

func (q *steeringQueue) pending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) > 0
}

// drain removes and returns all queued messages, highest priority first,
// ties in arrival order.
func (q *steeringQueue) drain() []SteeringMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	items := q.items
	q.items = nil
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].msg.Priority != items[j].msg.Priority {
			return items[i].msg.Priority > items[j].msg.Priority
		}
		return items[i].seq < items[j].seq
	})
	msgs := make([]SteeringMessage, len(items))
	for i, it := range items {
		msgs[i] = it.msg
	}
	return msgs
}

// followUpQueue holds FIFO messages injected as new user turns only once the
// loop would otherwise finish.
type followUpQueue struct {
	mu    sync.Mutex
	items []string
}

func (q *followUpQueue) push(text string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, text)
}

func (q *followUpQueue) pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return "", false
	}
	head := q.items[0]
	q.items = q.items[1:]
	return head, true
}
