package whatsapp

import "sync"

const maxChatBacklog = 16

// chatQueue keeps one sender's jobs in arrival order while occupying at most
// one worker per sender. A job for a sender whose previous job is still
// running waits in that sender's backlog and later runs on the same worker,
// so other senders never queue behind it.
type chatQueue struct {
	mu      sync.Mutex
	limit   int
	pending map[string][]Job
}

func newChatQueue(limit int) *chatQueue {
	if limit <= 0 {
		limit = maxChatBacklog
	}
	return &chatQueue{limit: limit, pending: make(map[string][]Job)}
}

// push submits job when key has nothing running, or appends it to the
// backlog otherwise. It returns false when submit refuses the job, when
// accepting is false, or when the backlog is full.
func (q *chatQueue) push(key string, job Job, accepting bool, submit func(Job) bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if backlog, running := q.pending[key]; running {
		if !accepting || len(backlog) >= q.limit {
			return false
		}
		q.pending[key] = append(backlog, job)
		return true
	}

	if !submit(job) {
		return false
	}
	q.pending[key] = nil
	return true
}

// next pops the following job for key. When the backlog is empty the key is
// released and next reports false.
func (q *chatQueue) next(key string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	backlog := q.pending[key]
	if len(backlog) == 0 {
		delete(q.pending, key)
		return Job{}, false
	}

	job := backlog[0]
	backlog[0] = Job{}
	q.pending[key] = backlog[1:]
	return job, true
}

// waiting reports how many jobs sit in backlogs.
func (q *chatQueue) waiting() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	total := 0
	for _, backlog := range q.pending {
		total += len(backlog)
	}
	return total
}
