package whatsapp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChatQueueKeepsArrivalOrderPerSender(t *testing.T) {
	q := newChatQueue(2)
	var submitted []string
	submit := func(job Job) bool {
		submitted = append(submitted, job.RequestID)
		return true
	}

	require.True(t, q.push("a", Job{RequestID: "a1"}, true, submit))
	require.True(t, q.push("a", Job{RequestID: "a2"}, true, submit))
	require.True(t, q.push("b", Job{RequestID: "b1"}, true, submit))
	require.True(t, q.push("a", Job{RequestID: "a3"}, true, submit))
	require.False(t, q.push("a", Job{RequestID: "a4"}, true, submit), "backlog is full")
	require.Equal(t, []string{"a1", "b1"}, submitted)
	require.Equal(t, 2, q.waiting())

	job, ok := q.next("a")
	require.True(t, ok)
	require.Equal(t, "a2", job.RequestID)
	job, ok = q.next("a")
	require.True(t, ok)
	require.Equal(t, "a3", job.RequestID)
	_, ok = q.next("a")
	require.False(t, ok)

	require.True(t, q.push("a", Job{RequestID: "a5"}, true, submit))
	require.Equal(t, []string{"a1", "b1", "a5"}, submitted)
}

func TestChatQueueRejectsWhenNotAccepting(t *testing.T) {
	q := newChatQueue(4)
	refuse := func(Job) bool { return false }
	accept := func(Job) bool { return true }

	require.False(t, q.push("a", Job{RequestID: "a1"}, false, refuse))
	_, ok := q.next("a")
	require.False(t, ok, "a refused job leaves nothing running")

	require.True(t, q.push("a", Job{RequestID: "a1"}, true, accept))
	require.False(t, q.push("a", Job{RequestID: "a2"}, false, accept))
	require.Zero(t, q.waiting())
}
