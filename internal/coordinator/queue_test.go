package coordinator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/edgecoder-mesh/edgecoder/internal/domain"
)

func subtask(id string, priority int, seq int64) domain.Subtask {
	return domain.Subtask{SubtaskID: id, TaskID: "t", Priority: priority, TimeoutMs: 10_000, CreatedAtMs: seq}
}

func TestQueueClaimOrdersByPriorityThenAge(t *testing.T) {
	q := NewQueue()
	q.Enqueue(subtask("low", 1, 1))
	q.Enqueue(subtask("high-first", 5, 2))
	q.Enqueue(subtask("high-second", 5, 3))

	match := func(domain.Subtask) bool { return true }
	st, ok := q.Claim("agent-1", 0, match)
	require.True(t, ok)
	require.Equal(t, "high-first", st.SubtaskID)

	st, ok = q.Claim("agent-1", 0, match)
	require.True(t, ok)
	require.Equal(t, "high-second", st.SubtaskID)

	st, ok = q.Claim("agent-1", 0, match)
	require.True(t, ok)
	require.Equal(t, "low", st.SubtaskID)
}

func TestQueueClaimSkipsNonMatching(t *testing.T) {
	q := NewQueue()

	pythonTask := subtask("python-task", 5, 1)
	pythonTask.Language = domain.LangPython
	q.Enqueue(pythonTask)

	jsTask := subtask("js-task", 3, 2)
	jsTask.Language = domain.LangJavaScript
	q.Enqueue(jsTask)

	st, ok := q.Claim("agent-1", 0, func(s domain.Subtask) bool { return s.Language == domain.LangJavaScript })
	require.True(t, ok)
	require.Equal(t, "js-task", st.SubtaskID)

	st, ok = q.Claim("agent-2", 0, func(s domain.Subtask) bool { return s.Language == domain.LangPython })
	require.True(t, ok)
	require.Equal(t, "python-task", st.SubtaskID)
}

func TestQueueExpiredLeaseRequeues(t *testing.T) {
	q := NewQueue()
	q.Enqueue(subtask("a", 1, 1))

	match := func(domain.Subtask) bool { return true }
	st, ok := q.Claim("agent-1", 0, match)
	require.True(t, ok)
	require.Equal(t, 1, q.ActiveLeases())

	_, ok = q.Claim("agent-2", 0, match)
	require.False(t, ok, "lease not yet expired, nothing else queued")

	expiry := st.TimeoutMs + leaseGrace.Milliseconds() + 1
	st2, ok := q.Claim("agent-2", expiry, match)
	require.True(t, ok)
	require.Equal(t, "a", st2.SubtaskID)
	require.Equal(t, 0, q.Len())
}

func TestQueueReleaseRequiresMatchingAgent(t *testing.T) {
	q := NewQueue()
	q.Enqueue(subtask("a", 1, 1))
	_, ok := q.Claim("agent-1", 0, func(domain.Subtask) bool { return true })
	require.True(t, ok)

	require.False(t, q.Release("a", "agent-2"))
	require.True(t, q.Release("a", "agent-1"))
	require.Equal(t, 0, q.ActiveLeases())
}
