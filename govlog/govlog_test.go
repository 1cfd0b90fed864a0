package govlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopCloser struct{ *bytes.Buffer }

func (nopCloser) Close() error { return nil }

func TestAppendWritesOneJSONLinePerEvent(t *testing.T) {
	buf := &bytes.Buffer{}
	l := OpenWriter(nopCloser{buf})

	require.NoError(t, l.Append(Event{Timestamp: time.Unix(0, 0), Kind: EventWorkflowStarted, ThreadID: "42-issue"}))
	require.NoError(t, l.Append(Event{Timestamp: time.Unix(1, 0), Kind: EventNodeCompleted, ThreadID: "42-issue", Node: "draft"}))

	scanner := bufio.NewScanner(buf)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.Len(t, lines, 2)

	var first Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, EventWorkflowStarted, first.Kind)
	assert.Equal(t, "42-issue", first.ThreadID)

	var second Event
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "draft", second.Node)
}

func TestAppendStampsAUniqueIDPerEvent(t *testing.T) {
	buf := &bytes.Buffer{}
	l := OpenWriter(nopCloser{buf})

	require.NoError(t, l.Append(Event{Kind: EventWorkflowStarted, ThreadID: "42-issue"}))
	require.NoError(t, l.Append(Event{Kind: EventNodeCompleted, ThreadID: "42-issue"}))

	scanner := bufio.NewScanner(buf)
	var ids []string
	for scanner.Scan() {
		var ev Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		require.NotEmpty(t, ev.ID)
		ids = append(ids, ev.ID)
	}
	require.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1])
}

func TestAppendIsAppendOnlyAcrossCalls(t *testing.T) {
	buf := &bytes.Buffer{}
	l := OpenWriter(nopCloser{buf})
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Append(Event{Kind: EventNodeCompleted, ThreadID: "t"}))
	}
	scanner := bufio.NewScanner(buf)
	count := 0
	for scanner.Scan() {
		count++
	}
	assert.Equal(t, 5, count)
}
