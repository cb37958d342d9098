package executor

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer lets concurrently running commands share one output buffer.
type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func Test_CmdExecutor_OnWatchEvent(t *testing.T) {
	tests := []struct {
		name        string
		invocations []Invocation
		output      []string
	}{
		{
			name: "1. with single command",
			invocations: []Invocation{
				{Command: []string{"echo", "hi"}},
			},
			output: []string{"hi"},
		},
		{
			name: "2. with appended targets",
			invocations: []Invocation{
				{Command: []string{"echo", "test/foo.test.js"}, Targets: []string{"test/foo.test.js"}},
			},
			output: []string{"test/foo.test.js"},
		},
		{
			name: "3. overlapping invocations",
			invocations: []Invocation{
				{Command: []string{"echo", "hi"}},
				{Command: []string{"echo", "hello"}},
			},
			output: []string{"hello", "hi"},
		},
	}

	logger := slog.Default()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := new(syncBuffer)
			ex := NewCmdExecutor(CmdExecutorArgs{
				Logger: logger,
				Stdout: b,
			})

			for _, inv := range tt.invocations {
				require.NoError(t, ex.OnWatchEvent(inv))
			}
			ex.Wait()

			got := strings.Fields(b.String())
			sort.Strings(got)
			assert.Equal(t, tt.output, got)
		})
	}
}

func Test_CmdExecutor_ReportsExit(t *testing.T) {
	var mu sync.Mutex
	var results []Result

	ex := NewCmdExecutor(CmdExecutorArgs{
		Stdout: new(syncBuffer),
		OnExit: func(r Result) {
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
		},
	})

	require.NoError(t, ex.OnWatchEvent(Invocation{Command: []string{"sh", "-c", "exit 3"}}))
	ex.Wait()

	require.Len(t, results, 1)
	assert.Equal(t, 3, results[0].ExitCode)
	assert.Error(t, results[0].Err)
	assert.Positive(t, results[0].Pid)
}

func Test_CmdExecutor_SpawnFailure(t *testing.T) {
	ex := NewCmdExecutor(CmdExecutorArgs{})

	err := ex.OnWatchEvent(Invocation{Command: []string{"./definitely-not-a-real-binary"}})
	assert.Error(t, err)

	assert.Error(t, ex.OnWatchEvent(Invocation{}))

	// a failed spawn must not leave Wait hanging
	ex.Wait()
}

func Test_CmdExecutor_Stop(t *testing.T) {
	ex := NewCmdExecutor(CmdExecutorArgs{Stdout: new(syncBuffer)})
	require.NoError(t, ex.Stop())
	assert.ErrorIs(t, ex.OnWatchEvent(Invocation{Command: []string{"echo", "hi"}}), ErrStopped)
}

func Test_SSEExecutor_Broadcast(t *testing.T) {
	ex := NewSSEExecutor(SSEExecutorArgs{Addr: "127.0.0.1:0"})
	server := httptest.NewServer(ex.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	inv := Invocation{
		Command: []string{"npm", "test", "test/foo.test.js"},
		Trigger: "src/foo.js",
		Op:      "change",
		Source:  "src/(*).js",
		Targets: []string{"test/foo.test.js"},
	}
	require.NoError(t, ex.OnWatchEvent(inv))

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, "data: "), line)

	// a blank line ends the frame
	blank, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "\n", blank)

	var got Invocation
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &got))
	assert.Equal(t, inv, got)
}
