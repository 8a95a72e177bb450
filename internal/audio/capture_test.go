package audio

import (
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type events struct {
	mu     sync.Mutex
	data   []byte
	states []bool
}

func (e *events) chunk(b []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.data = append(e.data, b...)
}

func (e *events) state(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.states = append(e.states, v)
}

func (e *events) snapshot() (string, []bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return string(e.data), append([]bool(nil), e.states...)
}

func TestMissingCommand(t *testing.T) {
	ev := &events{}
	c := New(Options{Command: "definitely-not-a-real-binary", OnState: ev.state}, zap.NewNop())

	err := c.Start()
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.False(t, c.Available())
	_, states := ev.snapshot()
	assert.Equal(t, []bool{false}, states)
}

func TestStreamsUntilExit(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not installed")
	}
	src := filepath.Join(t.TempDir(), "pcm")
	require.NoError(t, os.WriteFile(src, []byte("pcm-bytes"), 0o644))

	ev := &events{}
	c := New(Options{Command: "cat", Args: []string{src}, OnChunk: ev.chunk, OnState: ev.state}, zap.NewNop())
	require.NoError(t, c.Start())

	assert.Eventually(t, func() bool {
		_, states := ev.snapshot()
		return len(states) == 2
	}, 2*time.Second, 10*time.Millisecond)

	data, states := ev.snapshot()
	assert.Equal(t, "pcm-bytes", data)
	assert.Equal(t, []bool{true, false}, states)
	assert.False(t, c.Available())
}

func TestStopTerminates(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not installed")
	}
	ev := &events{}
	c := New(Options{Command: "sleep", Args: []string{"30"}, OnState: ev.state}, zap.NewNop())
	require.NoError(t, c.Start())
	require.NoError(t, c.Start())
	assert.True(t, c.Available())

	c.Stop()
	assert.False(t, c.Available())
	_, states := ev.snapshot()
	assert.Equal(t, []bool{true, false}, states)

	c.Stop()
}
