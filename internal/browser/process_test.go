package browser

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type failingLauncher struct {
	launches int
	kills    int
}

func (f *failingLauncher) Launch(context.Context) (string, error) {
	f.launches++
	return "", errors.New("no chrome here")
}

func (f *failingLauncher) Kill() error {
	f.kills++
	return nil
}

func (f *failingLauncher) Describe() string { return "/nowhere/chrome" }

func TestProcessNotRunning(t *testing.T) {
	l := &failingLauncher{}
	p := NewProcess(l, zap.NewNop())

	assert.False(t, p.Running())
	assert.Zero(t, p.Uptime())
	assert.Equal(t, "/nowhere/chrome", p.Executable())

	_, err := p.NewPage(context.Background(), PageOptions{Width: 1280, Height: 800})
	assert.ErrorIs(t, err, ErrNotRunning)

	require.NoError(t, p.Close())
	assert.Zero(t, l.kills)
}

func TestProcessStartFailure(t *testing.T) {
	l := &failingLauncher{}
	p := NewProcess(l, zap.NewNop())

	require.Error(t, p.Start(context.Background()))
	assert.False(t, p.Running())

	require.Error(t, p.Start(context.Background()))
	assert.Equal(t, 2, l.launches)
	assert.False(t, p.Running())
}
