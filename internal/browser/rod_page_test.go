package browser

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/devices"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type cdpCall struct {
	method string
	params json.RawMessage
}

// cdpRecorder is a devtools client that answers every call with an empty
// result and records what was sent.
type cdpRecorder struct {
	events chan *cdp.Event

	mu    sync.Mutex
	calls []cdpCall
	fail  error
}

func (c *cdpRecorder) Event() <-chan *cdp.Event {
	return c.events
}

func (c *cdpRecorder) Call(_ context.Context, _, method string, params interface{}) ([]byte, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return nil, c.fail
	}
	c.calls = append(c.calls, cdpCall{method: method, params: raw})
	if method == "Target.attachToTarget" {
		return []byte(`{"sessionId":"session-1"}`), nil
	}
	return []byte(`{}`), nil
}

func (c *cdpRecorder) failWith(err error) {
	c.mu.Lock()
	c.fail = err
	c.mu.Unlock()
}

func (c *cdpRecorder) byMethod(method string) []json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []json.RawMessage
	for _, call := range c.calls {
		if call.method == method {
			out = append(out, call.params)
		}
	}
	return out
}

func (c *cdpRecorder) keyEvents(t *testing.T) []proto.InputDispatchKeyEvent {
	var out []proto.InputDispatchKeyEvent
	for _, raw := range c.byMethod("Input.dispatchKeyEvent") {
		var ev proto.InputDispatchKeyEvent
		require.NoError(t, json.Unmarshal(raw, &ev))
		out = append(out, ev)
	}
	return out
}

func (c *cdpRecorder) mouseEvents(t *testing.T) []proto.InputDispatchMouseEvent {
	var out []proto.InputDispatchMouseEvent
	for _, raw := range c.byMethod("Input.dispatchMouseEvent") {
		var ev proto.InputDispatchMouseEvent
		require.NoError(t, json.Unmarshal(raw, &ev))
		out = append(out, ev)
	}
	return out
}

func newRecordedPage(t *testing.T) (*rodPage, *cdpRecorder) {
	t.Helper()
	rec := &cdpRecorder{events: make(chan *cdp.Event)}
	b := rod.New().Client(rec).DefaultDevice(devices.Clear)
	require.NoError(t, b.Connect())
	t.Cleanup(func() { close(rec.events) })

	page, err := b.PageFromTarget("target-1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &rodPage{page: page, ctx: ctx, cancel: cancel, log: zap.NewNop()}, rec
}

func TestHeldModifierAppliesToLaterInput(t *testing.T) {
	p, rec := newRecordedPage(t)
	ctx := context.Background()

	require.NoError(t, p.KeyDown(ctx, "Control"))
	require.NoError(t, p.KeyPress(ctx, "a", 0))
	require.NoError(t, p.MouseClick(ctx, "left", 1))
	require.NoError(t, p.KeyUp(ctx, "Control"))
	require.NoError(t, p.KeyPress(ctx, "b", 0))

	keys := rec.keyEvents(t)
	require.Len(t, keys, 6)

	assert.Equal(t, proto.InputDispatchKeyEventTypeRawKeyDown, keys[0].Type)
	assert.Equal(t, "Control", keys[0].Key)
	assert.Equal(t, input.ModifierControl, keys[0].Modifiers)

	assert.Equal(t, proto.InputDispatchKeyEventTypeKeyDown, keys[1].Type)
	assert.Equal(t, "a", keys[1].Key)
	assert.Equal(t, "KeyA", keys[1].Code)
	assert.Equal(t, input.ModifierControl, keys[1].Modifiers)

	assert.Equal(t, proto.InputDispatchKeyEventTypeKeyUp, keys[2].Type)
	assert.Equal(t, input.ModifierControl, keys[2].Modifiers)

	assert.Equal(t, "Control", keys[3].Key)
	assert.Equal(t, proto.InputDispatchKeyEventTypeKeyUp, keys[3].Type)
	assert.Zero(t, keys[3].Modifiers)

	assert.Equal(t, "b", keys[4].Key)
	assert.Zero(t, keys[4].Modifiers)

	mouse := rec.mouseEvents(t)
	require.Len(t, mouse, 2)
	for _, ev := range mouse {
		assert.Equal(t, input.ModifierControl, ev.Modifiers)
	}
}

func TestShiftedTabCarriesShift(t *testing.T) {
	p, rec := newRecordedPage(t)
	ctx := context.Background()

	require.NoError(t, p.KeyDown(ctx, "Shift"))
	require.NoError(t, p.KeyPress(ctx, "Tab", 0))
	require.NoError(t, p.KeyUp(ctx, "Shift"))

	keys := rec.keyEvents(t)
	require.Len(t, keys, 4)
	assert.Equal(t, "Tab", keys[1].Code)
	assert.Equal(t, input.ModifierShift, keys[1].Modifiers)
}

func TestKeyTypeInsertsCharactersOffLayout(t *testing.T) {
	p, rec := newRecordedPage(t)

	require.NoError(t, p.KeyType(context.Background(), "hé", 0))

	keys := rec.keyEvents(t)
	require.Len(t, keys, 2)
	assert.Equal(t, "h", keys[0].Key)

	inserted := rec.byMethod("Input.insertText")
	require.Len(t, inserted, 1)
	assert.JSONEq(t, `{"text":"é"}`, string(inserted[0]))
}

func TestKeyDownUnknownKey(t *testing.T) {
	p, rec := newRecordedPage(t)

	assert.Error(t, p.KeyDown(context.Background(), "Hyper"))
	assert.Empty(t, rec.keyEvents(t))
}

func TestFocusedFileInputPropagatesProtocolErrors(t *testing.T) {
	p, rec := newRecordedPage(t)
	lost := errors.New("websocket closed")
	rec.failWith(lost)

	in, err := p.FocusedFileInput(context.Background())
	assert.ErrorIs(t, err, lost)
	assert.Nil(t, in)
}
