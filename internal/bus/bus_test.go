package bus

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus() *Bus {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestEmit_FanOutInOrder(t *testing.T) {
	b := newTestBus()
	var got []string

	b.On("roll", func(e any) { got = append(got, "first:"+e.(string)) })
	b.On("roll", func(e any) { got = append(got, "second:"+e.(string)) })
	b.On("other", func(e any) { got = append(got, "other") })

	b.Emit("roll", "d20")

	assert.Equal(t, []string{"first:d20", "second:d20"}, got)
}

func TestEmit_NoListeners(t *testing.T) {
	b := newTestBus()
	assert.NotPanics(t, func() { b.Emit("nobody", 1) })
}

func TestEmit_PanickingListenerIsolated(t *testing.T) {
	b := newTestBus()
	calls := 0

	b.On("t", func(any) { panic("boom") })
	b.On("t", func(any) { calls++ })

	assert.NotPanics(t, func() { b.Emit("t", nil) })
	assert.Equal(t, 1, calls)
}

func TestOff(t *testing.T) {
	b := newTestBus()
	calls := 0
	h := b.On("t", func(any) { calls++ })

	b.Emit("t", nil)
	b.Off(h)
	b.Off(h)
	b.Emit("t", nil)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, b.Listeners("t"))
}

func TestOff_DuringEmit(t *testing.T) {
	b := newTestBus()
	var calls []string
	var second Handle

	b.On("t", func(any) {
		calls = append(calls, "first")
		b.Off(second)
	})
	second = b.On("t", func(any) { calls = append(calls, "second") })

	// Snapshot taken before delivery, so second still runs this round
	b.Emit("t", nil)
	b.Emit("t", nil)

	assert.Equal(t, []string{"first", "second", "first"}, calls)
}

func TestOnce(t *testing.T) {
	b := newTestBus()
	var got []any
	b.Once("t", func(e any) { got = append(got, e) })

	b.Emit("t", 1)
	b.Emit("t", 2)

	assert.Equal(t, []any{1}, got)
	assert.Equal(t, 0, b.Listeners("t"))
}

func TestOnce_OffBeforeEmit(t *testing.T) {
	b := newTestBus()
	called := false
	h := b.Once("t", func(any) { called = true })
	b.Off(h)

	b.Emit("t", 1)
	assert.False(t, called)
}

func TestClear(t *testing.T) {
	b := newTestBus()
	b.On("a", func(any) {})
	b.On("b", func(any) {})

	b.Clear("a")
	assert.Equal(t, 0, b.Listeners("a"))
	assert.Equal(t, 1, b.Listeners("b"))

	b.ClearAll()
	assert.Equal(t, 0, b.Listeners("b"))
}

func TestSubscribe_Typed(t *testing.T) {
	b := newTestBus()
	var got []int
	Subscribe(b, "n", func(v int) { got = append(got, v) })

	b.Emit("n", 1)
	b.Emit("n", "not an int")
	b.Emit("n", 2)

	assert.Equal(t, []int{1, 2}, got)
}

func TestSender(t *testing.T) {
	b := newTestBus()
	var statuses []SenderStatus
	Subscribe(b, SenderTopic, func(s SenderStatus) { statuses = append(statuses, s) })

	assert.False(t, b.IsReady())

	sent, err := b.Send("hello", false)
	require.NoError(t, err)
	assert.False(t, sent)

	sent, err = b.Send("hello", true)
	assert.ErrorIs(t, err, ErrSenderNotReady)
	assert.False(t, sent)

	var posted []any
	b.SetSender(func(data any) { posted = append(posted, data) })
	assert.True(t, b.IsReady())

	sent, err = b.Send("hello", true)
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Equal(t, []any{"hello"}, posted)

	b.SetSender(nil)
	assert.False(t, b.IsReady())

	assert.Equal(t, []SenderStatus{{Ready: true}, {Ready: false}}, statuses)
}
