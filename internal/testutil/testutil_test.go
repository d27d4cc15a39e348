package testutil

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tabstate/internal/state"
)

func TestRecordingListener_RecordsInOrder(t *testing.T) {
	l := NewRecordingListener()
	l.Notify(state.Change{Key: "k", Seq: 1, Source: state.SourceLocal})
	l.Notify(state.Change{Key: "k", Seq: 2, Source: state.SourceRemote})

	assert.Equal(t, 2, l.Count())
	assert.Equal(t, []state.Source{state.SourceLocal, state.SourceRemote}, l.Sources())
	assert.Equal(t, int64(2), l.Changes()[1].Seq)
}

func TestRecordingListener_UniqueIDs(t *testing.T) {
	assert.NotEqual(t, NewRecordingListener().ID(), NewRecordingListener().ID())
}

func TestRecordingListener_Concurrent(t *testing.T) {
	l := NewRecordingListener()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Notify(state.Change{Key: "k"})
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, l.Count())
}

func TestFaultyStore_PassesThrough(t *testing.T) {
	ctx := context.Background()
	f := NewFaultyStore(nil)

	require.NoError(t, f.Set(ctx, "k", []byte("v")))
	got, ok, err := f.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), got)
	require.NoError(t, f.Delete(ctx, "k"))

	assert.Equal(t, 1, f.Gets())
	assert.Equal(t, 1, f.Sets())
	assert.Equal(t, 1, f.Deletes())
}

func TestFaultyStore_InjectedFailures(t *testing.T) {
	ctx := context.Background()
	f := NewFaultyStore(nil)
	boom := errors.New("boom")

	f.FailGet(boom)
	f.FailSet(boom)
	f.FailDelete(boom)

	_, _, err := f.Get(ctx, "k")
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, f.Set(ctx, "k", nil), boom)
	assert.ErrorIs(t, f.Delete(ctx, "k"), boom)

	f.FailSet(nil)
	assert.NoError(t, f.Set(ctx, "k", []byte("v")))
}

func TestFaultyStore_HoldGets(t *testing.T) {
	f := NewFaultyStore(nil)
	release := f.HoldGets()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, _ = f.Get(context.Background(), "k")
	}()

	select {
	case <-done:
		t.Fatal("Get returned while held")
	default:
	}

	release()
	release()
	<-done
}

func TestFaultyStore_HoldGetsHonorsContext(t *testing.T) {
	f := NewFaultyStore(nil)
	f.HoldGets()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := f.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}
