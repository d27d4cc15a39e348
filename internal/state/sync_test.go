package state_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tabstate/internal/broadcast"
	"github.com/roach88/tabstate/internal/state"
	"github.com/roach88/tabstate/internal/store"
	"github.com/roach88/tabstate/internal/testutil"
)

// failingChannel accepts subscribers but rejects every post.
type failingChannel struct{ name string }

func (c *failingChannel) Name() string { return c.name }
func (c *failingChannel) Post(broadcast.Message) error { return errors.New("unsupported") }
func (c *failingChannel) Subscribe(func(broadcast.Message)) func() { return func() {} }
func (c *failingChannel) Close() error { return nil }

func syncedEnv(st store.Store, hub *broadcast.Hub) (state.Env, *state.CaptureReporter) {
	env, rep := testEnv(st)
	env.Channels = hub
	return env, rep
}

func TestSync_CrossTabPropagation(t *testing.T) {
	mem := store.NewMemory()
	hub := broadcast.NewHub()
	envA, _ := syncedEnv(mem, hub)
	envB, repB := syncedEnv(mem, hub)
	opts := state.Options[prefs]{SyncTabs: true}

	a := state.New("prefs", prefs{}, envA, opts)
	b := state.New("prefs", prefs{}, envB, opts)
	waitReady(t, a)
	waitReady(t, b)
	flush(t, a)
	flush(t, b)

	recA := testutil.NewRecordingListener()
	recB := testutil.NewRecordingListener()
	a.Subscribe(recA)
	b.Subscribe(recB)

	a.Set(prefs{Theme: "dark", Count: 3})

	require.Eventually(t, func() bool {
		return b.Current() == prefs{Theme: "dark", Count: 3}
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []state.Source{state.SourceRemote}, recB.Sources())
	assert.Equal(t, []state.Source{state.SourceLocal}, recA.Sources())
	assert.Empty(t, repB.Failures())
}

func TestSync_RemoteWriteIsNotPersistedAgain(t *testing.T) {
	hub := broadcast.NewHub()
	fsA := testutil.NewFaultyStore(nil)
	fsB := testutil.NewFaultyStore(nil)
	envA, _ := syncedEnv(fsA, hub)
	envB, _ := syncedEnv(fsB, hub)
	opts := state.Options[prefs]{SyncTabs: true}

	a := state.New("prefs", prefs{}, envA, opts)
	b := state.New("prefs", prefs{}, envB, opts)
	waitReady(t, a)
	waitReady(t, b)
	flush(t, a)
	flush(t, b)
	cancelA := a.Watch(func(state.Change) {})
	defer cancelA()
	cancelB := b.Watch(func(state.Change) {})
	defer cancelB()
	setsB := fsB.Sets()

	a.Set(prefs{Theme: "dark"})
	flush(t, a)

	assert.Equal(t, prefs{Theme: "dark"}, b.Current())
	flush(t, b)
	assert.Equal(t, setsB, fsB.Sets())
}

func TestSync_ChannelFollowsListenerCount(t *testing.T) {
	hub := broadcast.NewHub()
	env, _ := syncedEnv(store.NewMemory(), hub)
	s := state.New("prefs", prefs{}, env, state.Options[prefs]{SyncTabs: true})
	name := broadcast.ChannelName("prefs")

	assert.Equal(t, 0, hub.Members(name))

	first := s.Watch(func(state.Change) {})
	assert.Equal(t, 1, hub.Members(name))

	second := s.Watch(func(state.Change) {})
	assert.Equal(t, 1, hub.Members(name))

	first()
	assert.Equal(t, 1, hub.Members(name))
	second()
	assert.Equal(t, 0, hub.Members(name))

	third := s.Watch(func(state.Change) {})
	assert.Equal(t, 1, hub.Members(name))
	third()
	assert.Equal(t, 0, hub.Members(name))
}

func TestSync_NoChannelWithoutCapability(t *testing.T) {
	tests := []struct {
		name string
		env  func(hub *broadcast.Hub) state.Env
		opts state.Options[prefs]
	}{
		{
			name: "sync disabled",
			env: func(hub *broadcast.Hub) state.Env {
				env, _ := syncedEnv(store.NewMemory(), hub)
				return env
			},
		},
		{
			name: "no durable store",
			env: func(hub *broadcast.Hub) state.Env {
				env, _ := syncedEnv(nil, hub)
				return env
			},
			opts: state.Options[prefs]{SyncTabs: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := broadcast.NewHub()
			s := state.New("prefs", prefs{}, tt.env(hub), tt.opts)
			cancel := s.Watch(func(state.Change) {})
			defer cancel()
			assert.Equal(t, 0, hub.Members(broadcast.ChannelName("prefs")))
		})
	}
}

func TestSync_MissingOpenerDegradesQuietly(t *testing.T) {
	env, rep := testEnv(store.NewMemory())
	s := state.New("prefs", prefs{}, env, state.Options[prefs]{SyncTabs: true})
	waitReady(t, s)
	cancel := s.Watch(func(state.Change) {})
	defer cancel()

	s.Set(prefs{Count: 1})
	flush(t, s)
	assert.Empty(t, rep.Failures())
}

func TestSync_UnobservedContainerDoesNotReceive(t *testing.T) {
	mem := store.NewMemory()
	hub := broadcast.NewHub()
	envA, _ := syncedEnv(mem, hub)
	envB, _ := syncedEnv(mem, hub)
	opts := state.Options[prefs]{SyncTabs: true}

	a := state.New("prefs", prefs{}, envA, opts)
	b := state.New("prefs", prefs{}, envB, opts)
	waitReady(t, a)
	waitReady(t, b)
	cancel := a.Watch(func(state.Change) {})
	defer cancel()

	a.Set(prefs{Count: 9})
	flush(t, a)
	assert.Equal(t, prefs{}, b.Current())
}

func TestSync_OpenFailureReported(t *testing.T) {
	env, rep := testEnv(store.NewMemory())
	env.Channels = broadcast.OpenerFunc(func(string) (broadcast.Channel, error) {
		return nil, errors.New("no channels here")
	})
	s := state.New("prefs", prefs{}, env, state.Options[prefs]{SyncTabs: true})
	waitReady(t, s)
	flush(t, s)

	cancel := s.Watch(func(state.Change) {})
	defer cancel()
	s.Set(prefs{Count: 1})
	flush(t, s)

	assert.Equal(t, []state.FailureKind{state.KindBroadcast}, rep.Kinds())
	assert.Equal(t, "open", rep.Failures()[0].Op)
	assert.Equal(t, prefs{Count: 1}, s.Current())
}

func TestSync_PostFailureReported(t *testing.T) {
	env, rep := testEnv(store.NewMemory())
	env.Channels = broadcast.OpenerFunc(func(name string) (broadcast.Channel, error) {
		return &failingChannel{name: name}, nil
	})
	s := state.New("prefs", prefs{}, env, state.Options[prefs]{SyncTabs: true})
	waitReady(t, s)
	flush(t, s)

	cancel := s.Watch(func(state.Change) {})
	defer cancel()
	s.Set(prefs{Count: 1})
	flush(t, s)

	assert.Equal(t, []state.FailureKind{state.KindBroadcast}, rep.Kinds())
	assert.Equal(t, "post", rep.Failures()[0].Op)
}

func TestSync_InboundFiltering(t *testing.T) {
	hub := broadcast.NewHub()
	fs := testutil.NewFaultyStore(nil)
	env, rep := syncedEnv(fs, hub)
	s := state.New("prefs", prefs{}, env, state.Options[prefs]{SyncTabs: true})
	waitReady(t, s)
	flush(t, s)
	rec := testutil.NewRecordingListener()
	s.Subscribe(rec)
	sets := fs.Sets()

	peer, err := hub.Open(broadcast.ChannelName("prefs"))
	require.NoError(t, err)
	defer peer.Close()

	valid := []byte(`{"theme":"remote","count":1}`)
	require.NoError(t, peer.Post(broadcast.Message{Type: "other", Key: "prefs", Value: valid}))
	require.NoError(t, peer.Post(broadcast.Message{Type: broadcast.TypeStateUpdate, Key: "other", Value: valid}))
	assert.Equal(t, prefs{}, s.Current())
	assert.Equal(t, 0, rec.Count())

	require.NoError(t, peer.Post(broadcast.Message{Type: broadcast.TypeStateUpdate, Key: "prefs", Value: []byte("nope")}))
	assert.Equal(t, prefs{}, s.Current())
	assert.Equal(t, []state.FailureKind{state.KindDecode}, rep.Kinds())
	assert.Equal(t, "receive", rep.Failures()[0].Op)

	require.NoError(t, peer.Post(broadcast.Message{Type: broadcast.TypeStateUpdate, Key: "prefs", Value: valid}))
	assert.Equal(t, prefs{Theme: "remote", Count: 1}, s.Current())
	assert.Equal(t, []state.Source{state.SourceRemote}, rec.Sources())

	flush(t, s)
	assert.Equal(t, sets, fs.Sets())
}

func TestSync_ReplayedValueIsHarmless(t *testing.T) {
	hub := broadcast.NewHub()
	env, rep := syncedEnv(store.NewMemory(), hub)
	s := state.New("prefs", prefs{Theme: "same"}, env, state.Options[prefs]{SyncTabs: true})
	waitReady(t, s)
	cancel := s.Watch(func(state.Change) {})
	defer cancel()

	peer, err := hub.Open(broadcast.ChannelName("prefs"))
	require.NoError(t, err)
	defer peer.Close()

	msg := broadcast.Message{Type: broadcast.TypeStateUpdate, Key: "prefs", Value: []byte(`{"theme":"same","count":0}`)}
	require.NoError(t, peer.Post(msg))
	require.NoError(t, peer.Post(msg))

	assert.Equal(t, prefs{Theme: "same"}, s.Current())
	assert.Empty(t, rep.Failures())
}

func TestSync_OutboundMessageShape(t *testing.T) {
	hub := broadcast.NewHub()
	env, _ := syncedEnv(store.NewMemory(), hub)
	s := state.New("prefs", prefs{}, env, state.Options[prefs]{SyncTabs: true})
	waitReady(t, s)
	flush(t, s)
	cancel := s.Watch(func(state.Change) {})
	defer cancel()

	peer, err := hub.Open(broadcast.ChannelName("prefs"))
	require.NoError(t, err)
	defer peer.Close()
	got := make(chan broadcast.Message, 1)
	peer.Subscribe(func(m broadcast.Message) { got <- m })

	s.Set(prefs{Theme: "dark"})

	select {
	case m := <-got:
		assert.Equal(t, broadcast.TypeStateUpdate, m.Type)
		assert.Equal(t, "prefs", m.Key)
		assert.JSONEq(t, `{"theme":"dark","count":0}`, string(m.Value))
		assert.Equal(t, s.Origin(), m.Origin)
	case <-time.After(time.Second):
		t.Fatal("no broadcast received")
	}
}

func TestSync_BroadcastDuringHydrationWins(t *testing.T) {
	hub := broadcast.NewHub()
	fs := testutil.NewFaultyStore(nil)
	seed(t, fs, "prefs", prefs{Theme: "stored"})
	release := fs.HoldGets()
	env, rep := syncedEnv(fs, hub)

	a := state.New("prefs", prefs{Theme: "initial"}, env, state.Options[prefs]{SyncTabs: true})
	rec := testutil.NewRecordingListener()
	a.Subscribe(rec)

	peer, err := hub.Open(broadcast.ChannelName("prefs"))
	require.NoError(t, err)
	defer peer.Close()
	require.NoError(t, peer.Post(broadcast.Message{
		Type:  broadcast.TypeStateUpdate,
		Key:   "prefs",
		Value: []byte(`{"theme":"peer","count":2}`),
	}))
	assert.False(t, a.Initialized())

	release()
	waitReady(t, a)
	flush(t, a)

	assert.Equal(t, prefs{Theme: "peer", Count: 2}, a.Current())
	assert.Equal(t, []state.Source{state.SourceRemote}, rec.Sources())
	got, _ := stored[prefs](t, fs, "prefs")
	assert.Equal(t, prefs{Theme: "stored"}, got)
	assert.Empty(t, rep.Failures())
}

func TestSync_BroadcastDuringHydrationSkipsWriteThrough(t *testing.T) {
	hub := broadcast.NewHub()
	fs := testutil.NewFaultyStore(nil)
	release := fs.HoldGets()
	env, _ := syncedEnv(fs, hub)

	a := state.New("prefs", prefs{Theme: "initial"}, env, state.Options[prefs]{SyncTabs: true})
	cancel := a.Watch(func(state.Change) {})
	defer cancel()

	peer, err := hub.Open(broadcast.ChannelName("prefs"))
	require.NoError(t, err)
	defer peer.Close()
	require.NoError(t, peer.Post(broadcast.Message{
		Type:  broadcast.TypeStateUpdate,
		Key:   "prefs",
		Value: []byte(`{"theme":"peer","count":0}`),
	}))

	release()
	waitReady(t, a)
	flush(t, a)

	assert.Equal(t, prefs{Theme: "peer"}, a.Current())
	assert.Equal(t, 0, fs.Sets())
	_, ok := stored[prefs](t, fs, "prefs")
	assert.False(t, ok)
}
