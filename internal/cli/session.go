package cli

import (
	"fmt"
	"log/slog"

	"github.com/roach88/tabstate/internal/broadcast"
	"github.com/roach88/tabstate/internal/broadcast/wsrelay"
	"github.com/roach88/tabstate/internal/bus"
	"github.com/roach88/tabstate/internal/codec"
	"github.com/roach88/tabstate/internal/config"
	"github.com/roach88/tabstate/internal/metrics"
	"github.com/roach88/tabstate/internal/state"
	"github.com/roach88/tabstate/internal/store"
)

// session is the environment probing layer: it turns configuration into
// the capabilities a container is given.
type session struct {
	cfg      config.Config
	logger   *slog.Logger
	store    store.Store
	closer   func() error
	failures *state.CaptureReporter
	metrics  *metrics.Metrics
}

func openSession(opts *RootOptions) (*session, error) {
	s := &session{
		cfg:      opts.cfg,
		logger:   opts.logger,
		closer:   func() error { return nil },
		failures: &state.CaptureReporter{},
		metrics:  metrics.New(metrics.Config{}),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	switch {
	case opts.Store != nil:
		s.store = opts.Store
	case s.cfg.Store.Backend == "memory":
		s.store = store.NewMemory()
	case s.cfg.Store.Backend == "s3":
		s.store = store.OpenS3(store.S3Config{
			Bucket:   s.cfg.Store.Bucket,
			Prefix:   s.cfg.Store.Prefix,
			Region:   s.cfg.Store.Region,
			Endpoint: s.cfg.Store.Endpoint,
		})
	default:
		db, err := store.Open(s.cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("open store %s: %w", s.cfg.Store.Path, err)
		}
		s.store = db
		s.closer = db.Close
	}
	s.logger.Debug("store ready", "backend", s.cfg.Store.Backend,
		"path", s.cfg.Store.Path, "bucket", s.cfg.Store.Bucket)
	return s, nil
}

func (s *session) Close() error {
	return s.closer()
}

// opener returns the relay dialer when a relay is configured.
func (s *session) opener() broadcast.Opener {
	if s.cfg.Sync.Relay == "" {
		return nil
	}
	return &wsrelay.Dialer{BaseURL: s.cfg.Sync.Relay, Logger: s.logger}
}

// container builds a state container for key holding arbitrary JSON-like
// values. b may be nil.
func (s *session) container(key string, b *bus.Bus) (*state.State[any], error) {
	serializer, err := codec.Named[any](s.cfg.Codec)
	if err != nil {
		return nil, err
	}
	env := state.Env{
		Store:    s.store,
		Channels: s.opener(),
		Reporter: s.metrics.Reporter(state.MultiReporter{
			state.LogReporter{Logger: s.logger},
			s.failures,
		}),
		Logger: s.logger,
		Bus:    b,
	}
	return state.New[any](key, nil, env, state.Options[any]{
		Serializer: serializer,
		SyncTabs:   s.cfg.Sync.Tabs || s.cfg.Sync.Relay != "",
	}), nil
}

// failed returns the failures of kind reported so far.
func (s *session) failed(kind state.FailureKind) []state.Failure {
	var out []state.Failure
	for _, f := range s.failures.Failures() {
		if f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}
