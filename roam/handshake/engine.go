package handshake

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/TheusHen/roam/roam/network"
	"github.com/TheusHen/roam/roam/protocol"
	"github.com/TheusHen/roam/roam/transport"
)

const (
	DefaultTimeout         = 10 * time.Second
	DefaultReplayWindow    = 2 * time.Minute
	DefaultReplayCacheSize = 8192
)

// Config tunes an Engine. Zero fields take the defaults.
type Config struct {
	Timeout time.Duration
	// ReplayWindow is the accepted clock skew on hello timestamps.
	ReplayWindow    time.Duration
	ReplayCacheSize int
	// ListenPort is advertised in the hello so peers can gossip a dialable
	// address for this node.
	ListenPort uint16
	Logger     *logrus.Entry

	now func() time.Time
}

// Engine runs handshakes for one network membership. It is safe for
// concurrent use; each attempt has its own state.
type Engine struct {
	nc     *network.Context
	cfg    Config
	replay *replayCache
	log    *logrus.Entry
}

func NewEngine(nc *network.Context, cfg Config) (*Engine, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ReplayWindow <= 0 {
		cfg.ReplayWindow = DefaultReplayWindow
	}
	if cfg.ReplayCacheSize <= 0 {
		cfg.ReplayCacheSize = DefaultReplayCacheSize
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	rc, err := newReplayCache(cfg.ReplayCacheSize)
	if err != nil {
		return nil, err
	}
	return &Engine{
		nc:     nc,
		cfg:    cfg,
		replay: rc,
		log: cfg.Logger.WithFields(logrus.Fields{
			"component": "handshake",
			"local":     nc.LocalID().Short(),
		}),
	}, nil
}

// Timeout is the bound applied to every attempt.
func (e *Engine) Timeout() time.Duration { return e.cfg.Timeout }

// NewAttempt prepares a handshake over conn without running it.
func (e *Engine) NewAttempt(role protocol.Role, conn transport.Conn) *Attempt {
	return newAttempt(e, role, conn)
}

// Initiate runs the initiator side over a freshly dialed conn.
func (e *Engine) Initiate(ctx context.Context, conn transport.Conn) (*Result, error) {
	return e.NewAttempt(protocol.RoleInitiator, conn).Run(ctx)
}

// Respond runs the responder side over an accepted conn.
func (e *Engine) Respond(ctx context.Context, conn transport.Conn) (*Result, error) {
	return e.NewAttempt(protocol.RoleResponder, conn).Run(ctx)
}
