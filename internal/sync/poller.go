package sync

import (
	"context"
	"time"

	"go.uber.org/zap"

	"msgr/internal/session"
)

const (
	defaultPollInterval = 10 * time.Second
	defaultInitialDelay = time.Second
)

// Poller periodically reconciles the chat list and polls every chat for new
// messages while a user is signed in. Tick failures are transient: they are
// logged and the next tick retries.
type Poller struct {
	engine       *Engine
	session      *session.Manager
	logger       *zap.Logger
	interval     time.Duration
	initialDelay time.Duration
	cancel       context.CancelFunc
	done         chan struct{}
}

// NewPoller creates a poller. Non-positive durations fall back to defaults.
func NewPoller(engine *Engine, sess *session.Manager, logger *zap.Logger, interval, initialDelay time.Duration) *Poller {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if initialDelay <= 0 {
		initialDelay = defaultInitialDelay
	}
	return &Poller{
		engine:       engine,
		session:      sess,
		logger:       logger,
		interval:     interval,
		initialDelay: initialDelay,
	}
}

// Start launches the poll loop.
func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.loop(ctx)
}

// Stop cancels the loop and waits for the in-flight tick to finish.
func (p *Poller) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)

	select {
	case <-time.After(p.initialDelay):
	case <-ctx.Done():
		return
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.tick(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	if !p.session.SignedIn() {
		return
	}
	if err := p.engine.UpdateChatsList(ctx); err != nil {
		p.logger.Warn("chat list poll failed", zap.Error(err))
	}
	if err := p.engine.UpdateAllMessages(ctx); err != nil {
		p.logger.Warn("message poll failed", zap.Error(err))
	}
}
