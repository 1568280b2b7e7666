package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cmdpkg "github.com/stupiduntilnot/chatrelay/internal/commander"
	"github.com/stupiduntilnot/chatrelay/internal/control"
	"github.com/stupiduntilnot/chatrelay/internal/db"
	"github.com/stupiduntilnot/chatrelay/internal/observability"
)

const pollErrorClass = "command_source_api"

// Handler processes one inbound message.
type Handler interface {
	Handle(ctx context.Context, msg *cmdpkg.Message)
}

// PollerOptions configures a Poller.
type PollerOptions struct {
	// PollTimeout is the long-poll timeout in seconds.
	PollTimeout    int
	MaxConcurrency int
	// IdleSleep is how long to wait after an empty poll. Real long-poll
	// transports block on their own and can leave it zero.
	IdleSleep time.Duration

	Logger        *slog.Logger
	Journal       *db.Journal
	Metrics       *observability.Metrics
	Circuit       *control.CircuitBreaker
	ParentEventID int64
}

// Poller feeds updates from a Commander to a Handler.
type Poller struct {
	commander cmdpkg.Commander
	handler   Handler
	opts      PollerOptions
	log       *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) bool
}

func NewPoller(commander cmdpkg.Commander, handler Handler, opts PollerOptions) *Poller {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 16
	}
	if opts.Circuit == nil {
		opts.Circuit = control.NewCircuitBreaker(5, 30*time.Second)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		commander: commander,
		handler:   handler,
		opts:      opts,
		log:       logger,
		sleep:     sleepCtx,
	}
}

// Run polls until ctx is cancelled, then waits for in-flight handlers.
func (p *Poller) Run(ctx context.Context) error {
	offset, err := p.opts.Journal.Offset()
	if err != nil {
		p.log.Warn("failed to load stored offset", "error", err)
	}

	// In-flight handlers finish even after shutdown starts; the completion
	// timeout bounds them.
	q := newUserQueues(context.WithoutCancel(ctx), p.handler, p.opts.MaxConcurrency)
	defer q.wait()

	circuit := p.opts.Circuit
	failures := 0

	for {
		if ctx.Err() != nil {
			return nil
		}

		allowed, probe := circuit.Allow(time.Now())
		if !allowed {
			if !p.sleep(ctx, time.Second) {
				return nil
			}
			continue
		}
		if probe {
			p.log.Info("circuit half-open, probing")
			p.journal(db.EventCircuitHalfOpen, map[string]any{"error_class": circuit.OpenedClass()})
		}

		updates, err := p.commander.GetUpdates(ctx, offset, p.opts.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			p.opts.Metrics.ObservePollError()
			p.log.Warn("getUpdates failed", "error", err, "attempt", failures)

			if circuit.RecordFailure(pollErrorClass, time.Now()) {
				p.log.Error("circuit opened", "error_class", pollErrorClass)
				p.journal(db.EventCircuitOpened, map[string]any{
					"error_class":      pollErrorClass,
					"threshold":        circuit.Threshold,
					"cooldown_seconds": int(circuit.Cooldown.Seconds()),
				})
			}
			if !p.sleep(ctx, control.Backoff(failures)) {
				return nil
			}
			continue
		}
		failures = 0
		if circuit.RecordSuccess() {
			p.log.Info("circuit closed")
			p.journal(db.EventCircuitClosed, map[string]any{"recovered": true})
		}

		if len(updates) == 0 {
			if p.opts.IdleSleep > 0 && !p.sleep(ctx, p.opts.IdleSleep) {
				return nil
			}
			continue
		}

		for _, update := range updates {
			if msg := update.Message; msg != nil && msg.Text != nil {
				if !q.enqueue(ctx, msg) {
					p.saveOffset(offset)
					return nil
				}
			}
			offset = update.UpdateID + 1
		}
		p.saveOffset(offset)
	}
}

func (p *Poller) saveOffset(offset int64) {
	if err := p.opts.Journal.SetOffset(offset); err != nil {
		p.log.Warn("failed to persist offset", "offset", offset, "error", err)
	}
}

// userQueues runs one worker per user with pending messages. A user's
// messages are handled one at a time in arrival order, across poll
// batches. Workers hold a slot of sem while alive.
type userQueues struct {
	handler Handler
	ctx     context.Context
	sem     chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	pending map[int64][]*cmdpkg.Message
}

func newUserQueues(ctx context.Context, handler Handler, limit int) *userQueues {
	return &userQueues{
		handler: handler,
		ctx:     ctx,
		sem:     make(chan struct{}, limit),
		pending: map[int64][]*cmdpkg.Message{},
	}
}

// enqueue appends msg to its user's queue, starting a worker when the user
// has none. It returns false if ctx ends before a free slot is taken; msg
// is then not queued.
func (q *userQueues) enqueue(ctx context.Context, msg *cmdpkg.Message) bool {
	uid := msg.SenderID()
	q.mu.Lock()
	if msgs, busy := q.pending[uid]; busy {
		q.pending[uid] = append(msgs, msg)
		q.mu.Unlock()
		return true
	}
	q.mu.Unlock()

	// Only enqueue starts workers, so uid is still idle after the wait.
	select {
	case q.sem <- struct{}{}:
	case <-ctx.Done():
		return false
	}
	if ctx.Err() != nil {
		<-q.sem
		return false
	}
	q.mu.Lock()
	q.pending[uid] = []*cmdpkg.Message{msg}
	q.mu.Unlock()

	q.wg.Add(1)
	go q.drain(uid)
	return true
}

func (q *userQueues) drain(uid int64) {
	defer q.wg.Done()
	defer func() { <-q.sem }()
	for {
		q.mu.Lock()
		msgs := q.pending[uid]
		if len(msgs) == 0 {
			delete(q.pending, uid)
			q.mu.Unlock()
			return
		}
		msg := msgs[0]
		q.pending[uid] = msgs[1:]
		q.mu.Unlock()

		q.handler.Handle(q.ctx, msg)
	}
}

func (q *userQueues) wait() {
	q.wg.Wait()
}

func (p *Poller) journal(eventType string, payload map[string]any) {
	parent := p.opts.ParentEventID
	if _, err := p.opts.Journal.Log(&parent, eventType, payload); err != nil {
		p.log.Warn("journal write failed", "event", eventType, "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
