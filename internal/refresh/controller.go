package refresh

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"soulcrush/internal/metrics"
	"soulcrush/internal/model"
)

// State is the lifecycle of the list view. Exactly one state holds at a
// time.
type State string

const (
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateFailed  State = "failed"
)

// View is the list as last fetched, tagged with the version tuple the
// fetch was requested for. Applications is only set when State is
// StateReady and Err only when State is StateFailed. Callers must treat
// Applications as read-only.
type View struct {
	State        State
	Key          Versions
	Applications []model.ApplicationResponse
	Err          error
}

// Fetcher loads the joined application list.
type Fetcher interface {
	ListApplications(ctx context.Context) ([]model.ApplicationResponse, error)
}

// Publisher is told about every new version tuple. Failures are logged
// and never affect the mutation that produced the tuple.
type Publisher interface {
	Publish(ctx context.Context, v Versions) error
}

// ErrAlreadyRunning is returned by Run when the controller loop is
// already active.
var ErrAlreadyRunning = errors.New("refresh controller already running")

// Controller re-fetches the application list whenever the version tuple
// changes. Record bumps a counter and wakes the loop; the wake channel
// holds at most one token, so any number of mutations that land before
// the loop wakes produce a single fetch for the latest tuple.
type Controller struct {
	fetcher   Fetcher
	publisher Publisher
	logger    *slog.Logger
	timeout   time.Duration

	counters Counters
	wake     chan struct{}
	running  atomic.Bool

	mu      sync.Mutex
	view    View
	viewSeq uint64
	seq     uint64
	lastKey Versions
	forced  bool
	changed chan struct{}
	subs    map[int]chan View
	nextSub int
}

type Option func(*Controller)

func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithFetchTimeout bounds each list fetch. Zero means no bound beyond
// the context passed to Run.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Controller) { c.timeout = d }
}

func WithPublisher(p Publisher) Option {
	return func(c *Controller) { c.publisher = p }
}

// NewController builds a controller in the loading state. Nothing is
// fetched until Run is called.
func NewController(f Fetcher, opts ...Option) *Controller {
	c := &Controller{
		fetcher: f,
		logger:  slog.Default(),
		wake:    make(chan struct{}, 1),
		view:    View{State: StateLoading},
		changed: make(chan struct{}),
		subs:    make(map[int]chan View),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key returns the current version tuple.
func (c *Controller) Key() Versions {
	return c.counters.Snapshot()
}

// Record notes one successfully committed mutation of kind k and
// returns the new tuple. Call it only after the write committed.
func (c *Controller) Record(ctx context.Context, k Kind) Versions {
	v := c.counters.Bump(k)
	c.nudge()

	if c.publisher != nil {
		if err := c.publisher.Publish(ctx, v); err != nil {
			c.logger.Warn("publish versions failed", "key", v.String(), "error", err)
		}
	}
	return v
}

// Retry forces one more fetch for the current tuple, after a failed load
// or when another process reported a write. The counters are untouched.
func (c *Controller) Retry() {
	c.mu.Lock()
	c.forced = true
	c.mu.Unlock()
	c.nudge()
}

func (c *Controller) nudge() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Run fetches the list once and then once per distinct tuple until ctx
// is cancelled. In-flight fetches are not cancelled by newer ones;
// their results are discarded on arrival instead.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer c.running.Store(false)

	c.mu.Lock()
	c.forced = true
	c.mu.Unlock()
	c.request(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.wake:
			c.request(ctx)
		}
	}
}

// request starts a fetch when the tuple moved since the last request
// (or a retry was asked for). Repeated wakes for an unchanged tuple are
// dropped here, which is what keeps refreshes from duplicating.
func (c *Controller) request(ctx context.Context) {
	key := c.counters.Snapshot()

	c.mu.Lock()
	if !c.forced && key == c.lastKey {
		c.mu.Unlock()
		return
	}
	c.forced = false
	c.lastKey = key
	c.seq++
	seq := c.seq
	c.mu.Unlock()

	c.logger.Debug("refreshing application list", "key", key.String(), "seq", seq)
	go c.fetch(ctx, seq, key)
}

func (c *Controller) fetch(ctx context.Context, seq uint64, key Versions) {
	fctx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	apps, err := c.fetcher.ListApplications(fctx)
	c.apply(seq, key, apps, err)
}

// apply installs a fetch result unless a newer fetch has been requested
// since, in which case the result is dropped (last fetch wins).
func (c *Controller) apply(seq uint64, key Versions, apps []model.ApplicationResponse, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if seq != c.seq {
		metrics.RecordListFetch("stale")
		c.logger.Debug("discarding stale list fetch", "key", key.String(), "seq", seq, "latest_seq", c.seq)
		return
	}

	view := View{Key: key}
	if err != nil {
		view.State = StateFailed
		view.Err = err
		metrics.RecordListFetch("error")
		c.logger.Error("list fetch failed", "key", key.String(), "error", err)
	} else {
		view.State = StateReady
		view.Applications = apps
		metrics.RecordListFetch("ok")
	}

	c.view = view
	c.viewSeq = seq
	close(c.changed)
	c.changed = make(chan struct{})

	for _, ch := range c.subs {
		deliverLatest(ch, view)
	}
}

// deliverLatest replaces whatever view is still buffered in ch so slow
// subscribers only ever see the newest one.
func deliverLatest(ch chan View, v View) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}

// View returns the most recently applied view without waiting.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

// Await blocks until the view reflects the latest recorded tuple and
// the latest requested fetch, then returns it. The returned view is
// either ready or failed, never loading.
func (c *Controller) Await(ctx context.Context) (View, error) {
	for {
		c.mu.Lock()
		fresh := c.view.State != StateLoading &&
			c.viewSeq == c.seq &&
			!c.forced &&
			c.view.Key == c.counters.Snapshot()
		view, ch := c.view, c.changed
		c.mu.Unlock()

		if fresh {
			return view, nil
		}

		select {
		case <-ch:
		case <-ctx.Done():
			return view, ctx.Err()
		}
	}
}

// Subscribe registers for applied views. The current view is delivered
// first if it is no longer loading. The channel is closed by the
// returned cancel func.
func (c *Controller) Subscribe() (<-chan View, func()) {
	ch := make(chan View, 1)

	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	if c.view.State != StateLoading {
		ch <- c.view
	}
	c.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			close(ch)
			c.mu.Unlock()
		})
	}
	return ch, cancel
}
