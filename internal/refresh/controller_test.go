package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/sync/errgroup"

	"soulcrush/internal/metrics"
	"soulcrush/internal/model"
)

// fakeFetcher counts calls and delegates each one to fn with its
// 1-based call number.
type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	fn    func(call int) ([]model.ApplicationResponse, error)
}

func (f *fakeFetcher) ListApplications(ctx context.Context) ([]model.ApplicationResponse, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	fn := f.fn
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(n)
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func named(name string) []model.ApplicationResponse {
	return []model.ApplicationResponse{{
		ID:      uuid.New(),
		Company: model.Company{ID: uuid.New(), Name: name},
		Status:  model.StatusToDo,
	}}
}

func startController(t *testing.T, f Fetcher, opts ...Option) *Controller {
	t.Helper()
	c := NewController(f, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return c
}

func await(t *testing.T, c *Controller) View {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := c.Await(ctx)
	if err != nil {
		t.Fatalf("Await error: %v (view state %s key %s)", err, v.State, v.Key)
	}
	return v
}

func TestView_LoadingBeforeFirstFetch(t *testing.T) {
	c := NewController(&fakeFetcher{})
	if got := c.View().State; got != StateLoading {
		t.Fatalf("expected loading state, got %s", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	v, err := c.Await(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded while loading, got %v", err)
	}
	if v.State != StateLoading {
		t.Fatalf("expected loading view, got %s", v.State)
	}
}

func TestRun_InitialFetch(t *testing.T) {
	f := &fakeFetcher{fn: func(int) ([]model.ApplicationResponse, error) { return named("Acme"), nil }}
	c := startController(t, f)

	v := await(t, c)
	if v.State != StateReady {
		t.Fatalf("expected ready, got %s", v.State)
	}
	if v.Key != (Versions{}) {
		t.Fatalf("expected zero key, got %s", v.Key)
	}
	if len(v.Applications) != 1 || v.Applications[0].Company.Name != "Acme" {
		t.Fatalf("unexpected applications: %+v", v.Applications)
	}
	if f.Calls() != 1 {
		t.Fatalf("expected 1 fetch, got %d", f.Calls())
	}
}

func TestRun_RejectsSecondLoop(t *testing.T) {
	c := startController(t, &fakeFetcher{})
	await(t, c)
	if err := c.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestRecord_BurstCoalescesIntoOneFetch(t *testing.T) {
	f := &fakeFetcher{}
	c := NewController(f)

	ctx := context.Background()
	c.Record(ctx, KindCreate)
	c.Record(ctx, KindDelete)
	c.Record(ctx, KindUpdate)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = c.Run(runCtx) }()

	v := await(t, c)
	if want := (Versions{Create: 1, Delete: 1, Update: 1}); v.Key != want {
		t.Fatalf("expected key %s, got %s", want, v.Key)
	}

	// One more mutation must cost exactly one more fetch. A leftover wake
	// from the burst either merges with it or is dropped as unchanged.
	c.Record(ctx, KindUpdate)
	v = await(t, c)
	if v.Key.Update != 2 {
		t.Fatalf("expected update version 2, got %s", v.Key)
	}
	if got := f.Calls(); got != 2 {
		t.Fatalf("expected 2 fetches, got %d", got)
	}
}

func TestRecord_EachMutationRefetchesOnce(t *testing.T) {
	f := &fakeFetcher{}
	c := startController(t, f)
	await(t, c)

	ctx := context.Background()
	kinds := []Kind{KindCreate, KindUpdate, KindDelete, KindUpdate, KindCreate}
	for i, k := range kinds {
		c.Record(ctx, k)
		v := await(t, c)
		if v.Key.Total() != uint64(i+1) {
			t.Fatalf("after %d mutations expected total %d, got %s", i+1, i+1, v.Key)
		}
		if got := f.Calls(); got != i+2 {
			t.Fatalf("after %d mutations expected %d fetches, got %d", i+1, i+2, got)
		}
	}
}

func TestApply_DiscardsStaleCompletion(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	returned := make(chan struct{})

	f := &fakeFetcher{fn: func(call int) ([]model.ApplicationResponse, error) {
		switch call {
		case 2:
			close(started)
			<-release
			defer close(returned)
			return named("old"), nil
		case 3:
			return named("new"), nil
		}
		return nil, nil
	}}
	c := startController(t, f)
	await(t, c)

	ctx := context.Background()
	c.Record(ctx, KindCreate)
	<-started
	c.Record(ctx, KindCreate)

	v := await(t, c)
	if v.Key.Create != 2 || v.Applications[0].Company.Name != "new" {
		t.Fatalf("expected newest fetch applied, got key %s apps %+v", v.Key, v.Applications)
	}

	before := testutil.ToFloat64(metrics.ListFetches.WithLabelValues("stale"))
	close(release)
	<-returned

	deadline := time.Now().Add(2 * time.Second)
	for testutil.ToFloat64(metrics.ListFetches.WithLabelValues("stale")) <= before {
		if time.Now().After(deadline) {
			t.Fatalf("stale fetch was never discarded")
		}
		time.Sleep(time.Millisecond)
	}

	v = c.View()
	if v.Key.Create != 2 || v.Applications[0].Company.Name != "new" {
		t.Fatalf("late stale completion overwrote view: key %s apps %+v", v.Key, v.Applications)
	}
}

func TestFailedFetch_IsDistinctStateAndRetryRecovers(t *testing.T) {
	var mu sync.Mutex
	fail := true
	f := &fakeFetcher{fn: func(int) ([]model.ApplicationResponse, error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return nil, errors.New("database is locked")
		}
		return []model.ApplicationResponse{}, nil
	}}
	c := startController(t, f)

	v := await(t, c)
	if v.State != StateFailed {
		t.Fatalf("expected failed state, got %s", v.State)
	}
	if v.Err == nil || v.Applications != nil {
		t.Fatalf("expected error and no applications, got err=%v apps=%v", v.Err, v.Applications)
	}

	mu.Lock()
	fail = false
	mu.Unlock()
	c.Retry()

	v = await(t, c)
	if v.State != StateReady {
		t.Fatalf("expected ready after retry, got %s (%v)", v.State, v.Err)
	}
	if v.Applications == nil || len(v.Applications) != 0 {
		t.Fatalf("expected empty, non-nil list, got %#v", v.Applications)
	}
	if got := f.Calls(); got != 2 {
		t.Fatalf("expected 2 fetches, got %d", got)
	}
}

func TestSubscribe_GetsLatestView(t *testing.T) {
	f := &fakeFetcher{fn: func(call int) ([]model.ApplicationResponse, error) {
		return named(fmt.Sprintf("call-%d", call)), nil
	}}
	c := startController(t, f)
	await(t, c)

	ch, cancel := c.Subscribe()
	defer cancel()

	first := <-ch
	if first.State != StateReady || first.Key != (Versions{}) {
		t.Fatalf("expected current ready view first, got %s %s", first.State, first.Key)
	}

	c.Record(context.Background(), KindDelete)
	select {
	case v := <-ch:
		if v.Key.Delete != 1 {
			t.Fatalf("expected delete version 1, got %s", v.Key)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for subscribed view")
	}

	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel closed after cancel")
	}
}

type recordingPublisher struct {
	mu   sync.Mutex
	seen []Versions
}

func (p *recordingPublisher) Publish(_ context.Context, v Versions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, v)
	return nil
}

func TestRecord_PublishesEveryTuple(t *testing.T) {
	pub := &recordingPublisher{}
	c := NewController(&fakeFetcher{}, WithPublisher(pub))

	c.Record(context.Background(), KindCreate)
	c.Record(context.Background(), KindUpdate)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	want := []Versions{{Create: 1}, {Create: 1, Update: 1}}
	if len(pub.seen) != len(want) {
		t.Fatalf("expected %d publishes, got %d", len(want), len(pub.seen))
	}
	for i := range want {
		if pub.seen[i] != want[i] {
			t.Fatalf("publish %d: expected %s, got %s", i, want[i], pub.seen[i])
		}
	}
}

func TestRecord_ConcurrentMutationsConverge(t *testing.T) {
	f := &fakeFetcher{}
	c := startController(t, f)
	await(t, c)

	const n = 30
	var g errgroup.Group
	for i := 0; i < n; i++ {
		k := Kind(i % 3)
		g.Go(func() error {
			c.Record(context.Background(), k)
			return nil
		})
	}
	_ = g.Wait()

	v := await(t, c)
	if want := (Versions{Create: n / 3, Delete: n / 3, Update: n / 3}); v.Key != want {
		t.Fatalf("expected key %s, got %s", want, v.Key)
	}
	if got := f.Calls(); got < 2 || got > n+1 {
		t.Fatalf("expected between 2 and %d fetches, got %d", n+1, got)
	}
}

func TestCounters_SnapshotsNeverGoBackward(t *testing.T) {
	var c Counters
	var g errgroup.Group

	for i := 0; i < 4; i++ {
		k := Kind(i % 3)
		g.Go(func() error {
			for j := 0; j < 500; j++ {
				c.Bump(k)
			}
			return nil
		})
	}
	g.Go(func() error {
		var last Versions
		for j := 0; j < 2000; j++ {
			cur := c.Snapshot()
			if cur.Create < last.Create || cur.Delete < last.Delete || cur.Update < last.Update {
				return fmt.Errorf("snapshot went backward: %s after %s", cur, last)
			}
			last = cur
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if got := c.Snapshot().Total(); got != 2000 {
		t.Fatalf("expected 2000 bumps, got %d", got)
	}
}
