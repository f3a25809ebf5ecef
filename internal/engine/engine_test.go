package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/i474232898/weather-time-animator/internal/animation"
	"github.com/i474232898/weather-time-animator/internal/capabilities"
	"github.com/i474232898/weather-time-animator/internal/layersync"
	"github.com/i474232898/weather-time-animator/internal/store"
	"github.com/i474232898/weather-time-animator/internal/timeline"
)

var testNow = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

func at(hour int) timeline.TimePoint {
	return timeline.FromTime(time.Date(2024, 1, 1, hour, 0, 0, 0, time.UTC))
}

type fakeRenderer struct {
	mu      sync.Mutex
	created int
	removed int
	live    map[*int]bool
}

func (r *fakeRenderer) CreateLayer(id string, cfg animation.LayerConfig, t timeline.TimePoint) (animation.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created++
	h := new(int)
	if r.live == nil {
		r.live = map[*int]bool{}
	}
	r.live[h] = true
	return h, nil
}

func (r *fakeRenderer) UpdateLayerSource(h animation.Handle, t timeline.TimePoint) error { return nil }
func (r *fakeRenderer) PlaceAdjacent(h, anchor animation.Handle)                     {}
func (r *fakeRenderer) SetVisibility(h animation.Handle, visible bool, opacity float64) {}

func (r *fakeRenderer) RemoveLayer(h animation.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed++
	delete(r.live, h.(*int))
}

func (r *fakeRenderer) liveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// manualSignal fires render completion only when the test says so.
type manualSignal struct {
	mu        sync.Mutex
	next      int
	subs      map[int]func()
	cancelled int
}

func (s *manualSignal) OnceRenderComplete(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = map[int]func(){}
	}
	s.next++
	id := s.next
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			s.cancelled++
		}
	}
}

func (s *manualSignal) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *manualSignal) fire() {
	s.mu.Lock()
	subs := s.subs
	s.subs = map[int]func(){}
	s.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	if opts.Renderer == nil {
		opts.Renderer = &fakeRenderer{}
	}
	if opts.Store == nil {
		opts.Store = store.NewMemoryStore()
	}
	if opts.Fetcher == nil {
		opts.Fetcher = capabilities.FetcherFunc(func(ctx context.Context, url string) ([]byte, error) {
			return nil, errors.New("offline")
		})
	}
	opts.Now = func() time.Time { return testNow }
	e := New(opts)
	t.Cleanup(e.Destroy)
	return e
}

func radarLayer(hours ...int) animation.LayerConfig {
	var data []string
	for _, h := range hours {
		data = append(data, at(h).String())
	}
	return animation.LayerConfig{ID: "radar", Time: &animation.TimeConfig{Data: data}}
}

func current(t *testing.T, e *Engine) timeline.TimePoint {
	t.Helper()
	st, err := e.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Animation.CurrentTime == nil {
		t.Fatalf("no current time")
	}
	return *st.Animation.CurrentTime
}

func TestConfigureStartsNearestNow(t *testing.T) {
	e := newTestEngine(t, Options{})
	ctx := context.Background()
	if err := e.Configure(ctx, []animation.LayerConfig{radarLayer(8, 9, 11, 12)}, nil); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if got := current(t, e); got != at(9) {
		t.Fatalf("expected start at 09:00 (nearest, earlier on tie), got %s", got)
	}
	st, _ := e.Status(ctx)
	if len(st.Times) != 4 || st.Animation.State != "ready" {
		t.Fatalf("unexpected status %+v", st.Animation)
	}
}

func TestConfigureRejectsDuplicateIDs(t *testing.T) {
	e := newTestEngine(t, Options{})
	err := e.Configure(context.Background(), []animation.LayerConfig{{ID: "a"}, {ID: "a"}}, nil)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestNavigationStopsAtBoundary(t *testing.T) {
	e := newTestEngine(t, Options{})
	ctx := context.Background()
	if err := e.Configure(ctx, []animation.LayerConfig{radarLayer(10, 11)}, nil); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if p, moved, _ := e.Next(ctx); !moved || p != at(11) {
		t.Fatalf("Next: got %s/%v", p, moved)
	}
	if _, moved, _ := e.Next(ctx); moved {
		t.Fatalf("Next past the end must not move without delay-loop")
	}
	if p, moved, _ := e.Previous(ctx); !moved || p != at(10) {
		t.Fatalf("Previous: got %s/%v", p, moved)
	}
	if p, _, _ := e.Seek(ctx, at(11)-1); p != at(11) {
		t.Fatalf("Seek should snap to 11:00, got %s", p)
	}
}

func TestNavigationOnEmptyAxisIsNoop(t *testing.T) {
	e := newTestEngine(t, Options{})
	ctx := context.Background()
	if _, moved, err := e.Next(ctx); moved || err != nil {
		t.Fatalf("Next on empty axis: moved=%v err=%v", moved, err)
	}
	if started, err := e.Play(ctx, animation.PlayOptions{}); started || err != nil {
		t.Fatalf("Play on empty axis: started=%v err=%v", started, err)
	}
}

func TestPlaybackWaitsForRenderComplete(t *testing.T) {
	sig := &manualSignal{}
	e := newTestEngine(t, Options{RenderSignal: sig, StepDelay: time.Millisecond})
	ctx := context.Background()
	if err := e.Configure(ctx, []animation.LayerConfig{radarLayer(10, 11, 12)}, nil); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if started, err := e.Play(ctx, animation.PlayOptions{}); !started || err != nil {
		t.Fatalf("play: started=%v err=%v", started, err)
	}

	eventually(t, "first tick", func() bool { return current(t, e) == at(11) })
	eventually(t, "render subscription", func() bool { return sig.pending() == 1 })

	time.Sleep(20 * time.Millisecond)
	if got := current(t, e); got != at(11) {
		t.Fatalf("clock advanced to %s without render complete", got)
	}
	st, _ := e.Status(ctx)
	if st.Animation.PendingAdvanceRequestedAt == nil {
		t.Fatalf("pending advance should be reported while gated")
	}

	sig.fire()
	eventually(t, "second tick", func() bool { return current(t, e) == at(12) })
}

func TestPlaybackPausesAtEndWithoutDelayLoop(t *testing.T) {
	e := newTestEngine(t, Options{StepDelay: time.Millisecond})
	ctx := context.Background()
	if err := e.Configure(ctx, []animation.LayerConfig{radarLayer(10, 11)}, nil); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if _, err := e.Play(ctx, animation.PlayOptions{}); err != nil {
		t.Fatalf("play: %v", err)
	}
	eventually(t, "pause at end", func() bool {
		st, _ := e.Status(ctx)
		return st.Animation.State == "paused"
	})
	if got := current(t, e); got != at(11) {
		t.Fatalf("expected to stop on last frame, got %s", got)
	}
}

func TestDelayLoopHoldsThenWraps(t *testing.T) {
	e := newTestEngine(t, Options{DelayLoop: true})
	ctx := context.Background()
	if err := e.Configure(ctx, []animation.LayerConfig{radarLayer(10, 11)}, nil); err != nil {
		t.Fatalf("configure: %v", err)
	}
	e.Next(ctx)
	if p, moved, _ := e.Next(ctx); !moved || p != at(11) {
		t.Fatalf("expected hold tick on 11:00, got %s/%v", p, moved)
	}
	if p, moved, _ := e.Next(ctx); !moved || p != at(10) {
		t.Fatalf("expected wrap to 10:00, got %s/%v", p, moved)
	}
}

func TestRenderTimeoutForcesAdvance(t *testing.T) {
	sig := &manualSignal{}
	e := newTestEngine(t, Options{
		RenderSignal:  sig,
		StepDelay:     time.Millisecond,
		RenderTimeout: 10 * time.Millisecond,
	})
	ctx := context.Background()
	if err := e.Configure(ctx, []animation.LayerConfig{radarLayer(10, 11, 12)}, nil); err != nil {
		t.Fatalf("configure: %v", err)
	}
	e.Play(ctx, animation.PlayOptions{})
	eventually(t, "advance without render signal", func() bool { return current(t, e) == at(12) })
}

func TestPauseCancelsRenderSubscription(t *testing.T) {
	sig := &manualSignal{}
	e := newTestEngine(t, Options{RenderSignal: sig, StepDelay: time.Millisecond})
	ctx := context.Background()
	if err := e.Configure(ctx, []animation.LayerConfig{radarLayer(10, 11, 12)}, nil); err != nil {
		t.Fatalf("configure: %v", err)
	}
	e.Play(ctx, animation.PlayOptions{})
	eventually(t, "render subscription", func() bool { return sig.pending() == 1 })

	if err := e.Pause(ctx); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if sig.pending() != 0 {
		t.Fatalf("pause should detach the render subscription")
	}
	sig.fire()
	time.Sleep(10 * time.Millisecond)
	if got := current(t, e); got != at(11) {
		t.Fatalf("paused clock moved to %s", got)
	}
}

func TestStopRewinds(t *testing.T) {
	e := newTestEngine(t, Options{})
	ctx := context.Background()
	if err := e.Configure(ctx, []animation.LayerConfig{radarLayer(9, 10, 11)}, nil); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if err := e.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	st, _ := e.Status(ctx)
	if *st.Animation.CurrentTime != at(9) || st.Animation.State != "stopped" {
		t.Fatalf("stop should rewind to 09:00, got %+v", st.Animation)
	}
}

const radarCaps = `<WMS_Capabilities version="1.3.0"><Capability><Layer><Name>radar</Name>
<Dimension name="time">2024-01-01T08:00:00Z/2024-01-01T14:00:00Z/PT1H</Dimension></Layer></Capability></WMS_Capabilities>`

func TestCountPlaceholderUsesCapabilityTimes(t *testing.T) {
	var fetched []string
	var mu sync.Mutex
	fetcher := capabilities.FetcherFunc(func(ctx context.Context, url string) ([]byte, error) {
		mu.Lock()
		fetched = append(fetched, url)
		mu.Unlock()
		return []byte(radarCaps), nil
	})
	e := newTestEngine(t, Options{Fetcher: fetcher})
	ctx := context.Background()

	layers := []animation.LayerConfig{
		{
			ID:     "radar",
			Source: "dwd",
			URL:    animation.ServiceConfig{Service: "WMS", Layers: "radar"},
			Time:   &animation.TimeConfig{Range: "3 times"},
		},
		{
			ID:     "radar-history",
			Source: "dwd",
			URL:    animation.ServiceConfig{Service: "WMS", Layers: "radar"},
			Time:   &animation.TimeConfig{Range: "2 times history"},
		},
	}
	sources := map[string]animation.SourceConfig{
		"dwd": {Type: "wms", Tiles: []string{"https://maps.example.com/wms"}},
	}
	if err := e.Configure(ctx, layers, sources); err != nil {
		t.Fatalf("configure: %v", err)
	}

	mu.Lock()
	n := len(fetched)
	mu.Unlock()
	if n != 1 {
		t.Fatalf("expected one deduplicated fetch, got %d", n)
	}

	st, _ := e.Status(ctx)
	var got []timeline.TimePoint
	for _, s := range st.Times {
		got = append(got, timeline.TimePoint(s.Time))
	}
	want := []timeline.TimePoint{at(8), at(9), at(10), at(11), at(12)}
	if len(got) != len(want) {
		t.Fatalf("axis: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("axis: got %v, want %v", got, want)
		}
	}

	entries, err := e.Capabilities()
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one cached entry, got %d (%v)", len(entries), err)
	}
}

func TestTimeStatusListener(t *testing.T) {
	e := newTestEngine(t, Options{})
	ctx := context.Background()

	var (
		mu   sync.Mutex
		last Status
	)
	unsubscribe, err := e.OnTimeStatusChanged(func(s Status) {
		mu.Lock()
		last = s
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsubscribe()

	if err := e.Configure(ctx, []animation.LayerConfig{radarLayer(10, 11)}, nil); err != nil {
		t.Fatalf("configure: %v", err)
	}
	st, _ := e.Status(ctx)
	primary := st.Layers[0].Instances[0]
	e.LoadComplete(primary.ID, primary.Time)

	eventually(t, "loaded status", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(last.Times) == 2 && last.Times[0].Status == animation.StatusLoaded
	})
	mu.Lock()
	defer mu.Unlock()
	if last.Times[1].Status != animation.StatusLoading {
		t.Fatalf("pre-fetched next frame should be loading, got %s", last.Times[1].Status)
	}
}

func TestSetLayerVisibleCascadesAndRejectsUnknown(t *testing.T) {
	e := newTestEngine(t, Options{})
	ctx := context.Background()
	past := radarLayer(9, 10)
	past.ID, past.Next = "past", "future"
	future := radarLayer(11, 12)
	future.ID, future.Previous = "future", "past"
	if err := e.Configure(ctx, []animation.LayerConfig{past, future}, nil); err != nil {
		t.Fatalf("configure: %v", err)
	}

	touched, err := e.SetLayerVisible(ctx, "future", false)
	if err != nil || len(touched) != 2 {
		t.Fatalf("expected both chained layers hidden, got %v (%v)", touched, err)
	}
	st, _ := e.Status(ctx)
	for _, l := range st.Layers {
		if l.Visible {
			t.Fatalf("layer %s should be hidden", l.ID)
		}
	}
	if _, err := e.SetLayerVisible(ctx, "nope", true); !errors.Is(err, ErrUnknownLayer) {
		t.Fatalf("expected ErrUnknownLayer, got %v", err)
	}
}

func TestDestroyReleasesEverything(t *testing.T) {
	r := &fakeRenderer{}
	sig := &manualSignal{}
	e := newTestEngine(t, Options{Renderer: r, RenderSignal: sig, StepDelay: time.Millisecond})
	ctx := context.Background()
	if err := e.Configure(ctx, []animation.LayerConfig{radarLayer(10, 11, 12)}, nil); err != nil {
		t.Fatalf("configure: %v", err)
	}
	e.Play(ctx, animation.PlayOptions{})
	eventually(t, "render subscription", func() bool { return sig.pending() == 1 })

	e.Destroy()
	if sig.pending() != 0 {
		t.Fatalf("destroy should detach from the render signal")
	}
	if r.liveCount() != 0 {
		t.Fatalf("destroy should remove every layer, %d left", r.liveCount())
	}
	if _, _, err := e.Next(ctx); !errors.Is(err, ErrDestroyed) {
		t.Fatalf("expected ErrDestroyed, got %v", err)
	}
	e.LoadComplete("x", 0)
}

const radarCapsLater = `<WMS_Capabilities version="1.3.0"><Capability><Layer><Name>radar</Name>
<Dimension name="time">2024-01-01T12:00:00Z/2024-01-01T18:00:00Z/PT1H</Dimension></Layer></Capability></WMS_Capabilities>`

// switchingFetcher serves whatever document was set last.
type switchingFetcher struct {
	mu  sync.Mutex
	doc string
}

func (f *switchingFetcher) set(doc string) {
	f.mu.Lock()
	f.doc = doc
	f.mu.Unlock()
}

func (f *switchingFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return []byte(f.doc), nil
}

func capabilityLayer() animation.LayerConfig {
	return animation.LayerConfig{
		ID:     "radar",
		Source: "dwd",
		URL:    animation.ServiceConfig{Service: "WMS", Layers: "radar"},
		Time:   &animation.TimeConfig{},
	}
}

var dwdSources = map[string]animation.SourceConfig{
	"dwd": {Type: "wms", Tiles: []string{"https://maps.example.com/wms"}},
}

func primaryOf(t *testing.T, e *Engine) layersync.Instance {
	t.Helper()
	st, err := e.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, l := range st.Layers {
		for _, in := range l.Instances {
			if in.Role == layersync.RolePrimary {
				return in
			}
		}
	}
	t.Fatalf("no primary instance")
	return layersync.Instance{}
}

func axisTimes(t *testing.T, e *Engine) []timeline.TimePoint {
	t.Helper()
	st, err := e.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var out []timeline.TimePoint
	for _, s := range st.Times {
		out = append(out, timeline.TimePoint(s.Time))
	}
	return out
}

func TestRefreshClampsClockToMovedWindow(t *testing.T) {
	fetcher := &switchingFetcher{doc: radarCaps}
	r := &fakeRenderer{}
	e := newTestEngine(t, Options{Fetcher: fetcher, Renderer: r})
	ctx := context.Background()

	if err := e.Configure(ctx, []animation.LayerConfig{capabilityLayer()}, dwdSources); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if got := current(t, e); got != at(10) {
		t.Fatalf("expected start at 10:00, got %s", got)
	}
	before := primaryOf(t, e)
	created := r.created

	fetcher.set(radarCapsLater)
	if err := e.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if got := current(t, e); got != at(12) {
		t.Fatalf("expected clock clamped to 12:00, got %s", got)
	}
	times := axisTimes(t, e)
	if len(times) != 7 || times[0] != at(12) || times[6] != at(18) {
		t.Fatalf("axis should cover 12:00-18:00, got %v", times)
	}
	after := primaryOf(t, e)
	if after.ID != before.ID || after.Time != at(12) {
		t.Fatalf("primary should be re-bound in place to 12:00, got %+v (was %+v)", after, before)
	}
	if r.created != created {
		t.Fatalf("refresh should reuse instances, creations %d->%d", created, r.created)
	}
}

func TestRefreshKeepsValidCurrentTime(t *testing.T) {
	fetcher := &switchingFetcher{doc: radarCaps}
	e := newTestEngine(t, Options{Fetcher: fetcher})
	ctx := context.Background()

	if err := e.Configure(ctx, []animation.LayerConfig{capabilityLayer()}, dwdSources); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if _, _, err := e.Next(ctx); err != nil {
		t.Fatalf("next: %v", err)
	}
	if err := e.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got := current(t, e); got != at(11) {
		t.Fatalf("refresh should keep 11:00, got %s", got)
	}
}

func TestRefreshForSupersededConfigurationIsDropped(t *testing.T) {
	fetcher := &switchingFetcher{doc: radarCaps}
	e := newTestEngine(t, Options{Fetcher: fetcher})
	ctx := context.Background()

	if err := e.Configure(ctx, []animation.LayerConfig{capabilityLayer()}, dwdSources); err != nil {
		t.Fatalf("configure: %v", err)
	}
	var (
		gen  uint64
		reqs []capabilities.Request
	)
	if err := e.call(ctx, func() {
		gen = e.gen
		reqs = e.capabilityRequests()
	}); err != nil {
		t.Fatalf("call: %v", err)
	}

	// A configuration change lands while the refresh is still fetching.
	if err := e.call(ctx, func() { e.gen++ }); err != nil {
		t.Fatalf("call: %v", err)
	}
	fetcher.set(radarCapsLater)
	if err := e.rebuild(ctx, gen, reqs, false); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	times := axisTimes(t, e)
	if len(times) != 7 || times[0] != at(8) || times[6] != at(14) {
		t.Fatalf("stale refresh must not touch the axis, got %v", times)
	}
	if got := current(t, e); got != at(10) {
		t.Fatalf("stale refresh must not move the clock, got %s", got)
	}
}

func TestCapabilitiesAfterDestroy(t *testing.T) {
	e := newTestEngine(t, Options{})
	if _, err := e.Capabilities(); err != nil {
		t.Fatalf("capabilities: %v", err)
	}
	e.Destroy()
	if _, err := e.Capabilities(); !errors.Is(err, ErrDestroyed) {
		t.Fatalf("expected ErrDestroyed, got %v", err)
	}
}
