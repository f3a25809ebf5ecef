package capabilities

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/i474232898/weather-time-animator/internal/timeline"
)

// PassResult summarizes one refresh pass.
type PassResult struct {
	ID        string
	Stamp     int64
	Requested int
	Loaded    int
	Failed    int
	Purged    int
}

// Registry fetches capability documents and caches them by URL. Refresh
// passes are serialized; every pass stamps the entries it loads and purges
// the ones it did not touch.
type Registry struct {
	fetcher Fetcher
	parsers map[string]Parser
	store   Store
	now     func() time.Time

	passMu    sync.Mutex
	lastStamp int64
}

// NewRegistry creates a registry. A nil parsers map installs DefaultParsers.
func NewRegistry(fetcher Fetcher, parsers map[string]Parser, store Store) *Registry {
	if parsers == nil {
		parsers = DefaultParsers(nil)
	}
	return &Registry{
		fetcher: fetcher,
		parsers: parsers,
		store:   store,
		now:     time.Now,
	}
}

// WithClock overrides the wall clock used for pass stamps.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

func (r *Registry) nextStamp() int64 {
	stamp := r.now().UnixMilli()
	if stamp <= r.lastStamp {
		stamp = r.lastStamp + 1
	}
	r.lastStamp = stamp
	return stamp
}

// Refresh loads every requested document in parallel and replaces the cache
// contents with the result. Duplicate URLs are fetched once. Fetch and parse
// failures are logged and leave the entry absent. A cancelled context
// discards the pass without touching the cache.
func (r *Registry) Refresh(ctx context.Context, reqs []Request) (PassResult, error) {
	r.passMu.Lock()
	defer r.passMu.Unlock()

	started := time.Now()
	defer func() { refreshDuration.Observe(time.Since(started).Seconds()) }()

	res := PassResult{ID: uuid.NewString(), Stamp: r.nextStamp()}

	unique := make(map[string]string, len(reqs))
	order := make([]string, 0, len(reqs))
	for _, req := range reqs {
		key, err := Canonical(req.URL)
		if err != nil {
			log.Printf("capabilities: pass %s: skipping url %q: %v", res.ID, req.URL, err)
			continue
		}
		if _, seen := unique[key]; seen {
			continue
		}
		unique[key] = strings.ToLower(req.Kind)
		order = append(order, key)
	}
	res.Requested = len(order)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		entries []Entry
	)
	for _, u := range order {
		u, kind := u, unique[u]
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry, err := r.load(ctx, u, kind, res.Stamp)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed++
				log.Printf("capabilities: pass %s: %v", res.ID, err)
				return
			}
			entries = append(entries, entry)
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		log.Printf("capabilities: pass %s discarded: %v", res.ID, err)
		return res, err
	}

	var errs []error
	for _, e := range entries {
		if err := r.store.Put(e); err != nil {
			errs = append(errs, err)
			continue
		}
		res.Loaded++
	}
	purged, err := r.store.Purge(res.Stamp)
	if err != nil {
		errs = append(errs, err)
	}
	res.Purged = purged
	if all, err := r.store.List(); err == nil {
		cachedEntries.Set(float64(len(all)))
	}

	log.Printf("capabilities: pass %s loaded %d/%d documents, purged %d", res.ID, res.Loaded, res.Requested, res.Purged)
	return res, errors.Join(errs...)
}

func (r *Registry) load(ctx context.Context, url, kind string, stamp int64) (Entry, error) {
	parser, ok := r.parsers[kind]
	if !ok {
		fetchTotal.WithLabelValues(kind, "unsupported").Inc()
		return Entry{}, &ParseError{URL: url, Kind: kind, Err: ErrUnsupportedKind}
	}
	data, err := r.fetcher.Fetch(ctx, url)
	if err != nil {
		fetchTotal.WithLabelValues(kind, "fetch_error").Inc()
		var fe *FetchError
		if errors.As(err, &fe) {
			return Entry{}, err
		}
		return Entry{}, &FetchError{URL: url, Err: err}
	}
	doc, err := parser.Parse(data)
	if err != nil {
		fetchTotal.WithLabelValues(kind, "parse_error").Inc()
		return Entry{}, &ParseError{URL: url, Kind: kind, Err: err}
	}
	fetchTotal.WithLabelValues(kind, "ok").Inc()

	entry := Entry{URL: url, Kind: kind, UpdatedAt: stamp, Document: doc}
	if start, end, ok := doc.Extent(); ok {
		entry.TimeExtentStart = &start
		entry.TimeExtentEnd = &end
	}
	return entry, nil
}

// Get returns the cached entry for url.
func (r *Registry) Get(url string) (Entry, error) {
	key, err := Canonical(url)
	if err != nil {
		return Entry{}, err
	}
	return r.store.Get(key)
}

// Entries lists every cached entry.
func (r *Registry) Entries() ([]Entry, error) {
	return r.store.List()
}

// LayerTimes returns the advertised times of one layer of a cached service.
func (r *Registry) LayerTimes(url, layer string) (timeline.TimeSet, bool) {
	e, err := r.Get(url)
	if err != nil {
		return nil, false
	}
	info, ok := e.Document.Layer(layer)
	if !ok || len(info.Times) == 0 {
		return nil, false
	}
	return info.Times, true
}
