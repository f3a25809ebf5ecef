package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/weather-time-animator/internal/animation"
	"github.com/i474232898/weather-time-animator/internal/capabilities"
	"github.com/i474232898/weather-time-animator/internal/engine"
	"github.com/i474232898/weather-time-animator/internal/store"
	"github.com/i474232898/weather-time-animator/internal/timeline"
	"github.com/i474232898/weather-time-animator/internal/timerange"
)

var testNow = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

type nopRenderer struct{}

func (nopRenderer) CreateLayer(id string, cfg animation.LayerConfig, t timeline.TimePoint) (animation.Handle, error) {
	return new(int), nil
}
func (nopRenderer) UpdateLayerSource(h animation.Handle, t timeline.TimePoint) error { return nil }
func (nopRenderer) PlaceAdjacent(h, anchor animation.Handle)                     {}
func (nopRenderer) SetVisibility(h animation.Handle, visible bool, opacity float64) {}
func (nopRenderer) RemoveLayer(h animation.Handle)                                {}

func newTestApp(t *testing.T) (*fiber.App, *engine.Engine) {
	t.Helper()
	now := func() time.Time { return testNow }
	e := engine.New(engine.Options{
		Fetcher: capabilities.FetcherFunc(func(ctx context.Context, url string) ([]byte, error) {
			return nil, errors.New("offline")
		}),
		Store:    store.NewMemoryStore(),
		Renderer: nopRenderer{},
		Now:      now,
	})
	t.Cleanup(e.Destroy)

	var data []string
	for h := 8; h <= 12; h++ {
		data = append(data, time.Date(2024, 1, 1, h, 0, 0, 0, time.UTC).Format(time.RFC3339))
	}
	layers := []animation.LayerConfig{
		{ID: "radar", Next: "lightning", Time: &animation.TimeConfig{Data: data}},
		{ID: "lightning", Time: &animation.TimeConfig{Data: data}},
	}
	if err := e.Configure(context.Background(), layers, nil); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	app := fiber.New()
	RegisterRoutes(app, e, &timerange.Resolver{Now: now, MaxPoints: 100})
	return app, e
}

func do(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	out := map[string]any{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	return resp.StatusCode, out
}

func TestSeekAndNavigate(t *testing.T) {
	app, _ := newTestApp(t)

	code, body := do(t, app, http.MethodPost, "/api/v1/animation/seek", `{"time":"2024-01-01T08:20:00Z"}`)
	if code != http.StatusOK {
		t.Fatalf("seek: expected status %d, got %d", http.StatusOK, code)
	}
	if body["iso"] != "2024-01-01T08:00:00Z" || body["moved"] != true {
		t.Fatalf("seek body = %v", body)
	}

	code, body = do(t, app, http.MethodPost, "/api/v1/animation/next", "")
	if code != http.StatusOK || body["iso"] != "2024-01-01T09:00:00Z" {
		t.Fatalf("next: %d %v", code, body)
	}

	ms := timeline.FromTime(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	code, body = do(t, app, http.MethodPost, "/api/v1/animation/seek", `{"time":"`+ms.Time().Format(time.RFC3339)+`"}`)
	if code != http.StatusOK || body["iso"] != "2024-01-01T12:00:00Z" {
		t.Fatalf("seek end: %d %v", code, body)
	}
}

func TestSeekValidation(t *testing.T) {
	app, _ := newTestApp(t)

	for _, body := range []string{`{}`, `{"time":"yesterday"}`, `not json`} {
		code, _ := do(t, app, http.MethodPost, "/api/v1/animation/seek", body)
		if code != http.StatusBadRequest {
			t.Fatalf("body %q: expected status %d, got %d", body, http.StatusBadRequest, code)
		}
	}
}

func TestPlayPauseStop(t *testing.T) {
	app, e := newTestApp(t)

	code, _ := do(t, app, http.MethodPost, "/api/v1/animation/play", `{"stepDelayMs":-1}`)
	if code != http.StatusBadRequest {
		t.Fatalf("negative delay: expected status %d, got %d", http.StatusBadRequest, code)
	}

	code, body := do(t, app, http.MethodPost, "/api/v1/animation/play", `{"stepDelayMs":1000}`)
	if code != http.StatusOK || body["playing"] != true {
		t.Fatalf("play: %d %v", code, body)
	}
	if code, _ := do(t, app, http.MethodPost, "/api/v1/animation/pause", ""); code != http.StatusNoContent {
		t.Fatalf("pause: expected status %d, got %d", http.StatusNoContent, code)
	}
	if code, _ := do(t, app, http.MethodPost, "/api/v1/animation/stop", ""); code != http.StatusNoContent {
		t.Fatalf("stop: expected status %d, got %d", http.StatusNoContent, code)
	}

	st, err := e.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Animation.Playing || st.Animation.CurrentTime == nil || st.Animation.CurrentTime.String() != "2024-01-01T08:00:00Z" {
		t.Fatalf("after stop: %+v", st.Animation)
	}
}

func TestStatus(t *testing.T) {
	app, _ := newTestApp(t)

	code, body := do(t, app, http.MethodGet, "/api/v1/animation", "")
	if code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, code)
	}
	times, ok := body["times"].([]any)
	if !ok || len(times) != 5 {
		t.Fatalf("times = %v", body["times"])
	}
}

func TestLayerVisibility(t *testing.T) {
	app, _ := newTestApp(t)

	code, body := do(t, app, http.MethodPut, "/api/v1/layers/radar/visibility", `{"visible":false}`)
	if code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, code)
	}
	layers, _ := body["layers"].([]any)
	if len(layers) != 2 {
		t.Fatalf("chained layers not hidden together: %v", body)
	}

	if code, _ := do(t, app, http.MethodPut, "/api/v1/layers/nope/visibility", `{"visible":true}`); code != http.StatusNotFound {
		t.Fatalf("unknown layer: expected status %d, got %d", http.StatusNotFound, code)
	}
	if code, _ := do(t, app, http.MethodPut, "/api/v1/layers/radar/visibility", `{}`); code != http.StatusBadRequest {
		t.Fatalf("missing flag: expected status %d, got %d", http.StatusBadRequest, code)
	}
}

func TestResolveTimes(t *testing.T) {
	app, _ := newTestApp(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/times/resolve?range=every+hour+for+3+times", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}
	var out struct {
		Times []string `json:"times"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	want := []string{"2024-01-01T10:00:00Z", "2024-01-01T11:00:00Z", "2024-01-01T12:00:00Z"}
	if strings.Join(out.Times, ",") != strings.Join(want, ",") {
		t.Fatalf("times = %v, want %v", out.Times, want)
	}

	if code, _ := do(t, app, http.MethodGet, "/api/v1/times/resolve", ""); code != http.StatusBadRequest {
		t.Fatalf("missing range: expected status %d, got %d", http.StatusBadRequest, code)
	}
	if code, _ := do(t, app, http.MethodGet, "/api/v1/times/resolve?range=whenever", ""); code != http.StatusBadRequest {
		t.Fatalf("bad range: expected status %d, got %d", http.StatusBadRequest, code)
	}
}

func TestCapabilitiesAndMetrics(t *testing.T) {
	app, _ := newTestApp(t)

	code, body := do(t, app, http.MethodGet, "/api/v1/capabilities", "")
	if code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, code)
	}
	if _, ok := body["capabilities"]; !ok {
		t.Fatalf("body = %v", body)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics: expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}
}

func TestDestroyedEngine(t *testing.T) {
	app, e := newTestApp(t)
	e.Destroy()

	if code, _ := do(t, app, http.MethodPost, "/api/v1/animation/next", ""); code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, code)
	}
	if code, _ := do(t, app, http.MethodGet, "/api/v1/capabilities", ""); code != http.StatusServiceUnavailable {
		t.Fatalf("capabilities: expected status %d, got %d", http.StatusServiceUnavailable, code)
	}
}
