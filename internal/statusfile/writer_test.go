package statusfile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/i474232898/weather-time-animator/internal/animation"
	"github.com/i474232898/weather-time-animator/internal/engine"
	"github.com/i474232898/weather-time-animator/internal/timeline"
)

func TestWriterKeepsLatestStatus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	w := New(path)

	for i := 1; i <= 5; i++ {
		cur := timeline.TimePoint(i * 1000)
		w.Update(engine.Status{
			Animation: timeline.AnimationState{CurrentTime: &cur, State: "paused"},
			Times:     []animation.StatusEntry{{Time: int64(cur), Status: animation.StatusLoaded, Visible: true}},
		})
	}
	w.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read status file: %v", err)
	}
	var got engine.Status
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Animation.CurrentTime == nil || *got.Animation.CurrentTime != 5000 {
		t.Fatalf("current time = %v, want 5000", got.Animation.CurrentTime)
	}
	if len(got.Times) != 1 || got.Times[0].Status != animation.StatusLoaded {
		t.Fatalf("times = %+v", got.Times)
	}
}

func TestUpdateAfterCloseIsIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	w := New(path)
	w.Close()
	w.Update(engine.Status{})
	w.Close()

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected no status file, got %v", err)
	}
}
