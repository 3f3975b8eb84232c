package observability

import (
	"math"
	"slices"
	"sync"
	"time"
)

// Console latency stages recorded in the rolling window.
const (
	StageTokenFetch           = "token_fetch"
	StageConversationConnect  = "conversation_connect"
	StageTranscriptionConnect = "transcription_connect"
	StageBridgeToFirstText    = "bridge_to_first_agent_text"
	StageMessageToFirstText   = "message_to_first_agent_text"
)

type StageStats struct {
	Stage   string  `json:"stage"`
	Samples int     `json:"samples"`
	LastMS  float64 `json:"last_ms"`
	AvgMS   float64 `json:"avg_ms"`
	P50MS   float64 `json:"p50_ms"`
	P95MS   float64 `json:"p95_ms"`
	MaxMS   float64 `json:"max_ms"`
}

type Indicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type StageSnapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	WindowSize  int          `json:"window_size"`
	Stages      []StageStats `json:"stages"`
	Indicators  []Indicator  `json:"indicators,omitempty"`
}

// stageWindow holds the newest limit samples of each stage, oldest first.
type stageWindow struct {
	mu       sync.Mutex
	limit    int
	samples  map[string][]float64
	counters map[string]int
}

func newStageWindow(limit int) *stageWindow {
	if limit <= 0 {
		limit = 256
	}
	w := &stageWindow{limit: limit}
	w.Reset()
	return w
}

func (w *stageWindow) Observe(stage string, ms float64) {
	if stage == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	s := append(w.samples[stage], ms)
	if len(s) > w.limit {
		n := copy(s, s[len(s)-w.limit:])
		s = s[:n]
	}
	w.samples[stage] = s
}

func (w *stageWindow) ObserveIndicator(name string) {
	if name == "" {
		return
	}
	w.mu.Lock()
	w.counters[name]++
	w.mu.Unlock()
}

func (w *stageWindow) Snapshot() StageSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := StageSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.limit,
		Stages:      make([]StageStats, 0, len(w.samples)),
	}
	for _, stage := range sortedKeys(w.samples) {
		recent := w.samples[stage]
		if len(recent) == 0 {
			continue
		}
		sorted := slices.Clone(recent)
		slices.Sort(sorted)
		var sum float64
		for _, v := range sorted {
			sum += v
		}
		snap.Stages = append(snap.Stages, StageStats{
			Stage:   stage,
			Samples: len(sorted),
			LastMS:  roundMS(recent[len(recent)-1]),
			AvgMS:   roundMS(sum / float64(len(sorted))),
			P50MS:   roundMS(Quantile(sorted, 0.50)),
			P95MS:   roundMS(Quantile(sorted, 0.95)),
			MaxMS:   roundMS(sorted[len(sorted)-1]),
		})
	}
	for _, name := range sortedKeys(w.counters) {
		snap.Indicators = append(snap.Indicators, Indicator{Name: name, Count: w.counters[name]})
	}
	return snap
}

func (w *stageWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = make(map[string][]float64)
	w.counters = make(map[string]int)
}

// Quantile returns the nearest-rank q-quantile of an ascending slice.
func Quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(q * float64(len(sorted))))
	rank = min(max(rank, 1), len(sorted))
	return sorted[rank-1]
}

func roundMS(v float64) float64 {
	return math.Round(v*100) / 100
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
