package llm

import (
	"sync"

	"query-orchestrator/internal/models"
)

// window is a bounded ring of the most recent generation metrics.
type window struct {
	mu   sync.Mutex
	buf  []models.GenerationMetric
	next int
	full bool
}

func newWindow(size int) *window {
	if size <= 0 {
		size = 1000
	}
	return &window{buf: make([]models.GenerationMetric, size)}
}

func (w *window) add(m models.GenerationMetric) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf[w.next] = m
	w.next = (w.next + 1) % len(w.buf)
	if w.next == 0 {
		w.full = true
	}
}

// snapshot returns the metrics oldest first.
func (w *window) snapshot() []models.GenerationMetric {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.full {
		return append([]models.GenerationMetric(nil), w.buf[:w.next]...)
	}
	out := make([]models.GenerationMetric, 0, len(w.buf))
	out = append(out, w.buf[w.next:]...)
	return append(out, w.buf[:w.next]...)
}

// Stats aggregates a group of generations.
type Stats struct {
	Requests        int     `json:"requests"`
	Failures        int     `json:"failures"`
	AvgLatencyMs    float64 `json:"avgLatencyMs"`
	AvgTokensPerSec float64 `json:"avgTokensPerSec"`
}

// Report is the rolling-window summary exposed by ReportMetrics.
type Report struct {
	WindowSize int              `json:"windowSize"`
	Overall    Stats            `json:"overall"`
	ByModel    map[string]Stats `json:"byModel"`
	ByBackend  map[string]Stats `json:"byBackend"`
}

type accumulator struct {
	requests, failures int
	latencyMs, tps     float64
}

func (a *accumulator) add(m models.GenerationMetric) {
	a.requests++
	if !m.Success {
		a.failures++
	}
	a.latencyMs += float64(m.Latency.Microseconds()) / 1000
	a.tps += m.TokensPerSec
}

func (a *accumulator) stats() Stats {
	if a.requests == 0 {
		return Stats{}
	}
	n := float64(a.requests)
	return Stats{
		Requests:        a.requests,
		Failures:        a.failures,
		AvgLatencyMs:    a.latencyMs / n,
		AvgTokensPerSec: a.tps / n,
	}
}

func summarize(ms []models.GenerationMetric) Report {
	var overall accumulator
	byModel := map[string]*accumulator{}
	byBackend := map[string]*accumulator{}
	for _, m := range ms {
		overall.add(m)
		if byModel[m.Model] == nil {
			byModel[m.Model] = &accumulator{}
		}
		byModel[m.Model].add(m)
		b := string(m.Backend)
		if byBackend[b] == nil {
			byBackend[b] = &accumulator{}
		}
		byBackend[b].add(m)
	}

	r := Report{
		WindowSize: len(ms),
		Overall:    overall.stats(),
		ByModel:    make(map[string]Stats, len(byModel)),
		ByBackend:  make(map[string]Stats, len(byBackend)),
	}
	for k, a := range byModel {
		r.ByModel[k] = a.stats()
	}
	for k, a := range byBackend {
		r.ByBackend[k] = a.stats()
	}
	return r
}
