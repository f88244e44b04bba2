package stages

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Sample is the timing of one buffer processed by one worker instance.
// Cycle is a pipeline-wide monotonic sequence number.
type Sample struct {
	StageID  int
	Instance int
	Start    time.Time
	End      time.Time
	Cycle    uint64
}

// Duration returns the time spent in Unit.Process.
func (s Sample) Duration() time.Duration { return s.End.Sub(s.Start) }

// StageProfile aggregates the samples of one stage.
type StageProfile struct {
	StageID int
	Count   int
	Total   time.Duration
	Mean    time.Duration
	Min     time.Duration
	Max     time.Duration
}

type profiler struct {
	seq     atomic.Uint64
	mu      sync.Mutex
	samples []Sample
}

func newProfiler() *profiler { return &profiler{} }

func (pr *profiler) record(stageID, instance int, start, end time.Time) {
	s := Sample{
		StageID:  stageID,
		Instance: instance,
		Start:    start,
		End:      end,
		Cycle:    pr.seq.Add(1),
	}
	pr.mu.Lock()
	pr.samples = append(pr.samples, s)
	pr.mu.Unlock()
}

func (pr *profiler) snapshot() []Sample {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	out := make([]Sample, len(pr.samples))
	copy(out, pr.samples)
	return out
}

// Profile returns every sample recorded so far, or nil when profiling is off.
func (p *Pipeline[T]) Profile() []Sample {
	if p.prof == nil {
		return nil
	}
	return p.prof.snapshot()
}

// ProfileReport aggregates the recorded samples per stage, ordered by stage id.
func (p *Pipeline[T]) ProfileReport() []StageProfile {
	byStage := map[int]*StageProfile{}
	for _, s := range p.Profile() {
		d := s.Duration()
		sp, ok := byStage[s.StageID]
		if !ok {
			sp = &StageProfile{StageID: s.StageID, Min: d, Max: d}
			byStage[s.StageID] = sp
		}
		sp.Count++
		sp.Total += d
		sp.Min = min(sp.Min, d)
		sp.Max = max(sp.Max, d)
	}

	out := make([]StageProfile, 0, len(byStage))
	for _, sp := range byStage {
		sp.Mean = sp.Total / time.Duration(sp.Count)
		out = append(out, *sp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StageID < out[j].StageID })
	return out
}
