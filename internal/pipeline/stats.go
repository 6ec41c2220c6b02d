package pipeline

import (
	"time"
)

// Stats accumulates per-run counters and latency samples. It is owned by the
// orchestrator goroutine; the sample sequences are append-only.
type Stats struct {
	faceLatencies  []time.Duration
	totalLatencies []time.Duration
	frames         int
	completed      int
	skips          map[Stage]map[SkipReason]int
}

// NewStats creates empty stats
func NewStats() *Stats {
	return &Stats{skips: make(map[Stage]map[SkipReason]int)}
}

// AddFrame counts a frame entering the chain
func (s *Stats) AddFrame() { s.frames++ }

// AddCompleted counts a frame that moved the pointer
func (s *Stats) AddCompleted() { s.completed++ }

// AddFaceLatency appends a face detection sample
func (s *Stats) AddFaceLatency(d time.Duration) {
	s.faceLatencies = append(s.faceLatencies, d)
}

// AddTotalLatency appends a full-chain sample
func (s *Stats) AddTotalLatency(d time.Duration) {
	s.totalLatencies = append(s.totalLatencies, d)
}

// AddSkip counts an abandoned frame
func (s *Stats) AddSkip(skip *Skipped) {
	if skip == nil {
		return
	}
	byReason, ok := s.skips[skip.Stage]
	if !ok {
		byReason = make(map[SkipReason]int)
		s.skips[skip.Stage] = byReason
	}
	byReason[skip.Reason]++
}

// FaceSamples returns the number of face detection samples
func (s *Stats) FaceSamples() int { return len(s.faceLatencies) }

// TotalSamples returns the number of full-chain samples
func (s *Stats) TotalSamples() int { return len(s.totalLatencies) }

// FaceMean is the mean face detection latency; ok is false without samples
func (s *Stats) FaceMean() (time.Duration, bool) { return Mean(s.faceLatencies) }

// TotalMean is the mean full-chain latency; ok is false without samples
func (s *Stats) TotalMean() (time.Duration, bool) { return Mean(s.totalLatencies) }

// Counters returns the running frame counters
func (s *Stats) Counters() Counters {
	c := Counters{Frames: s.frames, Completed: s.completed}
	for _, byReason := range s.skips {
		for _, n := range byReason {
			c.Skipped += n
		}
	}
	return c
}

// Skips returns skip counts keyed "stage/reason"
func (s *Stats) Skips() map[string]int {
	out := make(map[string]int)
	for stage, byReason := range s.skips {
		for reason, n := range byReason {
			out[string(stage)+"/"+string(reason)] = n
		}
	}
	return out
}

// Report reduces the stats to a run summary
func (s *Stats) Report(elapsed time.Duration) *Report {
	r := &Report{
		Counters:     s.Counters(),
		Skips:        s.Skips(),
		FaceSamples:  s.FaceSamples(),
		TotalSamples: s.TotalSamples(),
		Elapsed:      elapsed,
	}
	r.FaceMean, r.HasFaceMean = s.FaceMean()
	r.TotalMean, r.HasTotalMean = s.TotalMean()
	if elapsed > 0 {
		r.FPS = float64(s.frames) / elapsed.Seconds()
	}
	return r
}

// Mean returns the arithmetic mean of samples. ok is false when samples is
// empty.
func Mean(samples []time.Duration) (mean time.Duration, ok bool) {
	if len(samples) == 0 {
		return 0, false
	}
	var sum time.Duration
	for _, d := range samples {
		sum += d
	}
	return sum / time.Duration(len(samples)), true
}
