package logging

import "testing"

func TestNewProgressSamplerDefaults(t *testing.T) {
	for _, size := range []float64{0, -1} {
		if s := NewProgressSampler(size); s.bucketSize != 5 || s.lastBucket != -1 {
			t.Fatalf("NewProgressSampler(%v) = %+v", size, s)
		}
	}
	if s := NewProgressSampler(10); s.bucketSize != 10 {
		t.Fatalf("expected custom bucket size, got %v", s.bucketSize)
	}
}

func TestProgressSamplerNil(t *testing.T) {
	var s *ProgressSampler
	if !s.ShouldLog(50, "transcribe") {
		t.Fatal("nil sampler should always log")
	}
	s.Reset()
}

func TestProgressSamplerBuckets(t *testing.T) {
	s := NewProgressSampler(5)
	steps := []struct {
		percent float64
		phase   string
		want    bool
	}{
		{0, "extract", true},
		{3, "extract", false},
		{5, "extract", true},
		{7, "extract", false},
		{10, "extract", true},
		{0, "transcribe", true},
		{0, "transcribe", false},
		{4, "transcribe", false},
		{95, "transcribe", true},
		{100, "transcribe", true},
		{105, "transcribe", false},
		{-1, "translate:es", true},
		{-1, "translate:es", false},
	}
	for i, step := range steps {
		if got := s.ShouldLog(step.percent, step.phase); got != step.want {
			t.Fatalf("step %d (%v%% %s): got %v want %v", i, step.percent, step.phase, got, step.want)
		}
	}
}

func TestProgressSamplerReset(t *testing.T) {
	s := NewProgressSampler(25)
	s.ShouldLog(50, "encode")
	s.Reset()
	if s.lastPhase != "" || s.lastBucket != -1 {
		t.Fatalf("unexpected state after reset: %+v", s)
	}
	if !s.ShouldLog(50, "encode") {
		t.Fatal("should log after reset")
	}
}
