package progress_test

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"mediaflow/internal/logging"
	"mediaflow/internal/progress"
)

type recorder struct {
	values []int
	err    error
}

func (r *recorder) sink(_ context.Context, percent int) error {
	r.values = append(r.values, percent)
	return r.err
}

func TestSubtitleWeightingExample(t *testing.T) {
	phases, err := progress.SubtitlePhases(0.15, 0.35, 0.50, []string{"fr"})
	if err != nil {
		t.Fatalf("SubtitlePhases: %v", err)
	}
	rec := &recorder{}
	relay, err := progress.NewRelay(context.Background(), phases, rec.sink, logging.NewNop())
	if err != nil {
		t.Fatalf("NewRelay: %v", err)
	}
	relay.Report(progress.PhaseExtract, 100)
	relay.Report(progress.PhaseTranscribe, 50)

	if got := relay.Last(); got != 33 {
		t.Fatalf("progress = %d, want 33 (32.5 rounded)", got)
	}
	if len(rec.values) != 2 || rec.values[0] != 15 {
		t.Fatalf("unexpected forwarded values: %v", rec.values)
	}
}

func TestSubtitlePhasesSplitTranslateWeight(t *testing.T) {
	phases, err := progress.SubtitlePhases(0.15, 0.35, 0.50, []string{"fr", "DE"})
	if err != nil {
		t.Fatalf("SubtitlePhases: %v", err)
	}
	want := []string{"extract", "transcribe", "translate:fr", "translate:de"}
	names := phases.Names()
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names = %v, want %v", names, want)
		}
	}
	if phases[2].Weight != 0.25 || phases[3].Weight != 0.25 {
		t.Fatalf("unexpected translate weights: %#v", phases)
	}
}

func TestSubtitlePhasesWithoutLanguagesRenormalize(t *testing.T) {
	phases, err := progress.SubtitlePhases(0.15, 0.35, 0.50, nil)
	if err != nil {
		t.Fatalf("SubtitlePhases: %v", err)
	}
	if len(phases) != 2 {
		t.Fatalf("expected two phases, got %#v", phases)
	}
	if err := phases.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestPhasesValidate(t *testing.T) {
	cases := []struct {
		name   string
		phases progress.Phases
		ok     bool
	}{
		{"single", progress.Single("run"), true},
		{"sum ok", progress.Phases{{"a", 0.3}, {"b", 0.7}}, true},
		{"sum low", progress.Phases{{"a", 0.3}, {"b", 0.6}}, false},
		{"negative", progress.Phases{{"a", -0.5}, {"b", 1.5}}, false},
		{"duplicate", progress.Phases{{"a", 0.5}, {"a", 0.5}}, false},
		{"empty", nil, false},
	}
	for _, tc := range cases {
		err := tc.phases.Validate()
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
	if _, err := progress.NewRelay(context.Background(), progress.Phases{{"a", 0.2}}, nil, nil); err == nil {
		t.Fatal("NewRelay should reject invalid weights")
	}
}

func TestRelayIsMonotonicAndBounded(t *testing.T) {
	phases := progress.Phases{{"a", 0.2}, {"b", 0.3}, {"c", 0.5}}
	rec := &recorder{}
	relay, err := progress.NewRelay(context.Background(), phases, rec.sink, nil)
	if err != nil {
		t.Fatalf("NewRelay: %v", err)
	}
	rng := rand.New(rand.NewSource(42))
	names := []string{"a", "b", "c", "unknown"}
	for i := 0; i < 500; i++ {
		relay.Report(names[rng.Intn(len(names))], rng.Float64()*160-30)
	}
	last := -1
	for _, v := range rec.values {
		if v < 0 || v > 100 {
			t.Fatalf("value %d out of bounds", v)
		}
		if v <= last {
			t.Fatalf("values not increasing: %v", rec.values)
		}
		last = v
	}
}

func TestRelayIgnoresUnknownPhaseAndUsesImplicitPhase(t *testing.T) {
	rec := &recorder{}
	relay, err := progress.NewRelay(context.Background(), nil, rec.sink, nil)
	if err != nil {
		t.Fatalf("NewRelay: %v", err)
	}
	relay.Report("", 40)
	relay.Report("other", 90)
	relay.Report("", 40)
	if len(rec.values) != 1 || rec.values[0] != 40 {
		t.Fatalf("unexpected values: %v", rec.values)
	}
}

func TestRelayDropsSinkErrors(t *testing.T) {
	rec := &recorder{err: errors.New("db down")}
	relay, err := progress.NewRelay(context.Background(), progress.Single("run"), rec.sink, nil)
	if err != nil {
		t.Fatalf("NewRelay: %v", err)
	}
	relay.Report("run", 10)
	relay.Report("run", 20)
	if len(rec.values) != 2 || relay.Last() != 20 {
		t.Fatalf("expected both values attempted, got %v last=%d", rec.values, relay.Last())
	}
}

func TestCompute(t *testing.T) {
	cases := []struct {
		offset, weight, percent float64
		want                    int
	}{
		{0, 0.15, 100, 15},
		{15, 0.35, 50, 33},
		{50, 0.5, 150, 100},
		{0, 1, -10, 0},
		{99.6, 0.004, 100, 100},
	}
	for _, tc := range cases {
		if got := progress.Compute(tc.offset, tc.weight, tc.percent); got != tc.want {
			t.Fatalf("Compute(%v, %v, %v) = %d, want %d", tc.offset, tc.weight, tc.percent, got, tc.want)
		}
	}
}
