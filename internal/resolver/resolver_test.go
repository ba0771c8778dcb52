package resolver_test

import (
	"errors"
	"reflect"
	"testing"

	"mediaflow/internal/jobs"
	"mediaflow/internal/resolver"
	"mediaflow/internal/services"
)

func TestResolveRepairsOrder(t *testing.T) {
	cases := []struct {
		name string
		in   []jobs.Stage
		want []jobs.Stage
	}{
		{
			name: "reversed",
			in:   []jobs.Stage{jobs.StageTranscode, jobs.StageEnrichment, jobs.StageSubtitle},
			want: []jobs.Stage{jobs.StageSubtitle, jobs.StageEnrichment, jobs.StageTranscode},
		},
		{
			name: "already valid",
			in:   []jobs.Stage{jobs.StageThumbnail, jobs.StageSubtitle, jobs.StageEnrichment, jobs.StageTranscode},
			want: []jobs.Stage{jobs.StageThumbnail, jobs.StageSubtitle, jobs.StageEnrichment, jobs.StageTranscode},
		},
		{
			name: "unconstrained stage keeps its slot",
			in:   []jobs.Stage{jobs.StageEnrichment, jobs.StageThumbnail, jobs.StageSubtitle},
			want: []jobs.Stage{jobs.StageThumbnail, jobs.StageSubtitle, jobs.StageEnrichment},
		},
		{
			name: "absent stages ignored",
			in:   []jobs.Stage{jobs.StageTranscode, jobs.StageThumbnail},
			want: []jobs.Stage{jobs.StageTranscode, jobs.StageThumbnail},
		},
		{
			name: "empty",
			in:   nil,
			want: []jobs.Stage{},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := resolver.Resolve(tc.in, resolver.DefaultConstraints())
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("Resolve(%v) = %v, want %v", tc.in, got, tc.want)
			}
			if err := resolver.Validate(got, resolver.DefaultConstraints()); err != nil {
				t.Fatalf("resolved order invalid: %v", err)
			}
			again, err := resolver.Resolve(got, resolver.DefaultConstraints())
			if err != nil || !reflect.DeepEqual(again, got) {
				t.Fatalf("Resolve is not idempotent: %v -> %v (%v)", got, again, err)
			}
		})
	}
}

func TestResolveDoesNotMutateInput(t *testing.T) {
	in := []jobs.Stage{jobs.StageTranscode, jobs.StageSubtitle}
	if _, err := resolver.Resolve(in, resolver.DefaultConstraints()); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if in[0] != jobs.StageTranscode {
		t.Fatalf("input mutated: %v", in)
	}
}

func TestResolveAllPermutationsSatisfyConstraints(t *testing.T) {
	stages := jobs.AllStages()
	var permute func([]jobs.Stage, int)
	permute = func(s []jobs.Stage, k int) {
		if k == len(s) {
			in := append([]jobs.Stage(nil), s...)
			got, err := resolver.Resolve(in, resolver.DefaultConstraints())
			if err != nil {
				t.Fatalf("Resolve(%v): %v", in, err)
			}
			if err := resolver.Validate(got, resolver.DefaultConstraints()); err != nil {
				t.Fatalf("Resolve(%v) = %v: %v", in, got, err)
			}
			if len(got) != len(in) {
				t.Fatalf("Resolve(%v) dropped stages: %v", in, got)
			}
			return
		}
		for i := k; i < len(s); i++ {
			s[k], s[i] = s[i], s[k]
			permute(s, k+1)
			s[k], s[i] = s[i], s[k]
		}
	}
	permute(stages, 0)
}

func TestResolveDetectsCycles(t *testing.T) {
	constraints := []resolver.Constraint{
		{Before: jobs.StageSubtitle, After: jobs.StageEnrichment},
		{Before: jobs.StageEnrichment, After: jobs.StageSubtitle},
	}
	_, err := resolver.Resolve([]jobs.Stage{jobs.StageSubtitle, jobs.StageEnrichment}, constraints)
	if err == nil {
		t.Fatal("expected cycle error")
	}
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestResolveRejectsDuplicates(t *testing.T) {
	_, err := resolver.Resolve([]jobs.Stage{jobs.StageSubtitle, jobs.StageSubtitle}, resolver.DefaultConstraints())
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
