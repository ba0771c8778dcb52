package drapto

import (
	"strings"
	"testing"
	"time"

	draptolib "github.com/five82/drapto"
)

func TestReporterTranslatesProgress(t *testing.T) {
	var updates []ProgressUpdate
	rep := newReporter(func(u ProgressUpdate) { updates = append(updates, u) })

	eta := 90 * time.Second
	rep.StageProgress(draptolib.StageProgress{Percent: 12, Stage: "analysis", Message: "crop detection", ETA: &eta})
	rep.EncodingStarted(1000)
	rep.EncodingProgress(draptolib.ProgressSnapshot{Percent: 40, ETA: time.Minute, Bitrate: "2400kbps"})
	rep.Warning(" audio downmixed ")
	rep.EncodingComplete(draptolib.EncodingOutcome{OutputPath: "/out/movie.mkv", OriginalSize: 1000, EncodedSize: 400})

	if len(updates) != 5 {
		t.Fatalf("expected 5 updates, got %d", len(updates))
	}
	if updates[0].Type != EventTypeStageProgress || updates[0].Percent != 12 || updates[0].ETA != eta {
		t.Fatalf("unexpected stage progress %+v", updates[0])
	}
	if updates[1].Type != EventTypeEncodingStarted || !strings.Contains(updates[1].Message, "1000") {
		t.Fatalf("unexpected start %+v", updates[1])
	}
	if updates[2].Percent != 40 || updates[2].Bitrate != "2400kbps" || updates[2].Stage != "encoding" {
		t.Fatalf("unexpected encoding progress %+v", updates[2])
	}
	if updates[3].Type != EventTypeWarning || updates[3].Message != "audio downmixed" || updates[3].Percent >= 0 {
		t.Fatalf("unexpected warning %+v", updates[3])
	}
	result := updates[4].Result
	if result == nil || result.OutputPath != "/out/movie.mkv" || result.EncodedSize != 400 {
		t.Fatalf("unexpected result %+v", updates[4])
	}
}

func TestReporterSkipsEmptyInfo(t *testing.T) {
	var updates []ProgressUpdate
	rep := newReporter(func(u ProgressUpdate) { updates = append(updates, u) })
	rep.CropResult(draptolib.CropSummary{})
	if len(updates) != 0 {
		t.Fatalf("empty crop message should not emit, got %+v", updates)
	}
}

func TestOutputPath(t *testing.T) {
	if got := OutputPath("/media/in/movie.mp4", "/work/out"); got != "/work/out/movie.mkv" {
		t.Fatalf("OutputPath = %q", got)
	}
}

func TestLibraryEncodeValidatesArguments(t *testing.T) {
	lib := NewLibrary(true)
	if _, err := lib.Encode(t.Context(), "", "/tmp", EncodeOptions{}); err == nil {
		t.Fatal("expected error for empty input")
	}
	if _, err := lib.Encode(t.Context(), "/media/movie.mkv", " ", EncodeOptions{}); err == nil {
		t.Fatal("expected error for empty output directory")
	}
}
