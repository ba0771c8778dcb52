package llm_test

import (
	"strings"
	"testing"

	"mediaflow/internal/services/llm"
)

func TestDecodeLLMJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
		wantErr bool
	}{
		{"plain", `{"title":"A"}`, "A", false},
		{"fenced", "```json\n{\"title\":\"B\"}\n```", "B", false},
		{"fenced without language", "```\n{\"title\":\"C\"}\n```", "C", false},
		{"prose around object", `Sure! Here it is: {"title":"D"} Hope that helps.`, "D", false},
		{"empty", "   ", "", true},
		{"not json", "no braces here", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var out struct {
				Title string `json:"title"`
			}
			err := llm.DecodeLLMJSON(tc.content, &out)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", out)
				}
				return
			}
			if err != nil || out.Title != tc.want {
				t.Fatalf("got %+v err=%v, want %q", out, err, tc.want)
			}
		})
	}
}

func TestTruncateApprox(t *testing.T) {
	tok := llm.ApproxTokenizer{}
	text := strings.Repeat("abcd", 10)
	if got := llm.Count(tok, text); got != 10 {
		t.Fatalf("Count = %d, want 10", got)
	}
	cut, truncated := llm.Truncate(tok, text, 3)
	if !truncated || cut != "abcdabcdabcd" {
		t.Fatalf("Truncate = %q %v", cut, truncated)
	}
	same, truncated := llm.Truncate(tok, text, 50)
	if truncated || same != text {
		t.Fatal("text within budget must be returned unchanged")
	}
	if _, truncated := llm.Truncate(tok, text, 0); truncated {
		t.Fatal("zero budget disables truncation")
	}
}

func TestTruncateApproxKeepsRunesWhole(t *testing.T) {
	text := "héllo wörld ünïcode"
	cut, truncated := llm.Truncate(llm.ApproxTokenizer{}, text, 2)
	if !truncated || !strings.HasPrefix(text, cut) {
		t.Fatalf("unexpected cut %q", cut)
	}
	for _, r := range cut {
		if r == '�' {
			t.Fatalf("cut split a rune: %q", cut)
		}
	}
}
