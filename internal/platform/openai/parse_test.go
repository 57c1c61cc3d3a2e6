package openai

import (
	"reflect"
	"testing"
)

func TestParseYesNo(t *testing.T) {
	cases := []struct {
		in     string
		want   bool
		wantOK bool
	}{
		{"Yes", true, true},
		{"no", false, true},
		{"Yes.", true, true},
		{"  NO, the chunk is unrelated.", false, true},
		{"The answer is yes because the chunk covers heartbeats.", true, true},
		{"Maybe", false, false},
		{"", false, false},
		{"Yesterday", false, false},
	}
	for _, c := range cases {
		got, ok := ParseYesNo(c.in)
		if got != c.want || ok != c.wantOK {
			t.Fatalf("ParseYesNo(%q) = (%v,%v), want (%v,%v)", c.in, got, ok, c.want, c.wantOK)
		}
	}
}

func TestParseScore(t *testing.T) {
	cases := []struct {
		in     string
		want   float64
		wantOK bool
	}{
		{"0.85", 0.85, true},
		{"Score: 0.7", 0.7, true},
		{"I'd rate this 8/10", 0.8, true},
		{"85%", 0.85, true},
		{"87", 0.87, true},
		{"1", 1, true},
		{"0", 0, true},
		{"about 1.5 out of 1", 1, true},
		{"-0.3", 0, true},
		{"no number here", 0, false},
	}
	for _, c := range cases {
		got, ok := ParseScore(c.in)
		if ok != c.wantOK {
			t.Fatalf("ParseScore(%q) ok = %v, want %v", c.in, ok, c.wantOK)
		}
		if ok && (got < c.want-1e-9 || got > c.want+1e-9) {
			t.Fatalf("ParseScore(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestParseQuestionsEnumerated(t *testing.T) {
	in := "1. How does raft elect a leader?\n2. What is a term?\n\n3) Why do heartbeats matter?"
	want := []string{
		"How does raft elect a leader?",
		"What is a term?",
		"Why do heartbeats matter?",
	}
	if got := ParseQuestions(in); !reflect.DeepEqual(got, want) {
		t.Fatalf("ParseQuestions = %#v, want %#v", got, want)
	}
}

func TestParseQuestionsJSONArray(t *testing.T) {
	in := `Here you go: ["What is quorum?", "How are logs replicated?"]`
	want := []string{"What is quorum?", "How are logs replicated?"}
	if got := ParseQuestions(in); !reflect.DeepEqual(got, want) {
		t.Fatalf("ParseQuestions = %#v, want %#v", got, want)
	}
}

func TestParseQuestionsEmpty(t *testing.T) {
	if got := ParseQuestions("   \n  \n"); got != nil {
		t.Fatalf("expected nil, got %#v", got)
	}
}
