package scoring

import (
	"testing"

	"threatwatch/internal/schema"
)

func TestScorer_Classify(t *testing.T) {
	s := NewScorer(DefaultThresholds())

	tests := []struct {
		score int
		want  schema.ThreatLevel
	}{
		{score: 0, want: schema.LevelLow},
		{score: 49, want: schema.LevelLow},
		{score: 50, want: schema.LevelMedium},
		{score: 74, want: schema.LevelMedium},
		{score: 75, want: schema.LevelHigh},
		{score: 89, want: schema.LevelHigh},
		{score: 90, want: schema.LevelCritical},
		{score: 100, want: schema.LevelCritical},
	}

	for _, tt := range tests {
		if got := s.Classify(tt.score); got != tt.want {
			t.Errorf("Classify(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestScorer_Classify_Monotonic(t *testing.T) {
	s := NewScorer(DefaultThresholds())

	prev := s.Classify(0)
	for score := 1; score <= 100; score++ {
		cur := s.Classify(score)
		if cur.Rank() < prev.Rank() {
			t.Fatalf("classification not monotonic: classify(%d)=%s < classify(%d)=%s",
				score, cur, score-1, prev)
		}
		prev = cur
	}
}

func TestScorer_Score(t *testing.T) {
	s := NewScorer(DefaultThresholds())

	tests := []struct {
		name        string
		indicators  []Indicator
		wantScore   int
		wantReasons int
	}{
		{
			name:       "empty set scores zero",
			indicators: nil,
			wantScore:  0,
		},
		{
			name: "sums weights",
			indicators: []Indicator{
				{Reason: "New IP address", Weight: 30},
				{Reason: "New user agent", Weight: 20},
			},
			wantScore:   50,
			wantReasons: 2,
		},
		{
			name: "clamps above 100",
			indicators: []Indicator{
				{Reason: "a", Weight: 60},
				{Reason: "b", Weight: 60},
			},
			wantScore:   100,
			wantReasons: 2,
		},
		{
			name: "clamps below 0",
			indicators: []Indicator{
				{Reason: "adjustment", Weight: -10},
			},
			wantScore:   0,
			wantReasons: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, reasons := s.Score(tt.indicators)
			if score != tt.wantScore {
				t.Errorf("Score() = %d, want %d", score, tt.wantScore)
			}
			if len(reasons) != tt.wantReasons {
				t.Errorf("Score() reasons = %d, want %d", len(reasons), tt.wantReasons)
			}
		})
	}
}

func TestScorer_Score_PreservesOrder(t *testing.T) {
	s := NewScorer(DefaultThresholds())

	indicators := []Indicator{
		{Reason: "first", Weight: 10},
		{Reason: "second", Weight: 10},
		{Reason: "third", Weight: 10},
	}
	_, reasons := s.Score(indicators)

	want := []string{"first", "second", "third"}
	for i, r := range reasons {
		if r != want[i] {
			t.Errorf("reasons[%d] = %q, want %q", i, r, want[i])
		}
	}
}
