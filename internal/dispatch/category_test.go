package dispatch_test

import (
	"testing"

	"github.com/MrWong99/nivest/internal/dispatch"
)

func TestNormalizer_Normalize(t *testing.T) {
	t.Parallel()

	n := dispatch.NewNormalizer(dispatch.DefaultCategories)

	tests := []struct {
		input     string
		want      string
		wantMatch bool
	}{
		{"Food", "Food", true},
		{"food", "Food", true},
		{"  FUEL ", "Fuel", true},
		{"emi", "EMI", true},
		{"fud", "Food", true},
		{"shoping", "Shopping", true},
		{"quantum", "quantum", false},
		{"", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			t.Parallel()
			got, matched := n.Normalize(tc.input)
			if matched != tc.wantMatch {
				t.Fatalf("Normalize(%q) matched = %v, want %v", tc.input, matched, tc.wantMatch)
			}
			if got != tc.want {
				t.Errorf("Normalize(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestNormalizer_EmptyListPassesThrough(t *testing.T) {
	t.Parallel()

	n := dispatch.NewNormalizer([]string{"", "  "})
	if got := n.Categories(); len(got) != 0 {
		t.Fatalf("Categories() = %v, want empty", got)
	}
	got, matched := n.Normalize("fud")
	if matched || got != "fud" {
		t.Errorf("Normalize(%q) = (%q, %v), want (%q, false)", "fud", got, matched, "fud")
	}
}

func TestNormalizer_ThresholdOption(t *testing.T) {
	t.Parallel()

	// A phonetic threshold above any possible score leaves only exact matches.
	n := dispatch.NewNormalizer([]string{"Food"},
		dispatch.WithPhoneticThreshold(1.01),
		dispatch.WithFuzzyThreshold(1.01),
	)
	if _, matched := n.Normalize("fud"); matched {
		t.Error("Normalize(fud) matched with thresholds above 1")
	}
	if got, matched := n.Normalize("FOOD"); !matched || got != "Food" {
		t.Errorf("Normalize(FOOD) = (%q, %v), want (Food, true)", got, matched)
	}
}
