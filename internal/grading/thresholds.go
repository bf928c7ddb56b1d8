package grading

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Threshold is the minimum percentage for a letter.
type Threshold struct {
	Letter string  `json:"letter"`
	Min    float64 `json:"min"`
}

// Thresholds are kept sorted by Min descending. A percentage below every
// entry gets Fail.
type Thresholds struct {
	Steps []Threshold `json:"steps"`
	Fail  string      `json:"fail"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Steps: []Threshold{{"A", 80}, {"B", 70}, {"C", 60}, {"D", 50}},
		Fail:  "F",
	}
}

// Letter maps a percentage (or scaled total) to its letter grade.
func (t Thresholds) Letter(pct float64) string {
	for _, s := range t.Steps {
		if pct >= s.Min {
			return s.Letter
		}
	}
	if t.Fail == "" {
		return "F"
	}
	return t.Fail
}

// ParseThresholds reads "A:80,B:70,C:60,D:50". An optional entry with no
// minimum ("F" or "F:") names the failing letter.
func ParseThresholds(s string) (Thresholds, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultThresholds(), nil
	}
	t := Thresholds{Fail: "F"}
	seen := map[string]bool{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		letter, minStr, _ := strings.Cut(part, ":")
		letter = strings.TrimSpace(letter)
		minStr = strings.TrimSpace(minStr)
		if letter == "" {
			return Thresholds{}, fmt.Errorf("threshold %q: empty letter", part)
		}
		if minStr == "" {
			t.Fail = letter
			continue
		}
		floor, err := strconv.ParseFloat(minStr, 64)
		if err != nil {
			return Thresholds{}, fmt.Errorf("threshold %q: %w", part, err)
		}
		if floor < 0 || floor > 100 {
			return Thresholds{}, fmt.Errorf("threshold %q: minimum out of range", part)
		}
		if seen[letter] {
			return Thresholds{}, fmt.Errorf("threshold %q: duplicate letter", part)
		}
		seen[letter] = true
		t.Steps = append(t.Steps, Threshold{Letter: letter, Min: floor})
	}
	if len(t.Steps) == 0 {
		return Thresholds{}, fmt.Errorf("thresholds %q: no entries", s)
	}
	sort.SliceStable(t.Steps, func(i, j int) bool { return t.Steps[i].Min > t.Steps[j].Min })
	return t, nil
}

func (t Thresholds) String() string {
	parts := make([]string, 0, len(t.Steps)+1)
	for _, s := range t.Steps {
		parts = append(parts, s.Letter+":"+strconv.FormatFloat(s.Min, 'f', -1, 64))
	}
	if t.Fail != "" {
		parts = append(parts, t.Fail)
	}
	return strings.Join(parts, ",")
}
