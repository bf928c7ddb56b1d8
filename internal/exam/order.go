package exam

import (
	"math/rand"
	"sort"
)

// Shuffle returns a uniform random permutation of the question ids.
func Shuffle(qs []Question, rnd *rand.Rand) []string {
	ids := make([]string, len(qs))
	for i, q := range qs {
		ids[i] = q.ID
	}
	rnd.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	return ids
}

// ReconstructOrder rebuilds a presentation order from the ordinals recorded
// on responses. Questions without a response follow in natural order.
// Used for attempts that predate the stored presented order.
func ReconstructOrder(qs []Question, rs []Response) []string {
	known := make(map[string]int, len(qs))
	for i, q := range qs {
		known[q.ID] = i
	}
	seen := make(map[string]bool, len(rs))
	answered := make([]Response, 0, len(rs))
	for _, r := range rs {
		if _, ok := known[r.QuestionID]; !ok || seen[r.QuestionID] {
			continue
		}
		seen[r.QuestionID] = true
		answered = append(answered, r)
	}
	sort.SliceStable(answered, func(i, j int) bool {
		if answered[i].SequenceOrder != answered[j].SequenceOrder {
			return answered[i].SequenceOrder < answered[j].SequenceOrder
		}
		return known[answered[i].QuestionID] < known[answered[j].QuestionID]
	})
	out := make([]string, 0, len(qs))
	for _, r := range answered {
		out = append(out, r.QuestionID)
	}
	for _, q := range qs {
		if !seen[q.ID] {
			out = append(out, q.ID)
		}
	}
	return out
}

// ReconcileOrder keeps a stored order valid against the current question
// set: unknown ids are dropped, new questions are appended in natural order.
func ReconcileOrder(stored []string, qs []Question) []string {
	known := make(map[string]bool, len(qs))
	for _, q := range qs {
		known[q.ID] = true
	}
	out := make([]string, 0, len(qs))
	used := make(map[string]bool, len(qs))
	for _, id := range stored {
		if known[id] && !used[id] {
			out = append(out, id)
			used[id] = true
		}
	}
	for _, q := range qs {
		if !used[q.ID] {
			out = append(out, q.ID)
		}
	}
	return out
}

// SortQuestions orders questions by sequence_order, then id.
func SortQuestions(qs []Question) {
	sort.SliceStable(qs, func(i, j int) bool {
		if qs[i].SequenceOrder != qs[j].SequenceOrder {
			return qs[i].SequenceOrder < qs[j].SequenceOrder
		}
		return qs[i].ID < qs[j].ID
	})
}
