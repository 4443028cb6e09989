package matcher

import "github.com/example/journey-matching/internal/models"

// Merge combines the same-direction and reverse-direction results into one
// candidate list. A journey found by both queries is kept once, as
// same-direction. Same-direction candidates come first.
func Merge(same, reverse []models.Journey) []models.Candidate {
	seen := make(map[int64]struct{}, len(same))
	out := make([]models.Candidate, 0, len(same)+len(reverse))
	for _, j := range same {
		if _, dup := seen[j.ID]; dup {
			continue
		}
		seen[j.ID] = struct{}{}
		out = append(out, models.Candidate{Journey: j})
	}
	for _, j := range reverse {
		if _, dup := seen[j.ID]; dup {
			continue
		}
		seen[j.ID] = struct{}{}
		out = append(out, models.Candidate{Journey: j, Reversed: true})
	}
	return out
}
