package match

import "sort"

// pickBest orders candidates by confidence, then most recent lead
// activity, then contact completeness, and returns the winner plus
// whether the top spot remained tied after all criteria. Ties always
// downgrade to review, never to an arbitrary pick.
func pickBest(cands []scoredLead) (scoredLead, bool) {
	if len(cands) == 1 {
		return cands[0], false
	}

	sorted := make([]scoredLead, len(cands))
	copy(sorted, cands)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.confidence != b.confidence {
			return a.confidence > b.confidence
		}
		if !a.lead.LastActivityAt.Equal(b.lead.LastActivityAt) {
			return a.lead.LastActivityAt.After(b.lead.LastActivityAt)
		}
		ac, bc := a.lead.HasCompleteContact(), b.lead.HasCompleteContact()
		if ac != bc {
			return ac
		}
		return false
	})

	top, second := sorted[0], sorted[1]
	ambiguous := top.confidence == second.confidence &&
		top.lead.LastActivityAt.Equal(second.lead.LastActivityAt) &&
		top.lead.HasCompleteContact() == second.lead.HasCompleteContact()

	return top, ambiguous
}
