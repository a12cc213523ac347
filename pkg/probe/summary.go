package probe

// NoSuccessRecommendation is reported when no combination yielded a token.
const NoSuccessRecommendation = "API-key-only authentication may not be supported by this service. " +
	"Fall back to user/password login or a dedicated service account."

// Summarize counts outcomes and collects the successful and partial
// combinations, in probe order.
func Summarize(results []Result) Summary {
	s := Summary{
		Total:  len(results),
		Counts: make(map[Outcome]int, len(Outcomes)),
	}

	for _, r := range results {
		s.Counts[r.Outcome]++
		switch r.Outcome {
		case OutcomeSuccess:
			s.Successes = append(s.Successes, r)
		case OutcomePartial:
			s.Partials = append(s.Partials, r)
		}
	}

	if len(s.Successes) == 0 {
		s.Recommendation = NoSuccessRecommendation
	}

	return s
}

// Found reports whether any combination yielded a token.
func (s *Summary) Found() bool {
	return len(s.Successes) > 0
}
