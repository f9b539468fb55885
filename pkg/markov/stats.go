package markov

// Stats holds aggregated statistics for one Knowledge store.
type Stats struct {
	Order           int `json:"order"`            // ngram size
	Contexts        int `json:"contexts"`         // known contexts, not counting the empty context
	Transitions     int `json:"transitions"`      // unique context -> next-token links
	TotalFrequency  int `json:"total_frequency"`  // sum of all transition counts
	StartCandidates int `json:"start_candidates"` // unique start candidates
	StartFrequency  int `json:"start_frequency"`  // trained units that produced a start candidate
	StopContexts    int `json:"stop_contexts"`    // contexts that have been followed by StopToken
}

// Stats returns a snapshot of statistics for k.
func (k *Knowledge) Stats() Stats {
	starts := k.Starts()
	stats := Stats{
		Order:           k.order,
		Contexts:        k.Len(),
		StartCandidates: starts.Len(),
		StartFrequency:  starts.Total(),
	}
	for key, d := range k.contexts {
		if key == "" {
			continue
		}
		stats.Transitions += d.Len()
		stats.TotalFrequency += d.Total()
		if d.Count(StopToken) > 0 {
			stats.StopContexts++
		}
	}
	return stats
}
