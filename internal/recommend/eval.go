package recommend

// QueryCase is one labeled evaluation query: a filter pair and the ids the
// grader considers relevant for it.
type QueryCase struct {
	City    string   `json:"city"`
	Cuisine string   `json:"cuisine"`
	Truth   []string `json:"truth"`
}

// Metrics aggregates retrieval quality over an evaluation set.
type Metrics struct {
	Queries int     `json:"queries"`
	HitAt5  float64 `json:"hit_at_5"`
	HitAt10 float64 `json:"hit_at_10"`
	MRR     float64 `json:"mrr"`
}

// Evaluate runs each case through the engine and scores the ranked ids
// against the labeled truth. Cases whose query fails are counted with zero
// contribution rather than aborting the run.
func (e *Engine) Evaluate(cases []QueryCase) Metrics {
	m := Metrics{Queries: len(cases)}
	if len(cases) == 0 {
		return m
	}
	var hit5, hit10, mrr float64
	for _, qc := range cases {
		recs, err := e.Recommend(qc.City, qc.Cuisine, 10)
		if err != nil {
			e.lg.Warn("eval.query_failed", "city", qc.City, "cuisine", qc.Cuisine, "err", err.Error())
			continue
		}
		truth := make(map[string]struct{}, len(qc.Truth))
		for _, id := range qc.Truth {
			truth[id] = struct{}{}
		}
		for rank, r := range recs {
			if _, ok := truth[r.ID]; !ok {
				continue
			}
			if rank < 5 {
				hit5++
			}
			hit10++
			mrr += 1 / float64(rank+1)
			break
		}
	}
	n := float64(len(cases))
	m.HitAt5 = hit5 / n
	m.HitAt10 = hit10 / n
	m.MRR = mrr / n
	return m
}
