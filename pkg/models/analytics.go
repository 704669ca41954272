package models

// WorkflowAnalytics holds the aggregate outcome counters for one workflow
// definition. Counters are only ever moved together with the enrollment
// write that caused the change, so completed never exceeds triggered.
type WorkflowAnalytics struct {
	Triggered      int64   `json:"triggered"`
	Completed      int64   `json:"completed"`
	Exited         int64   `json:"exited"`
	ConversionRate float64 `json:"conversion_rate"`
	Revenue        float64 `json:"revenue"`
}

// AnalyticsDelta is one increment applied to a workflow's counters.
type AnalyticsDelta struct {
	Triggered int64
	Completed int64
	Exited    int64
	Revenue   float64
}

// IsZero reports whether applying the delta would change nothing.
func (d AnalyticsDelta) IsZero() bool {
	return d.Triggered == 0 && d.Completed == 0 && d.Exited == 0 && d.Revenue == 0
}

// Apply adds the delta and recomputes the conversion rate.
func (a *WorkflowAnalytics) Apply(delta AnalyticsDelta) {
	a.Triggered += delta.Triggered
	a.Completed += delta.Completed
	a.Exited += delta.Exited
	a.Revenue += delta.Revenue

	if a.Triggered > 0 {
		a.ConversionRate = float64(a.Completed) / float64(a.Triggered)
	} else {
		a.ConversionRate = 0
	}
}
