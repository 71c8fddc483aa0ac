package harness

// RunSummary is the outcome of one run of a scenario.
type RunSummary struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
	Rows   int    `json:"rows"`
	Error  string `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	Runs []RunSummary `json:"runs"`

	// Rows are the cells of every row stored for the scenario's dataset,
	// in insertion order.
	Rows [][]string `json:"rows"`

	// Journal is the site's record of navigations and interactions.
	Journal []string `json:"journal"`

	// Said collects the messages programs addressed to the user.
	Said []string `json:"said,omitempty"`

	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Runs:    []RunSummary{},
		Rows:    [][]string{},
		Journal: []string{},
		Errors:  []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
