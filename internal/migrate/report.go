package migrate

import "time"

// TableResult is the outcome of copying one table.
type TableResult struct {
	Table    string
	Fetched  int
	Written  int
	Batches  int
	Remapped int
	Duration time.Duration
	Err      error
}

// Report collects the outcome of a run.
type Report struct {
	Tables   []TableResult
	Repair   *RepairResult
	DryRun   bool
	Duration time.Duration
}

// Failed reports whether any table or the repair pass had an error.
func (r *Report) Failed() bool {
	for _, t := range r.Tables {
		if t.Err != nil {
			return true
		}
	}
	return r.Repair != nil && r.Repair.Failed()
}

// Rows sums written rows over all tables.
func (r *Report) Rows() int {
	n := 0
	for _, t := range r.Tables {
		n += t.Written
	}
	return n
}

// FailedTables lists the names of tables that did not copy completely.
func (r *Report) FailedTables() []string {
	var out []string
	for _, t := range r.Tables {
		if t.Err != nil {
			out = append(out, t.Table)
		}
	}
	return out
}
