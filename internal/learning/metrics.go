// Package learning maintains per-task-type running duration/outcome
// aggregates using Welford's online algorithm, backed by a bbolt database.
package learning

import (
	"math"
	"time"
)

// Metrics is a snapshot of the running aggregates for one task type.
type Metrics struct {
	TaskType     string    `json:"task_type"`
	Total        int64     `json:"total"`
	Success      int64     `json:"success"`
	Failure      int64     `json:"failure"`
	RetryTotal   int64     `json:"retry_total"`
	RetrySuccess int64     `json:"retry_success"`
	SLABreach    int64     `json:"sla_breach"`
	Mean         float64   `json:"mean_ms"`
	M2           float64   `json:"m2"`
	LastUpdated  time.Time `json:"last_updated"`
}

// Variance returns the population variance (M2 / n, 0 for n <= 1).
func (m Metrics) Variance() float64 {
	if m.Total <= 1 {
		return 0
	}
	return m.M2 / float64(m.Total)
}

// Stdev returns the population standard deviation.
func (m Metrics) Stdev() float64 {
	return math.Sqrt(m.Variance())
}

// FailureRate returns failures / total, or 0 when there is no history yet.
func (m Metrics) FailureRate() float64 {
	if m.Total == 0 {
		return 0
	}
	return float64(m.Failure) / float64(m.Total)
}

// SLACompliance returns 1 - breaches/total, or 1 when there is no history yet.
func (m Metrics) SLACompliance() float64 {
	if m.Total == 0 {
		return 1
	}
	return 1 - float64(m.SLABreach)/float64(m.Total)
}

// record is one durable sample backing retention-window recomputation.
type record struct {
	TS             time.Time `json:"ts"`
	TaskType       string    `json:"task_type"`
	DurationMS     float64   `json:"duration_ms"`
	Outcome        string    `json:"outcome"`
	RetryCount     int       `json:"retry_count"`
	RetrySucceeded bool      `json:"retry_succeeded"`
	SLABreached    bool      `json:"sla_breached"`
}

// applyWelford folds x into m using Welford's online recurrence, returning
// the updated snapshot. m.Total must already exclude x.
func applyWelford(m Metrics, x float64, now time.Time) Metrics {
	n := m.Total + 1
	delta := x - m.Mean
	newMean := m.Mean + delta/float64(n)
	delta2 := x - newMean
	newM2 := m.M2 + delta*delta2

	m.Total = n
	m.Mean = newMean
	m.M2 = newM2
	m.LastUpdated = now
	return m
}

// recomputeFromRecords performs a standard two-pass mean/variance over a
// surviving record set, used by maintenance() after a retention purge.
func recomputeFromRecords(taskType string, records []record) Metrics {
	m := Metrics{TaskType: taskType}
	if len(records) == 0 {
		return m
	}
	var sum float64
	for _, r := range records {
		sum += r.DurationMS
		m.Total++
		if r.Outcome == "success" {
			m.Success++
		} else {
			m.Failure++
		}
		if r.RetryCount > 0 {
			m.RetryTotal++
			if r.RetrySucceeded {
				m.RetrySuccess++
			}
		}
		if r.SLABreached {
			m.SLABreach++
		}
		if r.TS.After(m.LastUpdated) {
			m.LastUpdated = r.TS
		}
	}
	mean := sum / float64(m.Total)
	var sq float64
	for _, r := range records {
		d := r.DurationMS - mean
		sq += d * d
	}
	m.Mean = mean
	m.M2 = sq
	return m
}
