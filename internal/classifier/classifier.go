// Package classifier implements the six-gate sequential policy filter that
// labels a task simple, complex, or in need of manual review.
package classifier

import (
	"strings"

	"github.com/swarmguard/taskctl/internal/learning"
)

// Label is the classifier's terminal decision.
type Label string

const (
	Simple       Label = "simple"
	Complex      Label = "complex"
	ManualReview Label = "manual_review"
)

// GateStatus is the outcome recorded for one gate.
type GateStatus string

const (
	GatePass    GateStatus = "pass"
	GateFail    GateStatus = "fail"
	GateSkipped GateStatus = "skipped"
)

// GateResult records one gate's verdict and, for a skip, the reason.
type GateResult struct {
	Status GateStatus
	Reason string
}

// Metadata is the statically-typed task metadata this classifier inspects.
type Metadata struct {
	Override bool
	Extra    map[string]any
}

// Config holds the classifier's tunable thresholds, passed explicitly
// rather than read from process-wide global state.
type Config struct {
	MaxComplexSteps           int
	MaxSimpleSteps            int
	VaultRoot                 string
	VaultWhitelistDirs        []string
	ExternalServicesAllowlist []string
	SLASimpleMinutes          float64
	SLAComplexMinutes         float64
	RollbackArchiveExists     func() bool
}

// DefaultConfig matches the spec's configured defaults.
func DefaultConfig() Config {
	return Config{
		MaxComplexSteps:       15,
		MaxSimpleSteps:        5,
		SLASimpleMinutes:      2,
		SLAComplexMinutes:     10,
		RollbackArchiveExists: func() bool { return true },
	}
}

// HistoryLookup is the learning-store contract the SLA-feasibility gate
// consults.
type HistoryLookup interface {
	Query(taskType string) (learning.Metrics, bool)
}

// Classifier runs the six-gate filter over task content and a candidate plan.
type Classifier struct {
	cfg     Config
	gate    PermissionGate
	history HistoryLookup
}

// New constructs a Classifier. gate selects the permissions-gate
// implementation (KeywordPermissionGate by default when nil); history may be
// nil, in which case the SLA-feasibility gate always passes (cold start).
func New(cfg Config, gate PermissionGate, history HistoryLookup) *Classifier {
	if gate == nil {
		gate = KeywordPermissionGate{}
	}
	return &Classifier{cfg: cfg, gate: gate, history: history}
}

// Result is the full outcome of one classify() call.
type Result struct {
	Label       Label
	GateResults map[string]GateResult
}

// Classify runs the sequential gate cascade over content and planSteps,
// short-circuiting on the first failure and marking subsequent gates
// skipped.
func (c *Classifier) Classify(content string, planSteps []string, taskType string, meta Metadata) Result {
	results := make(map[string]GateResult, 6)

	if meta.Override {
		label := Simple
		if nonEmptySteps(planSteps) > c.cfg.MaxSimpleSteps {
			label = Complex
		}
		results["override"] = GateResult{Status: GatePass, Reason: "override applied, gates skipped"}
		for _, g := range []string{"step_count", "credentials", "determinism", "permissions", "sla_feasibility", "rollback_readiness"} {
			results[g] = GateResult{Status: GateSkipped, Reason: "override"}
		}
		return Result{Label: label, GateResults: results}
	}

	n := nonEmptySteps(planSteps)
	if n > c.cfg.MaxComplexSteps {
		results["step_count"] = GateResult{Status: GateFail, Reason: "manual_review"}
		skipRest(results, "step_count")
		return Result{Label: ManualReview, GateResults: results}
	}
	simpleCandidate := n <= c.cfg.MaxSimpleSteps
	results["step_count"] = GateResult{Status: GatePass}

	combined := strings.ToLower(content + " " + strings.Join(planSteps, " "))

	if containsAny(combined, credentialKeywords) {
		results["credentials"] = GateResult{Status: GateFail, Reason: "credential keyword detected"}
		skipRest(results, "credentials")
		return Result{Label: Complex, GateResults: results}
	}
	results["credentials"] = GateResult{Status: GatePass}

	if containsAny(combined, nondeterministicKeywords) {
		results["determinism"] = GateResult{Status: GateFail, Reason: "non-deterministic operation detected"}
		skipRest(results, "determinism")
		return Result{Label: Complex, GateResults: results}
	}
	results["determinism"] = GateResult{Status: GatePass}

	permOK, permReason := c.gate.Check(combined, c.cfg)
	if !permOK {
		results["permissions"] = GateResult{Status: GateFail, Reason: permReason}
		skipRest(results, "permissions")
		return Result{Label: Complex, GateResults: results}
	}
	results["permissions"] = GateResult{Status: GatePass}

	candidateComplexity := "simple"
	if !simpleCandidate {
		candidateComplexity = "complex"
	}
	if !c.slaFeasible(taskType, candidateComplexity) {
		results["sla_feasibility"] = GateResult{Status: GateFail, Reason: "estimated duration exceeds 1.5x sla threshold"}
		skipRest(results, "sla_feasibility")
		return Result{Label: Complex, GateResults: results}
	}
	results["sla_feasibility"] = GateResult{Status: GatePass}

	if !simpleCandidate {
		ready := c.cfg.RollbackArchiveExists != nil && c.cfg.RollbackArchiveExists()
		if !ready {
			results["rollback_readiness"] = GateResult{Status: GateFail, Reason: "rollback archive unavailable"}
			return Result{Label: Complex, GateResults: results}
		}
		results["rollback_readiness"] = GateResult{Status: GatePass}
		return Result{Label: Complex, GateResults: results}
	}
	results["rollback_readiness"] = GateResult{Status: GateSkipped, Reason: "not applicable to simple candidate"}

	return Result{Label: Simple, GateResults: results}
}

func (c *Classifier) slaFeasible(taskType, candidateComplexity string) bool {
	if c.history == nil {
		return true
	}
	m, ok := c.history.Query(taskType)
	if !ok || m.Total == 0 {
		return true
	}
	threshold := c.cfg.SLASimpleMinutes
	if candidateComplexity == "complex" {
		threshold = c.cfg.SLAComplexMinutes
	}
	estimateMinutes := m.Mean / 60000
	return estimateMinutes <= 1.5*threshold
}

func skipRest(results map[string]GateResult, after string) {
	order := []string{"step_count", "credentials", "determinism", "permissions", "sla_feasibility", "rollback_readiness"}
	skip := false
	for _, g := range order {
		if skip {
			if _, exists := results[g]; !exists {
				results[g] = GateResult{Status: GateSkipped, Reason: "short-circuited after " + after}
			}
		}
		if g == after {
			skip = true
		}
	}
}

func nonEmptySteps(steps []string) int {
	n := 0
	for _, s := range steps {
		trimmed := strings.TrimSpace(s)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "#") {
			continue
		}
		n++
	}
	return n
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
