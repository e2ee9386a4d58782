// Package orchestrator wires the audit log, learning store, planner, risk
// scorer, SLA predictor, classifier, concurrency controller, and
// self-healing engine into a polling loop that classifies, plans, admits,
// executes, heals, and learns from tasks against external collaborators.
package orchestrator

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/swarmguard/taskctl/internal/audit"
	"github.com/swarmguard/taskctl/internal/classifier"
	"github.com/swarmguard/taskctl/internal/concurrency"
	"github.com/swarmguard/taskctl/internal/core/resilience"
	"github.com/swarmguard/taskctl/internal/graph"
	"github.com/swarmguard/taskctl/internal/learning"
	"github.com/swarmguard/taskctl/internal/planner"
	"github.com/swarmguard/taskctl/internal/risk"
	"github.com/swarmguard/taskctl/internal/selfheal"
	"github.com/swarmguard/taskctl/internal/sla"
)

// StepExecutor runs one graph step for a task against the allow-listed
// operation engine. Supplied by the caller; the orchestrator treats it as an
// untrusted boundary and never lets a panic escape it.
type StepExecutor func(taskID, stepID string) (bool, error)

// Loop is the assembled orchestrator. Construct with New, then call Tick
// directly or Start to run it on cron.
type Loop struct {
	cfg Config

	auditLog  *audit.Log
	learning  *learning.Store
	planner   *planner.Planner
	risk      *risk.Scorer
	predictor *sla.Predictor
	classify  *classifier.Classifier
	controller *concurrency.Controller
	healer    *selfheal.Engine

	taskStore TaskStore
	rollback  RollbackSystem
	notifier  Notifier
	scanner   CredentialScanner
	execute   StepExecutor

	rollbackBreaker *resilience.CircuitBreaker

	mu     sync.Mutex
	graphs map[string]*graph.Graph

	cron *cron.Cron
}

// New assembles a Loop from its sub-components and collaborators. Any of
// rollback, notifier, or scanner may be nil to disable that optional stage.
func New(
	cfg Config,
	auditLog *audit.Log,
	learningStore *learning.Store,
	taskStore TaskStore,
	rollback RollbackSystem,
	notifier Notifier,
	scanner CredentialScanner,
	execute StepExecutor,
) *Loop {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	weights := risk.Weights{
		SLA:        cfg.RiskWeightSLA,
		Complexity: cfg.RiskWeightComplexity,
		Impact:     cfg.RiskWeightImpact,
		Failure:    cfg.RiskWeightFailure,
	}
	classifierCfg := classifier.DefaultConfig()
	classifierCfg.RollbackArchiveExists = rollbackArchiveCheck(rollback, cfg.RollbackDir)
	return &Loop{
		cfg:             cfg,
		auditLog:        auditLog,
		learning:        learningStore,
		planner:         planner.New(learningStore),
		risk:            risk.New(weights),
		predictor:       sla.New(cfg.PredictionThreshold),
		classify:        classifier.New(classifierCfg, nil, learningStore),
		controller:      concurrency.New(cfg.MaxParallelTasks, cfg.TaskTimeout),
		healer:          selfheal.New(cfg.MaxRecoveryAttempts),
		taskStore:       taskStore,
		rollback:        rollback,
		notifier:        notifier,
		scanner:         scanner,
		execute:         execute,
		rollbackBreaker: resilience.NewCircuitBreakerAdaptive(time.Minute, 6, 5, 0.5, 30*time.Second, 1),
		graphs:          make(map[string]*graph.Graph),
	}
}

// Start registers the main tick, learning-store maintenance, and
// rollback-purge cron entries and starts the scheduler. Matching
// services/orchestrator/scheduler.go's three-entry pattern.
func (l *Loop) Start() error {
	l.cron = cron.New(cron.WithSeconds())

	if _, err := l.cron.AddFunc(everyExpr(l.cfg.PollInterval), func() { l.Tick() }); err != nil {
		return fmt.Errorf("register poll tick: %w", err)
	}
	if _, err := l.cron.AddFunc(everyExpr(l.cfg.MaintenanceInterval), func() {
		if err := l.learning.Maintenance(); err != nil {
			slog.Error("learning maintenance failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("register maintenance tick: %w", err)
	}
	if l.rollback != nil {
		if _, err := l.cron.AddFunc(everyExpr(l.cfg.PurgeInterval), func() {
			if _, err := l.rollback.PurgeExpired(); err != nil {
				slog.Error("rollback purge failed", "error", err)
			}
		}); err != nil {
			return fmt.Errorf("register purge tick: %w", err)
		}
	}

	l.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for the in-flight tick to finish.
func (l *Loop) Stop() {
	if l.cron != nil {
		<-l.cron.Stop().Done()
	}
}

// rollbackArchiveCheck builds the classifier's gate-6 readiness probe
// against the actual rollback collaborator: no configured RollbackSystem
// fails closed, and a configured archive directory must exist on disk.
func rollbackArchiveCheck(rollback RollbackSystem, dir string) func() bool {
	return func() bool {
		if rollback == nil {
			return false
		}
		if dir == "" {
			return true
		}
		info, err := os.Stat(dir)
		return err == nil && info.IsDir()
	}
}

func everyExpr(d time.Duration) string {
	if d <= 0 {
		d = time.Minute
	}
	return "@every " + d.String()
}

// Tick runs one iteration of the orchestrator loop. A
// component panic within the iteration is caught and recorded, never
// propagated.
func (l *Loop) Tick() {
	defer func() {
		if r := recover(); r != nil {
			l.auditLog.Append(audit.New(audit.OpHeartbeatFail, "", "orchestrator.loop", "", audit.OutcomeFailed, fmt.Sprintf("recovered=%v", r)))
			l.auditLog.Append(audit.New(audit.OpError, "", "orchestrator.loop", "", audit.OutcomeFailed, fmt.Sprintf("%v", r)))
		}
	}()

	l.scanCredentials()
	l.purgeRollbacks()

	pending, err := l.taskStore.ListPending()
	if err != nil {
		l.auditLog.Append(audit.New(audit.OpError, "", "orchestrator.loop", "", audit.OutcomeFailed, "list_pending: "+err.Error()))
		return
	}

	for _, t := range pending {
		l.classifyAndPlan(t)
	}

	admissible := make([]*Task, 0, len(pending))
	graphs := make(map[string]*graph.Graph, len(pending))
	for _, t := range pending {
		g, ok := l.getGraph(t.ID)
		if !ok || t.Status != StatusPending || !l.shouldAutoExecute(t) {
			continue
		}
		admissible = append(admissible, t)
		graphs[t.ID] = g
	}
	l.orderByRisk(admissible)

	var wg sync.WaitGroup
	for _, t := range admissible {
		g := graphs[t.ID]
		slot := l.controller.Acquire(t.ID)
		if slot == nil {
			composite := l.riskForQueue(t)
			l.controller.Enqueue(t.ID, composite)
			l.auditLog.Append(audit.New(audit.OpConcurrencyQueued, t.ID, "orchestrator.loop", "", audit.OutcomeSuccess, fmt.Sprintf("risk=%.3f", composite)))
			continue
		}
		wg.Add(1)
		go func(t *Task, g *graph.Graph, slot *concurrency.Slot) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					l.auditLog.Append(audit.New(audit.OpHeartbeatFail, t.ID, "orchestrator.loop", "", audit.OutcomeFailed, fmt.Sprintf("recovered=%v", r)))
				}
			}()
			l.runTask(t, g, slot)
		}(t, g, slot)
	}
	wg.Wait()
}

// orderByRisk reorders tasks by descending composite risk before admission,
// so the risk-priority queue governs Acquire order and not just the
// overflow wait queue. Disabling EnableRiskScoring degrades to ingestion
// order, matching the foundation behavior the flag falls back to.
func (l *Loop) orderByRisk(tasks []*Task) {
	if !l.cfg.EnableRiskScoring || len(tasks) < 2 {
		return
	}
	scored := make([]risk.Scored, len(tasks))
	byTaskID := make(map[string]*Task, len(tasks))
	for i, t := range tasks {
		scored[i] = risk.Scored{TaskID: t.ID, Score: l.scoreTask(t)}
		byTaskID[t.ID] = t
	}
	reordered := l.risk.Reorder(scored)
	for i, s := range reordered {
		tasks[i] = byTaskID[s.TaskID]
	}
}

// shouldAutoExecute reports whether the orchestrator itself runs t's
// executor, per the auto_execute_{simple,complex} feature flags. A task the
// loop does not auto-execute stays classified and planned, ready for an
// external executor to pick up.
func (l *Loop) shouldAutoExecute(t *Task) bool {
	switch classifier.Label(t.Classification) {
	case classifier.Simple:
		return l.cfg.AutoExecuteSimple
	case classifier.Complex:
		return l.cfg.AutoExecuteComplex
	default:
		return false
	}
}

func (l *Loop) scanCredentials() {
	if l.scanner == nil || l.cfg.PlansDir == "" {
		return
	}
	findings, err := l.scanner.Scan(l.cfg.PlansDir)
	if err != nil {
		l.auditLog.Append(audit.New(audit.OpError, "", "orchestrator.loop", "", audit.OutcomeFailed, "credential_scan: "+err.Error()))
		return
	}
	for _, f := range findings {
		l.auditLog.Append(audit.New(audit.OpCredentialFlagged, f, "orchestrator.loop", "", audit.OutcomeFlagged, "credential keyword detected"))
	}
}

func (l *Loop) purgeRollbacks() {
	if l.rollback == nil {
		return
	}
	if _, err := l.rollback.PurgeExpired(); err != nil {
		l.auditLog.Append(audit.New(audit.OpError, "", "orchestrator.loop", "", audit.OutcomeFailed, "purge_expired: "+err.Error()))
	}
}

// classifyAndPlan runs step 4 of the loop for one task: classify, plan if
// not manual_review, and risk-score.
func (l *Loop) classifyAndPlan(t *Task) {
	if _, ok := l.getGraph(t.ID); ok {
		return
	}

	content, meta, err := l.taskStore.Read(t.ID)
	if err != nil {
		l.auditLog.Append(audit.New(audit.OpError, t.ID, "orchestrator.loop", "", audit.OutcomeFailed, "read: "+err.Error()))
		return
	}

	planLines := strings.Split(content, "\n")
	cmeta := classifier.Metadata{Override: t.Override, Extra: meta}
	result := l.classify.Classify(content, planLines, t.Type, cmeta)
	t.Classification = string(result.Label)
	t.ClassifiedAt = time.Now()
	if override, ok := result.GateResults["override"]; ok {
		l.auditLog.Append(audit.New(audit.OpOverrideApplied, t.ID, "orchestrator.classifier", "", audit.OutcomeSuccess, override.Reason))
	}
	for gate, gr := range result.GateResults {
		if gr.Status == classifier.GateFail {
			l.auditLog.Append(audit.New(audit.OpGateBlocked, t.ID, "orchestrator.classifier", gate, audit.OutcomeFlagged, gr.Reason))
		}
	}
	l.auditLog.Append(audit.New(audit.OpTaskClassified, t.ID, "orchestrator.classifier", "", audit.OutcomeSuccess, "label="+string(result.Label)))

	if result.Label == classifier.ManualReview {
		t.Status = StatusBlocked
		_ = l.taskStore.UpdateStatus(t.ID, StatusBlocked, t.Version)
		return
	}

	g, err := l.planner.Decompose(content, t.Type, t.ID)
	if err != nil {
		l.auditLog.Append(audit.New(audit.OpError, t.ID, "orchestrator.planner", "", audit.OutcomeFailed, "decompose: "+err.Error()))
		return
	}
	if err := g.Save(l.cfg.PlansDir); err != nil {
		slog.Warn("graph persist failed", "task_id", t.ID, "error", err)
	}
	l.setGraph(t.ID, g)
	l.auditLog.Append(audit.New(audit.OpPlanGenerated, t.ID, "orchestrator.planner", "", audit.OutcomeSuccess, fmt.Sprintf("steps=%d", len(g.Steps))))

	if l.cfg.EnableRiskScoring {
		score := l.scoreTask(t)
		t.SLARisk = score.SLARisk
		l.auditLog.Append(audit.New(audit.OpRiskScored, t.ID, "orchestrator.risk", "", audit.OutcomeSuccess, fmt.Sprintf("composite=%.3f", score.Composite)))
	}
}

func (l *Loop) scoreTask(t *Task) risk.Score {
	hist := l.riskHistory(t.Type)
	meta := risk.Metadata{
		Priority:       t.Priority,
		Classification: t.Classification,
		SLARisk:        t.SLARisk,
		Override:       t.Override,
		Extra:          t.Metadata,
	}
	return l.risk.Score(t.ID, meta, hist)
}

// riskForQueue returns the composite risk used to order the overflow wait
// queue, or 0 (ingestion-order tiebreak) when risk scoring is disabled —
// the foundation-behavior fallback the feature flag contract requires.
func (l *Loop) riskForQueue(t *Task) float64 {
	if !l.cfg.EnableRiskScoring {
		return 0
	}
	return l.scoreTask(t).Composite
}

func (l *Loop) riskHistory(taskType string) risk.History {
	m, ok := l.learning.Query(taskType)
	if !ok {
		return risk.History{}
	}
	return risk.History{FailureRate: m.FailureRate(), HasData: true}
}

func (l *Loop) slaHistory(taskType string) sla.History {
	m, ok := l.learning.Query(taskType)
	if !ok {
		return sla.History{}
	}
	return sla.History{Total: m.Total, MeanMS: m.Mean, Variance: m.Variance(), HasData: true}
}

func (l *Loop) slaMinutesFor(classification string) float64 {
	if classification == string(classifier.Simple) {
		return l.cfg.SLASimpleMinutes
	}
	return l.cfg.SLAComplexMinutes
}

func (l *Loop) getGraph(taskID string) (*graph.Graph, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	g, ok := l.graphs[taskID]
	return g, ok
}

func (l *Loop) setGraph(taskID string, g *graph.Graph) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.graphs[taskID] = g
}

// runTask executes g's steps in topological order under slot, invoking the
// self-healing cascade on failure and escalating to rollback on exhaustion.
func (l *Loop) runTask(t *Task, g *graph.Graph, slot *concurrency.Slot) {
	defer l.controller.Complete(slot.ID)

	t.Status = StatusInProgress
	_ = l.taskStore.UpdateStatus(t.ID, StatusInProgress, t.Version)

	if l.cfg.EnablePredictiveSLA {
		l.predictSLA(t)
	}

	order, err := g.ExecutionOrder()
	if err != nil {
		l.auditLog.Append(audit.New(audit.OpError, t.ID, "orchestrator.graph", "", audit.OutcomeFailed, err.Error()))
		l.finishTask(t, StatusFailed, 0, 0, false)
		return
	}

	var rollbackHandle string
	if l.rollback != nil {
		if h, err := l.rollback.Snapshot(t.ID); err == nil {
			rollbackHandle = h
		}
	}

	retryCount := 0
	retrySucceeded := false
	escalate := false

	for i := range order {
		step := order[i]
		ok, err := l.safeExecute(t.ID, step.ID)
		outcome := audit.OutcomeSuccess
		detail := ""
		if !ok || err != nil {
			outcome = audit.OutcomeFailed
			if err != nil {
				detail = err.Error()
			}
		}
		l.auditLog.Append(audit.New(audit.OpStepExecuted, t.ID, "orchestrator.executor", step.ID, outcome, detail))

		if ok {
			g.SetStatus(step.ID, graph.StepCompleted)
			continue
		}
		g.SetStatus(step.ID, graph.StepFailed)

		if !l.cfg.EnableSelfHealing {
			escalate = true
			break
		}

		failed := step
		attempts := l.healer.Recover(t.ID, &failed, g, func(stepID string) (bool, error) {
			return l.safeExecute(t.ID, stepID)
		})
		recovered := false
		for _, a := range attempts {
			retryCount++
			if a.Outcome == selfheal.OutcomeSuccess {
				recovered = true
				retrySucceeded = true
			}
			l.emitRecoveryAttempt(t.ID, a)
		}
		if recovered {
			continue
		}
		escalate = true
		break
	}

	durationMS := float64(time.Since(t.ClassifiedAt).Milliseconds())

	if escalate {
		status := StatusFailed
		if l.rollback != nil && rollbackHandle != "" {
			l.auditLog.Append(audit.New(audit.OpRollbackTriggered, t.ID, "orchestrator.loop", rollbackHandle, audit.OutcomeFlagged, "recovery cascade exhausted"))
			restored, allowed := l.restoreWithBreaker(rollbackHandle, t.ID)
			if allowed {
				if restored {
					l.auditLog.Append(audit.New(audit.OpRollbackRestored, t.ID, "orchestrator.loop", rollbackHandle, audit.OutcomeSuccess, ""))
				} else {
					l.auditLog.Append(audit.New(audit.OpRollbackRestored, t.ID, "orchestrator.loop", rollbackHandle, audit.OutcomeFailed, "restore returned false"))
				}
			}
			status = StatusFailedRollback
		}
		l.finishTask(t, status, durationMS, retryCount, retrySucceeded)
		l.notifier.Send(fmt.Sprintf(`{"event":"task_failed","task_id":%q,"status":%q}`, t.ID, status))
		return
	}

	l.finishTask(t, StatusDone, durationMS, retryCount, retrySucceeded)
}

func (l *Loop) safeExecute(taskID, stepID string) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("panic in step executor: %v", r)
		}
	}()
	if l.execute == nil {
		return true, nil
	}
	return l.execute(taskID, stepID)
}

// restoreWithBreaker guards the rollback restore call with a sliding-window
// circuit breaker: a rollback system failing open would otherwise compound
// every subsequent cascade exhaustion into another blocked restore call.
func (l *Loop) restoreWithBreaker(handle, taskID string) (restored bool, allowed bool) {
	if !l.rollbackBreaker.Allow() {
		return false, false
	}
	restored, err := l.rollback.Restore(handle, taskID)
	l.rollbackBreaker.RecordResult(err == nil && restored)
	return restored, true
}

func (l *Loop) emitRecoveryAttempt(taskID string, a selfheal.RecoveryAttempt) {
	outcome := audit.OutcomeSuccess
	if a.Outcome != selfheal.OutcomeSuccess {
		outcome = audit.OutcomeFailed
	}
	var op audit.Op
	switch a.Strategy {
	case selfheal.StrategyRetry:
		op = audit.OpSelfHealRetry
	case selfheal.StrategyAlternative:
		op = audit.OpSelfHealAlternative
	default:
		op = audit.OpSelfHealPartial
	}
	l.auditLog.Append(audit.New(op, taskID, "orchestrator.selfheal", a.StepID, outcome, a.FailureDetail))
}

func (l *Loop) predictSLA(t *Task) {
	elapsed := time.Since(t.ClassifiedAt).Minutes()
	slaMinutes := l.slaMinutesFor(t.Classification)
	hist := l.slaHistory(t.Type)
	pred := l.predictor.Predict(t.ID, t.Type, elapsed, slaMinutes, hist)

	outcome := audit.OutcomeSuccess
	if pred.ExceedsAlert {
		outcome = audit.OutcomeFlagged
	}
	l.auditLog.Append(audit.New(audit.OpSLAPrediction, t.ID, "orchestrator.sla", "", outcome, fmt.Sprintf("probability=%.3f recommendation=%s", pred.Probability, pred.Recommendation)))
}

// finishTask commits the terminal status, records the learning outcome, and
// checks the retrospective SLA band.
func (l *Loop) finishTask(t *Task, status TaskStatus, durationMS float64, retryCount int, retrySucceeded bool) {
	t.Status = status
	_ = l.taskStore.UpdateStatus(t.ID, status, t.Version)
	success := status == StatusDone
	outcome := audit.OutcomeSuccess
	if !success {
		outcome = audit.OutcomeFailed
	}
	l.auditLog.Append(audit.New(audit.OpTaskExecuted, t.ID, "orchestrator.loop", "", outcome, "status="+string(status)))

	slaMinutes := l.slaMinutesFor(t.Classification)
	breached := durationMS/60000 > slaMinutes

	l.learning.Record(t.Type, durationMS, success, retryCount, retrySucceeded, breached)
	l.auditLog.Append(audit.New(audit.OpLearningUpdate, t.ID, "orchestrator.learning", "", audit.OutcomeSuccess, fmt.Sprintf("duration_ms=%.0f", durationMS)))

	if breached {
		l.auditLog.Append(audit.New(audit.OpSLABreach, t.ID, "orchestrator.loop", "", audit.OutcomeFlagged, fmt.Sprintf("duration_ms=%.0f threshold_min=%.1f", durationMS, slaMinutes)))
	}
}
