package orchestrator

import "time"

// Config holds every tunable the loop and its sub-components read. Passed
// explicitly at construction rather than sourced from process-wide globals.
type Config struct {
	MaxParallelTasks    int
	TaskTimeout         time.Duration
	PredictionThreshold float64
	LearningWindow      time.Duration
	MaxRecoveryAttempts int

	RiskWeightSLA        float64
	RiskWeightComplexity float64
	RiskWeightImpact     float64
	RiskWeightFailure    float64

	SLASimpleMinutes  float64
	SLAComplexMinutes float64

	EnablePredictiveSLA bool
	EnableSelfHealing   bool
	EnableRiskScoring   bool

	AutoExecuteSimple  bool
	AutoExecuteComplex bool

	PollInterval        time.Duration
	MaintenanceInterval time.Duration
	PurgeInterval       time.Duration

	PlansDir    string
	RollbackDir string
}

// DefaultConfig returns the documented default for every tunable.
func DefaultConfig() Config {
	return Config{
		MaxParallelTasks:    3,
		TaskTimeout:         15 * time.Minute,
		PredictionThreshold: 0.7,
		LearningWindow:      30 * 24 * time.Hour,
		MaxRecoveryAttempts: 3,

		RiskWeightSLA:        0.3,
		RiskWeightComplexity: 0.2,
		RiskWeightImpact:     0.3,
		RiskWeightFailure:    0.2,

		SLASimpleMinutes:  2,
		SLAComplexMinutes: 10,

		EnablePredictiveSLA: true,
		EnableSelfHealing:   true,
		EnableRiskScoring:   true,

		AutoExecuteSimple:  false,
		AutoExecuteComplex: false,

		PollInterval:        10 * time.Second,
		MaintenanceInterval: time.Hour,
		PurgeInterval:       6 * time.Hour,

		PlansDir:    "plans",
		RollbackDir: "data/rollback",
	}
}
