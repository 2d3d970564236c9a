// Package pipeline runs the four reasoning stages for one emergency and
// commits the outcome.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ILLUVRSE/dispatch/internal/applier"
	"github.com/ILLUVRSE/dispatch/internal/models"
	"github.com/ILLUVRSE/dispatch/internal/reasoning"
	"github.com/ILLUVRSE/dispatch/internal/stages"
	"github.com/ILLUVRSE/dispatch/internal/store"
)

// DefaultPacing is the delay between two calls to the reasoning service.
const DefaultPacing = 2 * time.Second

// Stage keys used in Result.Stages.
const (
	StageHospital    = "hospital"
	StageVehicle     = "vehicle"
	StageCoordinator = "coordinator"
	StageAnalyst     = "analyst"
)

// ActivityWriter persists narrative entries in order.
type ActivityWriter interface {
	AppendActivities(ctx context.Context, in []store.ActivityInput) ([]models.Activity, error)
}

type Config struct {
	// Pacing is slept between reasoning calls. Zero disables it.
	Pacing time.Duration
	// Sleep defaults to reasoning.SleepContext.
	Sleep reasoning.SleepFunc
	// ValidateDecision drops coordinator ids that are not among the
	// candidates before the decision is applied.
	ValidateDecision bool
	Now              func() time.Time
}

// Input is one run's read-only view of the world. Vehicles are expected to be
// filtered to available ones by the caller.
type Input struct {
	Emergency models.Emergency
	Hospitals []models.HospitalCandidate
	Vehicles  []models.VehicleCandidate
}

type Result struct {
	RunID             string                   `json:"runId"`
	Emergency         models.Emergency         `json:"emergency"`
	HospitalProposals []models.HospitalProposal `json:"hospitalProposals"`
	VehicleProposals  []models.VehicleProposal  `json:"vehicleProposals"`
	Decision          models.Decision          `json:"decision"`
	// Rejected lists decision ids dropped because they named no candidate.
	Rejected   []string                 `json:"rejected,omitempty"`
	Activities []models.Activity        `json:"activities"`
	Stages     map[string]stages.Report `json:"stages"`
	StartedAt  time.Time                `json:"startedAt"`
	FinishedAt time.Time                `json:"finishedAt"`
}

// Degraded reports whether any stage fell back to an empty output.
func (r Result) Degraded() bool {
	for _, rep := range r.Stages {
		if rep.Degraded {
			return true
		}
	}
	return false
}

// Assigned reports whether the run committed a hospital or a vehicle.
func (r Result) Assigned() bool {
	_, h := r.Decision.Hospital()
	_, v := r.Decision.Vehicle()
	return h || v
}

type Pipeline struct {
	runner     *stages.Runner
	applier    *applier.Applier
	activities ActivityWriter
	cfg        Config
	logger     *zap.Logger
}

func New(runner *stages.Runner, a *applier.Applier, activities ActivityWriter, cfg Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Sleep == nil {
		cfg.Sleep = reasoning.SleepContext
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Pacing < 0 {
		cfg.Pacing = 0
	}
	return &Pipeline{
		runner:     runner,
		applier:    a,
		activities: activities,
		cfg:        cfg,
		logger:     logger.Named("pipeline"),
	}
}

func (p *Pipeline) pace(ctx context.Context) {
	if p.cfg.Pacing <= 0 {
		return
	}
	if err := p.cfg.Sleep(ctx, p.cfg.Pacing); err != nil {
		p.logger.Debug("pacing interrupted", zap.Error(err))
	}
}

// Run executes Hospital, Vehicle, Coordinator, ApplyDecision, Analyst and
// activity persistence in that order. Reasoning failures only degrade the
// affected stage; the returned error is always a storage failure.
func (p *Pipeline) Run(ctx context.Context, in Input) (Result, error) {
	res := Result{
		RunID:     uuid.NewString(),
		Emergency: in.Emergency,
		Stages:    make(map[string]stages.Report, 4),
		StartedAt: p.cfg.Now(),
	}
	logger := p.logger.With(
		zap.String("run_id", res.RunID),
		zap.Stringer("emergency_id", in.Emergency.ID),
	)
	emCtx := models.NewEmergencyContext(in.Emergency)

	hospitals := p.runner.Hospitals(ctx, emCtx, in.Hospitals)
	res.HospitalProposals = hospitals.Proposals
	res.Stages[StageHospital] = hospitals.Report
	p.pace(ctx)

	vehicles := p.runner.Vehicles(ctx, emCtx, in.Vehicles)
	res.VehicleProposals = vehicles.Proposals
	res.Stages[StageVehicle] = vehicles.Report
	p.pace(ctx)

	coord := p.runner.Coordinate(ctx, emCtx, hospitals.Proposals, vehicles.Proposals)
	res.Stages[StageCoordinator] = coord.Report
	decision := coord.Decision
	if p.cfg.ValidateDecision {
		var dropped []string
		decision, dropped = applier.Sanitize(decision, in.Hospitals, in.Vehicles)
		if len(dropped) > 0 {
			logger.Warn("decision named unknown candidates", zap.Strings("dropped", dropped))
			res.Rejected = dropped
		}
	}
	res.Decision = decision

	updated, err := p.applier.Apply(ctx, in.Emergency, decision)
	if err != nil {
		return res, fmt.Errorf("run %s: %w", res.RunID, err)
	}
	res.Emergency = updated
	p.pace(ctx)

	analyst := p.runner.Analyze(ctx, stages.AnalystInput{
		Emergency:          emCtx,
		Decision:           decision,
		HospitalProposals:  hospitals.Proposals,
		VehicleProposals:   vehicles.Proposals,
		HospitalCandidates: in.Hospitals,
		VehicleCandidates:  in.Vehicles,
	})
	res.Stages[StageAnalyst] = analyst.Report

	records := make([]store.ActivityInput, 0, len(analyst.Activities))
	ts := p.cfg.Now()
	for _, a := range analyst.Activities {
		records = append(records, store.ActivityInput{
			Agent:       a.Agent,
			Kind:        a.Kind,
			Description: a.Description,
			Timestamp:   ts,
		})
	}
	saved, err := p.activities.AppendActivities(ctx, records)
	if err != nil {
		return res, fmt.Errorf("run %s: persist activities: %w", res.RunID, err)
	}
	res.Activities = saved
	res.FinishedAt = p.cfg.Now()

	logger.Info("run complete",
		zap.String("status", string(res.Emergency.Status)),
		zap.Int("hospital_proposals", len(res.HospitalProposals)),
		zap.Int("vehicle_proposals", len(res.VehicleProposals)),
		zap.Int("activities", len(res.Activities)),
		zap.Bool("degraded", res.Degraded()),
		zap.Duration("elapsed", res.FinishedAt.Sub(res.StartedAt)),
	)
	return res, nil
}
