// Package stages holds the four reasoning stage contracts: the context each
// stage sends, the instruction it carries and the payload it reads back.
package stages

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ILLUVRSE/dispatch/internal/models"
	"github.com/ILLUVRSE/dispatch/internal/normalize"
	"github.com/ILLUVRSE/dispatch/internal/reasoning"
)

const (
	defaultActivityAgent = "System"
	defaultActivityKind  = "info"
	narrativeEntries     = 3
)

// Report describes how a stage call went. A degraded stage still yields a
// valid, possibly empty, output.
type Report struct {
	Agent         string `json:"agent"`
	PolicyVersion string `json:"policyVersion"`
	Attempts      int    `json:"attempts"`
	Parsed        bool   `json:"parsed"`
	Degraded      bool   `json:"degraded"`
	Error         string `json:"error,omitempty"`
}

type HospitalOutput struct {
	Proposals []models.HospitalProposal
	Report    Report
}

type VehicleOutput struct {
	Proposals []models.VehicleProposal
	Report    Report
}

type CoordinatorOutput struct {
	Decision models.Decision
	Report   Report
}

type AnalystOutput struct {
	Activities []models.ActivityRecord
	Report     Report
}

// Runner executes stage contracts against a reasoning client.
type Runner struct {
	client reasoning.Client
	logger *zap.Logger
}

func NewRunner(client reasoning.Client, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{client: client, logger: logger.Named("stages")}
}

func (r *Runner) call(ctx context.Context, policy Policy, payload interface{}, kind normalize.Kind) (normalize.Payload, Report) {
	resp := r.client.Invoke(ctx, reasoning.Request{
		Role:        policy.Agent,
		Instruction: policy.Instruction(),
		Context:     payload,
	})
	report := Report{
		Agent:         policy.Agent,
		PolicyVersion: policy.Version,
		Attempts:      resp.Attempts,
		Degraded:      resp.Degraded,
	}
	if resp.Err != nil {
		report.Error = resp.Err.Error()
	}
	out, err := normalize.Decode(resp.Text, kind)
	if err != nil {
		r.logger.Warn("stage response malformed",
			zap.String("agent", policy.Agent),
			zap.Error(err),
		)
		report.Degraded = true
		if report.Error == "" {
			report.Error = err.Error()
		}
		return out, report
	}
	report.Parsed = true
	return out, report
}

type hospitalContext struct {
	Emergency models.EmergencyContext   `json:"emergency"`
	Hospitals []models.HospitalCandidate `json:"hospitals"`
}

// Hospitals asks for hospital proposals for em.
func (r *Runner) Hospitals(ctx context.Context, em models.EmergencyContext, candidates []models.HospitalCandidate) HospitalOutput {
	if candidates == nil {
		candidates = []models.HospitalCandidate{}
	}
	out, report := r.call(ctx, HospitalPolicy, hospitalContext{Emergency: em, Hospitals: candidates}, normalize.KindHospitalProposals)
	r.logger.Info("hospital proposals",
		zap.Int("candidates", len(candidates)),
		zap.Int("proposals", len(out.HospitalProposals)),
	)
	return HospitalOutput{Proposals: out.HospitalProposals, Report: report}
}

type vehicleContext struct {
	Emergency models.EmergencyContext  `json:"emergency"`
	Vehicles  []models.VehicleCandidate `json:"vehicles"`
}

// Vehicles asks for vehicle proposals for em. Candidates are expected to be
// pre-filtered to available vehicles.
func (r *Runner) Vehicles(ctx context.Context, em models.EmergencyContext, candidates []models.VehicleCandidate) VehicleOutput {
	if candidates == nil {
		candidates = []models.VehicleCandidate{}
	}
	out, report := r.call(ctx, VehiclePolicy, vehicleContext{Emergency: em, Vehicles: candidates}, normalize.KindVehicleProposals)
	r.logger.Info("vehicle proposals",
		zap.Int("candidates", len(candidates)),
		zap.Int("proposals", len(out.VehicleProposals)),
	)
	return VehicleOutput{Proposals: out.VehicleProposals, Report: report}
}

type coordinatorContext struct {
	Emergency         models.EmergencyContext   `json:"emergency"`
	HospitalProposals []models.HospitalProposal `json:"hospital_proposals"`
	VehicleProposals  []models.VehicleProposal  `json:"vehicle_proposals"`
}

// Coordinate asks for the single decision combining both proposal lists.
func (r *Runner) Coordinate(ctx context.Context, em models.EmergencyContext, hospitals []models.HospitalProposal, vehicles []models.VehicleProposal) CoordinatorOutput {
	payload := coordinatorContext{
		Emergency:         em,
		HospitalProposals: nonNil(hospitals),
		VehicleProposals:  nonNil(vehicles),
	}
	out, report := r.call(ctx, CoordinatorPolicy, payload, normalize.KindDecision)
	return CoordinatorOutput{Decision: out.Decision, Report: report}
}

// AnalystInput carries everything the narrative may reference.
type AnalystInput struct {
	Emergency          models.EmergencyContext
	Decision           models.Decision
	HospitalProposals  []models.HospitalProposal
	VehicleProposals   []models.VehicleProposal
	HospitalCandidates []models.HospitalCandidate
	VehicleCandidates  []models.VehicleCandidate
}

type analystContext struct {
	Emergency         models.EmergencyContext    `json:"emergency"`
	Hospitals         []models.HospitalCandidate `json:"hospitals"`
	Vehicles          []models.VehicleCandidate  `json:"vehicles"`
	HospitalProposals []models.HospitalProposal  `json:"hospital_proposals"`
	VehicleProposals  []models.VehicleProposal   `json:"vehicle_proposals"`
	Decision          models.Decision            `json:"decision"`
}

// Analyze asks for the activity narrative of a finished decision. The
// result holds at most three entries ordered hospital, vehicle, coordinator;
// entries without a description are dropped.
func (r *Runner) Analyze(ctx context.Context, in AnalystInput) AnalystOutput {
	payload := analystContext{
		Emergency:         in.Emergency,
		Hospitals:         nonNil(in.HospitalCandidates),
		Vehicles:          nonNil(in.VehicleCandidates),
		HospitalProposals: nonNil(in.HospitalProposals),
		VehicleProposals:  nonNil(in.VehicleProposals),
		Decision:          in.Decision,
	}
	out, report := r.call(ctx, AnalystPolicy, payload, normalize.KindActivities)
	activities := OrderNarrative(out.Activities)
	r.logger.Info("activity narrative",
		zap.Int("returned", len(out.Activities)),
		zap.Int("kept", len(activities)),
	)
	return AnalystOutput{Activities: activities, Report: report}
}

// OrderNarrative fills default agent and kind, drops empty entries and puts
// the hospital, vehicle and coordinator entries first in that order, keeping
// at most three.
func OrderNarrative(in []models.ActivityRecord) []models.ActivityRecord {
	out := make([]models.ActivityRecord, 0, len(in))
	for _, a := range in {
		if strings.TrimSpace(a.Description) == "" {
			continue
		}
		if a.Agent == "" {
			a.Agent = defaultActivityAgent
		}
		if a.Kind == "" {
			a.Kind = defaultActivityKind
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return narrativeRank(out[i].Agent) < narrativeRank(out[j].Agent)
	})
	if len(out) > narrativeEntries {
		out = out[:narrativeEntries]
	}
	return out
}

func narrativeRank(agent string) int {
	switch agent {
	case AgentHospital:
		return 0
	case AgentVehicle:
		return 1
	case AgentCoordinator:
		return 2
	default:
		return 3
	}
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
