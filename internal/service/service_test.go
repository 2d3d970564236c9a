package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ILLUVRSE/dispatch/internal/applier"
	"github.com/ILLUVRSE/dispatch/internal/audit"
	"github.com/ILLUVRSE/dispatch/internal/models"
	"github.com/ILLUVRSE/dispatch/internal/pipeline"
	"github.com/ILLUVRSE/dispatch/internal/reasoning"
	"github.com/ILLUVRSE/dispatch/internal/stages"
	"github.com/ILLUVRSE/dispatch/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishDecision(ctx context.Context, ev audit.DecisionEvent) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

type MockArchiver struct {
	mock.Mock
}

func (m *MockArchiver) ArchiveRun(ctx context.Context, t audit.Transcript) (string, error) {
	args := m.Called(ctx, t)
	return args.String(0), args.Error(1)
}

type scriptedClient struct {
	mu      sync.Mutex
	replies map[string]string
}

func (c *scriptedClient) Invoke(ctx context.Context, req reasoning.Request) reasoning.Response {
	c.mu.Lock()
	defer c.mu.Unlock()
	if text, ok := c.replies[req.Role]; ok {
		return reasoning.Response{Text: text, Attempts: 1}
	}
	return reasoning.Response{Text: reasoning.Placeholder, Attempts: 1}
}

var assigningReplies = map[string]string{
	stages.AgentHospital:    `{"hospital_proposals":[{"hospital_id":10,"accepted":true,"priority":0.8,"reason":"cardiology on duty"}]}`,
	stages.AgentVehicle:     `{"vehicle_proposals":[{"vehicle_id":3,"accepted":true,"priority":0.9,"eta_minutes":4}]}`,
	stages.AgentCoordinator: `{"decision":{"hospital_id":10,"vehicle_id":3,"justification":"nearest cardiology"}}`,
	stages.AgentAnalyst: `{"activities":[
		{"agent":"HospitalAgent","kind":"proposal","description":"Central accepts"},
		{"agent":"VehicleAgent","kind":"proposal","description":"Movil-3 is close"},
		{"agent":"CoordinatorAgent","kind":"decision","description":"Central with Movil-3"}
	]}`,
}

func seededStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	st := store.NewMemoryStore()
	require.NoError(t, st.Seed(context.Background(), store.SeedData{
		Zones: []models.Zone{{ID: 1, Name: "Centro"}, {ID: 2, Name: "Norte"}},
		Hospitals: []models.Hospital{{
			ID: 10, Name: "Hospital Central", ZoneID: 1, CapacityTotal: 50, OccupancyCurrent: 20, HasCardiology: true,
		}},
		Vehicles: []models.Vehicle{{ID: 3, Name: "Movil-3", Type: models.VehicleTypeAmbulance, ZoneID: 1, State: models.VehicleAvailable}},
	}))
	return st
}

func newService(st *store.MemoryStore, client reasoning.Client, pub audit.Publisher, arch audit.Archiver) *Service {
	p := pipeline.New(stages.NewRunner(client, nil), applier.New(st, nil), st,
		pipeline.Config{ValidateDecision: true}, nil)
	return New(Deps{Store: st, Pipeline: p, Publisher: pub, Archiver: arch})
}

func TestReportEmergencyAssignsAndAudits(t *testing.T) {
	ctx := context.Background()
	st := seededStore(t)
	pub := &MockPublisher{}
	arch := &MockArchiver{}
	pub.On("PublishDecision", mock.Anything, mock.MatchedBy(func(ev audit.DecisionEvent) bool {
		return ev.Type == audit.EventDispatchDecided &&
			ev.Status == models.EmergencyAssigned &&
			ev.HospitalID != nil && *ev.HospitalID == 10 &&
			ev.VehicleID != nil && *ev.VehicleID == 3 &&
			!ev.Degraded
	})).Return(nil).Once()
	arch.On("ArchiveRun", mock.Anything, mock.MatchedBy(func(tr audit.Transcript) bool {
		return tr.RunID != "" && len(tr.HospitalCandidates) == 1 && len(tr.VehicleCandidates) == 1 && len(tr.Activities) == 3
	})).Return("runs/key.json", nil).Once()

	svc := newService(st, &scriptedClient{replies: assigningReplies}, pub, arch)
	out, err := svc.ReportEmergency(ctx, ReportInput{Type: "  cardiac ", Description: "chest pain", ZoneID: 1})
	require.NoError(t, err)

	assert.Equal(t, "cardiac", out.Emergency.Type)
	assert.Equal(t, models.EmergencyAssigned, out.Emergency.Status)
	assert.Equal(t, out.Emergency, out.Run.Emergency)
	pub.AssertExpectations(t)
	arch.AssertExpectations(t)

	state, err := svc.State(ctx)
	require.NoError(t, err)
	require.Len(t, state.Emergencies, 1)
	require.Len(t, state.Activities, 4)
	assert.Equal(t, SensorAgent, state.Activities[3].Agent)
	assert.Equal(t, KindEmergencyCreated, state.Activities[3].Kind)
	assert.Equal(t, "New emergency reported: cardiac in zone 1", state.Activities[3].Description)
	assert.Equal(t, "CoordinatorAgent", state.Activities[0].Agent)
	require.Len(t, state.Vehicles, 1)
	assert.Equal(t, models.VehicleEnRoute, state.Vehicles[0].State)
}

func TestReportEmergencyRejectsInvalidInput(t *testing.T) {
	st := seededStore(t)
	svc := newService(st, reasoning.NewOfflineClient(nil), nil, nil)

	tests := []struct {
		name string
		in   ReportInput
	}{
		{"empty type", ReportInput{Type: "   ", ZoneID: 1}},
		{"missing zone", ReportInput{Type: "fire"}},
		{"unknown zone", ReportInput{Type: "fire", ZoneID: 99}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ReportEmergency(context.Background(), tt.in)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}

	open, err := st.ListOpenEmergencies(context.Background())
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestAuditFailuresDoNotFailTheRun(t *testing.T) {
	st := seededStore(t)
	pub := &MockPublisher{}
	arch := &MockArchiver{}
	pub.On("PublishDecision", mock.Anything, mock.Anything).Return(errors.New("broker down"))
	arch.On("ArchiveRun", mock.Anything, mock.Anything).Return("", errors.New("bucket missing"))

	svc := newService(st, &scriptedClient{replies: assigningReplies}, pub, arch)
	out, err := svc.ReportEmergency(context.Background(), ReportInput{Type: "cardiac", ZoneID: 1})
	require.NoError(t, err)
	assert.Equal(t, models.EmergencyAssigned, out.Emergency.Status)
	pub.AssertNumberOfCalls(t, "PublishDecision", 1)
	arch.AssertNumberOfCalls(t, "ArchiveRun", 1)
}

func TestDispatchOnlyRerunsActiveEmergencies(t *testing.T) {
	ctx := context.Background()
	st := seededStore(t)
	client := &scriptedClient{replies: map[string]string{}}
	svc := newService(st, client, nil, nil)

	out, err := svc.ReportEmergency(ctx, ReportInput{Type: "cardiac", ZoneID: 2})
	require.NoError(t, err)
	assert.Equal(t, models.EmergencyActive, out.Emergency.Status)
	assert.False(t, out.Run.Assigned())

	client.mu.Lock()
	client.replies = assigningReplies
	client.mu.Unlock()

	again, err := svc.Dispatch(ctx, out.Emergency.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EmergencyAssigned, again.Emergency.Status)
	assert.NotEqual(t, out.Run.RunID, again.Run.RunID)

	_, err = svc.Dispatch(ctx, out.Emergency.ID)
	assert.ErrorIs(t, err, ErrNotActive)

	_, err = svc.Dispatch(ctx, 404)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestResolveEmergencyReleasesVehicle(t *testing.T) {
	ctx := context.Background()
	st := seededStore(t)
	svc := newService(st, &scriptedClient{replies: assigningReplies}, nil, nil)

	out, err := svc.ReportEmergency(ctx, ReportInput{Type: "cardiac", ZoneID: 1})
	require.NoError(t, err)

	resolved, err := svc.ResolveEmergency(ctx, out.Emergency.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EmergencyResolved, resolved.Status)

	state, err := svc.State(ctx)
	require.NoError(t, err)
	assert.Empty(t, state.Emergencies)
	assert.Equal(t, models.VehicleAvailable, state.Vehicles[0].State)

	got, err := svc.GetEmergency(ctx, out.Emergency.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EmergencyResolved, got.Status)

	_, err = svc.GetEmergency(ctx, 404)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, svc.Ping(ctx))
}

func TestRunSurvivesCallerCancellation(t *testing.T) {
	st := seededStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var roles []string
	client := reasoning.ClientFunc(func(rctx context.Context, req reasoning.Request) reasoning.Response {
		roles = append(roles, req.Role)
		if req.Role == stages.AgentHospital {
			cancel()
		}
		if err := rctx.Err(); err != nil {
			return reasoning.Response{Text: reasoning.Placeholder, Attempts: 1, Degraded: true, Err: err}
		}
		return reasoning.Response{Text: assigningReplies[req.Role], Attempts: 1}
	})
	svc := newService(st, client, nil, nil)

	out, err := svc.ReportEmergency(ctx, ReportInput{Type: "cardiac", ZoneID: 1})
	require.NoError(t, err)
	require.Error(t, ctx.Err())

	assert.Equal(t, []string{stages.AgentHospital, stages.AgentVehicle, stages.AgentCoordinator, stages.AgentAnalyst}, roles)
	assert.False(t, out.Run.Degraded())
	assert.Equal(t, models.EmergencyAssigned, out.Emergency.Status)
	assert.Len(t, out.Run.Activities, 3)
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	k := newKeyedMutex()
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock(7)
			counter++
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, counter)
	assert.Empty(t, k.locks)
}
