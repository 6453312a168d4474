package lifecycle

import (
	"context"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webfabrica/leadgen-cli/internal/config"
	"github.com/webfabrica/leadgen-cli/internal/model"
)

type outreachRec struct {
	sentAt time.Time
	next   *time.Time
}

// fakeStore is an in-memory Store for controller tests.
type fakeStore struct {
	businesses    map[string]*model.Business
	history       []model.StatusTransition
	attempts      map[string]int
	failed        map[string]bool
	websites      []model.Website
	outreach      []outreachRec
	responded     map[string]time.Time
	deployed      []model.Business
	stale         []model.Business
	flakyAttempts int // attempt writes that fail with a connection error first
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		businesses: map[string]*model.Business{},
		attempts:   map[string]int{},
		failed:     map[string]bool{},
		responded:  map[string]time.Time{},
	}
}

func (f *fakeStore) add(id string, status model.Status) {
	f.businesses[id] = &model.Business{ID: id, Status: status}
}

func (f *fakeStore) GetBusiness(_ context.Context, id string) (*model.Business, error) {
	b, ok := f.businesses[id]
	if !ok {
		return nil, eris.Wrap(model.ErrNotFound, "fake")
	}
	return b, nil
}

func (f *fakeStore) TransitionStatus(_ context.Context, id string, from, to model.Status, actor string) error {
	b, ok := f.businesses[id]
	if !ok {
		return eris.Wrap(model.ErrNotFound, "fake")
	}
	if b.Status != from {
		return eris.Wrap(model.ErrTransitionConflict, "fake")
	}
	b.Status = to
	f.history = append(f.history, model.StatusTransition{BusinessID: id, From: from, To: to, Actor: actor})
	return nil
}

func key(id string, stage model.Stage) string { return fmt.Sprintf("%s/%s", id, stage) }

func (f *fakeStore) RecordStageAttempt(_ context.Context, id string, stage model.Stage) (int, error) {
	if f.flakyAttempts > 0 {
		f.flakyAttempts--
		return 0, fmt.Errorf("write tcp: %w", syscall.ECONNRESET)
	}
	f.attempts[key(id, stage)]++
	return f.attempts[key(id, stage)], nil
}

func (f *fakeStore) MarkStageFailed(_ context.Context, id string, stage model.Stage) error {
	f.failed[key(id, stage)] = true
	return nil
}

func (f *fakeStore) ResetStageAttempts(_ context.Context, id string, stage model.Stage) error {
	delete(f.attempts, key(id, stage))
	delete(f.failed, key(id, stage))
	return nil
}

func (f *fakeStore) UpsertWebsite(_ context.Context, w model.Website) error {
	f.websites = append(f.websites, w)
	return nil
}

func (f *fakeStore) RecordOutreach(_ context.Context, id string, sentAt time.Time, next *time.Time) error {
	f.outreach = append(f.outreach, outreachRec{sentAt: sentAt, next: next})
	return nil
}

func (f *fakeStore) MarkResponded(_ context.Context, id string, at time.Time) error {
	f.responded[id] = at
	return nil
}

func (f *fakeStore) DeployedAwaitingOutreach(_ context.Context, limit int) ([]model.Business, error) {
	return f.deployed, nil
}

func (f *fakeStore) StaleContacted(_ context.Context, cutoff time.Time, maxFollowUps int) ([]model.Business, error) {
	return f.stale, nil
}

func testOutreachConfig() config.OutreachConfig {
	return config.OutreachConfig{
		CooldownDays:       30,
		ResponseWindowDays: 14,
		MaxFollowUps:       2,
		FollowUpDelayDays:  3,
	}
}

func TestTransitionRecordsHistory(t *testing.T) {
	store := newFakeStore()
	store.add("b1", model.StatusDiscovered)
	c := NewController(store, 3, testOutreachConfig())

	require.NoError(t, c.Transition(context.Background(), "b1", model.StatusDiscovered, model.StatusAnalyzing, "system"))

	assert.Equal(t, model.StatusAnalyzing, store.businesses["b1"].Status)
	require.Len(t, store.history, 1)
	assert.Equal(t, "system", store.history[0].Actor)
}

func TestTransitionDisallowedIsNoOp(t *testing.T) {
	store := newFakeStore()
	store.add("b1", model.StatusDiscovered)
	c := NewController(store, 3, testOutreachConfig())

	err := c.Transition(context.Background(), "b1", model.StatusDiscovered, model.StatusQualified, "system")
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrTransitionConflict))
	assert.Equal(t, model.StatusDiscovered, store.businesses["b1"].Status)
	assert.Empty(t, store.history)
}

func TestTransitionLostGuard(t *testing.T) {
	store := newFakeStore()
	store.add("b1", model.StatusQualified) // concurrent actor moved it already
	c := NewController(store, 3, testOutreachConfig())

	err := c.Transition(context.Background(), "b1", model.StatusAnalyzing, model.StatusQualified, "system")
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrTransitionConflict))
}

func TestClaimIdempotent(t *testing.T) {
	store := newFakeStore()
	store.add("b1", model.StatusDiscovered)
	c := NewController(store, 3, testOutreachConfig())
	ctx := context.Background()

	require.NoError(t, c.Claim(ctx, "b1"))
	assert.Equal(t, model.StatusAnalyzing, store.businesses["b1"].Status)

	// Second claim of an already-analyzing business succeeds quietly.
	require.NoError(t, c.Claim(ctx, "b1"))
	assert.Len(t, store.history, 1)
}

func TestClaimRefusesOtherStatuses(t *testing.T) {
	store := newFakeStore()
	store.add("b1", model.StatusQualified)
	c := NewController(store, 3, testOutreachConfig())

	err := c.Claim(context.Background(), "b1")
	require.Error(t, err)
	assert.True(t, eris.Is(err, model.ErrTransitionConflict))
}

func TestReportStageGenerationFlow(t *testing.T) {
	store := newFakeStore()
	store.add("b1", model.StatusQualified)
	c := NewController(store, 3, testOutreachConfig())
	ctx := context.Background()

	require.NoError(t, c.ReportStage(ctx, "b1", model.StageGeneration, ResultStarted, "", "generator"))
	assert.Equal(t, model.StatusGenerating, store.businesses["b1"].Status)

	require.NoError(t, c.ReportStage(ctx, "b1", model.StageGeneration, ResultSuccess, "", "generator"))
	assert.Equal(t, model.StatusGenerated, store.businesses["b1"].Status)
}

func TestReportStageDeploySuccessRecordsWebsite(t *testing.T) {
	store := newFakeStore()
	store.add("b1", model.StatusDeploying)
	c := NewController(store, 3, testOutreachConfig())

	require.NoError(t, c.ReportStage(context.Background(), "b1", model.StageDeployment, ResultSuccess, "https://b1.example.com", "deployer"))

	assert.Equal(t, model.StatusDeployed, store.businesses["b1"].Status)
	require.Len(t, store.websites, 1)
	assert.Equal(t, "https://b1.example.com", store.websites[0].URL)
}

func TestReportStageOutreachSuccess(t *testing.T) {
	store := newFakeStore()
	store.add("b1", model.StatusReadyForOutreach)
	c := NewController(store, 3, testOutreachConfig())

	require.NoError(t, c.ReportStage(context.Background(), "b1", model.StageOutreach, ResultSuccess, "", "mailer"))

	assert.Equal(t, model.StatusContacted, store.businesses["b1"].Status)
	require.Len(t, store.outreach, 1)
	require.NotNil(t, store.outreach[0].next)
	assert.WithinDuration(t, store.outreach[0].sentAt.Add(3*24*time.Hour), *store.outreach[0].next, time.Second)
}

func TestReportStageFollowUpWhileContacted(t *testing.T) {
	store := newFakeStore()
	store.add("b1", model.StatusContacted)
	c := NewController(store, 3, testOutreachConfig())

	require.NoError(t, c.ReportStage(context.Background(), "b1", model.StageOutreach, ResultSuccess, "", "mailer"))

	// Status unchanged, send recorded.
	assert.Equal(t, model.StatusContacted, store.businesses["b1"].Status)
	assert.Len(t, store.outreach, 1)
}

func TestReportStageResponseAndConversion(t *testing.T) {
	store := newFakeStore()
	store.add("b1", model.StatusContacted)
	c := NewController(store, 3, testOutreachConfig())
	ctx := context.Background()

	require.NoError(t, c.ReportStage(ctx, "b1", model.StageResponse, ResultSuccess, "", "mailer"))
	assert.Equal(t, model.StatusResponded, store.businesses["b1"].Status)
	assert.Contains(t, store.responded, "b1")

	require.NoError(t, c.ReportStage(ctx, "b1", model.StageConversion, ResultSuccess, "", "sales"))
	assert.Equal(t, model.StatusConverted, store.businesses["b1"].Status)
}

func TestReportStageFailureExhaustsRetries(t *testing.T) {
	store := newFakeStore()
	store.add("b1", model.StatusGenerating)
	c := NewController(store, 3, testOutreachConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, c.ReportStage(ctx, "b1", model.StageGeneration, ResultFailure, "", "generator"))
	}

	assert.True(t, store.failed[key("b1", model.StageGeneration)])
	// Status untouched: failure handling never advances the machine.
	assert.Equal(t, model.StatusGenerating, store.businesses["b1"].Status)
}

func TestReportStageFailureRetriesFlakyAttemptWrite(t *testing.T) {
	store := newFakeStore()
	store.add("b1", model.StatusGenerating)
	store.flakyAttempts = 1
	c := NewController(store, 3, testOutreachConfig())
	c.retry.InitialBackoff = time.Millisecond

	require.NoError(t, c.ReportStage(context.Background(), "b1", model.StageGeneration, ResultFailure, "", "generator"))

	// The connection blip did not lose the attempt.
	assert.Equal(t, 1, store.attempts[key("b1", model.StageGeneration)])
	assert.False(t, store.failed[key("b1", model.StageGeneration)])
}

func TestReportStageSuccessClearsAttempts(t *testing.T) {
	store := newFakeStore()
	store.add("b1", model.StatusGenerating)
	c := NewController(store, 3, testOutreachConfig())
	ctx := context.Background()

	require.NoError(t, c.ReportStage(ctx, "b1", model.StageGeneration, ResultFailure, "", "generator"))
	require.NoError(t, c.ReportStage(ctx, "b1", model.StageGeneration, ResultSuccess, "", "generator"))

	assert.Zero(t, store.attempts[key("b1", model.StageGeneration)])
}

func TestReportStageValidation(t *testing.T) {
	store := newFakeStore()
	store.add("b1", model.StatusContacted)
	c := NewController(store, 3, testOutreachConfig())
	ctx := context.Background()

	err := c.ReportStage(ctx, "b1", model.Stage("bogus"), ResultSuccess, "", "x")
	assert.True(t, eris.Is(err, model.ErrValidation))

	err = c.ReportStage(ctx, "b1", model.StageResponse, StageResult("maybe"), "", "x")
	assert.True(t, eris.Is(err, model.ErrValidation))

	err = c.ReportStage(ctx, "b1", model.StageResponse, ResultStarted, "", "x")
	assert.True(t, eris.Is(err, model.ErrValidation))
}

func TestRejectAndArchive(t *testing.T) {
	store := newFakeStore()
	store.add("b1", model.StatusGenerating)
	store.add("b2", model.StatusConverted)
	c := NewController(store, 3, testOutreachConfig())
	ctx := context.Background()

	require.NoError(t, c.Reject(ctx, "b1", "operator"))
	assert.Equal(t, model.StatusRejected, store.businesses["b1"].Status)

	err := c.Archive(ctx, "b2", "operator")
	assert.True(t, eris.Is(err, model.ErrTransitionConflict))
	assert.Equal(t, model.StatusConverted, store.businesses["b2"].Status)
}

func TestPromoteDeployed(t *testing.T) {
	store := newFakeStore()
	store.add("b1", model.StatusDeployed)
	store.add("b2", model.StatusDeployed)
	store.add("b3", model.StatusContacted) // raced ahead, promotion skips it
	store.deployed = []model.Business{
		{ID: "b1", Status: model.StatusDeployed},
		{ID: "b2", Status: model.StatusDeployed},
		{ID: "b3", Status: model.StatusContacted},
	}
	c := NewController(store, 3, testOutreachConfig())

	n, err := c.PromoteDeployed(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, model.StatusReadyForOutreach, store.businesses["b1"].Status)
	assert.Equal(t, model.StatusContacted, store.businesses["b3"].Status)
}

func TestArchiveStale(t *testing.T) {
	store := newFakeStore()
	store.add("b1", model.StatusContacted)
	store.stale = []model.Business{{ID: "b1", Status: model.StatusContacted}}
	c := NewController(store, 3, testOutreachConfig())

	n, err := c.ArchiveStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.StatusArchived, store.businesses["b1"].Status)
}
