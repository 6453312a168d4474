package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webfabrica/leadgen-cli/internal/ingest"
	"github.com/webfabrica/leadgen-cli/internal/lifecycle"
	"github.com/webfabrica/leadgen-cli/internal/model"
	"github.com/webfabrica/leadgen-cli/internal/selector"
)

type fakeIngest struct {
	source string
	count  int
	err    error
}

func (f *fakeIngest) Process(_ context.Context, source string, recs []model.RawRecord) (ingest.Summary, error) {
	f.source = source
	f.count = len(recs)
	return ingest.Summary{New: len(recs)}, f.err
}

type fakeReporter struct {
	id     string
	stage  model.Stage
	result lifecycle.StageResult
	err    error
}

func (f *fakeReporter) ReportStage(_ context.Context, id string, stage model.Stage, result lifecycle.StageResult, artifact, actor string) error {
	f.id = id
	f.stage = stage
	f.result = result
	return f.err
}

type fakeSelector struct {
	queue     selector.Queue
	limit     int
	eligible  []model.Business
	eligibErr error
}

func (f *fakeSelector) Eligible(_ context.Context, queue selector.Queue, limit int) ([]model.Business, error) {
	f.queue = queue
	f.limit = limit
	return f.eligible, f.eligibErr
}

func (f *fakeSelector) Funnel(_ context.Context) (*model.FunnelReport, error) {
	return &model.FunnelReport{
		Counts:         map[model.Status]int{model.StatusDiscovered: 3},
		NeedsAttention: 1,
	}, nil
}

func testRouter(ing *fakeIngest, rep *fakeReporter, sel *fakeSelector) http.Handler {
	return newRouter(apiDeps{ingest: ing, reporter: rep, selector: sel})
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAPI_Health(t *testing.T) {
	h := testRouter(&fakeIngest{}, &fakeReporter{}, &fakeSelector{})

	rec := doRequest(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestAPI_Ingest(t *testing.T) {
	ing := &fakeIngest{}
	h := testRouter(ing, &fakeReporter{}, &fakeSelector{})

	body := `{"source":"google_maps","records":[{"name":"Panadería San José"}]}`
	rec := doRequest(t, h, http.MethodPost, "/ingest", body)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "google_maps", ing.source)
	assert.Equal(t, 1, ing.count)
	assert.Contains(t, rec.Body.String(), `"new":1`)
}

func TestAPI_Ingest_DefaultsSource(t *testing.T) {
	ing := &fakeIngest{}
	h := testRouter(ing, &fakeReporter{}, &fakeSelector{})

	rec := doRequest(t, h, http.MethodPost, "/ingest", `{"records":[{"name":"x"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "api", ing.source)
}

func TestAPI_Ingest_BadRequests(t *testing.T) {
	h := testRouter(&fakeIngest{}, &fakeReporter{}, &fakeSelector{})

	rec := doRequest(t, h, http.MethodPost, "/ingest", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, h, http.MethodPost, "/ingest", `{"source":"x","records":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_Stage(t *testing.T) {
	rep := &fakeReporter{}
	h := testRouter(&fakeIngest{}, rep, &fakeSelector{})

	body := `{"id":"b1","stage":"deployment","result":"success","artifact":"https://site.example.py"}`
	rec := doRequest(t, h, http.MethodPost, "/stage", body)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "b1", rep.id)
	assert.Equal(t, model.StageDeployment, rep.stage)
	assert.Equal(t, lifecycle.ResultSuccess, rep.result)
}

func TestAPI_Stage_Validation(t *testing.T) {
	h := testRouter(&fakeIngest{}, &fakeReporter{}, &fakeSelector{})

	tests := []struct {
		name string
		body string
	}{
		{"missing id", `{"stage":"generation","result":"success"}`},
		{"unknown stage", `{"id":"b1","stage":"nope","result":"success"}`},
		{"unknown result", `{"id":"b1","stage":"generation","result":"maybe"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, h, http.MethodPost, "/stage", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestAPI_Stage_ErrorMapping(t *testing.T) {
	rep := &fakeReporter{err: model.ErrNotFound}
	h := testRouter(&fakeIngest{}, rep, &fakeSelector{})

	body := `{"id":"missing","stage":"generation","result":"started"}`
	rec := doRequest(t, h, http.MethodPost, "/stage", body)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rep.err = model.ErrTransitionConflict
	rec = doRequest(t, h, http.MethodPost, "/stage", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPI_Eligible(t *testing.T) {
	sel := &fakeSelector{eligible: []model.Business{{ID: "b1", Status: model.StatusQualified}}}
	h := testRouter(&fakeIngest{}, &fakeReporter{}, sel)

	rec := doRequest(t, h, http.MethodGet, "/eligible?queue=generation&limit=25", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, selector.QueueGeneration, sel.queue)
	assert.Equal(t, 25, sel.limit)
	assert.Contains(t, rec.Body.String(), `"b1"`)
}

func TestAPI_Eligible_UnknownQueue(t *testing.T) {
	sel := &fakeSelector{eligibErr: model.ErrValidation}
	h := testRouter(&fakeIngest{}, &fakeReporter{}, sel)

	rec := doRequest(t, h, http.MethodGet, "/eligible?queue=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_Eligible_EmptyIsArray(t *testing.T) {
	h := testRouter(&fakeIngest{}, &fakeReporter{}, &fakeSelector{})

	rec := doRequest(t, h, http.MethodGet, "/eligible?queue=qualification", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestAPI_Funnel(t *testing.T) {
	h := testRouter(&fakeIngest{}, &fakeReporter{}, &fakeSelector{})

	rec := doRequest(t, h, http.MethodGet, "/funnel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"needs_attention":1`)
}
