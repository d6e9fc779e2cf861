package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agenthands/canon/internal/core"
	"github.com/agenthands/canon/internal/core/grouping"
	"github.com/agenthands/canon/internal/core/model"
	"github.com/agenthands/canon/internal/core/similarity"
	"github.com/agenthands/canon/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sameEventReviewer struct{}

func (sameEventReviewer) Review(ctx context.Context, members []model.ReviewMember) (*model.Review, error) {
	yes := true
	return &model.Review{SameEvent: &yes, BestCanonicalName: &members[0].Name}, nil
}

func newTestServer(t *testing.T) (*Server, *gin.Engine) {
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	s := store.NewMemoryStore()
	oracle := similarity.Func(func(ctx context.Context, a, b *model.CanonicalEvent) (float64, error) {
		return 0.9, nil
	})
	c := core.NewConsolidator(s, oracle, sameEventReviewer{}, grouping.DefaultConfig(),
		core.Options{Workers: 1, ReviewConcurrency: 1, CountrySets: map[string][]string{"influencers": {"CN"}}}, logger)
	srv := New(s, c, logger, false)
	return srv, srv.SetupRouter()
}

func do(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func ingest(t *testing.T, r *gin.Engine, id, name string, articles int, date string) {
	t.Helper()
	w := do(t, r, http.MethodPost, "/events", map[string]any{
		"id":                 id,
		"canonical_name":     name,
		"initiating_country": "cn",
		"mentions":           []map[string]any{{"date": date, "doc_ids": []string{id + "-doc"}, "article_count": articles}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestIngestAndRun(t *testing.T) {
	_, r := newTestServer(t)
	ingest(t, r, "e1", "Typhoon Gaemi landfall", 30, "2024-07-25")
	ingest(t, r, "e2", "Typhoon hits Fujian", 10, "2024-07-26")

	w := do(t, r, http.MethodGet, "/countries", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"countries": ["CN"]}`, w.Body.String())

	w = do(t, r, http.MethodPost, "/runs", map[string]any{"set": "influencers", "dry_run": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var report core.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.True(t, report.DryRun)
	assert.Equal(t, 1, report.Totals().Mutated)

	w = do(t, r, http.MethodPost, "/runs", map[string]any{"countries": []string{"CN"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, r, http.MethodGet, "/events/e1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var master EventResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &master))
	require.Len(t, master.Children, 1)
	assert.Equal(t, "e2", master.Children[0].ID)
	assert.Equal(t, []string{"Typhoon hits Fujian"}, master.Event.AlternativeNames)
	require.Len(t, master.Mentions, 1)

	w = do(t, r, http.MethodGet, "/events/e2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var child EventResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &child))
	require.NotNil(t, child.Master)
	assert.Equal(t, "e1", child.Master.ID)
}

func TestIngestValidation(t *testing.T) {
	_, r := newTestServer(t)

	w := do(t, r, http.MethodPost, "/events", map[string]any{"canonical_name": "x", "initiating_country": "CN"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPost, "/events", map[string]any{
		"canonical_name": "x", "initiating_country": "CN",
		"mentions": []map[string]any{{"date": "25/07/2024"}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	ingest(t, r, "e1", "Typhoon Gaemi landfall", 3, "2024-07-25")
	w = do(t, r, http.MethodPost, "/events", map[string]any{
		"id": "e1", "canonical_name": "x", "initiating_country": "RU",
		"mentions": []map[string]any{{"date": "2024-07-26"}},
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestIngestAssignsID(t *testing.T) {
	_, r := newTestServer(t)
	w := do(t, r, http.MethodPost, "/events", map[string]any{
		"canonical_name": "x", "initiating_country": "CN",
		"mentions": []map[string]any{{"date": "2024-07-26", "article_count": 2}},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body["id"], 36)
}

func TestGetUnknownEvent(t *testing.T) {
	_, r := newTestServer(t)
	w := do(t, r, http.MethodGet, "/events/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRunRejectsUnknownSet(t *testing.T) {
	_, r := newTestServer(t)
	w := do(t, r, http.MethodPost, "/runs", map[string]any{"set": "nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunWithoutBodyUsesDefaults(t *testing.T) {
	srv, r := newTestServer(t)
	srv.DryRun = true
	req := httptest.NewRequest(http.MethodPost, "/runs", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var report core.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.True(t, report.DryRun)
}
