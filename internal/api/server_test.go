package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"silofy/internal/config"
	"silofy/internal/engine"
	"silofy/internal/model"
)

type countingPublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *countingPublisher) Publish(_ context.Context, key string, _ model.Evaluation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	return nil
}

func (p *countingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

func newTestServer(t *testing.T) (http.Handler, *engine.Engine) {
	h, eng, _ := newTestServerWithPublisher(t)
	return h, eng
}

func newTestServerWithPublisher(t *testing.T) (http.Handler, *engine.Engine, *countingPublisher) {
	t.Helper()
	mgr, err := config.NewManager("")
	require.NoError(t, err)
	pub := &countingPublisher{}
	eng := engine.NewEngine(mgr.Get(), nil, engine.Options{Publisher: pub})
	ts := time.Now().Add(-time.Hour)
	for _, b := range []model.Bag{
		{ID: "SB-001", Crop: "Maize", Farm: "A", Tons: 210, Temperature: 28.4, Humidity: 14.2, CO2: 0.7, Risk: 0.27},
		{ID: "SB-002", Crop: "Maize", Farm: "A", Tons: 190, Temperature: 31.1, Humidity: 16.9, CO2: 1.9, Risk: 0.62},
		{ID: "SB-003", Crop: "Soy", Farm: "B", Tons: 100, Temperature: 33, Humidity: 15, CO2: 2.8, Risk: 0.81},
	} {
		require.NoError(t, eng.ProcessReading(context.Background(), model.Reading{Bag: b, Timestamp: ts}))
	}
	return NewServer(mgr, eng, nil, "test").Router(), eng, pub
}

func doRequest(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestHealthAndStatus(t *testing.T) {
	h, _ := newTestServer(t)
	rec, body := doRequest(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	rec, body = doRequest(t, h, http.MethodGet, "/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 3, body["bags"])
	assert.Equal(t, "disabled", body["storage"])
	assert.Equal(t, "test", body["version"])
}

func TestFilters(t *testing.T) {
	h, _ := newTestServer(t)
	_, body := doRequest(t, h, http.MethodGet, "/filters", "")
	assert.Equal(t, []any{"All", "Maize", "Soy"}, body["crops"])
	assert.Equal(t, []any{"All", "A", "B"}, body["sites"])
}

func TestKPIsForCrop(t *testing.T) {
	h, _ := newTestServer(t)
	rec, body := doRequest(t, h, http.MethodGet, "/kpis?crop=Maize", "")
	require.Equal(t, http.StatusOK, rec.Code)
	kpis := body["kpis"].(map[string]any)
	assert.EqualValues(t, 2, kpis["total_bags"])
	assert.InDelta(t, 400, kpis["total_tons"], 1e-9)
	assert.InDelta(t, 190, kpis["at_risk_tons"], 1e-9)
	assert.InDelta(t, 29.75, kpis["avg_temperature"], 1e-9)
	assert.EqualValues(t, 1, kpis["open_alert_count"])
}

func TestBagsCarryDerivedStatus(t *testing.T) {
	h, _ := newTestServer(t)
	_, body := doRequest(t, h, http.MethodGet, "/bags?site=B", "")
	bags := body["bags"].([]any)
	require.Len(t, bags, 1)
	bag := bags[0].(map[string]any)
	assert.Equal(t, "SB-003", bag["id"])
	assert.Equal(t, "High", bag["status"])
}

func TestAlertsAndUnknownFilter(t *testing.T) {
	h, _ := newTestServer(t)
	_, body := doRequest(t, h, http.MethodGet, "/alerts", "")
	assert.EqualValues(t, 2, body["count"])
	alerts := body["alerts"].([]any)
	assert.Equal(t, "SB-002", alerts[0].(map[string]any)["bag_id"])
	assert.Equal(t, "Quality", alerts[1].(map[string]any)["type"])

	_, body = doRequest(t, h, http.MethodGet, "/alerts?crop=Wheat", "")
	assert.EqualValues(t, 0, body["count"])
}

func TestAcknowledgeFlow(t *testing.T) {
	h, _ := newTestServer(t)
	rec, body := doRequest(t, h, http.MethodPost, "/alerts/SB-002/ack", `{"note":"ventilated"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "SB-002", body["bag_id"])
	assert.NotEmpty(t, body["id"])

	rec, body = doRequest(t, h, http.MethodPost, "/alerts/SB-001/ack", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, body["error"])

	rec, _ = doRequest(t, h, http.MethodPost, "/alerts/SB-404/ack", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = doRequest(t, h, http.MethodPost, "/alerts/SB-002/ack", `{"note":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	_, body = doRequest(t, h, http.MethodGet, "/acks?limit=10", "")
	assert.EqualValues(t, 1, body["count"])

	rec, _ = doRequest(t, h, http.MethodGet, "/acks?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	_, body = doRequest(t, h, http.MethodGet, "/alerts", "")
	assert.EqualValues(t, 2, body["count"], "acknowledging must not remove the alert")
}

func TestTrendEndpoint(t *testing.T) {
	h, _ := newTestServer(t)
	rec, body := doRequest(t, h, http.MethodGet, "/trend?bag=SB-001", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["points"], 1)

	rec, body = doRequest(t, h, http.MethodGet, "/trend", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["points"], 1)

	rec, _ = doRequest(t, h, http.MethodGet, "/trend?bag=SB-404", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSnapshotsAndAdmin(t *testing.T) {
	h, eng := newTestServer(t)
	doRequest(t, h, http.MethodPost, "/evaluation?crop=Maize", "")
	doRequest(t, h, http.MethodPost, "/evaluation", "")
	_, body := doRequest(t, h, http.MethodGet, "/snapshots", "")
	assert.EqualValues(t, 2, body["count"])

	rec, _ := doRequest(t, h, http.MethodPost, "/admin/clear", `{"target":"bogus"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doRequest(t, h, http.MethodPost, "/admin/clear", `{"target":"snapshots"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, eng.Snapshots().List())

	rec, _ = doRequest(t, h, http.MethodPost, "/admin/reset", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, eng.Inventory().Len())
}

func TestMethodNotAllowed(t *testing.T) {
	h, _ := newTestServer(t)
	rec, _ := doRequest(t, h, http.MethodGet, "/admin/reset", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestReadEndpointsDoNotPersistOrPublish(t *testing.T) {
	h, eng, pub := newTestServerWithPublisher(t)
	for _, target := range []string{"/bags", "/kpis?crop=Maize", "/alerts", "/evaluation", "/evaluation?site=B"} {
		rec, _ := doRequest(t, h, http.MethodGet, target, "")
		require.Equal(t, http.StatusOK, rec.Code, target)
	}
	assert.Empty(t, eng.Snapshots().List())
	assert.Equal(t, 0, pub.count())

	rec, body := doRequest(t, h, http.MethodPost, "/evaluation?crop=Maize", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, body["evaluated_at"])
	assert.Len(t, eng.Snapshots().List(), 1)
	assert.Equal(t, 1, pub.count())
}
