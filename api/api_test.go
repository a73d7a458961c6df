package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"sigforge/catalog"
	"sigforge/compiler"
	"sigforge/config"
	"sigforge/metrics"
	"sigforge/service"
	"sigforge/simulate"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testAPIConfig() config.APIConfig {
	cfg := config.Default().API
	cfg.RateLimit.Enabled = false
	return cfg
}

func newTestAPI(t *testing.T, cfg config.APIConfig) *API {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	c, err := compiler.New(compiler.WithLogger(logger), compiler.WithMetrics(m))
	require.NoError(t, err)
	e := simulate.New(simulate.Config{SampleCount: 50}, c, simulate.WithLogger(logger), simulate.WithMetrics(m))
	s := service.NewSession(catalog.Builtin(), c, e, service.WithLogger(logger), service.WithMetrics(m))

	a := New(s, cfg, reg, logger)
	t.Cleanup(func() {
		_ = a.Stop(context.Background())
		s.Close()
	})
	return a
}

func do(t *testing.T, a *API, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func addNode(t *testing.T, a *API, component string, params map[string]any) string {
	t.Helper()
	rec := do(t, a, http.MethodPost, "/api/graph/nodes", addNodeRequest{ComponentID: component, Parameters: params})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[idResponse](t, rec).ID
}

func TestAPI_BuildAndCompile(t *testing.T) {
	a := newTestAPI(t, testAPIConfig())

	ip := addNode(t, a, catalog.IPAddress, map[string]any{"address": "203.0.113.7", "direction": "dst"})
	str := addNode(t, a, catalog.StringMatch, map[string]any{"string": "cmd.exe"})

	rec := do(t, a, http.MethodPost, "/api/graph/edges", connectRequest{FromNode: ip, FromPort: "match", ToNode: str, ToPort: "match", Operator: "and"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	edge := decodeBody[idResponse](t, rec).ID

	rec = do(t, a, http.MethodPut, "/api/graph/edges/"+edge+"/operator", operatorRequest{Operator: "or"})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, a, http.MethodPut, "/api/graph/nodes/"+str+"/position", map[string]float64{"x": 40, "y": 80})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, a, http.MethodGet, "/api/graph/validate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[map[string]any](t, rec)["isValid"].(bool))

	rec = do(t, a, http.MethodPost, "/api/compile/suricata", compiler.Options{DryRun: true, Action: "drop"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rule := decodeBody[compiler.CompiledRule](t, rec)
	assert.Equal(t, compiler.FormatSuricata, rule.Format)
	assert.Contains(t, rule.Text, "drop ")
	assert.Contains(t, rule.Text, "203.0.113.7")

	rec = do(t, a, http.MethodPost, "/api/compile", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decodeBody[[]service.FormatResult](t, rec), len(compiler.Formats))

	rec = do(t, a, http.MethodPost, "/api/compile/cobol", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_CompileInvalidGraph(t *testing.T) {
	a := newTestAPI(t, testAPIConfig())

	rec := do(t, a, http.MethodPost, "/api/compile/yara", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	x := addNode(t, a, catalog.StringMatch, map[string]any{"string": "x"})
	y := addNode(t, a, catalog.StringMatch, map[string]any{"string": "y"})
	for _, pair := range [][2]string{{x, y}, {y, x}} {
		rec = do(t, a, http.MethodPost, "/api/graph/edges", connectRequest{FromNode: pair[0], FromPort: "match", ToNode: pair[1], ToPort: "match"})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec = do(t, a, http.MethodPost, "/api/compile/yara", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Contains(t, body["error"], "validation failed")
	validation := body["validation"].(map[string]any)
	assert.False(t, validation["isValid"].(bool))
}

func TestAPI_Errors(t *testing.T) {
	a := newTestAPI(t, testAPIConfig())
	id := addNode(t, a, catalog.PortRange, map[string]any{"port": "443"})

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown component", http.MethodPost, "/api/graph/nodes", addNodeRequest{ComponentID: "quantum-sensor"}, http.StatusBadRequest},
		{"missing component", http.MethodPost, "/api/graph/nodes", map[string]any{}, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/api/graph/nodes", `{"componentId":"protocol","extra":1}`, http.StatusBadRequest},
		{"malformed json", http.MethodPost, "/api/graph/nodes", `{`, http.StatusBadRequest},
		{"remove missing node", http.MethodDelete, "/api/graph/nodes/node-99", nil, http.StatusNotFound},
		{"move missing node", http.MethodPut, "/api/graph/nodes/node-99/position", map[string]float64{"x": 1}, http.StatusNotFound},
		{"bad status", http.MethodPut, "/api/graph/nodes/" + id + "/status", statusRequest{Status: "sleeping"}, http.StatusBadRequest},
		{"status", http.MethodPut, "/api/graph/nodes/" + id + "/status", statusRequest{Status: "running"}, http.StatusNoContent},
		{"parameter", http.MethodPut, "/api/graph/nodes/" + id + "/parameters/port", valueRequest{Value: "8443"}, http.StatusNoContent},
		{"edge to nowhere", http.MethodPost, "/api/graph/edges", connectRequest{FromNode: id, FromPort: "match", ToNode: "node-99", ToPort: "match"}, http.StatusBadRequest},
		{"bad operator", http.MethodPost, "/api/graph/edges", connectRequest{FromNode: id, FromPort: "match", ToNode: id, ToPort: "match", Operator: "IMPLIES"}, http.StatusBadRequest},
		{"disconnect missing edge", http.MethodDelete, "/api/graph/edges/edge-9", nil, http.StatusNotFound},
		{"operator on missing edge", http.MethodPut, "/api/graph/edges/edge-9/operator", operatorRequest{Operator: "OR"}, http.StatusNotFound},
		{"unknown test", http.MethodPost, "/api/tests/fuzzing", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, a, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			if tt.want >= 400 {
				assert.NotEmpty(t, decodeBody[errorResponse](t, rec).Error)
			}
		})
	}
}

func TestAPI_ImportExportReset(t *testing.T) {
	a := newTestAPI(t, testAPIConfig())
	addNode(t, a, catalog.DNSQuery, map[string]any{"domain": "c2.example"})
	rec := do(t, a, http.MethodPut, "/api/graph/metadata", map[string]any{"name": "C2 Lookup", "type": "detection", "priority": "high"})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = do(t, a, http.MethodGet, "/api/graph", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	exported := rec.Body.String()
	assert.Contains(t, exported, "C2 Lookup")

	rec = do(t, a, http.MethodDelete, "/api/graph", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, a.session.Snapshot().NodeCount())

	rec = do(t, a, http.MethodPut, "/api/graph?strict=true", exported)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[importResponse](t, rec)
	assert.Empty(t, resp.Warnings)
	assert.Equal(t, 1, a.session.Snapshot().NodeCount())

	rec = do(t, a, http.MethodPut, "/api/graph", `{"nodes": 7}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_TestsAndHistory(t *testing.T) {
	a := newTestAPI(t, testAPIConfig())
	addNode(t, a, catalog.StringMatch, map[string]any{"string": "mimikatz"})

	rec := do(t, a, http.MethodPost, "/api/tests/logic-validation", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[simulate.TestResult](t, rec)
	assert.Equal(t, simulate.TestLogicValidation, res.Type)

	rec = do(t, a, http.MethodPost, "/api/tests", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decodeBody[simulate.TestReport](t, rec)
	assert.Len(t, report.Results, len(simulate.Suite))

	rec = do(t, a, http.MethodGet, "/api/tests/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]simulate.TestReport](t, rec), 1)

	rec = do(t, a, http.MethodDelete, "/api/tests/history", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, a, http.MethodGet, "/api/tests/history", nil)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestAPI_HealthCatalogMetrics(t *testing.T) {
	a := newTestAPI(t, testAPIConfig())
	addNode(t, a, catalog.Protocol, nil)

	rec := do(t, a, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decodeBody[healthResponse](t, rec)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Nodes)

	rec = do(t, a, http.MethodGet, "/api/catalog", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]catalog.Definition](t, rec), catalog.Builtin().Len())

	rec = do(t, a, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sigforge_graph_events_total")

	rec = do(t, a, http.MethodGet, "/api/compiler/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_CORSAndRateLimit(t *testing.T) {
	cfg := testAPIConfig()
	cfg.AllowedOrigins = []string{"http://editor.local"}
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.RequestsPerSecond = 1
	cfg.RateLimit.Burst = 2
	a := newTestAPI(t, cfg)

	rec := do(t, a, http.MethodGet, "/health", nil, "Origin", "http://editor.local")
	assert.Equal(t, "http://editor.local", rec.Header().Get("Access-Control-Allow-Origin"))
	rec = do(t, a, http.MethodGet, "/health", nil, "Origin", "http://evil.local")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(t, a, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestSanitizeErrorMessage(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"dial postgres://sig:pw@db:5432/x failed", "dial [DATABASE_CONNECTION] failed"},
		{"open /var/lib/sigforge/sids.db: denied", "open [FILE_PATH]: denied"},
		{"bad password=hunter2", "bad password=[REDACTED]"},
		{"node \"node-1\" not found", "node \"node-1\" not found"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeErrorMessage(tt.in))
	}
}
