package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"stratbench/internal/config"
	"stratbench/internal/domain"
	"stratbench/internal/engine"
	"stratbench/internal/metrics"
	"stratbench/internal/stats"
	"stratbench/internal/store"
	"stratbench/internal/strategy/builtins"
)

type waveProvider struct{ frame domain.Frame }

func (p *waveProvider) Name() string { return "fake" }

func (p *waveProvider) FetchBars(context.Context, domain.DataInfo) (domain.Frame, error) {
	return p.frame, nil
}

func newWaveProvider() *waveProvider {
	t0 := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, 400)
	prev := 100.0
	for i := range bars {
		c := 100 + 15*math.Sin(float64(i)/12) + 0.05*float64(i)
		bars[i] = domain.Bar{
			Timestamp: t0.AddDate(0, 0, i),
			Open:      prev,
			High:      math.Max(prev, c) + 1,
			Low:       math.Min(prev, c) - 1,
			Close:     c,
		}
		prev = c
	}
	return &waveProvider{frame: domain.NewFrame("WAVE", domain.Interval1d, bars)}
}

const waveData = `{"ticker":"WAVE","start_date":"2020-01-01","end_date":"2021-02-05","interval":"1d"}`

func newTestServer(t *testing.T, runs store.RunStore) (*Server, *metrics.Recorder) {
	t.Helper()
	rec := metrics.New()
	deps := Deps{
		Registry: builtins.NewRegistry(),
		Provider: newWaveProvider(),
		Runs:     runs,
		Backtest: engine.DefaultConfig(),
		Workers:  2,
	}
	return NewServer(config.Server{Host: "127.0.0.1", Port: 8080}, deps, rec), rec
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestHealthAndStrategies(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rr := do(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, s, http.MethodGet, "/api/strategies", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var list []StrategyInfo
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	names := make([]string, len(list))
	for i, si := range list {
		names[i] = si.Name
	}
	assert.Contains(t, names, "BuyAndHold")
	assert.Contains(t, names, "SmaCross")
}

func TestCompare(t *testing.T) {
	s, _ := newTestServer(t, nil)
	body := `{"data":` + waveData + `,"strategies":[{"name":"BuyAndHold"},{"name":"SmaCross","params":{"n1":[5],"n2":[20]}}],
		"metrics":["Return [%]","# Trades","Profit Factor"]}`

	rr := do(t, s, http.MethodPost, "/api/compare", body)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp CompareResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, []string{stats.MetricReturn, stats.MetricTrades, stats.MetricProfitFactor}, resp.Metrics)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "BuyAndHold", resp.Results[0].Label)
	assert.Equal(t, 5.0, resp.Results[1].Params["n1"])
	require.NotNil(t, resp.Results[0].Values[stats.MetricTrades])
	assert.Equal(t, 1.0, *resp.Results[0].Values[stats.MetricTrades])
	assert.Equal(t, "1", resp.Results[0].Text[stats.MetricTrades])
	assert.True(t, resp.Data.AutoAdjust, "auto_adjust defaults to true")
}

func TestCompareWithOptimization(t *testing.T) {
	s, _ := newTestServer(t, nil)
	body := `{"data":` + waveData + `,"strategies":[{"name":"SmaCross","params":{"n1":[5,10],"n2":[20,40]}}],
		"optimize":{"maximize":"Return [%]"}}`

	rr := do(t, s, http.MethodPost, "/api/compare", body)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp CompareResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Optimized, 1)
	assert.Equal(t, 4, resp.Optimized[0].Tried)
	assert.Equal(t, resp.Optimized[0].Params["n1"], resp.Results[0].Params["n1"])
	assert.Len(t, resp.Metrics, 16)
}

func TestCompareRejectsBadRequests(t *testing.T) {
	s, _ := newTestServer(t, nil)
	tests := []struct {
		name string
		body string
		code int
	}{
		{"no strategies", `{"data":` + waveData + `}`, http.StatusBadRequest},
		{"bad date", `{"data":{"ticker":"WAVE","start_date":"01/01/2020","end_date":"2021-02-05"},"strategies":[{"name":"BuyAndHold"}]}`, http.StatusBadRequest},
		{"unknown strategy", `{"data":` + waveData + `,"strategies":[{"name":"Nope"}]}`, http.StatusBadRequest},
		{"unknown metric", `{"data":` + waveData + `,"strategies":[{"name":"BuyAndHold"}],"metrics":["Alpha"]}`, http.StatusBadRequest},
		{"reversed range", `{"data":{"ticker":"WAVE","start_date":"2021-01-01","end_date":"2020-01-01"},"strategies":[{"name":"BuyAndHold"}]}`, http.StatusBadRequest},
		{"save without store", `{"data":` + waveData + `,"strategies":[{"name":"BuyAndHold"}],"save":true}`, http.StatusServiceUnavailable},
		{"malformed json", `{"data":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, s, http.MethodPost, "/api/compare", tt.body)
			assert.Equal(t, tt.code, rr.Code, rr.Body.String())
			var resp errorResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
		})
	}

	rr := do(t, s, http.MethodPost, "/api/compare", `{"data":`+waveData+`}`)
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "ERR_REQUIRED", resp.Errors[0].Code)
	assert.Equal(t, "CompareRequest.strategies", resp.Errors[0].Field)
}

func TestOptimize(t *testing.T) {
	s, _ := newTestServer(t, nil)
	body := `{"data":` + waveData + `,"strategies":[{"name":"SmaCross","params":{"n1":[5,10]}},{"name":"BuyAndHold"}],"maximize":"Return [%]"}`

	rr := do(t, s, http.MethodPost, "/api/optimize", body)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp OptimizeResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Optimized, 1)
	assert.Equal(t, 2, resp.Optimized[0].Tried)
	require.Len(t, resp.Strategies, 2)
	assert.Equal(t, []float64{resp.Optimized[0].Params["n1"]}, resp.Strategies[0].Params["n1"])
}

func TestRunsHistory(t *testing.T) {
	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer db.Close()
	s, _ := newTestServer(t, db)

	rr := do(t, s, http.MethodPost, "/api/compare",
		`{"data":`+waveData+`,"strategies":[{"name":"BuyAndHold"},{"name":"SmaCross"}],"save":true}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = do(t, s, http.MethodGet, "/api/runs", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var runs []RunView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &runs))
	require.Len(t, runs, 2)

	rr = do(t, s, http.MethodGet, "/api/runs?strategy=BuyAndHold&limit=5", "")
	require.Equal(t, http.StatusOK, rr.Code)
	runs = nil
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "WAVE", runs[0].Data.Ticker)

	rr = do(t, s, http.MethodGet, "/api/runs/"+jsonInt(runs[0].ID), "")
	require.Equal(t, http.StatusOK, rr.Code)
	var run RunView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &run))
	assert.Len(t, run.Trades, 1)

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/runs/999", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/runs/abc", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/runs?limit=-1", "").Code)
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)
	rr := do(t, s, http.MethodPost, "/api/compare", `{"data":`+waveData+`,"strategies":[{"name":"BuyAndHold"}]}`)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `stratbench_backtests_total{outcome="ok",strategy="BuyAndHold"} 1`)
	assert.Contains(t, body, `stratbench_data_fetches_total{outcome="ok",source="fake"} 1`)
}

func dialBufconn(t *testing.T, s *Server) *ComparisonClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	s.RegisterGRPC(gs)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewComparisonClient(conn)
}

func TestGRPCComparison(t *testing.T) {
	s, _ := newTestServer(t, nil)
	client := dialBufconn(t, s)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out, err := client.ListStrategies(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, out.GetFields()["strategies"].GetListValue().GetValues())

	var req map[string]any
	require.NoError(t, json.NewDecoder(bytes.NewBufferString(
		`{"data":`+waveData+`,"strategies":[{"name":"BuyAndHold"}],"metrics":["# Trades"]}`)).Decode(&req))
	in, err := StructFrom(req)
	require.NoError(t, err)

	out, err = client.Compare(ctx, in)
	require.NoError(t, err)
	var resp CompareResponse
	require.NoError(t, DecodeStruct(out, &resp))
	require.Len(t, resp.Results, 1)
	require.NotNil(t, resp.Results[0].Values[stats.MetricTrades])
	assert.Equal(t, 1.0, *resp.Results[0].Values[stats.MetricTrades])

	bad, err := StructFrom(map[string]any{"data": map[string]any{"ticker": "WAVE"}})
	require.NoError(t, err)
	_, err = client.Compare(ctx, bad)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	unknown, err := StructFrom(map[string]any{
		"data":       json.RawMessage(waveData),
		"strategies": []map[string]any{{"name": "Nope"}},
	})
	require.NoError(t, err)
	_, err = client.Compare(ctx, unknown)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}
