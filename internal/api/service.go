package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"stratbench/internal/domain"
	"stratbench/internal/engine"
	"stratbench/internal/marketdata"
	"stratbench/internal/stats"
	"stratbench/internal/store"
	"stratbench/internal/strategy"
	"stratbench/internal/tester"
)

// errRunsDisabled is returned by run queries when no RunStore is configured.
var errRunsDisabled = errors.New("run history is disabled")

// Deps are the collaborators shared by the HTTP and gRPC surfaces.
type Deps struct {
	Registry *strategy.Registry
	Provider marketdata.Provider
	Runs     store.RunStore
	Recorder tester.Recorder
	Backtest engine.Config
	Workers  int
	Logger   *slog.Logger
}

// ---------------------------------------------------------------------------
// Requests and responses
// ---------------------------------------------------------------------------

// OptimizeSpec asks for a parameter sweep before the comparison. Data
// defaults to the comparison data.
type OptimizeSpec struct {
	Data     *domain.DataInfo `json:"data_info,omitempty"`
	Maximize string           `json:"maximize" validate:"required"`
	MaxTries int              `json:"max_tries" validate:"gte=0"`
}

// CompareRequest runs a list of strategies over one data set.
type CompareRequest struct {
	Data       domain.DataInfo `json:"data"`
	Strategies []tester.Entry  `json:"strategies" validate:"required,min=1,dive"`
	Metrics    []string        `json:"metrics"`
	Optimize   *OptimizeSpec   `json:"optimize,omitempty"`
	Save       bool            `json:"save"`
}

// OptimizeRequest sweeps the parameter grids of strategies without running
// the comparison.
type OptimizeRequest struct {
	Data       domain.DataInfo `json:"data"`
	Strategies []tester.Entry  `json:"strategies" validate:"required,min=1,dive"`
	Maximize   string          `json:"maximize" default:"SQN" validate:"required"`
	MaxTries   int             `json:"max_tries" validate:"gte=0"`
}

// StrategyResult is one row of a comparison.
type StrategyResult struct {
	Label    string              `json:"label"`
	Strategy string              `json:"strategy"`
	Params   map[string]float64  `json:"params"`
	Values   map[string]*float64 `json:"values"`
	Text     map[string]string   `json:"text"`
	Trades   int                 `json:"trades"`
}

// OptimizedResult reports the parameters picked for one strategy.
type OptimizedResult struct {
	Name   string             `json:"name"`
	Params map[string]float64 `json:"params"`
	Score  *float64           `json:"score"`
	Tried  int                `json:"tried"`
}

// CompareResponse is the outcome of a comparison.
type CompareResponse struct {
	Data      domain.DataInfo   `json:"data"`
	Metrics   []string          `json:"metrics"`
	Results   []StrategyResult  `json:"results"`
	Optimized []OptimizedResult `json:"optimized,omitempty"`
}

// OptimizeResponse is the outcome of a parameter sweep.
type OptimizeResponse struct {
	Optimized  []OptimizedResult `json:"optimized"`
	Strategies []tester.Entry    `json:"strategies"`
}

// StrategyInfo describes a registered strategy.
type StrategyInfo struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Defaults    map[string]float64 `json:"defaults"`
}

// RunView is a stored run with NaN metrics rendered as null.
type RunView struct {
	ID        int64               `json:"id"`
	CreatedAt string              `json:"created_at"`
	Data      domain.DataInfo     `json:"data"`
	Strategy  string              `json:"strategy"`
	Params    map[string]float64  `json:"params"`
	Metrics   map[string]*float64 `json:"metrics"`
	Trades    []stats.Trade       `json:"trades,omitempty"`
}

// ---------------------------------------------------------------------------
// Service
// ---------------------------------------------------------------------------

// Service implements the comparison operations behind both transports.
type Service struct {
	deps Deps
	log  *slog.Logger
}

// NewService creates a Service from deps.
func NewService(deps Deps) *Service {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Service{deps: deps, log: log.With("component", "api")}
}

// newTester builds a fresh tester for one request.
func (s *Service) newTester(save bool) *tester.StrategyTester {
	opts := []tester.Option{
		tester.WithConfig(s.deps.Backtest),
		tester.WithWorkers(s.deps.Workers),
		tester.WithLogger(s.log),
	}
	if s.deps.Recorder != nil {
		opts = append(opts, tester.WithRecorder(s.deps.Recorder))
	}
	if save && s.deps.Runs != nil {
		opts = append(opts, tester.WithRunStore(s.deps.Runs))
	}
	return tester.New(s.deps.Registry, s.deps.Provider, opts...)
}

// Strategies lists the registered strategies.
func (s *Service) Strategies() []StrategyInfo {
	specs := s.deps.Registry.Specs()
	out := make([]StrategyInfo, len(specs))
	for i, spec := range specs {
		out[i] = StrategyInfo{Name: spec.Name, Description: spec.Description, Defaults: spec.Defaults.Clone()}
	}
	return out
}

// Compare optionally optimises, then runs every strategy in req.
func (s *Service) Compare(ctx context.Context, req *CompareRequest) (*CompareResponse, error) {
	if err := req.Data.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", tester.ErrMissingDataInfo, err)
	}
	if req.Save && s.deps.Runs == nil {
		return nil, errRunsDisabled
	}
	t := s.newTester(req.Save)
	if err := t.AddStrategies(req.Strategies...); err != nil {
		return nil, err
	}

	resp := &CompareResponse{Data: req.Data}
	if req.Optimize != nil {
		info := &tester.OptimizationInfo{
			Data:     req.Data,
			Maximize: req.Optimize.Maximize,
			MaxTries: req.Optimize.MaxTries,
		}
		if req.Optimize.Data != nil {
			info.Data = *req.Optimize.Data
		}
		opt, err := t.Optimize(ctx, info)
		if err != nil {
			return nil, err
		}
		resp.Optimized = optimizedResults(opt)
	}

	tbl, err := t.RunBacktests(ctx, req.Data, req.Metrics)
	if err != nil {
		return nil, err
	}
	resp.Metrics = tbl.Columns
	resp.Results = make([]StrategyResult, len(tbl.Rows))
	for i, label := range tbl.Rows {
		run := tbl.Runs[i]
		r := StrategyResult{
			Label:    label,
			Strategy: run.Strategy,
			Params:   run.Params,
			Values:   make(map[string]*float64, len(tbl.Columns)),
			Text:     make(map[string]string, len(tbl.Columns)),
			Trades:   len(run.Trades),
		}
		for j, m := range tbl.Columns {
			r.Values[m] = number(tbl.Values[i][j])
			r.Text[m] = tbl.Text[i][j]
		}
		resp.Results[i] = r
	}
	return resp, nil
}

// Optimize sweeps the grids in req and returns the chosen parameters.
func (s *Service) Optimize(ctx context.Context, req *OptimizeRequest) (*OptimizeResponse, error) {
	t := s.newTester(false)
	if err := t.AddStrategies(req.Strategies...); err != nil {
		return nil, err
	}
	opt, err := t.Optimize(ctx, &tester.OptimizationInfo{
		Data:     req.Data,
		Maximize: req.Maximize,
		MaxTries: req.MaxTries,
	})
	if err != nil {
		return nil, err
	}
	return &OptimizeResponse{Optimized: optimizedResults(opt), Strategies: t.Entries()}, nil
}

// Runs lists stored runs, newest first.
func (s *Service) Runs(ctx context.Context, strategyName string, limit int) ([]RunView, error) {
	if s.deps.Runs == nil {
		return nil, errRunsDisabled
	}
	recs, err := s.deps.Runs.ListRuns(ctx, strategyName, limit)
	if err != nil {
		return nil, err
	}
	out := make([]RunView, len(recs))
	for i := range recs {
		out[i] = runView(&recs[i])
	}
	return out, nil
}

// Run returns one stored run with its trades.
func (s *Service) Run(ctx context.Context, id int64) (*RunView, error) {
	if s.deps.Runs == nil {
		return nil, errRunsDisabled
	}
	rec, err := s.deps.Runs.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	trades, err := s.deps.Runs.ListTrades(ctx, id)
	if err != nil {
		return nil, err
	}
	v := runView(rec)
	v.Trades = trades
	return &v, nil
}

func runView(r *store.RunRecord) RunView {
	m := make(map[string]*float64, len(r.Metrics))
	for k, v := range r.Metrics {
		m[k] = number(v)
	}
	return RunView{
		ID:        r.ID,
		CreatedAt: r.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		Data:      r.Data,
		Strategy:  r.Strategy,
		Params:    r.Params,
		Metrics:   m,
	}
}

func optimizedResults(in []tester.Optimized) []OptimizedResult {
	out := make([]OptimizedResult, len(in))
	for i, o := range in {
		out[i] = OptimizedResult{Name: o.Name, Params: o.Params, Score: number(o.Score), Tried: o.Tried}
	}
	return out
}

// number maps NaN and infinities to nil so they encode as JSON null.
func number(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// isClientError reports whether err was caused by the request itself.
func isClientError(err error) bool {
	for _, target := range []error{
		tester.ErrInvalidStrategies,
		tester.ErrNoOptimizationInfo,
		tester.ErrMissingDataInfo,
		stats.ErrUnknownMetric,
		strategy.ErrUnknownStrategy,
		marketdata.ErrUnsupportedInterval,
		domain.ErrUnknownInterval,
		errRunsDisabled,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// isNotFound reports whether err means the requested data does not exist.
func isNotFound(err error) bool {
	return errors.Is(err, marketdata.ErrNoData) || errors.Is(err, store.ErrNotFound)
}
