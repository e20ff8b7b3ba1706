// Package mcptools exposes recorded runs and scalar curves as Model Context
// Protocol tools, so an agent can inspect training progress without
// TensorBoard.
package mcptools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/JakeFAU/tbprogress/internal/store"
)

const (
	defaultRunLimit    = 50
	maxRunLimit        = 500
	defaultScalarLimit = 1000
	maxScalarLimit     = 10000
	// summaryScan bounds how many points summarize_scalar reads.
	summaryScan = 100000
)

// Tool names.
const (
	ToolListRuns        = "list_runs"
	ToolGetRun          = "get_run"
	ToolListScalars     = "list_scalars"
	ToolSummarizeScalar = "summarize_scalar"
)

// ListRunsInput filters list_runs.
type ListRunsInput struct {
	Status string `json:"status,omitempty" jsonschema:"open, closed or error; empty lists every run"`
	Limit  int    `json:"limit,omitempty" jsonschema:"maximum runs to return"`
}

// RunInput names one run.
type RunInput struct {
	RunID string `json:"run_id" jsonschema:"run identifier"`
}

// ListScalarsInput selects points of one run.
type ListScalarsInput struct {
	RunID  string `json:"run_id" jsonschema:"run identifier"`
	Name   string `json:"name,omitempty" jsonschema:"scalar tag; empty returns every curve"`
	Limit  int    `json:"limit,omitempty" jsonschema:"maximum points to return"`
	Offset int    `json:"offset,omitempty" jsonschema:"points to skip"`
}

// SummarizeInput names one curve.
type SummarizeInput struct {
	RunID string `json:"run_id" jsonschema:"run identifier"`
	Name  string `json:"name" jsonschema:"scalar tag, e.g. minibatch/avg_loss"`
}

// Run is the tool view of store.Run.
type Run struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	LogDir     string `json:"log_dir"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

// Point is the tool view of store.Point.
type Point struct {
	Name  string  `json:"name"`
	Step  uint64  `json:"step"`
	Value float32 `json:"value"`
}

// RunList is the list_runs result.
type RunList struct {
	Runs []Run `json:"runs"`
}

// PointList is the list_scalars result.
type PointList struct {
	Points []Point `json:"points"`
}

// Summary describes one curve.
type Summary struct {
	Name      string  `json:"name"`
	Count     int     `json:"count"`
	FirstStep uint64  `json:"first_step"`
	LastStep  uint64  `json:"last_step"`
	First     float64 `json:"first"`
	Last      float64 `json:"last"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	Mean      float64 `json:"mean"`
}

type tools struct {
	repo   store.ScalarRepository
	logger *zap.Logger
}

// NewServer registers the run and scalar tools on a new MCP server.
func NewServer(repo store.ScalarRepository, version string, logger *zap.Logger) *mcp.Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &tools{repo: repo, logger: logger}
	server := mcp.NewServer(&mcp.Implementation{Name: "tbprogress", Version: version}, nil)
	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolListRuns,
		Description: "List recorded training runs, newest first",
	}, t.listRuns)
	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolGetRun,
		Description: "Load one training run by id",
	}, t.getRun)
	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolListScalars,
		Description: "List the scalar points of a run ordered by name then step",
	}, t.listScalars)
	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolSummarizeScalar,
		Description: "Summarize one scalar curve of a run: first, last, min, max and mean",
	}, t.summarize)
	return server
}

func (t *tools) listRuns(ctx context.Context, _ *mcp.CallToolRequest, in ListRunsInput) (*mcp.CallToolResult, RunList, error) {
	var status *store.RunStatus
	if in.Status != "" {
		s := store.RunStatus(in.Status)
		switch s {
		case store.RunOpen, store.RunClosed, store.RunError:
		default:
			return nil, RunList{}, fmt.Errorf("unknown status %q", in.Status)
		}
		status = &s
	}
	runs, err := t.repo.ListRuns(ctx, status, clamp(in.Limit, defaultRunLimit, maxRunLimit), 0)
	if err != nil {
		t.logger.Error("list runs failed", zap.Error(err))
		return nil, RunList{}, fmt.Errorf("list runs: %w", err)
	}
	out := RunList{Runs: make([]Run, 0, len(runs))}
	for _, r := range runs {
		out.Runs = append(out.Runs, toRun(r))
	}
	return nil, out, nil
}

func (t *tools) getRun(ctx context.Context, _ *mcp.CallToolRequest, in RunInput) (*mcp.CallToolResult, Run, error) {
	id, err := parseRunID(in.RunID)
	if err != nil {
		return nil, Run{}, err
	}
	run, err := t.repo.GetRun(ctx, id)
	if err != nil {
		return nil, Run{}, t.lookupError(err, id)
	}
	return nil, toRun(run), nil
}

func (t *tools) listScalars(ctx context.Context, _ *mcp.CallToolRequest, in ListScalarsInput) (*mcp.CallToolResult, PointList, error) {
	id, err := parseRunID(in.RunID)
	if err != nil {
		return nil, PointList{}, err
	}
	points, err := t.repo.ListScalars(ctx, id, in.Name, clamp(in.Limit, defaultScalarLimit, maxScalarLimit), max(in.Offset, 0))
	if err != nil {
		return nil, PointList{}, t.lookupError(err, id)
	}
	out := PointList{Points: make([]Point, 0, len(points))}
	for _, p := range points {
		out.Points = append(out.Points, Point{Name: p.Name, Step: p.Step, Value: p.Value})
	}
	return nil, out, nil
}

func (t *tools) summarize(ctx context.Context, _ *mcp.CallToolRequest, in SummarizeInput) (*mcp.CallToolResult, Summary, error) {
	id, err := parseRunID(in.RunID)
	if err != nil {
		return nil, Summary{}, err
	}
	if in.Name == "" {
		return nil, Summary{}, errors.New("name is required")
	}
	points, err := t.repo.ListScalars(ctx, id, in.Name, summaryScan, 0)
	if err != nil {
		return nil, Summary{}, t.lookupError(err, id)
	}
	if len(points) == 0 {
		return nil, Summary{}, fmt.Errorf("run %s has no points for %q", id, in.Name)
	}
	return nil, Summarize(in.Name, points), nil
}

// Summarize reduces points, ordered by step, to a Summary.
func Summarize(name string, points []store.Point) Summary {
	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = float64(p.Value)
	}
	s := Summary{Name: name, Count: len(points)}
	if len(points) == 0 {
		return s
	}
	s.FirstStep = points[0].Step
	s.LastStep = points[len(points)-1].Step
	s.First = values[0]
	s.Last = values[len(values)-1]
	s.Min = floats.Min(values)
	s.Max = floats.Max(values)
	s.Mean = stat.Mean(values, nil)
	return s
}

func (t *tools) lookupError(err error, id uuid.UUID) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("run %s not found", id)
	}
	t.logger.Error("scalar repository lookup failed", zap.Stringer("run", id), zap.Error(err))
	return fmt.Errorf("lookup run %s: %w", id, err)
}

func parseRunID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid run_id %q", raw)
	}
	return id, nil
}

func clamp(v, def, hi int) int {
	if v <= 0 {
		return def
	}
	return min(v, hi)
}

func toRun(r store.Run) Run {
	out := Run{
		ID:        r.ID.String(),
		Name:      r.Name,
		LogDir:    r.LogDir,
		StartedAt: r.StartedAt.UTC().Format(time.RFC3339Nano),
		Status:    string(r.Status),
	}
	if r.FinishedAt != nil {
		out.FinishedAt = r.FinishedAt.UTC().Format(time.RFC3339Nano)
	}
	if r.ErrorMessage != nil {
		out.Error = *r.ErrorMessage
	}
	return out
}
