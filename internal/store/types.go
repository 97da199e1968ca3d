package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/wonny/scengen/internal/contracts"
	"github.com/wonny/scengen/internal/risk"
	"github.com/wonny/scengen/internal/simconfig"
	"github.com/wonny/scengen/internal/simulator"
)

// ErrNotFound run 없음
var ErrNotFound = errors.New("run not found")

// RunRecord 시뮬레이션 run 이력 (경로 행렬은 저장하지 않음)
// ⭐ SSOT: run 메타데이터 + 진단 + 리스크 요약
type RunRecord struct {
	ID          uuid.UUID             `json:"id"`
	RunName     string                `json:"run_name"`
	ConfigHash  string                `json:"config_hash"`
	Fingerprint string                `json:"fingerprint"`
	Seed        int64                 `json:"seed"`
	Mode        simconfig.Mode        `json:"mode"`
	Horizon     int                   `json:"horizon"`
	NumPaths    int                   `json:"num_paths"`
	Products    []contracts.ProductID `json:"products"`

	Diagnostics  map[contracts.ProductID]*simulator.ProductDiagnostics `json:"diagnostics"`
	Correlation  simulator.CorrelationDiagnostics                      `json:"correlation"`
	Degradations []contracts.Degradation                               `json:"degradations"`
	Summary      *risk.Summary                                         `json:"summary,omitempty"`

	StartedAt time.Time     `json:"started_at"`
	Elapsed   time.Duration `json:"elapsed"`
	CreatedAt time.Time     `json:"created_at"`
}

// NewRunRecord builds the persisted view of a simulation result
func NewRunRecord(res *simulator.Result, fingerprint string, summary *risk.Summary) *RunRecord {
	return &RunRecord{
		ID:           res.RunID,
		RunName:      res.RunName,
		ConfigHash:   res.ConfigHash,
		Fingerprint:  fingerprint,
		Seed:         res.Seed,
		Mode:         res.Mode,
		Horizon:      res.Horizon,
		NumPaths:     res.NumPaths,
		Products:     res.Order,
		Diagnostics:  res.Diagnostics,
		Correlation:  res.Correlation,
		Degradations: res.Degradations,
		Summary:      summary,
		StartedAt:    res.StartedAt,
		Elapsed:      res.Elapsed,
		CreatedAt:    time.Now().UTC(),
	}
}

// RunRepository run 이력 저장소
type RunRepository interface {
	SaveRun(ctx context.Context, run *RunRecord) error
	GetRun(ctx context.Context, id uuid.UUID) (*RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
}

// DefaultListLimit ListRuns 기본/최대 개수
const (
	DefaultListLimit = 20
	MaxListLimit     = 200
)

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
