package report

import (
	"context"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geo-report/internal/store"
)

// RunStore records report runs. *store.SQLiteStore satisfies it.
type RunStore interface {
	CreateRun(ctx context.Context, id, kind string) (*store.Run, error)
	FinishRun(ctx context.Context, id string, outputs []string, runErr error) error
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.New().String()
}

// Track records a run of kind around fn. fn receives the run ID and returns
// the files it wrote. A nil store runs fn untracked. The run is marked failed
// when fn errors; fn's error is returned unchanged.
func Track(ctx context.Context, runs RunStore, kind string, fn func(ctx context.Context, runID string) ([]string, error)) (string, error) {
	id := NewRunID()
	if runs == nil {
		_, err := fn(ctx, id)
		return id, err
	}

	if _, err := runs.CreateRun(ctx, id, kind); err != nil {
		return id, eris.Wrapf(err, "report: create run %s", kind)
	}

	outputs, runErr := fn(ctx, id)
	// Record the outcome even when ctx was cancelled mid-run.
	if err := runs.FinishRun(context.WithoutCancel(ctx), id, outputs, runErr); err != nil {
		zap.L().Error("report: finish run", zap.String("run_id", id), zap.Error(err))
		if runErr == nil {
			return id, eris.Wrap(err, "report: finish run")
		}
	}
	return id, runErr
}
