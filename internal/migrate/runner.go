package migrate

import (
	"context"
	"errors"

	"github.com/Quriosity-agent/qcut-sub012/internal/config"
)

// Store is the storage surface used by both runners.
type Store interface {
	SceneStore
	CleanupStore
}

// Result collects the outcome of a boot-time migration.
type Result struct {
	Cleanup CleanupReport
	Scenes  SceneReport
}

// RunAll runs blob cleanup and then scene migration with shared pacing. Both
// runners always run; their errors are joined. Progress from both runners is
// reported on one scale: Current never decreases, and Total grows when the
// scene migration starts.
func RunAll(ctx context.Context, store Store, cfg config.MigrationConfig, progress ProgressFunc) (Result, error) {
	limiter := NewLimiter(cfg)
	phases := &phasedProgress{fn: progress}

	var res Result
	var cleanupErr, scenesErr error
	res.Cleanup, cleanupErr = NewBlobCleanup(store, limiter).Run(ctx, phases.next())
	res.Scenes, scenesErr = NewSceneMigrator(store, limiter).Run(ctx, phases.next())
	return res, errors.Join(cleanupErr, scenesErr)
}

// phasedProgress offsets each sequential phase by the items of the phases
// before it.
type phasedProgress struct {
	fn   ProgressFunc
	done int
}

func (p *phasedProgress) next() ProgressFunc {
	if p.fn == nil {
		return nil
	}
	base := p.done
	return func(pr Progress) {
		p.done = base + pr.Total
		p.fn(Progress{
			Current:         base + pr.Current,
			Total:           base + pr.Total,
			CurrentItemName: pr.CurrentItemName,
		})
	}
}
