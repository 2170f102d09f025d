package job

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type pendingIndexer interface {
	IndexPending(ctx context.Context, limit int) (int, error)
}

// PendingIndexJob retries files whose indexing never succeeded, at most
// limit files per run.
type PendingIndexJob struct {
	files pendingIndexer
	limit int
}

func NewPendingIndexJob(files pendingIndexer, limit int) *PendingIndexJob {
	return &PendingIndexJob{files: files, limit: limit}
}

func (j *PendingIndexJob) Name() string {
	return "pending_index"
}

func (j *PendingIndexJob) Run(ctx context.Context) error {
	if j.files == nil {
		return nil
	}
	done, err := j.files.IndexPending(ctx, j.limit)
	if done > 0 {
		logutil.GetLogger(ctx).Info("pending files indexed", zap.Int("count", done))
	}
	return err
}
