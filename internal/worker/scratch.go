package worker

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// newScratchDir creates a fresh per-job working directory under the
// system temp root (spec §4.D "Prepare a fresh scratch directory"). The
// returned cleanup func removes it unconditionally.
func newScratchDir(jobID uuid.UUID) (dir string, cleanup func(), err error) {
	dir = filepath.Join(os.TempDir(), "quartzqueue-job-"+jobID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("failed to create scratch directory %s: %w", dir, err)
	}
	cleanup = func() { _ = os.RemoveAll(dir) }
	return dir, cleanup, nil
}
