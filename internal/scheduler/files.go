package scheduler

import (
	"fmt"
	"os"
	"path/filepath"
)

// removeJobFile best-effort unlinks a job's .pos file (spec.md §4.1
// AbortJob delete_data). Errors are swallowed: deletion is already
// best-effort per spec, and the caller has no one to report a failure to.
func removeJobFile(dataDir string, jobID uint64) {
	path := filepath.Join(dataDir, fmt.Sprintf("%d.pos", jobID))
	_ = os.Remove(path)
}
