package deploy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tommy2118/tcf-platform/internal/apperrors"
)

// History is a small on-disk ledger of successful deployments, one JSON
// document per (service, version) under Dir. It gives manual rollback
// (spec §4.M) a real HistoryLookup instead of an always-miss stub.
type History struct {
	Dir string

	mu sync.Mutex
}

// NewHistory builds a History persisting records under dir.
func NewHistory(dir string) *History {
	return &History{Dir: dir}
}

func (h *History) path(service, version string) string {
	return filepath.Join(h.Dir, fmt.Sprintf("%s-%s.json", service, version))
}

// Record persists a deployment so RollbackManual can later resolve it.
func (h *History) Record(service, version string, record DeploymentRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := os.MkdirAll(h.Dir, 0o755); err != nil {
		return apperrors.Wrap(apperrors.KindStorage, "failed to create deployment history directory", err)
	}
	payload, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return apperrors.Wrap(apperrors.KindStorage, "failed to encode deployment record", err)
	}
	if err := os.WriteFile(h.path(service, version), payload, 0o644); err != nil {
		return apperrors.Wrap(apperrors.KindStorage, "failed to write deployment record", err)
	}
	return nil
}

// Lookup implements HistoryLookup, resolving a previously recorded
// deployment for service at version.
func (h *History) Lookup(service, version string) (DeploymentRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	payload, err := os.ReadFile(h.path(service, version))
	if err != nil {
		return DeploymentRecord{}, false
	}
	var record DeploymentRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return DeploymentRecord{}, false
	}
	return record, true
}
