package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tommy2118/tcf-platform/internal/apperrors"
)

// QdrantVectorBackup implements VectorStoreBackup against the vector
// store's REST API (spec's vector-db, port 6333): it triggers a server-side
// snapshot and streams the resulting file back into the writer.
type QdrantVectorBackup struct {
	BaseURL string
	client  *http.Client
}

// NewQdrantVectorBackup builds a QdrantVectorBackup talking to baseURL
// (e.g. "http://localhost:6333").
func NewQdrantVectorBackup(baseURL string) *QdrantVectorBackup {
	return &QdrantVectorBackup{BaseURL: baseURL, client: &http.Client{Timeout: 2 * time.Minute}}
}

type qdrantSnapshotResult struct {
	Name string `json:"name"`
}

type qdrantSnapshotResponse struct {
	Result qdrantSnapshotResult `json:"result"`
}

// Backup triggers a point-in-time snapshot of collection and downloads it
// into w.
func (q *QdrantVectorBackup) Backup(ctx context.Context, collection string, w io.Writer) error {
	name, err := q.createSnapshot(ctx, collection)
	if err != nil {
		return err
	}
	return q.downloadSnapshot(ctx, collection, name, w)
}

func (q *QdrantVectorBackup) createSnapshot(ctx context.Context, collection string) (string, error) {
	url := fmt.Sprintf("%s/collections/%s/snapshots", q.BaseURL, collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindStorage, "failed to build snapshot request", err)
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindStorageConnection, "failed to reach vector store", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", apperrors.New(apperrors.KindStorage, fmt.Sprintf("vector store snapshot create failed: %d %s", resp.StatusCode, string(body)))
	}

	var parsed qdrantSnapshotResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", apperrors.Wrap(apperrors.KindStorage, "failed to decode snapshot response", err)
	}
	return parsed.Result.Name, nil
}

func (q *QdrantVectorBackup) downloadSnapshot(ctx context.Context, collection, name string, w io.Writer) error {
	url := fmt.Sprintf("%s/collections/%s/snapshots/%s", q.BaseURL, collection, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.KindStorage, "failed to build snapshot download request", err)
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.KindStorageConnection, "failed to download vector store snapshot", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return apperrors.New(apperrors.KindStorage, fmt.Sprintf("vector store snapshot download failed: %d %s", resp.StatusCode, string(body)))
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return apperrors.Wrap(apperrors.KindStorage, "failed to stream vector store snapshot", err)
	}
	return nil
}
