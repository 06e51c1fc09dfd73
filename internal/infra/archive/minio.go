package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"

	"github.com/you-humble/recuploader/internal/domain"
)

// Store keeps a copy of every finished recording in a MinIO bucket under
// <base>/recordings/<result id>/<filename>.
type Store struct {
	db       *minio.Client
	bucket   string
	basePath string
}

func New(client *minio.Client, bucket, basePath string) *Store {
	basePath = strings.Trim(basePath, "/")
	if basePath != "" {
		basePath += "/"
	}
	return &Store{db: client, bucket: bucket, basePath: basePath}
}

func (s *Store) Finalize(ctx context.Context, in domain.FinalizeInput) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	name, err := s.objectName(in.ResultID, in.Filename)
	if err != nil {
		return err
	}

	hasher := sha256.New()
	body := io.TeeReader(bytes.NewReader(in.Payload), hasher)

	info, err := s.db.PutObject(ctx, s.bucket, name, body, int64(len(in.Payload)), minio.PutObjectOptions{
		ContentType:  in.ContentType,
		UserMetadata: map[string]string{"task-id": in.TaskID},
	})
	if err != nil {
		return fmt.Errorf("archive: put %s: %w", name, err)
	}

	slog.Debug("recording archived",
		slog.String("task_id", in.TaskID),
		slog.String("object", name),
		slog.Int64("size", info.Size),
		slog.String("sha256", hex.EncodeToString(hasher.Sum(nil))),
	)
	return nil
}

func (s *Store) objectName(resultID, filename string) (string, error) {
	if strings.TrimSpace(resultID) == "" || strings.TrimSpace(filename) == "" {
		return "", fmt.Errorf("archive: empty object name")
	}

	clean := path.Clean(path.Join("recordings", resultID, filename))
	if !strings.HasPrefix(clean, "recordings/") || strings.Contains(clean, "..") {
		return "", fmt.Errorf("archive: invalid object name %q", clean)
	}

	return s.basePath + clean, nil
}
