package minio

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/turtacn/abcflow/internal/config"
	"github.com/turtacn/abcflow/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/abcflow/pkg/errors"
)

const (
	runsPrefix     = "runs/"
	resultFileName = "result.json"
	contentType    = "application/json"
)

var ErrInvalidRunID = errors.New(errors.ErrCodeBadRequest, "run id must be non-empty and contain no '/'")

// ResultArchive stores finished run documents as runs/<id>/result.json.
type ResultArchive struct {
	api    ObjectAPI
	bucket string
	logger logging.Logger
}

// NewResultArchive connects with cfg and makes sure the bucket exists.
func NewResultArchive(ctx context.Context, cfg config.MinIOConfig, log logging.Logger) (*ResultArchive, error) {
	api, err := NewObjectAPI(cfg)
	if err != nil {
		return nil, err
	}
	a := NewResultArchiveWithAPI(api, cfg.Bucket, log)
	if err := EnsureBucket(ctx, api, cfg.Bucket, a.logger); err != nil {
		return nil, err
	}
	a.logger.Info("MinIO archive ready", logging.String("endpoint", cfg.Endpoint), logging.String("bucket", cfg.Bucket))
	return a, nil
}

func NewResultArchiveWithAPI(api ObjectAPI, bucket string, log logging.Logger) *ResultArchive {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &ResultArchive{api: api, bucket: bucket, logger: log}
}

// ObjectKey returns the key a run's document is stored under.
func ObjectKey(runID string) string {
	return path.Join(runsPrefix, runID, resultFileName)
}

func checkRunID(runID string) error {
	if runID == "" || strings.Contains(runID, "/") {
		return ErrInvalidRunID
	}
	return nil
}

// Save writes doc as JSON and returns the object key.
func (a *ResultArchive) Save(ctx context.Context, runID string, doc interface{}) (string, error) {
	if err := checkRunID(runID); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode run document")
	}

	key := ObjectKey(runID)
	start := time.Now()
	info, err := a.api.PutObject(ctx, a.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: map[string]string{"run-id": runID},
	})
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeStorageError, "failed to upload run document")
	}
	a.logger.Debug("Run archived",
		logging.String("key", key),
		logging.Int64("size", info.Size),
		logging.Duration("latency", time.Since(start)))
	return key, nil
}

// Load decodes the archived document of runID into dest.
func (a *ResultArchive) Load(ctx context.Context, runID string, dest interface{}) error {
	if err := checkRunID(runID); err != nil {
		return err
	}
	obj, err := a.api.GetObject(ctx, a.bucket, ObjectKey(runID), minio.GetObjectOptions{})
	if err != nil {
		return a.mapErr(err, runID)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return a.mapErr(err, runID)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode run document")
	}
	return nil
}

// Exists reports whether runID has an archived document.
func (a *ResultArchive) Exists(ctx context.Context, runID string) (bool, error) {
	if err := checkRunID(runID); err != nil {
		return false, err
	}
	_, err := a.api.StatObject(ctx, a.bucket, ObjectKey(runID), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNoSuchKey(err) {
		return false, nil
	}
	return false, errors.Wrap(err, errors.ErrCodeStorageError, "failed to stat run document")
}

// Delete removes the archived document of runID.
func (a *ResultArchive) Delete(ctx context.Context, runID string) error {
	if err := checkRunID(runID); err != nil {
		return err
	}
	if err := a.api.RemoveObject(ctx, a.bucket, ObjectKey(runID), minio.RemoveObjectOptions{}); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageError, "failed to delete run document")
	}
	return nil
}

// List returns the IDs of archived runs, at most limit when limit > 0.
func (a *ResultArchive) List(ctx context.Context, limit int) ([]string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var ids []string
	for obj := range a.api.ListObjects(ctx, a.bucket, minio.ListObjectsOptions{Prefix: runsPrefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, errors.Wrap(obj.Err, errors.ErrCodeStorageError, "failed to list runs")
		}
		if path.Base(obj.Key) != resultFileName {
			continue
		}
		ids = append(ids, path.Base(path.Dir(obj.Key)))
		if limit > 0 && len(ids) >= limit {
			break
		}
	}
	return ids, nil
}

// PresignedURL returns a time-limited download link for runID.
func (a *ResultArchive) PresignedURL(ctx context.Context, runID string, expiry time.Duration) (string, error) {
	if err := checkRunID(runID); err != nil {
		return "", err
	}
	u, err := a.api.PresignedGetObject(ctx, a.bucket, ObjectKey(runID), expiry, nil)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeStorageError, "failed to presign run document")
	}
	return u.String(), nil
}

func (a *ResultArchive) Health(ctx context.Context) *HealthStatus {
	return HealthCheck(ctx, a.api, a.bucket)
}

func (a *ResultArchive) mapErr(err error, runID string) error {
	if isNoSuchKey(err) {
		return errors.Newf(errors.ErrCodeRunNotFound, "run %s is not archived", runID)
	}
	return errors.Wrap(err, errors.ErrCodeStorageError, "failed to download run document")
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

//Personal.AI order the ending
