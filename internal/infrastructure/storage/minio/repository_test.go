package minio

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/turtacn/abcflow/internal/infrastructure/monitoring/logging"
	apperrors "github.com/turtacn/abcflow/pkg/errors"
)

type runDoc struct {
	RunID    string      `json:"run_id"`
	Estimate []float64   `json:"estimate"`
	Samples  [][]float64 `json:"samples"`
}

type ArchiveTestSuite struct {
	suite.Suite
	api     *mockObjectAPI
	archive *ResultArchive
	ctx     context.Context
}

func (s *ArchiveTestSuite) SetupTest() {
	s.api = new(mockObjectAPI)
	s.archive = NewResultArchiveWithAPI(s.api, "runs-bucket", logging.NewNopLogger())
	s.ctx = context.Background()
}

func (s *ArchiveTestSuite) TearDownTest() {
	s.api.AssertExpectations(s.T())
}

func (s *ArchiveTestSuite) TestObjectKey() {
	s.Equal("runs/abc-1/result.json", ObjectKey("abc-1"))
}

func (s *ArchiveTestSuite) TestSave_Success() {
	var body string
	s.api.On("PutObject", mock.Anything, "runs-bucket", "runs/r1/result.json", mock.Anything, mock.AnythingOfType("int64"),
		mock.MatchedBy(func(o minio.PutObjectOptions) bool {
			return o.ContentType == "application/json" && o.UserMetadata["run-id"] == "r1"
		})).
		Run(func(args mock.Arguments) {
			b, _ := io.ReadAll(args.Get(3).(io.Reader))
			body = string(b)
		}).
		Return(minio.UploadInfo{Size: 42}, nil)

	key, err := s.archive.Save(s.ctx, "r1", runDoc{RunID: "r1", Estimate: []float64{4.9}})
	s.Require().NoError(err)
	s.Equal("runs/r1/result.json", key)
	s.Contains(body, `"run_id": "r1"`)
	s.Contains(body, "4.9")
}

func (s *ArchiveTestSuite) TestSave_RejectsBadRunID() {
	for _, id := range []string{"", "a/b"} {
		_, err := s.archive.Save(s.ctx, id, runDoc{})
		s.True(apperrors.IsCode(err, apperrors.ErrCodeBadRequest), id)
	}
}

func (s *ArchiveTestSuite) TestSave_UnencodableDocument() {
	_, err := s.archive.Save(s.ctx, "r1", map[string]interface{}{"ch": make(chan int)})
	s.True(apperrors.IsCode(err, apperrors.ErrCodeSerialization))
}

func (s *ArchiveTestSuite) TestSave_UploadFails() {
	s.api.On("PutObject", mock.Anything, "runs-bucket", "runs/r1/result.json", mock.Anything, mock.Anything, mock.Anything).
		Return(minio.UploadInfo{}, errors.New("connection reset"))

	_, err := s.archive.Save(s.ctx, "r1", runDoc{RunID: "r1"})
	s.True(apperrors.IsCode(err, apperrors.ErrCodeStorageError))
}

func (s *ArchiveTestSuite) TestLoad_Success() {
	payload := `{"run_id":"r2","estimate":[1.5,2.5],"samples":[[1],[2]]}`
	s.api.On("GetObject", mock.Anything, "runs-bucket", "runs/r2/result.json", mock.Anything).
		Return(io.NopCloser(strings.NewReader(payload)), nil)

	var doc runDoc
	s.Require().NoError(s.archive.Load(s.ctx, "r2", &doc))
	s.Equal("r2", doc.RunID)
	s.Equal([]float64{1.5, 2.5}, doc.Estimate)
	s.Len(doc.Samples, 2)
}

func (s *ArchiveTestSuite) TestLoad_NotFound() {
	s.api.On("GetObject", mock.Anything, "runs-bucket", "runs/missing/result.json", mock.Anything).
		Return(nil, minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404})

	var doc runDoc
	err := s.archive.Load(s.ctx, "missing", &doc)
	s.True(apperrors.IsCode(err, apperrors.ErrCodeRunNotFound))
}

func (s *ArchiveTestSuite) TestLoad_CorruptDocument() {
	s.api.On("GetObject", mock.Anything, "runs-bucket", "runs/r3/result.json", mock.Anything).
		Return(io.NopCloser(strings.NewReader("{not json")), nil)

	var doc runDoc
	err := s.archive.Load(s.ctx, "r3", &doc)
	s.True(apperrors.IsCode(err, apperrors.ErrCodeSerialization))
}

func (s *ArchiveTestSuite) TestExists() {
	s.api.On("StatObject", mock.Anything, "runs-bucket", "runs/yes/result.json", mock.Anything).
		Return(minio.ObjectInfo{Key: "runs/yes/result.json"}, nil)
	s.api.On("StatObject", mock.Anything, "runs-bucket", "runs/no/result.json", mock.Anything).
		Return(minio.ObjectInfo{}, minio.ErrorResponse{Code: "NoSuchKey"})
	s.api.On("StatObject", mock.Anything, "runs-bucket", "runs/err/result.json", mock.Anything).
		Return(minio.ObjectInfo{}, errors.New("denied"))

	ok, err := s.archive.Exists(s.ctx, "yes")
	s.NoError(err)
	s.True(ok)

	ok, err = s.archive.Exists(s.ctx, "no")
	s.NoError(err)
	s.False(ok)

	_, err = s.archive.Exists(s.ctx, "err")
	s.True(apperrors.IsCode(err, apperrors.ErrCodeStorageError))
}

func (s *ArchiveTestSuite) TestDelete() {
	s.api.On("RemoveObject", mock.Anything, "runs-bucket", "runs/r1/result.json", mock.Anything).Return(nil)
	s.NoError(s.archive.Delete(s.ctx, "r1"))
}

func (s *ArchiveTestSuite) TestList_FiltersAndLimits() {
	s.api.On("ListObjects", mock.Anything, "runs-bucket", mock.MatchedBy(func(o minio.ListObjectsOptions) bool {
		return o.Prefix == "runs/" && o.Recursive
	})).Return(objectChan(
		minio.ObjectInfo{Key: "runs/a/result.json"},
		minio.ObjectInfo{Key: "runs/a/notes.txt"},
		minio.ObjectInfo{Key: "runs/b/result.json"},
		minio.ObjectInfo{Key: "runs/c/result.json"},
	))

	ids, err := s.archive.List(s.ctx, 2)
	s.NoError(err)
	s.Equal([]string{"a", "b"}, ids)
}

func (s *ArchiveTestSuite) TestList_Error() {
	s.api.On("ListObjects", mock.Anything, "runs-bucket", mock.Anything).
		Return(objectChan(minio.ObjectInfo{Err: errors.New("boom")}))

	_, err := s.archive.List(s.ctx, 0)
	s.True(apperrors.IsCode(err, apperrors.ErrCodeStorageError))
}

func (s *ArchiveTestSuite) TestPresignedURL() {
	u, _ := url.Parse("http://localhost:9000/runs-bucket/runs/r1/result.json?X-Amz-Signature=x")
	s.api.On("PresignedGetObject", mock.Anything, "runs-bucket", "runs/r1/result.json", time.Hour, url.Values(nil)).Return(u, nil)

	got, err := s.archive.PresignedURL(s.ctx, "r1", time.Hour)
	s.NoError(err)
	s.Contains(got, "X-Amz-Signature")
}

func (s *ArchiveTestSuite) TestHealth() {
	s.api.On("BucketExists", mock.Anything, "runs-bucket").Return(true, nil)
	s.True(s.archive.Health(s.ctx).Healthy)
}

func TestArchiveTestSuite(t *testing.T) {
	suite.Run(t, new(ArchiveTestSuite))
}

func TestNewResultArchiveWithAPI_NilLogger(t *testing.T) {
	a := NewResultArchiveWithAPI(new(mockObjectAPI), "b", nil)
	assert.NotNil(t, a.logger)
}

//Personal.AI order the ending
