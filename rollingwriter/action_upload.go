package rollingwriter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// 历史文件的远端存储
type ObjectStore interface {
	Put(ctx context.Context, name string, r io.Reader) error
}

// Google Cloud Storage 实现
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

func NewGCSStore(ctx context.Context, bucket, prefix string, opts ...option.ClientOption) (*GCSStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("%w: empty bucket", ErrInvalidArgument)
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket, prefix: prefix}, nil
}

func (s *GCSStore) Put(ctx context.Context, name string, r io.Reader) error {
	w := s.client.Bucket(s.bucket).Object(path.Join(s.prefix, name)).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return fmt.Errorf("write error: %w", err)
	}
	return w.Close()
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}

// 上传一个历史文件，可选上传后删除本地文件
type UploadAction struct {
	actionState
	store       ObjectStore
	source      string
	deleteAfter bool
}

func NewUploadAction(store ObjectStore, source string, deleteAfter bool) *UploadAction {
	return &UploadAction{store: store, source: source, deleteAfter: deleteAfter}
}

func (a *UploadAction) Execute(ctx context.Context) (bool, error) {
	defer a.complete.Store(true)
	f, err := os.Open(a.source)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, &ActionError{Op: "upload", Path: a.source, Err: err}
	}
	err = a.store.Put(ctx, filepath.Base(a.source), &interruptReader{ctx: ctx, r: f, state: &a.actionState})
	f.Close()
	if err != nil {
		return false, &ActionError{Op: "upload", Path: a.source, Err: err}
	}
	if a.deleteAfter {
		if err := os.Remove(a.source); err != nil && !errors.Is(err, os.ErrNotExist) {
			return true, &ActionError{Op: "delete", Path: a.source, Err: err}
		}
	}
	return true, nil
}

// 每次滚动时按历史文件名生成动作
type ArchiveActionFactory func(archive string) Action

func UploadArchives(store ObjectStore, deleteAfter bool) ArchiveActionFactory {
	return func(archive string) Action {
		return NewUploadAction(store, archive, deleteAfter)
	}
}
