package blobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FileSystemBlobStore keeps each blob as <root>/<id>.bin with its metadata
// beside it in <root>/<id>.json.
type FileSystemBlobStore struct {
	root    string
	maxSize int64
}

// NewFileSystemBlobStore creates root if needed.
func NewFileSystemBlobStore(root string, maxSize int64) (*FileSystemBlobStore, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &FileSystemBlobStore{root: root, maxSize: maxSize}, nil
}

func (s *FileSystemBlobStore) paths(id string) (data, meta string, err error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", "", ErrBlobNotFound
	}
	return filepath.Join(s.root, id+".bin"), filepath.Join(s.root, id+".json"), nil
}

func (s *FileSystemBlobStore) Upload(_ context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error) {
	meta, data, err := prepare(meta, content, s.maxSize)
	if err != nil {
		return nil, err
	}
	dataPath, metaPath, _ := s.paths(meta.ID)

	if err := os.WriteFile(dataPath, data, 0o640); err != nil {
		return nil, fmt.Errorf("write blob: %w", err)
	}
	encoded, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode blob metadata: %w", err)
	}
	if err := os.WriteFile(metaPath, encoded, 0o640); err != nil {
		_ = os.Remove(dataPath)
		return nil, fmt.Errorf("write blob metadata: %w", err)
	}
	return &meta, nil
}

func (s *FileSystemBlobStore) GetMetadata(_ context.Context, id string) (*BlobMetadata, error) {
	_, metaPath, err := s.paths(id)
	if err != nil {
		return nil, err
	}
	return readMeta(metaPath)
}

func readMeta(path string) (*BlobMetadata, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read blob metadata: %w", err)
	}
	var meta BlobMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode blob metadata: %w", err)
	}
	return &meta, nil
}

func (s *FileSystemBlobStore) Download(ctx context.Context, id string) (io.ReadCloser, *BlobMetadata, error) {
	meta, err := s.GetMetadata(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	dataPath, _, _ := s.paths(id)
	f, err := os.Open(dataPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open blob: %w", err)
	}
	return f, meta, nil
}

func (s *FileSystemBlobStore) Delete(_ context.Context, id string) error {
	dataPath, metaPath, err := s.paths(id)
	if err != nil {
		return err
	}
	if err := os.Remove(metaPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrBlobNotFound
		}
		return fmt.Errorf("delete blob metadata: %w", err)
	}
	if err := os.Remove(dataPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

// ListByPatient reads every metadata file; upload volumes per deployment
// are small enough that no index is kept.
func (s *FileSystemBlobStore) ListByPatient(_ context.Context, patientID, category string) ([]*BlobMetadata, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list upload dir: %w", err)
	}
	matched := []*BlobMetadata{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		meta, err := readMeta(filepath.Join(s.root, e.Name()))
		if err != nil {
			continue
		}
		if meta.PatientID != patientID || (category != "" && meta.Category != category) {
			continue
		}
		matched = append(matched, meta)
	}
	sortByCreated(matched)
	return matched, nil
}
