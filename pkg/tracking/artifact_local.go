package tracking

import (
	"context"
	"io"
	"os"
	"path/filepath"
)

const (
	DefaultFileMode = 0o644
	DefaultDirMode  = 0o755
)

var _ ArtifactRepository = &LocalArtifactRepository{}

type LocalArtifactRepository struct {
	uri      string
	basepath string
}

func NewLocalArtifactRepository(uri string) (*LocalArtifactRepository, error) {
	basepath, err := filepath.Abs(LocalPath(uri))
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(basepath, DefaultDirMode); err != nil {
		return nil, err
	}
	return &LocalArtifactRepository{uri: uri, basepath: basepath}, nil
}

func (f *LocalArtifactRepository) URI() string {
	return f.uri
}

func (f *LocalArtifactRepository) Put(ctx context.Context, path string, content BlobContent) error {
	defer content.Close()

	datafile := filepath.Join(f.basepath, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(datafile), DefaultDirMode); err != nil {
		return err
	}
	fi, err := os.OpenFile(datafile, os.O_RDWR|os.O_CREATE|os.O_TRUNC, DefaultFileMode)
	if err != nil {
		return err
	}
	defer fi.Close()
	_, err = io.Copy(fi, content.Content)
	return err
}

func (f *LocalArtifactRepository) Exists(ctx context.Context, path string) (bool, error) {
	_, err := os.Stat(filepath.Join(f.basepath, filepath.FromSlash(path)))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
