package provider

import (
	"context"
	"errors"
	"log"

	"offline_coordinator/internal/config"
)

type File struct {
	Path string
}

func NewFileProvider(path string) *File {
	return &File{Path: path}
}

func (f *File) Name() string {
	return "file"
}

func (f *File) Load(ctx context.Context) (*config.Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f == nil || f.Path == "" {
		return nil, errors.New("config path is empty")
	}
	cfg, warnings, err := config.Load(f.Path)
	if err != nil {
		return nil, err
	}
	for _, warning := range warnings {
		log.Printf("config warning: %s", warning)
	}
	return cfg, nil
}
