// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package kss

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/relabs-tech/granja/core/logger"
)

// LocalFilesystem is the entity which provides local filesystem
type LocalFilesystem struct {
	baseFolder string
}

// NewLocalFilesystem returns a new LocalFilesystem
func NewLocalFilesystem(config LocalConfiguration) (*LocalFilesystem, error) {
	if config.BasePath == "" {
		return nil, fmt.Errorf("BasePath must not be empty")
	}
	if err := os.MkdirAll(config.BasePath, 0700); err != nil {
		return nil, err
	}
	logger.Default().Debugln("KSS local filesystem enabled in", config.BasePath)
	return &LocalFilesystem{baseFolder: config.BasePath}, nil
}

func (f LocalFilesystem) path(key string) (string, error) {
	if key == "" || strings.Contains(key, "..") {
		return "", fmt.Errorf("'%s' is not a valid key", key)
	}
	return filepath.Join(f.baseFolder, filepath.FromSlash(key)), nil
}

// Upload writes data into the key file
func (f LocalFilesystem) Upload(ctx context.Context, key, contentType string, data []byte) error {
	filePath, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0700); err != nil {
		logger.FromContext(ctx).WithError(err).Errorf("Error 1202: Could not create folder for key: '%s'", key)
		return err
	}
	if err := os.WriteFile(filePath, data, 0600); err != nil {
		logger.FromContext(ctx).WithError(err).Errorf("Error 1203: Could not write key: '%s'", key)
		return err
	}
	return nil
}

// Read returns the content of the key file
func (f LocalFilesystem) Read(key string) ([]byte, error) {
	filePath, err := f.path(key)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(filePath)
}

// Delete deletes the key file
func (f LocalFilesystem) Delete(ctx context.Context, key string) error {
	filePath, err := f.path(key)
	if err != nil {
		return err
	}
	err = os.Remove(filePath)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// DeleteAllWithPrefix deletes all keys starting with prefix. Prefixes end at a
// folder boundary.
func (f LocalFilesystem) DeleteAllWithPrefix(ctx context.Context, prefix string) error {
	folder, err := f.path(strings.TrimSuffix(prefix, "/"))
	if err != nil {
		return err
	}
	return os.RemoveAll(folder)
}
