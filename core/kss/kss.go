// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package kss keeps copies of uploaded files outside of the record store. There are
// two drivers: a local file system and AWS S3.
package kss

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/relabs-tech/granja/core/logger"
	"github.com/relabs-tech/granja/core/resource"
)

// Driver defines the interface for the KSS service
type Driver interface {
	Upload(ctx context.Context, key, contentType string, data []byte) error
	Delete(ctx context.Context, key string) error
	DeleteAllWithPrefix(ctx context.Context, prefix string) error
}

// DriverType represents the different type of KSS Drivers
type DriverType string

// DriverTypeLocal is the local filesystem implementation of the KSS service
const DriverTypeLocal DriverType = "Local"

// DriverTypeAWSS3 is the AWS S3 implementation of the KSS service
const DriverTypeAWSS3 DriverType = "AWSS3"

// None is used when there is no KSS implementation
const None DriverType = ""

// Configuration contains the configuration for the KSS service
type Configuration struct {
	DriverType         DriverType
	LocalConfiguration *LocalConfiguration
	S3Configuration    *S3Configuration
}

// LocalConfiguration contains the configuration for the local filesystem KSS service
type LocalConfiguration struct {
	BasePath string
}

// New returns the driver selected by the configuration, or nil for None
func New(ctx context.Context, config Configuration) (Driver, error) {
	switch config.DriverType {
	case None:
		return nil, nil
	case DriverTypeLocal:
		if config.LocalConfiguration == nil {
			return nil, fmt.Errorf("kss: local configuration is missing")
		}
		return NewLocalFilesystem(*config.LocalConfiguration)
	case DriverTypeAWSS3:
		if config.S3Configuration == nil {
			return nil, fmt.Errorf("kss: S3 configuration is missing")
		}
		return NewS3(ctx, *config.S3Configuration)
	}
	return nil, fmt.Errorf("kss: unknown driver type '%s'", config.DriverType)
}

// Archive stores a copy of every file uploaded with a record under
// collection/id/filename, and removes the copies together with the record.
type Archive struct {
	driver Driver
}

// NewArchive returns an archive on top of the driver
func NewArchive(driver Driver) *Archive {
	return &Archive{driver: driver}
}

// Key returns the key of a file of a record
func Key(collection, id, filename string) string {
	return prefix(collection, id) + path.Base("/"+filename)
}

func prefix(collection, id string) string {
	return collection + "/" + id + "/"
}

// Store uploads the files of a record
func (a *Archive) Store(ctx context.Context, collection, id string, files []resource.File) error {
	if id == "" || strings.Contains(collection+id, "..") {
		return fmt.Errorf("kss: invalid record %s/%s", collection, id)
	}
	for _, f := range files {
		name := f.Name
		if name == "" {
			name = f.Field
		}
		key := Key(collection, id, name)
		if err := a.driver.Upload(ctx, key, f.ContentType, f.Data); err != nil {
			return fmt.Errorf("kss: upload %s: %w", key, err)
		}
		logger.FromContext(ctx).Debugf("archived %s (%d bytes)", key, len(f.Data))
	}
	return nil
}

// Remove deletes all files of a record
func (a *Archive) Remove(ctx context.Context, collection, id string) error {
	if id == "" || strings.Contains(collection+id, "..") {
		return fmt.Errorf("kss: invalid record %s/%s", collection, id)
	}
	return a.driver.DeleteAllWithPrefix(ctx, prefix(collection, id))
}
