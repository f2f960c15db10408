// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package kss

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/relabs-tech/granja/core/logger"
)

// S3Credentials are the AWS credentials, typically decoded from the environment
type S3Credentials struct {
	AccessID  string `env:"KSS_S3_ACCESS_ID" description:"the AWS access key id for the archive bucket"`
	AccessKey string `env:"KSS_S3_ACCESS_KEY" description:"the AWS secret access key for the archive bucket"`
}

// S3Configuration contains the configuration for the AWS S3 KSS service
type S3Configuration struct {
	AccessID      string
	AccessKey     string
	AWSBucketName string
	AWSRegion     string
	// KeyPrefix is prepended to all keys
	KeyPrefix string
	// Endpoint overrides the S3 endpoint, for S3 compatible stores. Optional.
	Endpoint string
}

// S3 is the implementation of the KSSDriver for AWS S3
type S3 struct {
	client      *s3.Client
	uploader    *manager.Uploader
	bucket      string
	baseKeyName string
}

// NewS3 returns a new S3
func NewS3(ctx context.Context, kssConfig S3Configuration) (*S3, error) {
	if kssConfig.AWSBucketName == "" {
		return nil, fmt.Errorf("AWSBucketName must not be empty")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(kssConfig.AWSRegion)}
	if kssConfig.AccessID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(kssConfig.AccessID, kssConfig.AccessKey, "")))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if kssConfig.Endpoint != "" {
			o.EndpointResolver = s3.EndpointResolverFromURL(kssConfig.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Default().Debugln("KSS S3 enabled")
	return &S3{
		client:      client,
		uploader:    manager.NewUploader(client),
		bucket:      kssConfig.AWSBucketName,
		baseKeyName: kssConfig.KeyPrefix,
	}, nil
}

// Upload uploads data into the key object
func (s S3) Upload(ctx context.Context, key, contentType string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.baseKeyName + key),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return fmt.Errorf("failed to upload file, %w", err)
	}
	return nil
}

// Delete deletes the key object
func (s S3) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.baseKeyName + key),
	})
	if err != nil {
		logger.FromContext(ctx).Error("Could not delete ", s.baseKeyName+key)
		return err
	}
	logger.FromContext(ctx).Infoln("Deleted ", s.baseKeyName+key)
	return nil
}

// DeleteAllWithPrefix deletes all keys starting with prefix
func (s S3) DeleteAllWithPrefix(ctx context.Context, prefix string) error {
	keys, err := s.ListAllWithPrefix(ctx, prefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			logger.FromContext(ctx).Error("Could not delete ", key)
			return err
		}
	}
	logger.FromContext(ctx).Infoln("Deleted all ", s.baseKeyName+prefix)
	return nil
}

// ListAllWithPrefix lists all keys with prefix. The returned keys include the key prefix
// of the configuration.
func (s S3) ListAllWithPrefix(ctx context.Context, prefix string) (keys []string, err error) {
	var continuationToken *string
	for {
		var resp *s3.ListObjectsV2Output
		resp, err = s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(s.baseKeyName + prefix),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			logger.FromContext(ctx).Error("Could not ListObjectsV2 from ", s.bucket)
			return
		}
		for _, item := range resp.Contents {
			keys = append(keys, aws.ToString(item.Key))
		}
		continuationToken = resp.NextContinuationToken
		if resp.NextContinuationToken == nil {
			break
		}
	}
	return
}
