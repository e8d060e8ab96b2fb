/*
Copyright 2024 Kreatum Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package storage persists generated media in S3-compatible object storage
// and hands out presigned download links.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/sirupsen/logrus"

	"github.com/kreatum/kreatum/config"
	"github.com/kreatum/kreatum/internal/apierror"
)

type Store struct {
	client *s3.S3
	bucket string
	ttl    time.Duration
}

// NewStore builds an S3 client from configuration. A custom endpoint with
// path-style addressing supports S3-compatible providers.
func NewStore() (*Store, error) {
	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	awsConfig := &aws.Config{
		Region:      aws.String(cnf.S3.Region),
		Credentials: credentials.NewStaticCredentials(cnf.S3.AccessKeyId, cnf.S3.SecretAccessKey, ""),
	}
	if cnf.S3.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cnf.S3.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create storage session", err)
	}

	return &Store{
		client: s3.New(sess),
		bucket: cnf.S3.BucketName,
		ttl:    time.Duration(cnf.S3.PresignTTLSec) * time.Second,
	}, nil
}

// KeyForResult builds the object key for a generated item. Anonymous jobs use
// the anon id in place of the user id; the order id scopes items of one job
// together.
func KeyForResult(ownerID, orderID string, itemIndex int, ext string) string {
	if ext == "" {
		ext = ".bin"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return path.Join("results", ownerID, orderID, fmt.Sprintf("%d%s", itemIndex, ext))
}

// ExtForContentType maps common media content types to a file extension.
func ExtForContentType(contentType string) string {
	switch {
	case strings.Contains(contentType, "mp4"):
		return ".mp4"
	case strings.Contains(contentType, "webm"):
		return ".webm"
	case strings.Contains(contentType, "png"):
		return ".png"
	case strings.Contains(contentType, "jpeg"), strings.Contains(contentType, "jpg"):
		return ".jpg"
	case strings.Contains(contentType, "gif"):
		return ".gif"
	default:
		return ".bin"
	}
}

func (s *Store) Put(ctx context.Context, key string, body []byte, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	_, err := s.client.PutObjectWithContext(ctx, input)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, fmt.Sprintf("Failed to store object %s", key), err)
	}
	logrus.Infof("storage put key=%s bytes=%d", key, len(body))
	return nil
}

// Presign returns a time-limited download URL for a stored object together
// with its expiry.
func (s *Store) Presign(key string) (string, time.Time, error) {
	req, _ := s.client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})

	url, err := req.Presign(s.ttl)
	if err != nil {
		return "", time.Time{}, apierror.NewAPIError(apierror.ErrInternalServer,
			fmt.Sprintf("Failed to presign object %s", key), err)
	}
	return url, time.Now().Add(s.ttl), nil
}
