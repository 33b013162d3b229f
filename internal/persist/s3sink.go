// Copyright (C) 2026 The MerkleKV Authors.
// All rights reserved. This file is part of merklekv.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package persist

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/fxamacker/cbor/v2"

	"github.com/merklekv/merklekv/internal/storage"
)

// S3Sink write-throughs periodic snapshots to an S3-compatible bucket when
// storage_path uses the s3:// scheme. It is additive to Store's local
// SQLite snapshot, not a replacement: the SQLite snapshot remains the
// path Load() reads back on restart, and the S3 copy exists for
// off-device durability.
type S3Sink struct {
	client *s3.Client
	bucket string
	key    string
}

// ParseS3Path splits "s3://bucket/key" into its bucket and key. Returns
// ok=false if path doesn't use the s3:// scheme.
func ParseS3Path(path string) (bucket, key string, ok bool) {
	const scheme = "s3://"
	if !strings.HasPrefix(path, scheme) {
		return "", "", false
	}
	rest := strings.TrimPrefix(path, scheme)
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// NewS3Sink constructs an S3Sink for bucket/key. When accessKey/secretKey
// are non-empty they are used as a static credentials provider (for
// S3-compatible stores that aren't reachable via the default chain);
// otherwise the default chain (environment, shared config, instance role)
// resolves credentials.
func NewS3Sink(ctx context.Context, bucket, key, accessKey, secretKey string) (*S3Sink, error) {
	var opts []func(*config.LoadOptions) error
	if accessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("persist: loading AWS config: %w", err)
	}
	return &S3Sink{client: s3.NewFromConfig(cfg), bucket: bucket, key: key}, nil
}

// WriteSnapshot encodes entries as a CBOR array and uploads it to the
// configured bucket/key, overwriting any prior snapshot.
func (s *S3Sink) WriteSnapshot(ctx context.Context, entries []storage.Entry) error {
	raw, err := cbor.Marshal(entries)
	if err != nil {
		return fmt.Errorf("persist: encoding snapshot for s3: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
		Body:   bytes.NewReader(raw),
	})
	if err != nil {
		return fmt.Errorf("persist: uploading snapshot to s3://%s/%s: %w", s.bucket, s.key, err)
	}
	return nil
}

// ReadSnapshot downloads and decodes the snapshot at bucket/key.
// cmd/merklekv does not call it; startup replays only the local store.
func (s *S3Sink) ReadSnapshot(ctx context.Context) ([]storage.Entry, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return nil, fmt.Errorf("persist: downloading snapshot from s3://%s/%s: %w", s.bucket, s.key, err)
	}
	defer out.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(out.Body); err != nil {
		return nil, fmt.Errorf("persist: reading snapshot body: %w", err)
	}

	var entries []storage.Entry
	if err := cbor.Unmarshal(buf.Bytes(), &entries); err != nil {
		return nil, fmt.Errorf("persist: decoding snapshot: %w", err)
	}
	return entries, nil
}
