package backupstore

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3Mirror is the optional remote backup mirror (SPEC_FULL.md domain-stack
// extension): every local backup is additionally uploaded to an S3 bucket
// so a backup survives loss of the local disk it was written to. Never on
// the failure path of a parent write — Store.Create logs and continues on
// upload error.
type s3Mirror struct {
	client *s3.Client
	bucket string
	prefix string
}

func newS3Mirror(ctx context.Context, bucket, prefix string) (*s3Mirror, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 mirror: bucket must not be empty")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &s3Mirror{
		client: s3.NewFromConfig(awsCfg),
		bucket: bucket,
		prefix: prefix,
	}, nil
}

func (m *s3Mirror) upload(ctx context.Context, key string, data []byte) error {
	fullKey := key
	if m.prefix != "" {
		fullKey = path.Join(m.prefix, key)
	}
	_, err := m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(fullKey),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("s3 put object %s/%s: %w", m.bucket, fullKey, err)
	}
	return nil
}
