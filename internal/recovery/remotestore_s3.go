package recovery

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	fabricconfig "github.com/kernelfabric/fabric/internal/config"
	"github.com/kernelfabric/fabric/pkg/fabricerr"
)

// s3Store is the RecoveryStore that mirrors recovery points to S3, used
// when recovery.storage_path names an s3:// URI. It implements the same
// RecoveryStore contract as localStore so the manager treats both stores
// identically.
type s3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// newS3StoreFromURI parses uri as s3://bucket/prefix and builds an s3Store
// client the way the teacher's storage backend does: LoadDefaultConfig
// followed by an s3.NewFromConfig with any endpoint overrides applied
// through functional options. When s3cfg carries explicit access keys
// (e.g. for a self-hosted S3-compatible mirror outside the AWS credential
// chain), those override the SDK's default resolution.
func newS3StoreFromURI(ctx context.Context, uri string, s3cfg fabricconfig.RecoveryConfig) (*s3Store, error) {
	bucket, prefix, err := parseS3URI(uri)
	if err != nil {
		return nil, err
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRetryMaxAttempts(3)}
	if s3cfg.S3AccessKeyID != "" && s3cfg.S3SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s3cfg.S3AccessKeyID, s3cfg.S3SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fabricerr.New(fabricerr.IoFailure, "failed to load AWS config for recovery mirror").
			WithComponent("recovery.s3store").WithCause(err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if s3cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(s3cfg.S3Endpoint)
		}
		if s3cfg.S3ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	return &s3Store{client: client, bucket: bucket, prefix: prefix}, nil
}

func parseS3URI(uri string) (bucket, prefix string, err error) {
	trimmed := strings.TrimPrefix(uri, "s3://")
	parts := strings.SplitN(trimmed, "/", 2)
	if parts[0] == "" {
		return "", "", fabricerr.New(fabricerr.ConfigInvalid, "s3 recovery storage_path missing bucket name").
			WithComponent("recovery.s3store")
	}
	bucket = parts[0]
	if len(parts) == 2 {
		prefix = strings.TrimSuffix(parts[1], "/")
	}
	return bucket, prefix, nil
}

func (s *s3Store) key(id, ext string) string {
	if s.prefix == "" {
		return id + ext
	}
	return s.prefix + "/" + id + ext
}

// Write puts the record under its object key. S3's PUT is already atomic
// from a reader's perspective, so no tmp-then-rename dance is needed here.
func (s *s3Store) Write(ctx context.Context, id string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id, pointExt)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fabricerr.New(fabricerr.IoFailure, "failed to write recovery point to s3").
			WithComponent("recovery.s3store").WithContext("id", id).WithCause(err)
	}
	return nil
}

func (s *s3Store) Read(ctx context.Context, id string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id, pointExt)),
	})
	if err != nil {
		var nsk *smithy.GenericAPIError
		if errors.As(err, &nsk) && (nsk.Code == "NoSuchKey" || nsk.Code == "NotFound") {
			return nil, fabricerr.Newf(fabricerr.NotFound, "recovery point %s not found", id).
				WithComponent("recovery.s3store")
		}
		return nil, fabricerr.New(fabricerr.IoFailure, "failed to read recovery point from s3").
			WithComponent("recovery.s3store").WithContext("id", id).WithCause(err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fabricerr.New(fabricerr.IoFailure, "failed to read recovery point body from s3").
			WithComponent("recovery.s3store").WithContext("id", id).WithCause(err)
	}
	return data, nil
}

func (s *s3Store) Remove(ctx context.Context, id string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id, pointExt)),
	})
	if err != nil {
		return fabricerr.New(fabricerr.IoFailure, "failed to remove recovery point from s3").
			WithComponent("recovery.s3store").WithContext("id", id).WithCause(err)
	}
	return nil
}

// Quarantine copies the object to a .bad key and deletes the original,
// since S3 has no rename primitive.
func (s *s3Store) Quarantine(ctx context.Context, id string) error {
	src := s.bucket + "/" + s.key(id, pointExt)
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(s.key(id, badExt)),
		CopySource: aws.String(src),
	})
	if err != nil {
		return fabricerr.New(fabricerr.IoFailure, "failed to quarantine recovery point in s3").
			WithComponent("recovery.s3store").WithContext("id", id).WithCause(err)
	}
	return s.Remove(ctx, id)
}

func (s *s3Store) List(ctx context.Context) ([]string, error) {
	var ids []string
	var continuation *string

	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(s.prefix),
			ContinuationToken: continuation,
		})
		if err != nil {
			return nil, fabricerr.New(fabricerr.IoFailure, "failed to list recovery points in s3").
				WithComponent("recovery.s3store").WithCause(err)
		}

		for _, obj := range out.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix+"/")
			if strings.HasSuffix(name, pointExt) {
				ids = append(ids, strings.TrimSuffix(name, pointExt))
			}
		}

		if !aws.ToBool(out.IsTruncated) {
			break
		}
		continuation = out.NextContinuationToken
	}

	return ids, nil
}

var _ RecoveryStore = (*s3Store)(nil)
