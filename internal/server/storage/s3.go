// Package storage keeps uploaded files in S3-compatible object storage. Two
// buckets are used: a public one whose objects are readable by anyone and a
// private one reachable only through signed download links.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/dmitrijs2005/crmkeeper/internal/common"
	"github.com/dmitrijs2005/crmkeeper/internal/server/models"
)

// Visibility selects one of the two buckets.
type Visibility int

const (
	Public Visibility = iota
	Private
)

func (v Visibility) String() string {
	if v == Public {
		return "public"
	}
	return "private"
}

// Config is the connection and bucket layout.
type Config struct {
	Region        string
	BaseEndpoint  string
	AccessKey     string
	SecretKey     string
	PublicBucket  string
	PrivateBucket string
}

// s3API is the subset of *s3.Client in use.
type s3API interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutBucketPolicy(ctx context.Context, in *s3.PutBucketPolicyInput, optFns ...func(*s3.Options)) (*s3.PutBucketPolicyOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type presigner interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// S3Storage implements object storage over the AWS SDK. It works against
// MinIO as well, using path-style addressing.
type S3Storage struct {
	client  s3API
	presign presigner
	buckets map[Visibility]string
}

// NewS3Storage builds a client from cfg. It does not touch the network.
func NewS3Storage(ctx context.Context, cfg Config) (*S3Storage, error) {
	awsCfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.BaseEndpoint)
		}
		o.UsePathStyle = true
	})

	return newS3Storage(client, s3.NewPresignClient(client), cfg.PublicBucket, cfg.PrivateBucket), nil
}

func newS3Storage(client s3API, p presigner, publicBucket, privateBucket string) *S3Storage {
	return &S3Storage{
		client:  client,
		presign: p,
		buckets: map[Visibility]string{Public: publicBucket, Private: privateBucket},
	}
}

// EnsureBuckets creates missing buckets and makes the public one
// anonymously readable.
func (s *S3Storage) EnsureBuckets(ctx context.Context) error {
	for _, v := range []Visibility{Public, Private} {
		bucket := s.buckets[v]
		if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
			if !isNotFound(err) {
				return fmt.Errorf("head bucket %s: %w", bucket, err)
			}
			if _, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)}); err != nil && !isAlreadyOwned(err) {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
	}

	policy, err := publicReadPolicy(s.buckets[Public])
	if err != nil {
		return err
	}
	if _, err := s.client.PutBucketPolicy(ctx, &s3.PutBucketPolicyInput{
		Bucket: aws.String(s.buckets[Public]),
		Policy: aws.String(policy),
	}); err != nil {
		return fmt.Errorf("put policy on %s: %w", s.buckets[Public], err)
	}
	return nil
}

// Put uploads body under name.
func (s *S3Storage) Put(ctx context.Context, v Visibility, name string, body io.Reader, size int64, contentType string) error {
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.buckets[v]),
		Key:    aws.String(name),
		Body:   body,
	}
	if size >= 0 {
		in.ContentLength = aws.Int64(size)
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("put %s/%s: %w", s.buckets[v], name, err)
	}
	return nil
}

// List returns every object of the bucket.
func (s *S3Storage) List(ctx context.Context, v Visibility) ([]models.StoredObject, error) {
	var out []models.StoredObject
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{Bucket: aws.String(s.buckets[v])})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", s.buckets[v], err)
		}
		for _, o := range page.Contents {
			obj := models.StoredObject{
				Name: aws.ToString(o.Key),
				Size: aws.ToInt64(o.Size),
			}
			if o.LastModified != nil {
				obj.LastModified = o.LastModified.UTC()
			}
			out = append(out, obj)
		}
	}
	return out, nil
}

// Head returns metadata of name, or common.ErrorNotFound.
func (s *S3Storage) Head(ctx context.Context, v Visibility, name string) (*models.StoredObject, error) {
	res, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.buckets[v]),
		Key:    aws.String(name),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("head %s/%s: %w", s.buckets[v], name, err)
	}
	return objectInfo(name, res.ContentLength, res.ContentType, res.LastModified), nil
}

// Get opens name for reading. The caller closes the body.
func (s *S3Storage) Get(ctx context.Context, v Visibility, name string) (io.ReadCloser, *models.StoredObject, error) {
	res, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.buckets[v]),
		Key:    aws.String(name),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil, common.ErrorNotFound
		}
		return nil, nil, fmt.Errorf("get %s/%s: %w", s.buckets[v], name, err)
	}
	return res.Body, objectInfo(name, res.ContentLength, res.ContentType, res.LastModified), nil
}

// PresignGet returns a time-limited GET URL for name.
func (s *S3Storage) PresignGet(ctx context.Context, v Visibility, name string, ttl time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.buckets[v]),
		Key:    aws.String(name),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign %s/%s: %w", s.buckets[v], name, err)
	}
	return req.URL, nil
}

func objectInfo(name string, size *int64, contentType *string, modified *time.Time) *models.StoredObject {
	obj := &models.StoredObject{
		Name:        name,
		Size:        aws.ToInt64(size),
		ContentType: aws.ToString(contentType),
	}
	if modified != nil {
		obj.LastModified = modified.UTC()
	}
	return obj
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "NotFound", "NoSuchKey", "NoSuchBucket":
		return true
	}
	return false
}

func isAlreadyOwned(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "BucketAlreadyOwnedByYou"
}

type policyStatement struct {
	Effect    string              `json:"Effect"`
	Principal map[string][]string `json:"Principal"`
	Action    []string            `json:"Action"`
	Resource  []string            `json:"Resource"`
}

type policyDocument struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

func publicReadPolicy(bucket string) (string, error) {
	doc := policyDocument{
		Version: "2012-10-17",
		Statement: []policyStatement{{
			Effect:    "Allow",
			Principal: map[string][]string{"AWS": {"*"}},
			Action:    []string{"s3:GetObject"},
			Resource:  []string{"arn:aws:s3:::" + bucket + "/*"},
		}},
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshal bucket policy: %w", err)
	}
	return string(b), nil
}
