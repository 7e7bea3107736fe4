package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/JonMunkholm/lacvalidator/internal/config"
)

// S3Storage keeps artifacts in an S3 compatible bucket.
type S3Storage struct {
	client *s3.S3
	bucket string
}

func NewS3Storage(cfg config.S3Config) (*S3Storage, error) {
	s3Config := &aws.Config{
		Region:           aws.String(cfg.Region),
		DisableSSL:       aws.Bool(!cfg.UseSSL),
		S3ForcePathStyle: aws.Bool(true),
	}
	if cfg.Endpoint != "" {
		s3Config.Endpoint = aws.String(cfg.Endpoint)
	}
	if cfg.AccessKey != "" {
		s3Config.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}

	sess, err := session.NewSession(s3Config)
	if err != nil {
		return nil, err
	}

	return &S3Storage{
		client: s3.New(sess),
		bucket: cfg.Bucket,
	}, nil
}

func (s *S3Storage) Upload(ctx context.Context, key, contentType string, data io.Reader) error {
	if _, err := CleanKey(key); err != nil {
		return err
	}
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        aws.ReadSeekCloser(data),
		ContentType: aws.String(contentType),
	})
	return err
}

func (s *S3Storage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	if _, err := CleanKey(key); err != nil {
		return nil, err
	}
	result, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, notFound(err, key)
	}
	return result.Body, nil
}

// List returns artifacts newest first.
func (s *S3Storage) List(ctx context.Context) ([]Object, error) {
	var objects []Object
	err := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, o := range page.Contents {
			name := aws.StringValue(o.Key)
			objects = append(objects, Object{
				Name:        name,
				Size:        aws.Int64Value(o.Size),
				ContentType: ContentTypeFor(name),
				ModTime:     aws.TimeValue(o.LastModified),
			})
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("list bucket %s: %w", s.bucket, err)
	}

	sort.Slice(objects, func(i, j int) bool {
		return objects[i].ModTime.After(objects[j].ModTime)
	})
	return objects, nil
}

func (s *S3Storage) Delete(ctx context.Context, key string) error {
	if _, err := CleanKey(key); err != nil {
		return err
	}
	if _, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return notFound(err, key)
	}
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return err
}

func notFound(err error, key string) error {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) && aerr.Code() == s3.ErrCodeNoSuchKey {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return err
}
