// Copyright 2025 Stashbin Authors
// SPDX-License-Identifier: Apache-2.0

package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

func init() {
	Register(StorageTypeS3, NewS3)
}

// S3 implements Store for S3-compatible storage.
type S3 struct {
	client *s3.Client
	bucket string
}

// NewS3 creates an S3 blob store.
func NewS3(cfg Config) (Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket required for S3 blob store")
	}

	opts := []func(*awsconfig.LoadOptions) error{}

	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	s3Opts := []func(*s3.Options){}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
	}, nil
}

func (s *S3) Type() StorageType {
	return StorageTypeS3
}

// OpenWrite streams the object body through a pipe into PutObject so the
// merge path never buffers a whole file in memory.
func (s *S3) OpenWrite(ctx context.Context, meta Meta) (WriteStream, error) {
	ref := NewRef()
	pr, pw := io.Pipe()

	ws := &s3WriteStream{
		store: s,
		ref:   ref,
		pw:    pw,
		done:  make(chan struct{}),
	}

	go func() {
		defer close(ws.done)
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(ref),
			Body:        pr,
			ContentType: aws.String(meta.MimeType),
			Metadata: map[string]string{
				"session-id":    meta.SessionID,
				"original-name": meta.OriginalName,
				"uploaded-by":   meta.UploadedBy,
			},
		})
		if err != nil {
			pr.CloseWithError(err)
			ws.putErr = err
			return
		}
		pr.Close()
	}()

	return ws, nil
}

func (s *S3) OpenRead(ctx context.Context, ref string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ref),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get object: %w", err)
	}
	return out.Body, nil
}

func (s *S3) OpenReadRange(ctx context.Context, ref string, offset, length int64) (io.ReadCloser, error) {
	rangeStr := fmt.Sprintf("bytes=%d-", offset)
	if length > 0 {
		rangeStr = fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ref),
		Range:  aws.String(rangeStr),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get object range: %w", err)
	}
	return out.Body, nil
}

func (s *S3) Stat(ctx context.Context, ref string) (*Info, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ref),
	})
	if err != nil {
		var nf *s3types.NotFound
		if errors.As(err, &nf) || isNoSuchKey(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("head object: %w", err)
	}
	return &Info{Ref: ref, Size: aws.ToInt64(out.ContentLength)}, nil
}

func (s *S3) Delete(ctx context.Context, ref string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ref),
	})
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

func (s *S3) Close() error {
	return nil
}

func isNoSuchKey(err error) bool {
	var noKey *s3types.NoSuchKey
	return errors.As(err, &noKey)
}

type s3WriteStream struct {
	store   *S3
	ref     string
	pw      *io.PipeWriter
	done    chan struct{}
	putErr  error
	aborted bool
	closed  bool
}

func (w *s3WriteStream) Write(p []byte) (int, error) {
	if w.aborted {
		return 0, ErrAborted
	}
	return w.pw.Write(p)
}

func (w *s3WriteStream) Close() error {
	if w.aborted {
		return ErrAborted
	}
	if w.closed {
		return nil
	}
	w.pw.Close()
	<-w.done
	if w.putErr != nil {
		return fmt.Errorf("put object: %w", w.putErr)
	}
	w.closed = true
	return nil
}

func (w *s3WriteStream) Abort() error {
	if w.closed || w.aborted {
		return nil
	}
	w.aborted = true
	w.pw.CloseWithError(ErrAborted)
	<-w.done

	// If the upload partially completed server-side, remove the key so no
	// partial object stays reachable.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := w.store.Delete(ctx, w.ref); err != nil {
		return err
	}
	return nil
}

func (w *s3WriteStream) Ref() string {
	return w.ref
}
