package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"postflow-bot/internal/domain"
	"postflow-bot/internal/infra/metrics"
)

// Options описывает подключение к S3-совместимому хранилищу.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
}

// R2 хранит медиа постов в S3-совместимом бакете (Cloudflare R2).
type R2 struct {
	client *s3.Client
	bucket string
}

var _ domain.MediaStore = (*R2)(nil)

// NewR2 создаёт хранилище медиа.
func NewR2(ctx context.Context, opts Options) (*R2, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("загрузка конфигурации S3: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(opts.Endpoint)
	})
	return &R2{client: client, bucket: opts.Bucket}, nil
}

// Put сохраняет объект.
func (r *R2) Put(ctx context.Context, key string, data []byte, contentType string) error {
	start := time.Now()
	_, err := r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	metrics.ObserveNetworkRequest("objstore", "put", r.bucket, start, err)
	if err != nil {
		return fmt.Errorf("сохранение медиа %s: %w", key, err)
	}
	return nil
}

// Get возвращает объект и его content type.
func (r *R2) Get(ctx context.Context, key string) ([]byte, string, error) {
	start := time.Now()
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	metrics.ObserveNetworkRequest("objstore", "get", r.bucket, start, err)
	if err != nil {
		return nil, "", fmt.Errorf("чтение медиа %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", fmt.Errorf("чтение медиа %s: %w", key, err)
	}
	return data, aws.ToString(out.ContentType), nil
}

// Delete удаляет объект. Отсутствующий ключ ошибкой не считается.
func (r *R2) Delete(ctx context.Context, key string) error {
	start := time.Now()
	_, err := r.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	metrics.ObserveNetworkRequest("objstore", "delete", r.bucket, start, err)
	if err != nil {
		return fmt.Errorf("удаление медиа %s: %w", key, err)
	}
	return nil
}
