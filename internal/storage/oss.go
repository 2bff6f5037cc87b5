package storage

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"mysql-oss-backup/internal/backup"
	appcfg "mysql-oss-backup/internal/config"
	"mysql-oss-backup/internal/errors"
)

// OSSClient talks to an S3-compatible object store through its endpoint
// URL. Aliyun OSS, MinIO and R2 all speak this dialect.
type OSSClient struct {
	client *s3.Client
	bucket string
}

var _ backup.ObjectStore = (*OSSClient)(nil)

func NewOSSClient(ctx context.Context, cfg *appcfg.Config) (*OSSClient, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.OSSAccessKeyID,
			cfg.OSSAccessKeySecret,
			"",
		)),
		awsconfig.WithRegion(cfg.OSSRegion),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load object store config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.OSSEndpoint)
		o.UsePathStyle = true
	})

	return &OSSClient{
		client: client,
		bucket: cfg.OSSBucket,
	}, nil
}

// Put uploads one artifact under its full key. The upload manager handles
// retries and multipart transfers for large dumps.
func (c *OSSClient) Put(ctx context.Context, key string, body io.Reader) error {
	uploader := manager.NewUploader(c.client)

	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Body:   body,
	})
	if err != nil {
		return errors.NewStorageError("upload", c.bucket, key, err)
	}

	return nil
}

func (c *OSSClient) Delete(ctx context.Context, key string) error {
	_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return errors.NewStorageError("delete", c.bucket, key, err)
	}

	return nil
}

// List returns every object under prefix, newest first.
func (c *OSSClient) List(ctx context.Context, prefix string) ([]backup.Object, error) {
	var objects []backup.Object

	paginator := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.NewStorageError("list", c.bucket, prefix, err)
		}

		for _, obj := range page.Contents {
			objects = append(objects, backup.Object{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}

	sort.Slice(objects, func(i, j int) bool {
		return objects[i].LastModified.After(objects[j].LastModified)
	})

	return objects, nil
}
