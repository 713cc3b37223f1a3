package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"im-relay/internal/config"
	"im-relay/internal/imtypes"
)

// S3StorageService 把上传文件存到 S3 或兼容 S3 的对象存储（如 MinIO）。
type S3StorageService struct {
	client        *s3.Client
	uploader      *manager.Uploader
	bucket        string
	publicBaseURL string
}

// NewS3StorageService 根据配置创建 S3 客户端。未配置密钥时使用默认凭证链。
func NewS3StorageService(ctx context.Context, cfg config.S3Config) (imtypes.StorageService, error) {
	if cfg.BucketName == "" {
		return nil, fmt.Errorf("S3 存储需要配置 BUCKET_NAME")
	}

	opts := []func(*awscfg.LoadOptions) error{awscfg.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsConfig, err := awscfg.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("加载 AWS 配置失败: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	publicBaseURL := cfg.PublicBaseURL
	if publicBaseURL == "" {
		if cfg.Endpoint != "" {
			publicBaseURL = strings.TrimSuffix(cfg.Endpoint, "/") + "/" + cfg.BucketName
		} else {
			publicBaseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.BucketName, cfg.Region)
		}
	}

	return &S3StorageService{
		client:        client,
		uploader:      manager.NewUploader(client),
		bucket:        cfg.BucketName,
		publicBaseURL: publicBaseURL,
	}, nil
}

// UploadFile 上传对象并返回公开访问 URL，Path 为对象 key。
func (s *S3StorageService) UploadFile(ctx context.Context, reader io.Reader, fileSize int64, fileName string, mimeType string) (*imtypes.FileInfo, error) {
	key := uniqueObjectName(fileName, mimeType)
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        reader,
		ContentType: aws.String(mimeType),
	}
	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return nil, fmt.Errorf("上传到 S3 失败: %w", err)
	}

	zap.S().Debugw("文件已上传到 S3", "bucket", s.bucket, "key", key)
	return &imtypes.FileInfo{
		URL:      strings.TrimSuffix(s.publicBaseURL, "/") + "/" + url.PathEscape(key),
		Path:     key,
		Size:     fileSize,
		MimeType: mimeType,
		FileName: fileName,
	}, nil
}

func (s *S3StorageService) DeleteFile(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return err
}
