package config

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/dittomirror/internal/logger"
	"github.com/marmos91/dittomirror/pkg/output"
	outputFs "github.com/marmos91/dittomirror/pkg/output/fs"
	outputS3 "github.com/marmos91/dittomirror/pkg/output/s3"
	"github.com/marmos91/dittomirror/pkg/requesters"
	requestersBadger "github.com/marmos91/dittomirror/pkg/requesters/badger"
	requestersMemory "github.com/marmos91/dittomirror/pkg/requesters/memory"
)

// CreateRequesterRegistry creates the requester registry selected by
// cfg.Type.
//
// Supported types:
//   - "memory": a map with lazy expiry (pkg/requesters/memory)
//   - "badger": an in-memory BadgerDB with native TTL (pkg/requesters/badger)
func CreateRequesterRegistry(ctx context.Context, cfg *RequestersConfig) (requesters.Registry, error) {
	switch cfg.Type {
	case "memory":
		return requestersMemory.New(cfg.TTL), nil
	case "badger":
		return createBadgerRegistry(ctx, cfg.TTL, cfg.Badger)
	default:
		return nil, fmt.Errorf("unknown requester registry type: %q", cfg.Type)
	}
}

func createBadgerRegistry(ctx context.Context, ttl time.Duration, options map[string]any) (requesters.Registry, error) {
	type BadgerRegistryConfig struct {
		IndexCacheSizeMB int64 `mapstructure:"index_cache_size_mb"`
	}

	var regCfg BadgerRegistryConfig
	if err := mapstructure.WeakDecode(options, &regCfg); err != nil {
		return nil, fmt.Errorf("failed to decode badger registry config: %w", err)
	}

	reg, err := requestersBadger.New(ctx, requestersBadger.Config{
		TTL:              ttl,
		IndexCacheSizeMB: regCfg.IndexCacheSizeMB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create badger requester registry: %w", err)
	}
	return reg, nil
}

// CreateOutputSink creates the output sink selected by cfg.Type.
//
// Supported types:
//   - "filesystem": files under a local directory (pkg/output/fs)
//   - "s3": objects in an S3 or compatible bucket (pkg/output/s3)
func CreateOutputSink(ctx context.Context, cfg *OutputConfig) (output.Sink, error) {
	switch cfg.Type {
	case "filesystem":
		return createFilesystemSink(cfg.Filesystem)
	case "s3":
		return createS3Sink(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown output type: %q", cfg.Type)
	}
}

func createFilesystemSink(options map[string]any) (output.Sink, error) {
	type FilesystemSinkConfig struct {
		Path string `mapstructure:"path"`
	}

	var sinkCfg FilesystemSinkConfig
	if err := mapstructure.Decode(options, &sinkCfg); err != nil {
		return nil, fmt.Errorf("failed to decode filesystem output config: %w", err)
	}
	if sinkCfg.Path == "" {
		return nil, fmt.Errorf("filesystem output: path is required")
	}

	sink, err := outputFs.New(sinkCfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem output: %w", err)
	}
	return sink, nil
}

// S3SinkConfig holds the decoded mirror.output.s3 options.
type S3SinkConfig struct {
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	KeyPrefix       string `mapstructure:"key_prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	PartSize        int64  `mapstructure:"part_size"`
	MaxRetries      int    `mapstructure:"max_retries"`
	SpoolDir        string `mapstructure:"spool_dir"`
}

func decodeS3Options(options map[string]any) (S3SinkConfig, error) {
	var sinkCfg S3SinkConfig
	if err := mapstructure.WeakDecode(options, &sinkCfg); err != nil {
		return sinkCfg, fmt.Errorf("failed to decode S3 output config: %w", err)
	}
	if sinkCfg.Bucket == "" {
		return sinkCfg, fmt.Errorf("S3 output: bucket is required")
	}
	if sinkCfg.Region == "" {
		return sinkCfg, fmt.Errorf("S3 output: region is required")
	}
	return sinkCfg, nil
}

func createS3Sink(ctx context.Context, options map[string]any) (output.Sink, error) {
	sinkCfg, err := decodeS3Options(options)
	if err != nil {
		return nil, err
	}

	client, err := NewS3Client(ctx, sinkCfg)
	if err != nil {
		return nil, err
	}

	sink, err := outputS3.New(outputS3.Config{
		Client:    client,
		Bucket:    sinkCfg.Bucket,
		KeyPrefix: sinkCfg.KeyPrefix,
		PartSize:  sinkCfg.PartSize,
		SpoolDir:  sinkCfg.SpoolDir,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 output: %w", err)
	}

	logger.Info("S3 output initialized: bucket=%s, region=%s, prefix=%s",
		sinkCfg.Bucket, sinkCfg.Region, sinkCfg.KeyPrefix)

	return sink, nil
}

// NewS3Client builds an S3 client from the decoded options. A custom
// endpoint (MinIO, Localstack) switches to path-style addressing.
func NewS3Client(ctx context.Context, sinkCfg S3SinkConfig) (*s3.Client, error) {
	configOptions := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(sinkCfg.Region),
	}

	if sinkCfg.AccessKeyID != "" && sinkCfg.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			sinkCfg.AccessKeyID,
			sinkCfg.SecretAccessKey,
			"", // session token (empty for static credentials)
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	maxRetries := sinkCfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	cfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if sinkCfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(sinkCfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}
