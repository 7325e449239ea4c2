// Package s3 ships backups to S3-compatible object storage. Identity and
// provenance ride in object metadata; the bucket listing is the backup
// inventory.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"github.com/supporttools/GoDBVault/pkg/backup"
)

// Config for an S3-compatible destination. Endpoint switches the client
// to a custom store (MinIO and friends) and forces path-style addressing.
type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool

	// EncryptionKey decrypts artifacts whose metadata declares
	// encryption. Restores of encrypted backups fail without it.
	EncryptionKey string
}

// Adapter implements backup.Adapter over one bucket (and prefix).
type Adapter struct {
	client *awss3.Client
	cfg    Config
	logger zerolog.Logger
}

// New initializes the S3 client and wraps it in an adapter.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (*Adapter, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket is not configured")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	sdkOptions := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if cfg.AccessKeyID != "" {
		sdkOptions = append(sdkOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, sdkOptions...)
	if err != nil {
		return nil, fmt.Errorf("AWS SDK config initialization error: %w", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	})

	return &Adapter{
		client: client,
		cfg:    cfg,
		logger: logger.With().Str("adapter", "s3").Str("bucket", cfg.Bucket).Logger(),
	}, nil
}

func (a *Adapter) keyFor(name string) string {
	prefix := a.cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + name
}

// CreateBackup encodes the artifact into a temporary file and uploads it
// with provenance metadata on the object.
func (a *Adapter) CreateBackup(ctx context.Context, opts backup.BackupOptions) (*backup.BackupInfo, error) {
	src, err := os.Open(opts.SourcePath)
	if os.IsNotExist(err) {
		return nil, &backup.SourceNotFoundError{Path: opts.SourcePath}
	}
	if err != nil {
		return nil, err
	}
	defer src.Close()

	comp := opts.Compression
	if comp == "" {
		comp = backup.CompressionNone
	}
	now := time.Now()
	name := backup.ArtifactName(opts.ConnectionName, now, comp, opts.Encrypt)
	key := a.keyFor(name)

	tmp, err := os.CreateTemp("", "godbvault-upload-*")
	if err != nil {
		return nil, err
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	if err := backup.EncodeTo(tmp, src, comp, opts.Encrypt, opts.EncryptionKey); err != nil {
		return nil, err
	}
	size, err := tmp.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	metadata := map[string]string{
		backup.MetaCompression:  string(comp),
		backup.MetaEncrypted:    strconv.FormatBool(opts.Encrypt),
		backup.MetaDatabaseType: opts.DatabaseType,
		backup.MetaConnectionID: opts.ConnectionID,
		backup.MetaCreatedAt:    now.Format(time.RFC3339),
	}
	for k, v := range opts.Metadata {
		metadata[k] = v
	}

	_, err = a.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:   aws.String(a.cfg.Bucket),
		Key:      aws.String(key),
		Body:     tmp,
		Metadata: metadata,
	})
	if err != nil {
		return nil, &backup.TransportError{Op: "upload", Err: err}
	}

	a.logger.Info().Str("key", key).Int64("size", size).Msg("Uploaded backup")
	info := &backup.BackupInfo{
		ID:        backup.DeriveID(backup.NamespaceS3, key),
		Name:      name,
		Path:      key,
		Size:      size,
		CreatedAt: now,
		Status:    backup.StatusCompleted,
		Metadata:  metadata,
	}
	info.Metadata["bucket"] = a.cfg.Bucket
	return info, nil
}

// RestoreBackup downloads the object into a temporary file, undoing
// compression and encryption. The caller deletes the returned file.
func (a *Adapter) RestoreBackup(ctx context.Context, info backup.BackupInfo) (string, error) {
	out, err := a.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(a.cfg.Bucket),
		Key:    aws.String(info.Path),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return "", &backup.BackupNotFoundError{ID: info.ID}
		}
		return "", &backup.TransportError{Op: "download", Err: err}
	}
	defer out.Body.Close()

	tmp, err := os.CreateTemp("", "godbvault-restore-*.backup")
	if err != nil {
		return "", err
	}
	if err := backup.DecodeFrom(tmp, out.Body, info.Compression(), info.Encrypted(), a.cfg.EncryptionKey); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// ListBackups walks the bucket under the prefix. Object metadata is
// fetched per key and degraded to name inference when unavailable.
func (a *Adapter) ListBackups(ctx context.Context) ([]backup.BackupInfo, error) {
	input := &awss3.ListObjectsV2Input{Bucket: aws.String(a.cfg.Bucket)}
	if a.cfg.Prefix != "" {
		input.Prefix = aws.String(a.cfg.Prefix)
	}

	infos := []backup.BackupInfo{}
	paginator := awss3.NewListObjectsV2Paginator(a.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, &backup.TransportError{Op: "list", Err: err}
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !strings.Contains(path.Base(key), ".backup") {
				continue
			}

			metadata := a.objectMetadata(ctx, key)
			metadata["bucket"] = a.cfg.Bucket

			infos = append(infos, backup.BackupInfo{
				ID:        backup.DeriveID(backup.NamespaceS3, key),
				Name:      path.Base(key),
				Path:      key,
				Size:      aws.ToInt64(obj.Size),
				CreatedAt: aws.ToTime(obj.LastModified),
				Status:    backup.StatusCompleted,
				Metadata:  metadata,
			})
		}
	}
	return infos, nil
}

func (a *Adapter) objectMetadata(ctx context.Context, key string) map[string]string {
	head, err := a.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(a.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil || head.Metadata == nil {
		comp, encrypted := backup.InferFromName(path.Base(key))
		return map[string]string{
			backup.MetaCompression: string(comp),
			backup.MetaEncrypted:   strconv.FormatBool(encrypted),
		}
	}
	metadata := make(map[string]string, len(head.Metadata))
	for k, v := range head.Metadata {
		metadata[strings.ToLower(k)] = v
	}
	return metadata
}

// DeleteBackup removes the object with the given id.
func (a *Adapter) DeleteBackup(ctx context.Context, id string) error {
	infos, err := a.ListBackups(ctx)
	if err != nil {
		return err
	}
	for _, info := range infos {
		if info.ID != id {
			continue
		}
		_, err := a.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
			Bucket: aws.String(a.cfg.Bucket),
			Key:    aws.String(info.Path),
		})
		if err != nil {
			return &backup.TransportError{Op: "delete", Err: err}
		}
		a.logger.Info().Str("key", info.Path).Msg("Deleted backup")
		return nil
	}
	return &backup.BackupNotFoundError{ID: id}
}

// ValidateOptions probes the bucket with a HeadBucket call.
func (a *Adapter) ValidateOptions(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &awss3.HeadBucketInput{Bucket: aws.String(a.cfg.Bucket)})
	if err != nil {
		return fmt.Errorf("S3 bucket %s is not reachable: %w", a.cfg.Bucket, err)
	}
	return nil
}
