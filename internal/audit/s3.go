package audit

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Archiver stores run transcripts as canonical JSON under
//
//	<prefix>/runs/YYYY/MM/DD/<runID>.json
type S3Archiver struct {
	bucket   string
	prefix   string
	uploader uploader
	logger   *zap.Logger
}

// NewS3Archiver loads credentials and region the usual SDK way (env,
// profile, instance role).
func NewS3Archiver(ctx context.Context, bucket, prefix string, logger *zap.Logger) (*S3Archiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("archive bucket required")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newS3Archiver(manager.NewUploader(s3.NewFromConfig(cfg)), bucket, prefix, logger), nil
}

func newS3Archiver(up uploader, bucket, prefix string, logger *zap.Logger) *S3Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &S3Archiver{bucket: bucket, prefix: prefix, uploader: up, logger: logger.Named("audit.s3")}
}

// ObjectKey returns where the transcript of runID started at ts is stored.
func ObjectKey(prefix string, ts time.Time, runID string) string {
	ts = ts.UTC()
	return path.Join(prefix, "runs",
		fmt.Sprintf("%04d", ts.Year()),
		fmt.Sprintf("%02d", int(ts.Month())),
		fmt.Sprintf("%02d", ts.Day()),
		runID+".json",
	)
}

func (a *S3Archiver) ArchiveRun(ctx context.Context, t Transcript) (string, error) {
	if t.RunID == "" {
		return "", fmt.Errorf("transcript without run id")
	}
	body, err := Canonical(t)
	if err != nil {
		return "", err
	}
	ts := t.StartedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	key := ObjectKey(a.prefix, ts, t.RunID)
	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(a.bucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(body),
		ContentType:          aws.String("application/json"),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return "", fmt.Errorf("upload transcript %s: %w", key, err)
	}
	a.logger.Debug("transcript archived", zap.String("bucket", a.bucket), zap.String("key", key))
	return key, nil
}
