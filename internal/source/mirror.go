package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// MirrorStore is a read-through copy of the download cache.
type MirrorStore interface {
	Download(ctx context.Context, key string, w io.Writer) error
}

// MirrorSettings locate an S3 compatible bucket (AWS, R2, MinIO).
type MirrorSettings struct {
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Debug           bool
}

// Mirror stores verified source archives in an S3 bucket, keyed by their
// cache file name.
type Mirror struct {
	Client *s3.Client
	Bucket string
}

// NewMirror builds a Mirror from s. Static credentials are used when given,
// otherwise the default AWS credential chain.
func NewMirror(ctx context.Context, s MirrorSettings) (*Mirror, error) {
	if s.Bucket == "" {
		return nil, errors.New("mirror bucket not configured")
	}
	options := []func(*config.LoadOptions) error{
		config.WithRegion(s.Region),
	}
	if s.AccessKeyID != "" && s.SecretAccessKey != "" {
		options = append(options, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.AccessKeyID, s.SecretAccessKey, "")))
	}
	if s.Debug {
		options = append(options, config.WithClientLogMode(aws.LogRetries|aws.LogRequest))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load mirror config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if s.Endpoint != "" {
			o.BaseEndpoint = aws.String(s.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &Mirror{Client: client, Bucket: s.Bucket}, nil
}

// Download streams object key into w.
func (m *Mirror) Download(ctx context.Context, key string, w io.Writer) error {
	out, err := m.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return err
	}
	defer out.Body.Close()
	_, err = io.Copy(w, out.Body)
	return err
}

// UploadLocalFile uploads a file from disk.
func (m *Mirror) UploadLocalFile(ctx context.Context, key, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()
	stat, err := file.Stat()
	if err != nil {
		return err
	}
	_, err = m.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.Bucket),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(stat.Size()),
		ContentType:   aws.String("application/octet-stream"),
	})
	return err
}

// Keys lists all object keys in the bucket.
func (m *Mirror) Keys(ctx context.Context) (map[string]int64, error) {
	keys := make(map[string]int64)
	paginator := s3.NewListObjectsV2Paginator(m.Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(m.Bucket),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			keys[aws.ToString(obj.Key)] = aws.ToInt64(obj.Size)
		}
	}
	return keys, nil
}

// IsNotFound reports whether err means the mirror lacks the object.
func IsNotFound(err error) bool {
	var nsk *types.NoSuchKey
	return errors.As(err, &nsk) || errors.Is(err, fs.ErrNotExist)
}

// Uploader is the write side of a mirror.
type Uploader interface {
	Keys(ctx context.Context) (map[string]int64, error)
	UploadLocalFile(ctx context.Context, key, filePath string) error
}

// Push uploads every cached, verified archive the mirror does not have yet
// and returns the uploaded keys.
func (a *Acquirer) Push(ctx context.Context, up Uploader, archives []Archive) ([]string, error) {
	remote, err := up.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing mirror: %w", err)
	}
	var pushed []string
	for _, arc := range archives {
		path := a.CachePath(arc)
		if _, ok, err := verifyFile(path, arc.Hash); err != nil || !ok {
			continue
		}
		key := filepath.Base(path)
		if fi, err := os.Stat(path); err == nil {
			if size, ok := remote[key]; ok && size == fi.Size() {
				continue
			}
		}
		if err := up.UploadLocalFile(ctx, key, path); err != nil {
			return pushed, fmt.Errorf("uploading %s: %w", key, err)
		}
		pushed = append(pushed, key)
	}
	return pushed, nil
}
