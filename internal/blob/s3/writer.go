package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/farrukhsid/brokerledger/internal/domain"
)

// minPartSize is the minimum allowed part size for S3 multipart uploads (5 MiB).
const minPartSize int64 = 5 * 1024 * 1024

// Writer implements domain.BlobWriter over an S3-compatible backend. The
// reconciler uses it to archive consistency reports.
type Writer struct {
	client *s3.Client
	bucket string
}

// NewWriter creates a Writer that uploads objects to the given client's
// configured bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{
		client: c.S3(),
		bucket: c.Bucket(),
	}
}

// Put uploads body as a single PutObject request and returns the object's
// s3://bucket/key location. Suitable for reports and other small artifacts.
func (w *Writer) Put(ctx context.Context, key string, contentType string, body io.Reader) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}

	if _, err := w.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("s3blob: put object %s: %w", key, err)
	}
	return w.location(key), nil
}

// PutMultipart uploads body using the multipart upload manager, splitting it
// into concurrently uploaded parts. partSize below the S3 minimum (5 MiB) is
// clamped. Intended for bulk exports too large for a single PutObject.
func (w *Writer) PutMultipart(ctx context.Context, key string, contentType string, body io.Reader, partSize int64) (string, error) {
	if partSize < minPartSize {
		partSize = minPartSize
	}

	uploader := manager.NewUploader(w.client, func(u *manager.Uploader) {
		u.PartSize = partSize
	})

	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}

	if _, err := uploader.Upload(ctx, input); err != nil {
		return "", fmt.Errorf("s3blob: multipart upload %s: %w", key, err)
	}
	return w.location(key), nil
}

func (w *Writer) location(key string) string {
	return fmt.Sprintf("s3://%s/%s", w.bucket, key)
}

var _ domain.BlobWriter = (*Writer)(nil)
