package s3blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/iambrands/ai-ml-trading-bot/internal/domain"
)

const (
	// MinPartSize is the smallest multipart part S3 accepts (5 MiB). Reports
	// larger than one part go through the transfer manager.
	MinPartSize int64 = 5 * 1024 * 1024

	// maxReportBytes caps a downloaded report so a stray object under the
	// report prefix cannot exhaust memory.
	maxReportBytes int64 = 256 * 1024 * 1024
)

// ReportStore is the bucket the archiver writes backtest reports to.
type ReportStore struct {
	client *s3.Client
	bucket string
}

var (
	_ domain.BlobWriter = (*ReportStore)(nil)
	_ domain.BlobReader = (*ReportStore)(nil)
)

// NewReportStore creates a ReportStore over c's bucket.
func NewReportStore(c *Client) *ReportStore {
	return &ReportStore{client: c.S3(), bucket: c.Bucket()}
}

// Put uploads one report artifact. Anything above MinPartSize is sent in
// parts; the content type is kept on both paths.
func (s *ReportStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	in := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	}
	if !multipart(len(data)) {
		if _, err := s.client.PutObject(ctx, in); err != nil {
			return fmt.Errorf("s3blob: put %s: %w", key, err)
		}
		return nil
	}
	uploader := manager.NewUploader(s.client, func(u *manager.Uploader) {
		u.PartSize = MinPartSize
	})
	if _, err := uploader.Upload(ctx, in); err != nil {
		return fmt.Errorf("s3blob: multipart put %s (%d bytes): %w", key, len(data), err)
	}
	return nil
}

// Get downloads a report artifact. A missing key is domain.ErrNotFound.
func (s *ReportStore) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("s3blob: get %s: %w", key, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("s3blob: get %s: %w", key, err)
	}
	defer out.Body.Close()

	raw, err := readCapped(out.Body, maxReportBytes)
	if err != nil {
		return nil, fmt.Errorf("s3blob: get %s: %w", key, err)
	}
	return raw, nil
}

// List returns the objects under prefix across all pages. Folder markers
// (keys ending in "/") written by some S3 consoles are skipped.
func (s *ReportStore) List(ctx context.Context, prefix string) ([]domain.ObjectInfo, error) {
	var infos []domain.ObjectInfo
	pages := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3blob: list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/") {
				continue
			}
			info := domain.ObjectInfo{Path: key, Size: aws.ToInt64(obj.Size)}
			if obj.LastModified != nil {
				info.LastModified = *obj.LastModified
			}
			infos = append(infos, info)
		}
	}
	return infos, nil
}

// Exists reports whether key is already archived.
func (s *ReportStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("s3blob: head %s: %w", key, err)
}

func multipart(size int) bool { return int64(size) > MinPartSize }

var errReportTooLarge = errors.New("report exceeds size limit")

// readCapped reads r fully, failing once more than limit bytes arrive.
func readCapped(r io.Reader, limit int64) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > limit {
		return nil, fmt.Errorf("%w (%d bytes)", errReportTooLarge, limit)
	}
	return raw, nil
}

// isNotFound matches NoSuchKey, NotFound and bare 404 responses. HeadObject
// has no error body, so only the status code identifies it.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return true
	}
	var status interface{ HTTPStatusCode() int }
	return errors.As(err, &status) && status.HTTPStatusCode() == http.StatusNotFound
}
