package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/dejavu-markets/dejavu/internal/domain"
)

// Archiver implements domain.SettlementArchiver by uploading one JSON report
// per resolved market. Reports are written once at resolution and never
// mutated, so the object key carries no version component.
type Archiver struct {
	client *s3.Client
	writer *Writer
	bucket string
}

// NewArchiver creates an Archiver over the given client.
func NewArchiver(c *Client) *Archiver {
	return &Archiver{
		client: c.S3(),
		writer: NewWriter(c),
		bucket: c.Bucket(),
	}
}

// reportPath builds the object key for a market's settlement report.
//
//	settlements/<market-id>.json
func reportPath(marketID string) string {
	return "settlements/" + marketID + ".json"
}

// Archive serializes the report and uploads it.
func (a *Archiver) Archive(ctx context.Context, report domain.SettlementReport) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("s3blob: marshal settlement report %s: %w", report.MarketID, err)
	}

	path := reportPath(report.MarketID)
	if err := a.writer.Put(ctx, path, &buf, "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive settlement %s: %w", report.MarketID, err)
	}
	return nil
}

// Load fetches a previously archived settlement report, failing with
// domain.ErrNotFound when the market was never archived.
func (a *Archiver) Load(ctx context.Context, marketID string) (domain.SettlementReport, error) {
	path := reportPath(marketID)
	output, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		if isNotFound(err) {
			return domain.SettlementReport{}, fmt.Errorf("s3blob: load settlement %s: %w", marketID, domain.ErrNotFound)
		}
		return domain.SettlementReport{}, fmt.Errorf("s3blob: load settlement %s: %w", marketID, err)
	}
	defer output.Body.Close()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return domain.SettlementReport{}, fmt.Errorf("s3blob: read settlement %s: %w", marketID, err)
	}
	var report domain.SettlementReport
	if err := json.Unmarshal(data, &report); err != nil {
		return domain.SettlementReport{}, fmt.Errorf("s3blob: decode settlement %s: %w", marketID, err)
	}
	return report, nil
}

// isNotFound reports whether the error indicates a missing S3 object. It
// checks the SDK typed errors and falls back to the HTTP status for
// S3-compatible providers that return a bare 404.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}

	type httpResponseError interface {
		HTTPStatusCode() int
	}
	var httpErr httpResponseError
	if errors.As(err, &httpErr) && httpErr.HTTPStatusCode() == 404 {
		return true
	}
	return false
}

// Compile-time interface check.
var _ domain.SettlementArchiver = (*Archiver)(nil)
