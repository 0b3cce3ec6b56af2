package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"github.com/raremarket/orderwatch/internal/domain"
)

// maxArchiveEvents caps one archive run. Confirmed history past the cutoff is
// expected to fit; a run that hits the cap reports it as an error so the
// retention window can be revisited.
const maxArchiveEvents = 500000

// multipartThreshold is the payload size above which the upload switches to
// the multipart manager.
const multipartThreshold = 8 * 1024 * 1024

// ArchiveImpl implements domain.Archiver by querying aged confirmed exchange
// events, serializing them to JSONL, and uploading the result to S3.
//
// Deletion of the archived records from the primary store is intentionally
// NOT performed here. That is a separate, explicit step to be executed after
// the archive has been verified.
type ArchiveImpl struct {
	writer  domain.BlobWriter
	history domain.ExchangeHistoryStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, history domain.ExchangeHistoryStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer:  writer,
		history: history,
	}
}

var _ domain.Archiver = (*ArchiveImpl)(nil)

// ArchiveExchangeHistory uploads all confirmed events older than the cutoff
// as one JSONL object at archive/exchange_history/YYYY-MM.jsonl and returns
// how many events were written. Pending and reverted events stay out of the
// archive; they are still live inputs to reduction.
func (a *ArchiveImpl) ArchiveExchangeHistory(ctx context.Context, before time.Time) (int64, error) {
	events, err := a.history.ListConfirmedBefore(ctx, before, maxArchiveEvents)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive history query: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}
	if len(events) == maxArchiveEvents {
		return 0, fmt.Errorf("s3blob: archive history: more than %d events before %v", maxArchiveEvents, before)
	}

	buf, err := marshalJSONL(events)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive history marshal: %w", err)
	}

	path := archivePath(before)
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), 0)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive history upload: %w", err)
	}

	return int64(len(events)), nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/exchange_history/2025-01.jsonl
func archivePath(before time.Time) string {
	return fmt.Sprintf("archive/exchange_history/%s.jsonl", before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
