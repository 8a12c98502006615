// Package attachments decodes, checks and stores the files submitted with a request.
// Every file gets its own outcome; one bad file never fails the batch.
package attachments

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/gotrs-io/gotrs-intake/internal/metrics"
	"github.com/gotrs-io/gotrs-intake/internal/models"
	"github.com/gotrs-io/gotrs-intake/internal/storage"
)

// ErrBadEncoding marks base64 data that does not decode.
var ErrBadEncoding = errors.New("Poorly encoded base64 data")

// ErrTruncated marks a file that arrived larger than the transport could buffer.
var ErrTruncated = errors.New("File is too large")

// Uploader persists decoded attachment bytes and returns the storage identifier.
type Uploader interface {
	Upload(ctx context.Context, a *models.Attachment) (string, error)
}

// StorageUploader uploads into a storage.Backend.
type StorageUploader struct {
	backend storage.Backend
}

func NewStorageUploader(backend storage.Backend) *StorageUploader {
	return &StorageUploader{backend: backend}
}

func (u *StorageUploader) Upload(ctx context.Context, a *models.Attachment) (string, error) {
	meta := map[string]string{}
	if a.CID != "" {
		meta["cid"] = a.CID
	}
	ref, err := u.backend.Store(ctx, &storage.FileContent{
		Name:        a.Name,
		ContentType: a.Type,
		Size:        int64(len(a.Data)),
		Data:        a.Data,
		Metadata:    meta,
		Created:     time.Now().UTC(),
	})
	if err != nil {
		return "", err
	}
	return ref.ID, nil
}

// Outcome is the result of ingesting one file. Exactly one field is set.
type Outcome struct {
	FileID string
	Err    error
}

// Ingestor runs the decode, policy and upload steps.
type Ingestor struct {
	uploader Uploader
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

type Option func(*Ingestor)

func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Ingestor) { i.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(i *Ingestor) {
		if l != nil {
			i.logger = l
		}
	}
}

func NewIngestor(uploader Uploader, opts ...Option) *Ingestor {
	i := &Ingestor{uploader: uploader, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Ingest processes files in order under policy. body is the message text used to mark
// attachments referenced as cid: inline. Each attachment gets FileID or Error set, and the
// matching outcomes are returned. Stored files are never removed, even if the request is
// later rejected.
func (i *Ingestor) Ingest(ctx context.Context, files []*models.Attachment, policy Policy, body string) []Outcome {
	out := make([]Outcome, len(files))
	for idx, f := range files {
		if f == nil {
			continue
		}
		out[idx] = i.ingestOne(ctx, f, policy, idx)
		if out[idx].Err != nil {
			f.FileID = ""
			f.Error = fmt.Sprintf("%s: %s", f.Name, out[idx].Err.Error())
			i.logger.Info("attachment rejected", zap.String("name", f.Name), zap.Error(out[idx].Err))
			continue
		}
		f.FileID = out[idx].FileID
		f.Error = ""
		if f.CID != "" && strings.Contains(body, "cid:"+f.CID) {
			f.Inline = true
		}
	}
	return out
}

// Drop discards files for a field that does not accept attachments.
func (i *Ingestor) Drop(files []*models.Attachment) []*models.Attachment {
	for range files {
		i.metrics.Attachment("dropped")
	}
	if len(files) > 0 {
		i.logger.Debug("attachments disabled, dropping files", zap.Int("count", len(files)))
	}
	return nil
}

func (i *Ingestor) ingestOne(ctx context.Context, f *models.Attachment, policy Policy, idx int) Outcome {
	if f.Truncated {
		i.metrics.Attachment("rejected")
		return Outcome{Err: fmt.Errorf("%w (%d bytes)", ErrTruncated, f.Size)}
	}
	if strings.EqualFold(f.Encoding, models.EncodingBase64) {
		data, err := decodeBase64(f.Data)
		if err != nil {
			i.metrics.Attachment("decode_error")
			return Outcome{Err: ErrBadEncoding}
		}
		f.Data = data
		f.Encoding = models.EncodingRaw
	}
	f.Size = int64(len(f.Data))

	if err := policy.Check(f.Name, f.Type, f.Size, idx); err != nil {
		i.metrics.Attachment("rejected")
		return Outcome{Err: err}
	}
	id, err := i.uploader.Upload(ctx, f)
	if err != nil {
		i.metrics.Attachment("rejected")
		return Outcome{Err: fmt.Errorf("Unable to save file: %w", err)}
	}
	if id == "" {
		i.metrics.Attachment("rejected")
		return Outcome{Err: errors.New("Unable to save file")}
	}
	i.metrics.Attachment("stored")
	return Outcome{FileID: id}
}

// decodeBase64 decodes strictly, ignoring line breaks and other whitespace. An empty
// result counts as a failure.
func decodeBase64(raw []byte) ([]byte, error) {
	clean := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, string(raw))
	data, err := base64.StdEncoding.Strict().DecodeString(clean)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty data")
	}
	return data, nil
}
