package upload

import (
	"context"
	"log/slog"
	"time"

	"github.com/ruteri/nexus-storage-gateway/interfaces"
	"github.com/ruteri/nexus-storage-gateway/metrics"
)

// Ingester stores content and returns its CID.
type Ingester interface {
	Add(ctx context.Context, data []byte, name string) (interfaces.CID, error)
}

// Registrar records ingested content.
type Registrar interface {
	AddFile(ctx context.Context, ingest interfaces.IngestResult) (interfaces.FileRecord, error)
}

// Input is one file handed to the uploader.
type Input struct {
	Name     string
	MimeType string
	Data     []byte
}

// Result is the outcome for one file of a batch. Exactly one of Record and
// Err is set.
type Result struct {
	Name   string                 `json:"name"`
	Record *interfaces.FileRecord `json:"record,omitempty"`
	Err    error                  `json:"-"`
}

// ProgressFunc is called after each file of a batch with the number of files
// processed so far.
type ProgressFunc func(done, total int)

// Uploader validates files, ingests them through the gateway and registers
// them in the catalogue.
type Uploader struct {
	gateway  Ingester
	registry Registrar
	policy   Policy
	log      *slog.Logger
}

// NewUploader creates an uploader enforcing policy.
func NewUploader(gateway Ingester, registry Registrar, policy Policy, log *slog.Logger) *Uploader {
	return &Uploader{
		gateway:  gateway,
		registry: registry,
		policy:   policy,
		log:      log,
	}
}

// Policy returns the enforced policy.
func (u *Uploader) Policy() Policy {
	return u.policy
}

// Upload validates, ingests and registers a single file.
func (u *Uploader) Upload(ctx context.Context, in Input) (interfaces.FileRecord, error) {
	start := time.Now()
	mimeType := DetectMimeType(in.MimeType, in.Data)
	size := int64(len(in.Data))

	if err := u.policy.Check(size, mimeType); err != nil {
		metrics.UploadResults.WithLabelValues("rejected").Inc()
		u.log.Info("Upload rejected",
			slog.String("name", in.Name),
			slog.String("mimeType", mimeType),
			slog.Int64("size", size),
			"err", err)
		return interfaces.FileRecord{}, err
	}

	cid, err := u.gateway.Add(ctx, in.Data, in.Name)
	if err != nil {
		metrics.UploadResults.WithLabelValues("failed").Inc()
		u.log.Error("Failed to ingest file", slog.String("name", in.Name), "err", err)
		return interfaces.FileRecord{}, err
	}

	record, err := u.registry.AddFile(ctx, interfaces.IngestResult{
		Name:     in.Name,
		Size:     size,
		MimeType: mimeType,
		CID:      cid,
	})
	if err != nil {
		metrics.UploadResults.WithLabelValues("failed").Inc()
		u.log.Error("Failed to register file",
			slog.String("name", in.Name),
			slog.String("cid", cid.String()),
			"err", err)
		return interfaces.FileRecord{}, err
	}

	metrics.UploadResults.WithLabelValues("ok").Inc()
	metrics.UploadedBytes.Add(float64(size))
	u.log.Info("File uploaded",
		slog.String("name", in.Name),
		slog.String("cid", cid.String()),
		slog.Int64("size", size),
		slog.Duration("duration", time.Since(start)))
	return record, nil
}

// UploadBatch uploads files one after another. A failing file does not stop
// the batch. Once ctx is done the remaining files fail with its error.
func (u *Uploader) UploadBatch(ctx context.Context, inputs []Input, progress ProgressFunc) []Result {
	results := make([]Result, 0, len(inputs))
	for i, in := range inputs {
		result := Result{Name: in.Name}
		if err := ctx.Err(); err != nil {
			result.Err = err
		} else if record, err := u.Upload(ctx, in); err != nil {
			result.Err = err
		} else {
			result.Record = &record
		}
		results = append(results, result)

		if progress != nil {
			progress(i+1, len(inputs))
		}
	}
	return results
}
