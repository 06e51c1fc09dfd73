package uploader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/you-humble/recuploader/internal/domain"
)

const (
	// transfer progress is spread over 0..progressTransferMax while the body streams
	progressTransferMax = 80
	progressTransferred = 85
	progressDone        = 100

	genericUploadError = "upload failed"
)

type taskUpdater interface {
	setProgress(id string, progress int)
	markTransferred(id, resultID string)
	markCompleted(id string)
	markFailed(id, reason string)
}

type executor struct {
	client    RecordingClient
	finalizer Finalizer
	updates   taskUpdater
	now       func() time.Time
}

// run always leaves the task in a terminal state. Errors and panics are
// turned into a failed task, never returned.
func (x *executor) run(ctx context.Context, job uploadJob) {
	l := slog.With(slog.String("task_id", job.id))

	defer func() {
		if r := recover(); r != nil {
			l.Error("panic recovered in upload executor",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			x.updates.markFailed(job.id, genericUploadError)
		}
	}()

	filename := recordingFilename(job.contentType, x.now())
	progress := &progressReporter{id: job.id, updates: x.updates}

	start := time.Now()
	resultID, err := x.client.CreateRecording(ctx,
		domain.RecordingUpload{
			Title:       job.title,
			Description: job.description,
			Metadata:    job.metadata,
			Filename:    filename,
			ContentType: job.contentType,
			Payload:     job.payload,
		},
		job.authToken,
		progress.report,
	)
	if err != nil {
		reason := failureReason(ctx, err)
		l.Error("upload failed",
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
		x.updates.markFailed(job.id, reason)
		return
	}

	x.updates.markTransferred(job.id, resultID)
	l.Info("upload transferred",
		slog.String("result_id", resultID),
		slog.Duration("duration", time.Since(start)),
	)

	if x.finalizer != nil {
		err := x.finalizer.Finalize(ctx, domain.FinalizeInput{
			TaskID:      job.id,
			ResultID:    resultID,
			AuthToken:   job.authToken,
			Filename:    filename,
			ContentType: job.contentType,
			Payload:     job.payload,
		})
		if err != nil {
			l.Warn("finalization skipped",
				slog.String("result_id", resultID),
				slog.String("error", fmt.Errorf("%w: %w", domain.ErrFinalizationFailed, err).Error()),
			)
		}
	}

	x.updates.markCompleted(job.id)
}

func failureReason(ctx context.Context, err error) string {
	if errors.Is(ctx.Err(), context.Canceled) {
		return domain.ErrCancelled.Error()
	}

	var te *domain.TransferError
	if errors.As(err, &te) && te.Message != "" {
		return te.Message
	}
	return genericUploadError
}

// recordingFilename picks the extension from the declared content type:
// anything mentioning mp4 is mp4, the rest is webm.
func recordingFilename(contentType string, at time.Time) string {
	ext := "webm"
	if strings.Contains(strings.ToLower(contentType), "mp4") {
		ext = "mp4"
	}
	return fmt.Sprintf("recording_%d.%s", at.UnixMilli(), ext)
}

type progressReporter struct {
	id      string
	updates taskUpdater
	last    int
}

func (p *progressReporter) report(sent, total int64) {
	if total <= 0 {
		return
	}

	pct := int(sent * progressTransferMax / total)
	if pct > progressTransferMax {
		pct = progressTransferMax
	}
	if pct <= p.last {
		return
	}

	p.last = pct
	p.updates.setProgress(p.id, pct)
}
