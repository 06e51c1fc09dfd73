package recording

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/you-humble/recuploader/internal/domain"
)

const (
	maxResponseBody  = 1 << 20
	genericRejection = "upload failed"
)

type Config struct {
	Endpoint          string
	ThumbnailEndpoint string
	Timeout           time.Duration
}

// Client talks to the recordings API: one multipart POST per recording,
// plus an optional thumbnail request once the recording exists.
type Client struct {
	http              *http.Client
	endpoint          string
	thumbnailEndpoint string
}

func New(cfg Config, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		http:              hc,
		endpoint:          cfg.Endpoint,
		thumbnailEndpoint: cfg.ThumbnailEndpoint,
	}
}

func (c *Client) CreateRecording(
	ctx context.Context,
	upload domain.RecordingUpload,
	authToken string,
	progress func(sent, total int64),
) (string, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeForm(mw, upload, progress))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, pr)
	if err != nil {
		pr.CloseWithError(err)
		return "", fmt.Errorf("%w: build request: %w", domain.ErrTransferFailed, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrTransferFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %w", domain.ErrTransferFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &domain.TransferError{
			Status:  resp.StatusCode,
			Message: rejectionMessage(body),
			Err:     domain.ErrTransferRejected,
		}
	}

	id, err := recordingID(body)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrTransferFailed, err)
	}
	return id, nil
}

// Finalize asks the API to render a thumbnail for a created recording.
func (c *Client) Finalize(ctx context.Context, in domain.FinalizeInput) error {
	if c.thumbnailEndpoint == "" {
		return nil
	}

	payload, err := json.Marshal(map[string]string{"recordingId": in.ResultID})
	if err != nil {
		return fmt.Errorf("thumbnail: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.thumbnailEndpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("thumbnail: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if in.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+in.AuthToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("thumbnail: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("thumbnail: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func writeForm(mw *multipart.Writer, u domain.RecordingUpload, progress func(sent, total int64)) error {
	if err := mw.WriteField("title", u.Title); err != nil {
		return err
	}
	if u.Description != "" {
		if err := mw.WriteField("description", u.Description); err != nil {
			return err
		}
	}

	meta := string(u.Metadata)
	if strings.TrimSpace(meta) == "" {
		meta = "{}"
	}
	if err := mw.WriteField("metadata", meta); err != nil {
		return err
	}

	contentType := u.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, u.Filename))
	h.Set("Content-Type", contentType)

	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}

	src := &countingReader{
		r:      bytes.NewReader(u.Payload),
		total:  int64(len(u.Payload)),
		report: progress,
	}
	if _, err := io.Copy(part, src); err != nil {
		return err
	}

	return mw.Close()
}

type countingReader struct {
	r      io.Reader
	sent   int64
	total  int64
	report func(sent, total int64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.sent += int64(n)
		if c.report != nil {
			c.report(c.sent, c.total)
		}
	}
	return n, err
}

func rejectionMessage(body []byte) string {
	var resp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || strings.TrimSpace(resp.Error) == "" {
		return genericRejection
	}
	return resp.Error
}

func recordingID(body []byte) (string, error) {
	var resp struct {
		ID          string `json:"id"`
		RecordingID string `json:"recordingId"`
		Recording   *struct {
			ID string `json:"id"`
		} `json:"recording"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	switch {
	case resp.ID != "":
		return resp.ID, nil
	case resp.RecordingID != "":
		return resp.RecordingID, nil
	case resp.Recording != nil && resp.Recording.ID != "":
		return resp.Recording.ID, nil
	}
	return "", fmt.Errorf("response carries no recording id")
}
