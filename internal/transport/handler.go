package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/you-humble/recuploader/internal/domain"
	"github.com/you-humble/recuploader/internal/uploader"
)

const (
	formOverheadBytes = 1 << 20
	maxControlBytes   = 1 << 10
)

type Uploads interface {
	Admit(req domain.AdmitRequest) (string, error)
	Snapshot() domain.Snapshot
	Task(id string) (domain.TaskView, bool)
	Clear(id string) error
	Cancel(id string) error
	Sweep() int
	Memory() domain.MemorySummary
	Handle(msg uploader.ControlMessage) uploader.Response
}

type Events interface {
	Subscribe() (<-chan domain.Snapshot, func())
}

type handler struct {
	maxUploadBytes int64
	maxFileSizeMB  int64
	uploads        Uploads
	events         Events
}

func NewHandler(maxFileSizeMB int64, uploads Uploads, events Events) *handler {
	return &handler{
		maxUploadBytes: maxFileSizeMB<<20 + formOverheadBytes,
		maxFileSizeMB:  maxFileSizeMB,
		uploads:        uploads,
		events:         events,
	}
}

type admittedResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type sweepResponse struct {
	Evicted  int             `json:"evicted"`
	Snapshot domain.Snapshot `json:"snapshot"`
}

func (h *handler) upload(w http.ResponseWriter, r *http.Request) {
	logger := slog.With(
		slog.String("request_id", uuid.NewString()),
		slog.String("handler", "upload"),
		slog.String("remote_addr", r.RemoteAddr),
	)

	token, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "bearer token is required")
		return
	}

	defer r.Body.Close()
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			logger.Warn("upload body too large", slog.Int64("limit", tooBig.Limit))
			h.writeDomainError(w, fmt.Errorf("%w: body exceeds the %dMB limit", domain.ErrFileTooLarge, h.maxFileSizeMB))
			return
		}
		logger.Warn("ParseMultipartForm", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "unable to parse multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "field `file` is required")
		return
	}
	defer file.Close()

	payload, err := io.ReadAll(file)
	if err != nil {
		logger.Error("read file part", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "cannot read `file`")
		return
	}

	contentType := r.FormValue("content_type")
	if contentType == "" {
		contentType = header.Header.Get("Content-Type")
	}

	var metadata json.RawMessage
	if raw := strings.TrimSpace(r.FormValue("metadata")); raw != "" {
		if !json.Valid([]byte(raw)) {
			writeError(w, http.StatusBadRequest, "field `metadata` must be JSON")
			return
		}
		metadata = json.RawMessage(raw)
	}

	id, err := h.uploads.Admit(domain.AdmitRequest{
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		Payload:     payload,
		ContentType: contentType,
		Metadata:    metadata,
		AuthToken:   token,
	})
	if err != nil {
		logger.Info("upload rejected", slog.String("error", err.Error()))
		h.writeDomainError(w, err)
		return
	}

	logger.Info("upload admitted",
		slog.String("task_id", id),
		slog.String("file_name", header.Filename),
		slog.Int("size", len(payload)),
	)
	writeJSON(w, http.StatusAccepted, admittedResponse{ID: id})
}

func (h *handler) list(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.uploads.Snapshot())
}

func (h *handler) task(w http.ResponseWriter, r *http.Request) {
	view, ok := h.uploads.Task(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handler) clear(w http.ResponseWriter, r *http.Request) {
	if err := h.uploads.Clear(r.PathValue("id")); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) cancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.uploads.Cancel(id); err != nil {
		h.writeDomainError(w, err)
		return
	}

	view, ok := h.uploads.Task(id)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handler) sweep(w http.ResponseWriter, _ *http.Request) {
	evicted := h.uploads.Sweep()
	writeJSON(w, http.StatusOK, sweepResponse{Evicted: evicted, Snapshot: h.uploads.Snapshot()})
}

func (h *handler) memory(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.uploads.Memory())
}

// control accepts the same JSON envelopes as the NATS control subject.
// add-task carries the payload base64 encoded, so the body limit follows
// the file size limit.
func (h *handler) control(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes*4/3+maxControlBytes)

	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			h.writeDomainError(w, fmt.Errorf("%w: control message too large", domain.ErrFileTooLarge))
			return
		}
		writeError(w, http.StatusBadRequest, "cannot read body")
		return
	}

	msg, err := uploader.DecodeControl(data)
	if err != nil {
		writeJSON(w, statusFor(err), uploader.ErrorReport(err))
		return
	}

	resp := h.uploads.Handle(msg)
	status := http.StatusOK
	if resp.Type == uploader.RespErrorReport {
		status = statusForCode(resp.Code)
	}
	writeJSON(w, status, resp)
}

// events streams snapshots as server-sent events, starting with the
// current state. Slow readers only ever see the latest snapshot.
func (h *handler) events(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	snaps, unsubscribe := h.events.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, rc, h.uploads.Snapshot()); err != nil {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			if err := writeEvent(w, rc, snap); err != nil {
				slog.Debug("event stream closed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

func writeEvent(w io.Writer, rc *http.ResponseController, snap domain.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", uploader.RespStateSnapshot, data); err != nil {
		return err
	}
	return rc.Flush()
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	token = strings.TrimSpace(token)
	return token, ok && token != ""
}

func (h *handler) writeDomainError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	writeJSON(w, status, errorResponse{
		Error:   http.StatusText(status),
		Message: err.Error(),
		Code:    uploader.ErrorCode(err),
	})
}

func statusFor(err error) int {
	return statusForCode(uploader.ErrorCode(err))
}

func statusForCode(code string) int {
	switch code {
	case "file_too_large":
		return http.StatusRequestEntityTooLarge
	case "memory_exceeded":
		return http.StatusInsufficientStorage
	case "invalid_request", "unknown_control_message":
		return http.StatusBadRequest
	case "task_not_found":
		return http.StatusNotFound
	case "task_not_cancellable":
		return http.StatusConflict
	case "manager_stopped":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	if message == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("writeJSON", slog.String("error", err.Error()))
	}
}
