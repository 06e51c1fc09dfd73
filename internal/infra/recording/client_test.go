package recording

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/you-humble/recuploader/internal/domain"
)

type received struct {
	auth        string
	title       string
	description string
	metadata    string
	filename    string
	fileType    string
	file        []byte
}

func recordingServer(t *testing.T, status int, body string) (*httptest.Server, *received) {
	t.Helper()
	got := &received{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.auth = r.Header.Get("Authorization")

		mr, err := r.MultipartReader()
		if err != nil {
			t.Errorf("multipart reader: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		for {
			p, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				t.Errorf("next part: %v", err)
				return
			}
			data, _ := io.ReadAll(p)
			switch p.FormName() {
			case "title":
				got.title = string(data)
			case "description":
				got.description = string(data)
			case "metadata":
				got.metadata = string(data)
			case "file":
				got.filename = p.FileName()
				got.fileType = p.Header.Get("Content-Type")
				got.file = data
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func upload() domain.RecordingUpload {
	return domain.RecordingUpload{
		Title:       "standup",
		Description: "daily",
		Metadata:    json.RawMessage(`{"duration":42}`),
		Filename:    "recording_1700000000000.webm",
		ContentType: "video/webm",
		Payload:     []byte(strings.Repeat("x", 100_000)),
	}
}

func TestCreateRecordingSendsMultipartForm(t *testing.T) {
	srv, got := recordingServer(t, http.StatusCreated, `{"id":"rec-1"}`)
	c := New(Config{Endpoint: srv.URL}, srv.Client())

	var mu sync.Mutex
	var last, total int64
	id, err := c.CreateRecording(context.Background(), upload(), "secret", func(sent, all int64) {
		mu.Lock()
		defer mu.Unlock()
		if sent < last {
			t.Errorf("progress went backwards: %d after %d", sent, last)
		}
		last, total = sent, all
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id != "rec-1" {
		t.Fatalf("unexpected id %q", id)
	}

	if got.auth != "Bearer secret" {
		t.Fatalf("unexpected auth header %q", got.auth)
	}
	if got.title != "standup" || got.description != "daily" || got.metadata != `{"duration":42}` {
		t.Fatalf("unexpected fields %+v", got)
	}
	if got.filename != "recording_1700000000000.webm" || got.fileType != "video/webm" || len(got.file) != 100_000 {
		t.Fatalf("unexpected file part name=%q type=%q len=%d", got.filename, got.fileType, len(got.file))
	}

	mu.Lock()
	defer mu.Unlock()
	if last != 100_000 || total != 100_000 {
		t.Fatalf("progress did not reach the end: %d/%d", last, total)
	}
}

func TestCreateRecordingOmitsEmptyDescription(t *testing.T) {
	srv, got := recordingServer(t, http.StatusOK, `{"recordingId":"rec-2"}`)
	c := New(Config{Endpoint: srv.URL}, srv.Client())

	u := upload()
	u.Description = ""
	u.Metadata = nil
	id, err := c.CreateRecording(context.Background(), u, "", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id != "rec-2" || got.description != "" || got.metadata != "{}" || got.auth != "" {
		t.Fatalf("unexpected request id=%q %+v", id, got)
	}
}

func TestCreateRecordingParsesNestedID(t *testing.T) {
	srv, _ := recordingServer(t, http.StatusOK, `{"recording":{"id":"rec-3"}}`)
	c := New(Config{Endpoint: srv.URL}, srv.Client())

	id, err := c.CreateRecording(context.Background(), upload(), "t", nil)
	if err != nil || id != "rec-3" {
		t.Fatalf("unexpected id=%q err=%v", id, err)
	}
}

func TestCreateRecordingRejected(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"server message", `{"error":"disk full"}`, "disk full"},
		{"no message", `{}`, "upload failed"},
		{"not json", `<html>oops</html>`, "upload failed"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, _ := recordingServer(t, http.StatusInternalServerError, tc.body)
			c := New(Config{Endpoint: srv.URL}, srv.Client())

			_, err := c.CreateRecording(context.Background(), upload(), "t", nil)
			if !errors.Is(err, domain.ErrTransferRejected) {
				t.Fatalf("expected ErrTransferRejected, got %v", err)
			}
			var te *domain.TransferError
			if !errors.As(err, &te) || te.Message != tc.want || te.Status != http.StatusInternalServerError {
				t.Fatalf("unexpected transfer error %#v", te)
			}
		})
	}
}

func TestCreateRecordingMalformedSuccess(t *testing.T) {
	srv, _ := recordingServer(t, http.StatusOK, `{"ok":true}`)
	c := New(Config{Endpoint: srv.URL}, srv.Client())

	if _, err := c.CreateRecording(context.Background(), upload(), "t", nil); !errors.Is(err, domain.ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
}

func TestCreateRecordingTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(Config{Endpoint: url}, nil)
	if _, err := c.CreateRecording(context.Background(), upload(), "t", nil); !errors.Is(err, domain.ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
}

func TestFinalizeRequestsThumbnail(t *testing.T) {
	var gotAuth, gotID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var body struct {
			RecordingID string `json:"recordingId"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotID = body.RecordingID
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL, ThumbnailEndpoint: srv.URL + "/thumbnail"}, srv.Client())
	if err := c.Finalize(context.Background(), domain.FinalizeInput{ResultID: "rec-9", AuthToken: "tok"}); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if gotAuth != "Bearer tok" || gotID != "rec-9" {
		t.Fatalf("unexpected thumbnail request auth=%q id=%q", gotAuth, gotID)
	}
}

func TestFinalizeReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL, ThumbnailEndpoint: srv.URL}, srv.Client())
	if err := c.Finalize(context.Background(), domain.FinalizeInput{ResultID: "rec-9"}); err == nil {
		t.Fatalf("expected error for 502")
	}

	noThumb := New(Config{Endpoint: srv.URL}, srv.Client())
	if err := noThumb.Finalize(context.Background(), domain.FinalizeInput{ResultID: "rec-9"}); err != nil {
		t.Fatalf("finalize without endpoint must be a no-op, got %v", err)
	}
}
