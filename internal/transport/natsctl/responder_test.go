package natsctl

import (
	"encoding/json"
	"testing"

	"github.com/you-humble/recuploader/internal/domain"
	"github.com/you-humble/recuploader/internal/uploader"
)

type recordingController struct {
	got []uploader.ControlMessage
}

func (c *recordingController) Handle(msg uploader.ControlMessage) uploader.Response {
	c.got = append(c.got, msg)
	mem := domain.MemorySummary{LimitMB: 500}
	return uploader.Response{Type: uploader.RespMemorySummary, Memory: &mem}
}

func TestHandleRoutesDecodedMessages(t *testing.T) {
	ctl := &recordingController{}
	r := NewResponder(nil, "uploads.control", "q", ctl)

	var resp uploader.Response
	if err := json.Unmarshal(r.handle([]byte(`{"type":"get-memory"}`)), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Type != uploader.RespMemorySummary || resp.Memory == nil || resp.Memory.LimitMB != 500 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(ctl.got) != 1 {
		t.Fatalf("expected one handled message, got %d", len(ctl.got))
	}
	if _, ok := ctl.got[0].(uploader.GetMemory); !ok {
		t.Fatalf("unexpected message %T", ctl.got[0])
	}
}

func TestHandleReportsUnknownMessages(t *testing.T) {
	ctl := &recordingController{}
	r := NewResponder(nil, "uploads.control", "q", ctl)

	var resp uploader.Response
	if err := json.Unmarshal(r.handle([]byte(`{"type":"shutdown"}`)), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Type != uploader.RespErrorReport || resp.Code != "unknown_control_message" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(ctl.got) != 0 {
		t.Fatalf("unknown messages must not reach the manager")
	}
}
