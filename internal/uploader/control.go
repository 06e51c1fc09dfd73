package uploader

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/you-humble/recuploader/internal/domain"
)

const (
	MsgAddTask    = "add-task"
	MsgGetState   = "get-state"
	MsgClearTask  = "clear-task"
	MsgForceSweep = "force-sweep"
	MsgGetMemory  = "get-memory"
	MsgCancelTask = "cancel-task"
)

const (
	RespStateSnapshot = "state-snapshot"
	RespTaskAdmitted  = "task-admitted"
	RespMemorySummary = "memory-summary"
	RespErrorReport   = "error-report"
)

// ControlMessage is one of AddTask, GetState, ClearTask, ForceSweep,
// GetMemory or CancelTask. The set is closed: only this package can add
// variants.
type ControlMessage interface {
	controlMessage()
}

type AddTask struct {
	Request domain.AdmitRequest
}

type GetState struct{}

type ClearTask struct {
	ID string
}

type ForceSweep struct{}

type GetMemory struct{}

type CancelTask struct {
	ID string
}

func (AddTask) controlMessage()    {}
func (GetState) controlMessage()   {}
func (ClearTask) controlMessage()  {}
func (ForceSweep) controlMessage() {}
func (GetMemory) controlMessage()  {}
func (CancelTask) controlMessage() {}

type controlEnvelope struct {
	Type string               `json:"type"`
	ID   string               `json:"id,omitempty"`
	Task *domain.AdmitRequest `json:"task,omitempty"`
}

// DecodeControl parses a JSON control envelope. Unknown types are rejected
// here, so Handle only ever sees known variants.
func DecodeControl(data []byte) (ControlMessage, error) {
	var env controlEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: decode control message: %v", domain.ErrInvalidRequest, err)
	}

	switch env.Type {
	case MsgAddTask:
		if env.Task == nil {
			return nil, fmt.Errorf("%w: %s requires task", domain.ErrInvalidRequest, env.Type)
		}
		return AddTask{Request: *env.Task}, nil
	case MsgGetState:
		return GetState{}, nil
	case MsgClearTask:
		if strings.TrimSpace(env.ID) == "" {
			return nil, fmt.Errorf("%w: %s requires id", domain.ErrInvalidRequest, env.Type)
		}
		return ClearTask{ID: env.ID}, nil
	case MsgForceSweep:
		return ForceSweep{}, nil
	case MsgGetMemory:
		return GetMemory{}, nil
	case MsgCancelTask:
		if strings.TrimSpace(env.ID) == "" {
			return nil, fmt.Errorf("%w: %s requires id", domain.ErrInvalidRequest, env.Type)
		}
		return CancelTask{ID: env.ID}, nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownControlMessage, env.Type)
	}
}

type Response struct {
	Type     string                `json:"type"`
	TaskID   string                `json:"task_id,omitempty"`
	Evicted  int                   `json:"evicted,omitempty"`
	Snapshot *domain.Snapshot      `json:"snapshot,omitempty"`
	Memory   *domain.MemorySummary `json:"memory,omitempty"`
	Error    string                `json:"error,omitempty"`
	Code     string                `json:"code,omitempty"`
}

func (m *Manager) Handle(msg ControlMessage) Response {
	switch msg := msg.(type) {
	case AddTask:
		id, err := m.Admit(msg.Request)
		if err != nil {
			return ErrorReport(err)
		}
		return Response{Type: RespTaskAdmitted, TaskID: id}

	case GetState:
		return m.stateResponse(0)

	case ClearTask:
		if err := m.Clear(msg.ID); err != nil {
			return ErrorReport(err)
		}
		return m.stateResponse(0)

	case ForceSweep:
		return m.stateResponse(m.Sweep())

	case GetMemory:
		mem := m.Memory()
		return Response{Type: RespMemorySummary, Memory: &mem}

	case CancelTask:
		if err := m.Cancel(msg.ID); err != nil {
			return ErrorReport(err)
		}
		return m.stateResponse(0)

	default:
		return ErrorReport(fmt.Errorf("%w: %T", domain.ErrUnknownControlMessage, msg))
	}
}

func (m *Manager) stateResponse(evicted int) Response {
	snap := m.Snapshot()
	return Response{Type: RespStateSnapshot, Evicted: evicted, Snapshot: &snap}
}

// ErrorReport turns an error into the error-report response, tagging it with
// a stable code for the known failure kinds.
func ErrorReport(err error) Response {
	return Response{
		Type:  RespErrorReport,
		Error: err.Error(),
		Code:  ErrorCode(err),
	}
}

func ErrorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrFileTooLarge):
		return "file_too_large"
	case errors.Is(err, domain.ErrMemoryExceeded):
		return "memory_exceeded"
	case errors.Is(err, domain.ErrUnknownControlMessage):
		return "unknown_control_message"
	case errors.Is(err, domain.ErrTaskNotFound):
		return "task_not_found"
	case errors.Is(err, domain.ErrTaskNotCancellable):
		return "task_not_cancellable"
	case errors.Is(err, domain.ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, domain.ErrManagerStopped):
		return "manager_stopped"
	default:
		return "internal"
	}
}
