package command

import "fmt"

// Type identifies the operation a Command carries. Values are wire tags.
type Type uint8

const (
	TypeUnknown Type = iota
	TypeGetLogBytesRequest
	TypeGetLogBytesResponse
	TypeViewWholeLogRequest
	TypeViewWholeLogResponse
	TypeRollViewLogRequest
	TypeRollViewLogResponse
	TypeRemoveTaskLogRequest
	TypeRemoveTaskLogResponse
)

var typeNames = map[Type]string{
	TypeUnknown:               "UNKNOWN",
	TypeGetLogBytesRequest:    "GET_LOG_BYTES_REQUEST",
	TypeGetLogBytesResponse:   "GET_LOG_BYTES_RESPONSE",
	TypeViewWholeLogRequest:   "VIEW_WHOLE_LOG_REQUEST",
	TypeViewWholeLogResponse:  "VIEW_WHOLE_LOG_RESPONSE",
	TypeRollViewLogRequest:    "ROLL_VIEW_LOG_REQUEST",
	TypeRollViewLogResponse:   "ROLL_VIEW_LOG_RESPONSE",
	TypeRemoveTaskLogRequest:  "REMOVE_TASK_LOG_REQUEST",
	TypeRemoveTaskLogResponse: "REMOVE_TASK_LOG_RESPONSE",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// ResponseType returns the response tag paired with a request tag.
func (t Type) ResponseType() (Type, bool) {
	switch t {
	case TypeGetLogBytesRequest:
		return TypeGetLogBytesResponse, true
	case TypeViewWholeLogRequest:
		return TypeViewWholeLogResponse, true
	case TypeRollViewLogRequest:
		return TypeRollViewLogResponse, true
	case TypeRemoveTaskLogRequest:
		return TypeRemoveTaskLogResponse, true
	default:
		return TypeUnknown, false
	}
}

// Flags are transport-owned bits carried next to the body.
type Flags uint8

const (
	// FlagCompressed marks a zstd-compressed body on the wire.
	FlagCompressed Flags = 1 << iota
)

// Command is the envelope exchanged over a connection.
type Command struct {
	Type   Type
	Opaque uint64 // correlation id chosen by the requester, echoed by the responder
	Flags  Flags
	Body   []byte
}

func (c *Command) String() string {
	return fmt.Sprintf("Command{type=%s, opaque=%d, body=%dB}", c.Type, c.Opaque, len(c.Body))
}

// GetLogBytesRequest asks for the raw content of a log file.
type GetLogBytesRequest struct {
	Path string `json:"path"`
}

// GetLogBytesResponse carries raw file bytes; empty when the file is unreadable.
type GetLogBytesResponse struct {
	Data []byte `json:"data"`
}

// ViewLogRequest asks for the whole log as text.
type ViewLogRequest struct {
	Path string `json:"path"`
}

// ViewLogResponse carries the whole log text.
type ViewLogResponse struct {
	Msg string `json:"msg"`
}

// RollViewLogRequest asks for a window of lines: skip SkipLineNum, return up to Limit.
type RollViewLogRequest struct {
	Path        string `json:"path"`
	SkipLineNum int    `json:"skipLineNum"`
	Limit       int    `json:"limit"`
}

// RollViewLogResponse carries the selected lines, each terminated by LineTerminator.
type RollViewLogResponse struct {
	Msg string `json:"msg"`
}

// RemoveTaskLogRequest lists every log file of one task to delete.
type RemoveTaskLogRequest struct {
	Path []string `json:"path"`
}

// RemoveTaskLogResponse reports batch-level success.
type RemoveTaskLogResponse struct {
	Status bool `json:"status"`
}

// LineTerminator is appended after every line returned by text log views.
const LineTerminator = "\r\n"
