// Package protocol defines the JSON frames exchanged between the voice
// client and the chat gateway. Every frame is an object with a "type"
// discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Client to server frame types.
const (
	TypeText        = "text"
	TypeInterrupt   = "interrupt"
	TypeReset       = "reset"
	TypeSwitchModel = "switch_model"
)

// Server to client frame types.
const (
	TypeConnectionEstablished = "connection_established"
	TypeProcessingStart       = "processing_start"
	TypeProcessingEnd         = "processing_end"
	TypeResponse              = "response"
	TypeError                 = "error"
	TypeQuotaExceeded         = "quota_exceeded"
	TypeModelSwitched         = "model_switched"
	TypeInterrupted           = "interrupted"
	TypeResetComplete         = "reset_complete"
)

// Error codes carried by ServerError.Code.
const (
	CodeDailyQuotaExceeded = "DailyQuotaExceeded"
	CodeRateLimited        = "RateLimited"
	CodeUnknown            = "Unknown"
)

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// IsUnsupported reports whether err is a well-formed frame of a type this
// package does not know about.
func IsUnsupported(err error) bool {
	de, ok := err.(*DecodeError)
	return ok && de != nil && de.Code == "unsupported"
}

// Turn is one user or assistant contribution. Timestamp is epoch millis.
type Turn struct {
	Role      string `json:"role"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Envelope holds the fields every client frame may carry.
type Envelope struct {
	Type     string `json:"type"`
	Language string `json:"language,omitempty"`
}

type ClientText struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
	Context  []Turn `json:"context,omitempty"`
}

type ClientInterrupt struct {
	Type string `json:"type"`
}

type ClientReset struct {
	Type string `json:"type"`
}

type ClientSwitchModel struct {
	Type  string `json:"type"`
	Model string `json:"model,omitempty"`
}

// DecodeClientMessage decodes one client frame. The returned envelope is
// valid whenever the frame is a JSON object, even if err is an unsupported
// type error.
func DecodeClientMessage(data []byte) (Envelope, any, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, nil, badRequest("invalid json frame", "")
	}
	env.Type = strings.TrimSpace(env.Type)
	env.Language = strings.TrimSpace(env.Language)
	if env.Type == "" {
		return env, nil, badRequest("missing type", "type")
	}

	switch env.Type {
	case TypeText:
		var msg ClientText
		if err := json.Unmarshal(data, &msg); err != nil {
			return env, nil, badRequest("invalid text frame", "")
		}
		return env, msg, nil
	case TypeInterrupt:
		return env, ClientInterrupt{Type: TypeInterrupt}, nil
	case TypeReset:
		return env, ClientReset{Type: TypeReset}, nil
	case TypeSwitchModel:
		var msg ClientSwitchModel
		if err := json.Unmarshal(data, &msg); err != nil {
			return env, nil, badRequest("invalid switch_model frame", "")
		}
		msg.Model = strings.TrimSpace(msg.Model)
		return env, msg, nil
	default:
		return env, nil, unsupported("unsupported message type", "type")
	}
}

type ServerConnectionEstablished struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId"`
}

type ServerProcessingStart struct {
	Type string `json:"type"`
}

type ServerProcessingEnd struct {
	Type string `json:"type"`
}

type ServerResponse struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type ServerError struct {
	Type         string `json:"type"`
	Code         string `json:"code"`
	Message      string `json:"message"`
	RetryAfterMS *int64 `json:"retryAfterMs,omitempty"`
}

type ServerQuotaExceeded struct {
	Type       string `json:"type"`
	Model      string `json:"model"`
	ResetsAtMS int64  `json:"resetsAtMs"`
}

type ServerModelSwitched struct {
	Type  string `json:"type"`
	Model string `json:"model"`
}

type ServerInterrupted struct {
	Type string `json:"type"`
}

type ServerResetComplete struct {
	Type string `json:"type"`
}

// DecodeServerMessage decodes one server frame into its typed struct.
func DecodeServerMessage(data []byte) (any, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(env.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	var target any
	switch typ {
	case TypeConnectionEstablished:
		target = &ServerConnectionEstablished{}
	case TypeProcessingStart:
		return ServerProcessingStart{Type: typ}, nil
	case TypeProcessingEnd:
		return ServerProcessingEnd{Type: typ}, nil
	case TypeResponse:
		target = &ServerResponse{}
	case TypeError:
		target = &ServerError{}
	case TypeQuotaExceeded:
		target = &ServerQuotaExceeded{}
	case TypeModelSwitched:
		target = &ServerModelSwitched{}
	case TypeInterrupted:
		return ServerInterrupted{Type: typ}, nil
	case TypeResetComplete:
		return ServerResetComplete{Type: typ}, nil
	default:
		return nil, unsupported("unsupported message type", "type")
	}
	if err := json.Unmarshal(data, target); err != nil {
		return nil, badRequest("invalid "+typ+" frame", "")
	}
	switch v := target.(type) {
	case *ServerConnectionEstablished:
		return *v, nil
	case *ServerResponse:
		return *v, nil
	case *ServerError:
		return *v, nil
	case *ServerQuotaExceeded:
		return *v, nil
	case *ServerModelSwitched:
		return *v, nil
	}
	return nil, badRequest("unsupported message type", "type")
}
