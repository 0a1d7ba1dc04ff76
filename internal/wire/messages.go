// ABOUTME: JSON wire message shapes exchanged with chat clients over WebSocket
// ABOUTME: Defines the inbound envelope, outbound tagged frames, and the error shape

package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound message types.
const (
	TypeUserMessage = "user_message"
)

// Outbound message types.
const (
	TypeAgentStatus   = "agent_status"
	TypeAgentMessage  = "agent_message"
	TypeAgentResponse = "agent_response"
)

// ErrMalformed indicates the inbound frame was not a valid message envelope.
var ErrMalformed = errors.New("malformed message")

// Inbound is the envelope for messages received from a chat client.
// Unknown types are preserved in Type so the caller can reject them
// without dropping the connection.
type Inbound struct {
	Type        string      `json:"type"`
	Data        InboundData `json:"data"`
	AccessToken string      `json:"access_token"`
}

// InboundData carries the payload of a user_message frame.
type InboundData struct {
	Content   string `json:"content"`
	SessionID string `json:"session_id"`
}

// ParseInbound decodes a raw text frame into an Inbound envelope.
func ParseInbound(raw []byte) (*Inbound, error) {
	var msg Inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &msg, nil
}

// AgentStatus is a streamed progress frame: status text or a token delta.
func AgentStatus(message string) any {
	return statusFrame{
		Type: TypeAgentStatus,
		Data: statusData{Message: message},
	}
}

// AgentMessage is a completed per-agent message frame.
func AgentMessage(sender, recipient, content string) any {
	return messageFrame{
		Type: TypeAgentMessage,
		Data: messageData{
			Sender:    sender,
			Recipient: recipient,
			Message:   messageContent{Content: content},
		},
	}
}

// AgentResponse is the final frame of a completion cycle carrying the full
// ordered transcript for the session.
func AgentResponse(connectionID, message string, transcript []TranscriptItem) any {
	if transcript == nil {
		transcript = []TranscriptItem{}
	}
	return responseFrame{
		Type: TypeAgentResponse,
		Data: responseData{
			Status:  true,
			Message: message,
			Data:    transcript,
		},
		ConnectionID: connectionID,
	}
}

// Error is the untyped failure reply used for all error conditions.
func Error(message string) any {
	return errorFrame{Status: false, Message: message}
}

// TranscriptItem is one entry in a session transcript as sent on the wire.
type TranscriptItem struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient,omitempty"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

type statusFrame struct {
	Type string     `json:"type"`
	Data statusData `json:"data"`
}

type statusData struct {
	Message string `json:"message"`
}

type messageFrame struct {
	Type string      `json:"type"`
	Data messageData `json:"data"`
}

type messageData struct {
	Sender    string         `json:"sender"`
	Recipient string         `json:"recipient"`
	Message   messageContent `json:"message"`
}

type messageContent struct {
	Content string `json:"content"`
}

type responseFrame struct {
	Type         string       `json:"type"`
	Data         responseData `json:"data"`
	ConnectionID string       `json:"connection_id"`
}

type responseData struct {
	Status  bool             `json:"status"`
	Message string           `json:"message"`
	Data    []TranscriptItem `json:"data"`
}

type errorFrame struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
}
