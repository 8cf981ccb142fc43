// Package protocol defines the JSON payloads exchanged between roomchat
// clients and the server. Field names are part of the wire contract.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Payload types.
const (
	TypeJoin        = "join"
	TypeMessage     = "message"
	TypeJoinSuccess = "join_success"
	TypeError       = "error"
)

// SystemSender labels join and leave announcements.
const SystemSender = "System"

// Error texts sent to clients.
const (
	DuplicateUsernameText = "Username already taken!"
	InvalidMessageText    = "Invalid message"
	RateLimitedText       = "Rate limit exceeded"
)

// TimestampLayout is the HH:MM:SS layout used in history entries and
// message payloads.
const TimestampLayout = "15:04:05"

// Decoding errors.
var (
	ErrMalformed   = errors.New("malformed payload")
	ErrUnexpected  = errors.New("unexpected payload type")
	ErrMissingData = errors.New("missing required field")
)

// JoinRequest is the first frame a client sends.
type JoinRequest struct {
	Type     string `json:"type"`
	Username string `json:"username"`
	Room     string `json:"room"`
}

// MessageRequest carries one chat line from a joined client.
type MessageRequest struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// JoinSuccess acknowledges a join and replays the room history, oldest
// first.
type JoinSuccess struct {
	Type    string   `json:"type"`
	History []string `json:"history"`
}

// Error reports a rejected request.
type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ChatMessage is fanned out to every member of a room.
type ChatMessage struct {
	Type      string `json:"type"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Envelope is a permissive view of any server payload, used by clients to
// dispatch on Type.
type Envelope struct {
	Type      string   `json:"type"`
	History   []string `json:"history,omitempty"`
	Username  string   `json:"username,omitempty"`
	Message   string   `json:"message,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
}

// NewJoinRequest builds a join frame.
func NewJoinRequest(username, room string) JoinRequest {
	return JoinRequest{Type: TypeJoin, Username: username, Room: room}
}

// NewMessageRequest builds a chat frame.
func NewMessageRequest(message string) MessageRequest {
	return MessageRequest{Type: TypeMessage, Message: message}
}

// NewJoinSuccess builds a join acknowledgement. A nil history is sent as an
// empty list.
func NewJoinSuccess(history []string) JoinSuccess {
	if history == nil {
		history = []string{}
	}
	return JoinSuccess{Type: TypeJoinSuccess, History: history}
}

// NewError builds an error payload.
func NewError(message string) Error {
	return Error{Type: TypeError, Message: message}
}

// NewChatMessage builds a fan-out payload.
func NewChatMessage(sender, message, timestamp string) ChatMessage {
	return ChatMessage{Type: TypeMessage, Username: sender, Message: message, Timestamp: timestamp}
}

// inbound mirrors every client frame. Pointers distinguish missing fields
// from empty ones.
type inbound struct {
	Type     string  `json:"type"`
	Username *string `json:"username"`
	Room     *string `json:"room"`
	Message  *string `json:"message"`
}

func decode(raw []byte) (inbound, error) {
	var in inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return inbound{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return in, nil
}

// DecodeJoin parses the first frame of a connection. Username and room must
// both be present and non-empty.
func DecodeJoin(raw []byte) (JoinRequest, error) {
	in, err := decode(raw)
	if err != nil {
		return JoinRequest{}, err
	}
	if in.Type != TypeJoin {
		return JoinRequest{}, fmt.Errorf("%w: %q, want %q", ErrUnexpected, in.Type, TypeJoin)
	}
	if in.Username == nil || *in.Username == "" {
		return JoinRequest{}, fmt.Errorf("%w: username", ErrMissingData)
	}
	if in.Room == nil || *in.Room == "" {
		return JoinRequest{}, fmt.Errorf("%w: room", ErrMissingData)
	}
	return NewJoinRequest(*in.Username, *in.Room), nil
}

// DecodeMessage parses a frame from a joined client and returns its text.
// Empty text is allowed; a missing message field is not.
func DecodeMessage(raw []byte) (string, error) {
	in, err := decode(raw)
	if err != nil {
		return "", err
	}
	if in.Type != TypeMessage {
		return "", fmt.Errorf("%w: %q, want %q", ErrUnexpected, in.Type, TypeMessage)
	}
	if in.Message == nil {
		return "", fmt.Errorf("%w: message", ErrMissingData)
	}
	return *in.Message, nil
}

// Marshal encodes a payload. The payload types above cannot fail to
// encode, so callers may treat an error as a programming mistake.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}
