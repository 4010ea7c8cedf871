package protocol

import (
	"time"

	"github.com/zeusync/replinet/internal/core/ident"
)

const (
	TypeConnectRequest  TypeID = 1
	TypeConnectResponse TypeID = 2
	TypeRemovalNotice   TypeID = 3

	// FirstUserTypeID is the lowest id application messages should use.
	FirstUserTypeID TypeID = 16
)

// ConnectRequest is the first message a client sends once its transport is up.
type ConnectRequest struct {
	ProtocolVersion int    `json:"protocol_version"`
	UserID          uint64 `json:"user_id"`
	DisplayName     string `json:"display_name"`
	Platform        string `json:"platform"`
	Payload         []byte `json:"payload,omitempty"`
}

func (ConnectRequest) MessageType() TypeID { return TypeConnectRequest }
func (ConnectRequest) MessageName() string { return "replinet.ConnectRequest" }

// ConnectResponse answers a ConnectRequest. Message carries the rejection
// reason when Accepted is false.
type ConnectResponse struct {
	Accepted    bool   `json:"accepted"`
	Message     string `json:"message,omitempty"`
	HostName    string `json:"host_name,omitempty"`
	TickRate    int    `json:"tick_rate,omitempty"`
	ServerTime  int64  `json:"server_time,omitempty"`
	Schema      Schema `json:"schema"`
	Fingerprint uint64 `json:"fingerprint,omitempty"`
}

func (ConnectResponse) MessageType() TypeID { return TypeConnectResponse }
func (ConnectResponse) MessageName() string { return "replinet.ConnectResponse" }

// ServerClock returns the server time carried by the response.
func (r ConnectResponse) ServerClock() time.Time {
	return time.Unix(0, r.ServerTime)
}

// RemovalNotice tells a client to destroy the listed replicated objects.
type RemovalNotice struct {
	IDs []ident.ID `json:"ids"`
}

func (RemovalNotice) MessageType() TypeID { return TypeRemovalNotice }
func (RemovalNotice) MessageName() string { return "replinet.RemovalNotice" }

// RegisterBuiltins adds the handshake and removal messages to r.
func RegisterBuiltins(r *Registry) error {
	for _, proto := range []Message{ConnectRequest{}, ConnectResponse{}, RemovalNotice{}} {
		if err := r.Register(proto); err != nil {
			return err
		}
	}
	return nil
}

// NewBuiltinRegistry returns a registry holding only the built-in messages.
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()
	if err := RegisterBuiltins(r); err != nil {
		panic(err)
	}
	return r
}
