package agent

import "time"

// Control channel message definitions. Every payload is a JSON object whose
// "type" field names the request or response kind; responses echo the entity
// name and carry a success/reason pair.

// Request types recognized by the dispatcher. Anything else is dropped
// without a response.
const (
	TypeClientCreate            = "client_create"
	TypeClientDestroy           = "client_destroy"
	TypeClientConnect           = "client_connect"
	TypeClientDisconnect        = "client_disconnect"
	TypeClientIsConnected       = "client_is_connected_request"
	TypeClientSend              = "client_send"
	TypeClientGetPendingReceive = "client_get_pending_receive"
	TypeClientReceive           = "client_receive"

	TypeServerCreate            = "server_create"
	TypeServerDestroy           = "server_destroy"
	TypeServerListen            = "server_listen"
	TypeServerUnlisten          = "server_unlisten"
	TypeServerPendingAccept     = "server_pending_accept_request"
	TypeServerAccept            = "server_accept"
	TypeServerIsConnected       = "server_is_connected_request"
	TypeServerDisconnect        = "server_disconnect"
	TypeServerSend              = "server_send"
	TypeServerGetPendingReceive = "server_get_pending_receive"
	TypeServerReceive           = "server_receive"

	TypePing   = "ping"
	TypeStatus = "status"
)

// Response types paired to the requests above.
const (
	TypeClientCreated        = "client_created"
	TypeClientDestroyed      = "client_destroyed"
	TypeClientConnected      = "client_connected"
	TypeClientDisconnected   = "client_disconnected"
	TypeClientIsConnectedRes = "client_is_connected_response"
	TypeClientSent           = "client_sent"
	TypeClientPendingReceive = "client_pending_receive"
	TypeClientReceived       = "client_received"

	TypeServerCreated        = "server_created"
	TypeServerDestroyed      = "server_destroyed"
	TypeServerListened       = "server_listened"
	TypeServerUnlistened     = "server_unlistened"
	TypeServerPendingAcceptR = "server_pending_accept_response"
	TypeServerAccepted       = "server_accepted"
	TypeServerIsConnectedRes = "server_is_connected_response"
	TypeServerDisconnected   = "server_disconnected"
	TypeServerSent           = "server_sent"
	TypeServerPendingReceive = "server_pending_receive"
	TypeServerReceived       = "server_received"

	TypePong           = "pong"
	TypeStatusResponse = "status_response"
)

// Request is the union of all fields any control request can carry. Optional
// fields are pointers so handlers can distinguish missing from zero.
type Request struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Host        string `json:"host,omitempty"`
	Port        *int   `json:"port,omitempty"`
	SessionName string `json:"session_name,omitempty"`
	// Raw FIX message text for the send operations.
	Message string `json:"message,omitempty"`

	// Client behavior flags, accepted on client_create.
	AutoHeartbeat *bool `json:"auto_heartbeat,omitempty"`
	AutoSequence  *bool `json:"auto_sequence,omitempty"`
	Raw           *bool `json:"raw,omitempty"`
}

// ResponseHeader is common to every response: the response type, the entity
// name the request addressed, and the outcome.
type ResponseHeader struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Reason  string `json:"reason"`
}

// ConnectedResponse answers the is_connected request family.
type ConnectedResponse struct {
	ResponseHeader
	Connected bool `json:"connected"`
}

// CountResponse answers the pending_accept and pending_receive families.
type CountResponse struct {
	ResponseHeader
	Count int `json:"count"`
}

// AcceptedResponse answers server_accept. SessionName is empty when no
// pending connection was available.
type AcceptedResponse struct {
	ResponseHeader
	SessionName string `json:"session_name"`
}

// MessageResponse answers the receive family; Message is the raw encoded
// text of the popped message, or empty when the queue was empty.
type MessageResponse struct {
	ResponseHeader
	Message string `json:"message"`
}

// EntityStatus describes one live entity: its kind, name, and the creation
// metadata held by the registry. CreatedSeq orders creations globally, so a
// controller can tell a recreated entity apart from the one that previously
// held its name.
type EntityStatus struct {
	Kind       string    `json:"kind"`
	Name       string    `json:"name"`
	CreatedSeq uint64    `json:"created_seq"`
	CreatedAt  time.Time `json:"created_at"`
}

// StatusResponse reports the live entity table sizes, the per-entity
// creation metadata, and agent uptime.
type StatusResponse struct {
	ResponseHeader
	Clients         int            `json:"clients"`
	Servers         int            `json:"servers"`
	ServerSessions  int            `json:"server_sessions"`
	ControlSessions int            `json:"control_sessions"`
	Entities        []EntityStatus `json:"entities"`
	UptimeSeconds   float64        `json:"uptime_seconds"`
}

func newResponseHeader(typ, name string, success bool, reason string) ResponseHeader {
	return ResponseHeader{Type: typ, Name: name, Success: success, Reason: reason}
}
