// Package protocol defines the WebSocket message types and payloads the
// agent exchanges with clients. It is importable by external tools without
// pulling in server or tag emulation dependencies.
package protocol

import "github.com/google/uuid"

// Request message types. Each corresponds to one controller operation.
const (
	WSTypeInitialize     = "initialize"
	WSTypeFinalize       = "finalize"
	WSTypeStartDetection = "startDetection"
	WSTypeStopDetection  = "stopDetection"
	WSTypeLoadTag        = "loadTag"
	WSTypeRemoveTag      = "removeTag"
	WSTypeMount          = "mount"
	WSTypeUnmount        = "unmount"
	WSTypeFlush          = "flush"
	WSTypeGetState       = "getState"
	WSTypeGetTagInfo     = "getTagInfo"
	WSTypeGetCommonInfo  = "getCommonInfo"
	WSTypeGetModelInfo   = "getModelInfo"

	WSTypeGetRegisterInfo    = "getRegisterInfo"
	WSTypeSetRegisterInfo    = "setRegisterInfo"
	WSTypeDeleteRegisterInfo = "deleteRegisterInfo"
	WSTypeGetAdminInfo       = "getAdminInfo"
	WSTypeFormat             = "format"

	WSTypeOpenAppArea     = "openAppArea"
	WSTypeGetAppAreaID    = "getAppAreaId"
	WSTypeReadAppArea     = "readAppArea"
	WSTypeWriteAppArea    = "writeAppArea"
	WSTypeCreateAppArea   = "createAppArea"
	WSTypeRecreateAppArea = "recreateAppArea"
	WSTypeDeleteAppArea   = "deleteAppArea"
	WSTypeAppAreaExists   = "appAreaExists"
)

// Broadcast message types pushed by the server without a request.
const (
	WSTypeTagArrived   = "tagArrived"
	WSTypeTagDeparted  = "tagDeparted"
	WSTypeStateChanged = "stateChanged"
	WSTypeError        = "error"
)

// WebSocketMessage is the generic envelope for server-initiated messages.
type WebSocketMessage struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// WebSocketRequest is an incoming request from a client. ID is
// client-generated and echoed back for correlation.
type WebSocketRequest struct {
	ID      string         `json:"id,omitempty"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// WebSocketResponse answers one request. Result carries the typed failure
// name (for example "TagRemoved") when Success is false.
type WebSocketResponse struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Payload any    `json:"payload,omitempty"`
	Result  string `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NewMessageID returns a fresh correlation id for server-initiated
// messages.
func NewMessageID() string {
	return uuid.NewString()
}
