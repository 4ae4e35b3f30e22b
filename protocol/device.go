package protocol

// Request payloads. Binary blobs travel base64-encoded, which encoding/json
// does for []byte fields automatically.

// StartDetectionRequest selects the radio protocols the virtual reader
// should admit. Valid values: "typeA", "typeB", "typeF", "all". An empty
// list means all.
type StartDetectionRequest struct {
	Protocols []string `json:"protocols,omitempty"`
}

// LoadTagRequest places a tag in front of the virtual reader. Either Name
// refers to an image in the agent's storage, or Data carries the full
// image inline (Name then names the flush destination).
type LoadTagRequest struct {
	Name string `json:"name,omitempty"`
	Data []byte `json:"data,omitempty"`
}

// MountRequest selects the access level: "readOnly" or "readWrite".
type MountRequest struct {
	Target string `json:"target"`
}

// OpenAppAreaRequest carries the caller's access id.
type OpenAppAreaRequest struct {
	AccessID uint32 `json:"accessId"`
}

// ReadAppAreaRequest bounds the read; zero or missing means the full area.
type ReadAppAreaRequest struct {
	Size int `json:"size,omitempty"`
}

// WriteAppAreaRequest replaces the open area's contents.
type WriteAppAreaRequest struct {
	Data []byte `json:"data"`
}

// CreateAppAreaRequest initializes (or, for recreate, replaces) the area.
type CreateAppAreaRequest struct {
	AccessID uint32 `json:"accessId"`
	Data     []byte `json:"data"`
}

// SetRegisterInfoRequest registers the tag owner. A missing Mii blob lets
// the agent substitute its default avatar.
type SetRegisterInfoRequest struct {
	Nickname   string `json:"nickname"`
	FontRegion uint8  `json:"fontRegion,omitempty"`
	Mii        []byte `json:"mii,omitempty"`
}

// Response and broadcast payloads.

// StatePayload reports the controller lifecycle position. It doubles as
// the stateChanged broadcast body.
type StatePayload struct {
	State       string `json:"state"`
	MountTarget string `json:"mountTarget,omitempty"`
	HasKeys     bool   `json:"hasKeys"`
}

// TagInfoPayload mirrors the controller's tag identity report.
type TagInfoPayload struct {
	UID       string `json:"uid"`
	UIDLength uint8  `json:"uidLength"`
	Protocol  string `json:"protocol"`
}

// CommonInfoPayload mirrors the mounted tag's bookkeeping fields.
type CommonInfoPayload struct {
	LastWriteDate       string `json:"lastWriteDate"`
	WriteCounter        uint16 `json:"writeCounter"`
	Version             uint8  `json:"version"`
	ApplicationAreaSize uint32 `json:"applicationAreaSize"`
}

// ModelInfoPayload identifies the figure on the tag.
type ModelInfoPayload struct {
	CharacterID      uint16 `json:"characterId"`
	CharacterVariant uint8  `json:"characterVariant"`
	Type             uint8  `json:"type"`
	ModelNumber      uint16 `json:"modelNumber"`
	Series           uint8  `json:"series"`
}

// RegisterInfoPayload is the owner registration block.
type RegisterInfoPayload struct {
	Nickname     string `json:"nickname"`
	FontRegion   uint8  `json:"fontRegion"`
	CreationDate string `json:"creationDate"`
	Mii          []byte `json:"mii"`
}

// AdminInfoPayload summarizes registration and application area status.
type AdminInfoPayload struct {
	TitleID            string `json:"titleId"`
	ApplicationAreaID  uint32 `json:"applicationAreaId"`
	IsRegistered       bool   `json:"isRegistered"`
	HasApplicationArea bool   `json:"hasApplicationArea"`
	Version            uint8  `json:"version"`
}

// AppAreaPayload carries application area contents.
type AppAreaPayload struct {
	Data []byte `json:"data"`
}

// AppAreaIDPayload carries the stored access id.
type AppAreaIDPayload struct {
	AccessID uint32 `json:"accessId"`
}

// AppAreaExistsPayload reports whether the area is initialized.
type AppAreaExistsPayload struct {
	Exists bool `json:"exists"`
}

// TagEventPayload is the body of tagArrived and tagDeparted broadcasts.
type TagEventPayload struct {
	UID string `json:"uid,omitempty"`
}
