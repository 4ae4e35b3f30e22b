package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/dotside-studios/amiibo-agent/amiibo"
	"github.com/dotside-studios/amiibo-agent/protocol"
)

// DeviceHandler exposes every tag controller operation as a websocket
// message. The controller itself is not safe for concurrent use; the
// handler's mutex is the single serialization point for all device
// access, including broadcast snapshots.
type DeviceHandler struct {
	mu     sync.Mutex
	device *amiibo.Device
}

// NewDeviceHandler creates a handler group around one controller.
func NewDeviceHandler(device *amiibo.Device) *DeviceHandler {
	return &DeviceHandler{device: device}
}

// Register implements ServerHandler.
func (h *DeviceHandler) Register(server HandlerServer) {
	routes := map[string]HandlerFunc{
		protocol.WSTypeInitialize:     h.wrap(server, h.handleInitialize),
		protocol.WSTypeFinalize:       h.wrap(server, h.handleFinalize),
		protocol.WSTypeStartDetection: h.wrap(server, h.handleStartDetection),
		protocol.WSTypeStopDetection:  h.wrap(server, h.handleStopDetection),
		protocol.WSTypeLoadTag:        h.wrap(server, h.handleLoadTag),
		protocol.WSTypeRemoveTag:      h.wrap(server, h.handleRemoveTag),
		protocol.WSTypeMount:          h.wrap(server, h.handleMount),
		protocol.WSTypeUnmount:        h.wrap(server, h.handleUnmount),
		protocol.WSTypeFlush:          h.wrap(server, h.handleFlush),
		protocol.WSTypeGetState:       h.wrap(server, h.handleGetState),
		protocol.WSTypeGetTagInfo:     h.wrap(server, h.handleGetTagInfo),
		protocol.WSTypeGetCommonInfo:  h.wrap(server, h.handleGetCommonInfo),
		protocol.WSTypeGetModelInfo:   h.wrap(server, h.handleGetModelInfo),

		protocol.WSTypeGetRegisterInfo:    h.wrap(server, h.handleGetRegisterInfo),
		protocol.WSTypeSetRegisterInfo:    h.wrap(server, h.handleSetRegisterInfo),
		protocol.WSTypeDeleteRegisterInfo: h.wrap(server, h.handleDeleteRegisterInfo),
		protocol.WSTypeGetAdminInfo:       h.wrap(server, h.handleGetAdminInfo),
		protocol.WSTypeFormat:             h.wrap(server, h.handleFormat),

		protocol.WSTypeOpenAppArea:     h.wrap(server, h.handleOpenAppArea),
		protocol.WSTypeGetAppAreaID:    h.wrap(server, h.handleGetAppAreaID),
		protocol.WSTypeReadAppArea:     h.wrap(server, h.handleReadAppArea),
		protocol.WSTypeWriteAppArea:    h.wrap(server, h.handleWriteAppArea),
		protocol.WSTypeCreateAppArea:   h.wrap(server, h.handleCreateAppArea),
		protocol.WSTypeRecreateAppArea: h.wrap(server, h.handleRecreateAppArea),
		protocol.WSTypeDeleteAppArea:   h.wrap(server, h.handleDeleteAppArea),
		protocol.WSTypeAppAreaExists:   h.wrap(server, h.handleAppAreaExists),
	}
	for messageType, handler := range routes {
		if err := server.Handle(messageType, handler); err != nil {
			log.Printf("Failed to register %s handler: %v", messageType, err)
		}
	}

	server.StartLifecycle(func(ctx context.Context) {
		server.BroadcastState(h.Snapshot())
	})
}

// opFunc runs one controller operation and returns its response payload.
type opFunc func(req protocol.WebSocketRequest) (any, error)

// wrap builds a HandlerFunc that serializes the operation, answers the
// request and pushes the presence and state broadcasts the operation
// caused.
func (h *DeviceHandler) wrap(server HandlerServer, op opFunc) HandlerFunc {
	return func(ctx context.Context, rw Responder, req protocol.WebSocketRequest) error {
		h.mu.Lock()
		before := h.device.State()
		payload, err := op(req)
		after := h.device.State()
		arrived := h.device.Events().ConsumeArrived()
		departed := h.device.Events().ConsumeDeparted()
		state := statePayload(h.device)
		var uid string
		if info, infoErr := h.device.GetTagInfo(); infoErr == nil {
			uid = protocol.FormatUID(info.UID[:])
		}
		h.mu.Unlock()

		if arrived {
			server.BroadcastTagEvent(protocol.WSTypeTagArrived, protocol.TagEventPayload{UID: uid})
		}
		if departed {
			server.BroadcastTagEvent(protocol.WSTypeTagDeparted, protocol.TagEventPayload{})
		}
		if after != before {
			server.BroadcastState(state)
		}

		if err != nil {
			return sendResultError(rw, req, err)
		}
		return rw.WriteJSON(protocol.WebSocketResponse{
			ID:      req.ID,
			Type:    req.Type,
			Success: true,
			Payload: payload,
		})
	}
}

// Snapshot returns the controller state under the handler lock.
func (h *DeviceHandler) Snapshot() protocol.StatePayload {
	h.mu.Lock()
	defer h.mu.Unlock()
	return statePayload(h.device)
}

func statePayload(device *amiibo.Device) protocol.StatePayload {
	payload := protocol.StatePayload{
		State:   device.State().String(),
		HasKeys: device.HasKeys(),
	}
	if target := device.CurrentMountTarget(); target != amiibo.MountTargetNone {
		payload.MountTarget = target.String()
	}
	return payload
}

// sendResultError answers a failed request, exposing the typed result
// name so clients can react programmatically.
func sendResultError(rw Responder, req protocol.WebSocketRequest, err error) error {
	response := protocol.WebSocketResponse{
		ID:      req.ID,
		Type:    req.Type,
		Success: false,
		Error:   err.Error(),
	}
	if result := amiibo.ResultOf(err); result != 0 {
		response.Result = result.String()
	}
	return rw.WriteJSON(response)
}

// decodePayload re-marshals the loosely typed request payload into a
// typed request struct.
func decodePayload(req protocol.WebSocketRequest, dst any) error {
	raw, err := json.Marshal(req.Payload)
	if err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

func (h *DeviceHandler) handleInitialize(req protocol.WebSocketRequest) (any, error) {
	h.device.Initialize()
	return statePayload(h.device), nil
}

func (h *DeviceHandler) handleFinalize(req protocol.WebSocketRequest) (any, error) {
	h.device.Finalize()
	return statePayload(h.device), nil
}

func (h *DeviceHandler) handleStartDetection(req protocol.WebSocketRequest) (any, error) {
	var body protocol.StartDetectionRequest
	if err := decodePayload(req, &body); err != nil {
		return nil, err
	}
	protocols, err := parseProtocols(body.Protocols)
	if err != nil {
		return nil, err
	}
	if err := h.device.StartDetection(protocols); err != nil {
		return nil, err
	}
	return statePayload(h.device), nil
}

func (h *DeviceHandler) handleStopDetection(req protocol.WebSocketRequest) (any, error) {
	if err := h.device.StopDetection(); err != nil {
		return nil, err
	}
	return statePayload(h.device), nil
}

func (h *DeviceHandler) handleLoadTag(req protocol.WebSocketRequest) (any, error) {
	var body protocol.LoadTagRequest
	if err := decodePayload(req, &body); err != nil {
		return nil, err
	}
	if len(body.Data) > 0 {
		name := body.Name
		if name == "" {
			name = "inline.bin"
		}
		if err := h.device.LoadTagData(name, body.Data); err != nil {
			return nil, err
		}
	} else {
		if body.Name == "" {
			return nil, fmt.Errorf("loadTag requires a name or inline data")
		}
		if err := h.device.LoadTag(body.Name); err != nil {
			return nil, err
		}
	}
	return statePayload(h.device), nil
}

func (h *DeviceHandler) handleRemoveTag(req protocol.WebSocketRequest) (any, error) {
	if err := h.device.RemoveTag(); err != nil {
		return nil, err
	}
	return statePayload(h.device), nil
}

func (h *DeviceHandler) handleMount(req protocol.WebSocketRequest) (any, error) {
	var body protocol.MountRequest
	if err := decodePayload(req, &body); err != nil {
		return nil, err
	}
	target, err := parseMountTarget(body.Target)
	if err != nil {
		return nil, err
	}
	if err := h.device.Mount(target); err != nil {
		return nil, err
	}
	return statePayload(h.device), nil
}

func (h *DeviceHandler) handleUnmount(req protocol.WebSocketRequest) (any, error) {
	if err := h.device.Unmount(); err != nil {
		return nil, err
	}
	return statePayload(h.device), nil
}

func (h *DeviceHandler) handleFlush(req protocol.WebSocketRequest) (any, error) {
	if err := h.device.Flush(); err != nil {
		return nil, err
	}
	return statePayload(h.device), nil
}

func (h *DeviceHandler) handleGetState(req protocol.WebSocketRequest) (any, error) {
	return statePayload(h.device), nil
}

func (h *DeviceHandler) handleGetTagInfo(req protocol.WebSocketRequest) (any, error) {
	info, err := h.device.GetTagInfo()
	if err != nil {
		return nil, err
	}
	return protocol.TagInfoPayload{
		UID:       protocol.FormatUID(info.UID[:]),
		UIDLength: info.UIDLength,
		Protocol:  protocolName(info.Protocol),
	}, nil
}

func (h *DeviceHandler) handleGetCommonInfo(req protocol.WebSocketRequest) (any, error) {
	info, err := h.device.GetCommonInfo()
	if err != nil {
		return nil, err
	}
	return protocol.CommonInfoPayload{
		LastWriteDate:       formatDate(info.LastWriteDate),
		WriteCounter:        info.WriteCounter,
		Version:             info.Version,
		ApplicationAreaSize: info.ApplicationAreaSize,
	}, nil
}

func (h *DeviceHandler) handleGetModelInfo(req protocol.WebSocketRequest) (any, error) {
	info, err := h.device.GetModelInfo()
	if err != nil {
		return nil, err
	}
	return protocol.ModelInfoPayload{
		CharacterID:      info.CharacterID,
		CharacterVariant: info.CharacterVariant,
		Type:             info.Type,
		ModelNumber:      info.ModelNumber,
		Series:           info.Series,
	}, nil
}

func (h *DeviceHandler) handleGetRegisterInfo(req protocol.WebSocketRequest) (any, error) {
	info, err := h.device.GetRegisterInfo()
	if err != nil {
		return nil, err
	}
	return protocol.RegisterInfoPayload{
		Nickname:     info.Nickname,
		FontRegion:   info.FontRegion,
		CreationDate: formatDate(info.CreationDate),
		Mii:          info.Mii[:],
	}, nil
}

func (h *DeviceHandler) handleSetRegisterInfo(req protocol.WebSocketRequest) (any, error) {
	var body protocol.SetRegisterInfoRequest
	if err := decodePayload(req, &body); err != nil {
		return nil, err
	}
	info := amiibo.RegisterInfo{
		Nickname:   body.Nickname,
		FontRegion: body.FontRegion,
	}
	if len(body.Mii) > 0 {
		if len(body.Mii) != amiibo.MiiSize {
			return nil, fmt.Errorf("mii blob must be %d bytes, got %d", amiibo.MiiSize, len(body.Mii))
		}
		copy(info.Mii[:], body.Mii)
	}
	if err := h.device.SetRegisterInfo(info); err != nil {
		return nil, err
	}
	return nil, nil
}

func (h *DeviceHandler) handleDeleteRegisterInfo(req protocol.WebSocketRequest) (any, error) {
	if err := h.device.DeleteRegisterInfo(); err != nil {
		return nil, err
	}
	return nil, nil
}

func (h *DeviceHandler) handleGetAdminInfo(req protocol.WebSocketRequest) (any, error) {
	info, err := h.device.GetAdminInfo()
	if err != nil {
		return nil, err
	}
	return protocol.AdminInfoPayload{
		TitleID:            fmt.Sprintf("%016X", info.TitleID),
		ApplicationAreaID:  info.ApplicationAreaID,
		IsRegistered:       info.IsRegistered,
		HasApplicationArea: info.HasApplicationArea,
		Version:            info.Version,
	}, nil
}

func (h *DeviceHandler) handleFormat(req protocol.WebSocketRequest) (any, error) {
	if err := h.device.Format(); err != nil {
		return nil, err
	}
	return nil, nil
}

func (h *DeviceHandler) handleOpenAppArea(req protocol.WebSocketRequest) (any, error) {
	var body protocol.OpenAppAreaRequest
	if err := decodePayload(req, &body); err != nil {
		return nil, err
	}
	if err := h.device.OpenApplicationArea(body.AccessID); err != nil {
		return nil, err
	}
	return nil, nil
}

func (h *DeviceHandler) handleGetAppAreaID(req protocol.WebSocketRequest) (any, error) {
	id, err := h.device.GetApplicationAreaID()
	if err != nil {
		return nil, err
	}
	return protocol.AppAreaIDPayload{AccessID: id}, nil
}

func (h *DeviceHandler) handleReadAppArea(req protocol.WebSocketRequest) (any, error) {
	var body protocol.ReadAppAreaRequest
	if err := decodePayload(req, &body); err != nil {
		return nil, err
	}
	size := body.Size
	if size == 0 {
		size = amiibo.ApplicationAreaSize
	}
	data, err := h.device.GetApplicationArea(size)
	if err != nil {
		return nil, err
	}
	return protocol.AppAreaPayload{Data: data}, nil
}

func (h *DeviceHandler) handleWriteAppArea(req protocol.WebSocketRequest) (any, error) {
	var body protocol.WriteAppAreaRequest
	if err := decodePayload(req, &body); err != nil {
		return nil, err
	}
	if err := h.device.SetApplicationArea(body.Data); err != nil {
		return nil, err
	}
	return nil, nil
}

func (h *DeviceHandler) handleCreateAppArea(req protocol.WebSocketRequest) (any, error) {
	var body protocol.CreateAppAreaRequest
	if err := decodePayload(req, &body); err != nil {
		return nil, err
	}
	if err := h.device.CreateApplicationArea(body.AccessID, body.Data); err != nil {
		return nil, err
	}
	return nil, nil
}

func (h *DeviceHandler) handleRecreateAppArea(req protocol.WebSocketRequest) (any, error) {
	var body protocol.CreateAppAreaRequest
	if err := decodePayload(req, &body); err != nil {
		return nil, err
	}
	if err := h.device.RecreateApplicationArea(body.AccessID, body.Data); err != nil {
		return nil, err
	}
	return nil, nil
}

func (h *DeviceHandler) handleDeleteAppArea(req protocol.WebSocketRequest) (any, error) {
	if err := h.device.DeleteApplicationArea(); err != nil {
		return nil, err
	}
	return nil, nil
}

func (h *DeviceHandler) handleAppAreaExists(req protocol.WebSocketRequest) (any, error) {
	exists, err := h.device.ApplicationAreaExists()
	if err != nil {
		return nil, err
	}
	return protocol.AppAreaExistsPayload{Exists: exists}, nil
}

// parseProtocols maps the wire protocol names onto the controller's
// filter. An empty list admits everything.
func parseProtocols(names []string) (amiibo.TagProtocol, error) {
	if len(names) == 0 {
		return amiibo.ProtocolAll, nil
	}
	var protocols amiibo.TagProtocol
	for _, name := range names {
		switch name {
		case "typeA":
			protocols |= amiibo.ProtocolTypeA
		case "typeB":
			protocols |= amiibo.ProtocolTypeB
		case "typeF":
			protocols |= amiibo.ProtocolTypeF
		case "all":
			protocols |= amiibo.ProtocolAll
		default:
			return 0, fmt.Errorf("unknown protocol %q", name)
		}
	}
	return protocols, nil
}

func protocolName(p amiibo.TagProtocol) string {
	switch p {
	case amiibo.ProtocolTypeA:
		return "typeA"
	case amiibo.ProtocolTypeB:
		return "typeB"
	case amiibo.ProtocolTypeF:
		return "typeF"
	default:
		return "unknown"
	}
}

func parseMountTarget(name string) (amiibo.MountTarget, error) {
	switch name {
	case "readOnly":
		return amiibo.MountTargetReadOnly, nil
	case "readWrite", "":
		return amiibo.MountTargetReadWrite, nil
	case "all":
		return amiibo.MountTargetAll, nil
	default:
		return 0, fmt.Errorf("unknown mount target %q", name)
	}
}

// formatDate renders a packed tag date as ISO 8601.
func formatDate(d amiibo.Date) string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year(), int(d.Month()), d.Day())
}
