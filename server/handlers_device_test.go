package server

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/dotside-studios/amiibo-agent/amiibo"
	"github.com/dotside-studios/amiibo-agent/protocol"
)

// fakeHandlerServer records broadcasts and routes registrations into a
// plain registry so handlers can be driven without a websocket.
type fakeHandlerServer struct {
	registry  *HandlerRegistry
	states    []protocol.StatePayload
	tagEvents []recordedTagEvent
}

type recordedTagEvent struct {
	messageType string
	payload     protocol.TagEventPayload
}

func newFakeHandlerServer() *fakeHandlerServer {
	return &fakeHandlerServer{registry: NewHandlerRegistry()}
}

func (f *fakeHandlerServer) Handle(messageType string, handler HandlerFunc) error {
	return f.registry.Handle(messageType, handler)
}

func (f *fakeHandlerServer) StartLifecycle(start func(ctx context.Context)) {
	f.registry.RegisterLifecycle(start)
}

func (f *fakeHandlerServer) BroadcastState(p protocol.StatePayload) {
	f.states = append(f.states, p)
}

func (f *fakeHandlerServer) BroadcastTagEvent(messageType string, p protocol.TagEventPayload) {
	f.tagEvents = append(f.tagEvents, recordedTagEvent{messageType, p})
}

// recordingResponder captures the responses a handler writes.
type recordingResponder struct {
	responses []protocol.WebSocketResponse
}

func (r *recordingResponder) WriteJSON(v any) error {
	resp, ok := v.(protocol.WebSocketResponse)
	if !ok {
		return nil
	}
	r.responses = append(r.responses, resp)
	return nil
}

func testKeys(t *testing.T) *amiibo.RetailKeys {
	t.Helper()
	blob := make([]byte, amiibo.KeyFileSize)
	for i := range blob {
		blob[i] = byte(i*11 + 3)
	}
	blob[31] = 14
	blob[amiibo.KeyTemplateSize+31] = 16
	keys, err := amiibo.ParseRetailKeys(blob)
	if err != nil {
		t.Fatalf("ParseRetailKeys() error = %v", err)
	}
	return keys
}

// testImage builds a structurally valid blank tag: no registered owner,
// no application area.
func testImage() *amiibo.Image {
	img := &amiibo.Image{
		UID:                 [9]byte{0x04, 0x11, 0x22, 0, 0x33, 0x44, 0x55, 0x66, 0},
		InternalByte:        0x48,
		StaticLock:          0xE00F,
		CapabilityContainer: 0xEEFF10F1,
		Constant:            0xA5,
		DynamicLock:         0x01000FBD,
		CFG0:                0x04000000,
		CFG1:                0x5F,
	}
	img.UID[3] = 0x88 ^ img.UID[0] ^ img.UID[1] ^ img.UID[2]
	img.UID[8] = img.UID[4] ^ img.UID[5] ^ img.UID[6] ^ img.UID[7]
	img.ModelInfo = amiibo.ModelInfo{
		CharacterID: 0x01C2,
		ModelNumber: 0x0380,
		Series:      0x05,
		Constant:    0x02,
	}
	for i := range img.KeygenSalt {
		img.KeygenSalt[i] = byte(i*5 + 7)
	}
	uid7 := amiibo.ShortUID(img.UID)
	img.Password.PWD = amiibo.TagPassword(uid7)
	img.Password.PACK = [2]byte{0x80, 0x80}
	return img
}

const testTagName = "blank.bin"

// testHarness wires a handler group to a controller holding one stored
// blank tag.
func testHarness(t *testing.T) (*fakeHandlerServer, *amiibo.MemoryStorage) {
	t.Helper()
	keys := testKeys(t)
	raw, err := amiibo.Encode(testImage(), keys)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	storage := amiibo.NewMemoryStorage()
	if err := storage.Store(testTagName, raw.Bytes()); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	clock := amiibo.NewFakeClock(time.Date(2026, time.August, 30, 12, 0, 0, 0, time.UTC))
	device := amiibo.NewDevice(keys, storage, clock, nil, nil)

	server := newFakeHandlerServer()
	NewDeviceHandler(device).Register(server)
	return server, storage
}

// dispatch sends one typed request through the registry and returns the
// recorded response.
func dispatch(t *testing.T, server *fakeHandlerServer, messageType string, body any) protocol.WebSocketResponse {
	t.Helper()
	req := protocol.WebSocketRequest{ID: "req-" + messageType, Type: messageType}
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		if err := json.Unmarshal(raw, &req.Payload); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
	}

	handler, ok := server.registry.Get(messageType)
	if !ok {
		t.Fatalf("no handler registered for %q", messageType)
	}
	rw := &recordingResponder{}
	if err := handler(context.Background(), rw, req); err != nil {
		t.Fatalf("handler %q returned %v", messageType, err)
	}
	if len(rw.responses) != 1 {
		t.Fatalf("handler %q wrote %d responses, want 1", messageType, len(rw.responses))
	}
	resp := rw.responses[0]
	if resp.ID != req.ID || resp.Type != messageType {
		t.Errorf("response correlation = (%q, %q), want (%q, %q)", resp.ID, resp.Type, req.ID, messageType)
	}
	return resp
}

func mustSucceed(t *testing.T, resp protocol.WebSocketResponse) {
	t.Helper()
	if !resp.Success {
		t.Fatalf("%s failed: %s (%s)", resp.Type, resp.Error, resp.Result)
	}
}

// payloadAs re-marshals a response payload into its typed form.
func payloadAs(t *testing.T, resp protocol.WebSocketResponse, dst any) {
	t.Helper()
	raw, err := json.Marshal(resp.Payload)
	if err != nil {
		t.Fatalf("marshal response payload: %v", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		t.Fatalf("unmarshal response payload: %v", err)
	}
}

func TestDeviceHandlerRoutes(t *testing.T) {
	server, _ := testHarness(t)

	want := []string{
		protocol.WSTypeInitialize, protocol.WSTypeFinalize,
		protocol.WSTypeStartDetection, protocol.WSTypeStopDetection,
		protocol.WSTypeLoadTag, protocol.WSTypeRemoveTag,
		protocol.WSTypeMount, protocol.WSTypeUnmount, protocol.WSTypeFlush,
		protocol.WSTypeGetState, protocol.WSTypeGetTagInfo,
		protocol.WSTypeGetCommonInfo, protocol.WSTypeGetModelInfo,
		protocol.WSTypeGetRegisterInfo, protocol.WSTypeSetRegisterInfo,
		protocol.WSTypeDeleteRegisterInfo, protocol.WSTypeGetAdminInfo,
		protocol.WSTypeFormat,
		protocol.WSTypeOpenAppArea, protocol.WSTypeGetAppAreaID,
		protocol.WSTypeReadAppArea, protocol.WSTypeWriteAppArea,
		protocol.WSTypeCreateAppArea, protocol.WSTypeRecreateAppArea,
		protocol.WSTypeDeleteAppArea, protocol.WSTypeAppAreaExists,
	}
	for _, messageType := range want {
		if !server.registry.Has(messageType) {
			t.Errorf("no handler registered for %q", messageType)
		}
	}
	if got := len(server.registry.MessageTypes()); got != len(want) {
		t.Errorf("registered %d message types, want %d", got, len(want))
	}
}

func TestDeviceHandlerLifecycleBroadcast(t *testing.T) {
	server, _ := testHarness(t)
	server.registry.StartLifecycleHandlers(context.Background())
	if len(server.states) != 1 {
		t.Fatalf("lifecycle broadcast %d states, want 1", len(server.states))
	}
	if server.states[0].State != "Unavailable" {
		t.Errorf("initial state = %q, want Unavailable", server.states[0].State)
	}
}

func TestDeviceHandlerScenario(t *testing.T) {
	server, _ := testHarness(t)

	mustSucceed(t, dispatch(t, server, protocol.WSTypeInitialize, nil))
	mustSucceed(t, dispatch(t, server, protocol.WSTypeStartDetection,
		protocol.StartDetectionRequest{Protocols: []string{"typeA"}}))
	mustSucceed(t, dispatch(t, server, protocol.WSTypeLoadTag,
		protocol.LoadTagRequest{Name: testTagName}))

	if len(server.tagEvents) != 1 || server.tagEvents[0].messageType != protocol.WSTypeTagArrived {
		t.Fatalf("tag events after load = %+v, want one tagArrived", server.tagEvents)
	}
	if server.tagEvents[0].payload.UID != "04:11:22:33:44:55:66" {
		t.Errorf("tagArrived uid = %q", server.tagEvents[0].payload.UID)
	}

	resp := dispatch(t, server, protocol.WSTypeMount, protocol.MountRequest{Target: "readWrite"})
	mustSucceed(t, resp)
	var state protocol.StatePayload
	payloadAs(t, resp, &state)
	if state.State != "TagMounted" || state.MountTarget != "ReadWrite" || !state.HasKeys {
		t.Errorf("mount state = %+v", state)
	}

	resp = dispatch(t, server, protocol.WSTypeGetTagInfo, nil)
	mustSucceed(t, resp)
	var tagInfo protocol.TagInfoPayload
	payloadAs(t, resp, &tagInfo)
	if tagInfo.UID != "04:11:22:33:44:55:66" || tagInfo.Protocol != "typeA" {
		t.Errorf("tag info = %+v", tagInfo)
	}

	resp = dispatch(t, server, protocol.WSTypeGetModelInfo, nil)
	mustSucceed(t, resp)
	var model protocol.ModelInfoPayload
	payloadAs(t, resp, &model)
	if model.CharacterID != 0x01C2 || model.ModelNumber != 0x0380 {
		t.Errorf("model info = %+v", model)
	}

	resp = dispatch(t, server, protocol.WSTypeAppAreaExists, nil)
	mustSucceed(t, resp)
	var exists protocol.AppAreaExistsPayload
	payloadAs(t, resp, &exists)
	if exists.Exists {
		t.Error("blank tag reports an application area")
	}

	appData := []byte("starfox save slot")
	mustSucceed(t, dispatch(t, server, protocol.WSTypeCreateAppArea,
		protocol.CreateAppAreaRequest{AccessID: 0x1A2B3C4D, Data: appData}))
	mustSucceed(t, dispatch(t, server, protocol.WSTypeOpenAppArea,
		protocol.OpenAppAreaRequest{AccessID: 0x1A2B3C4D}))

	resp = dispatch(t, server, protocol.WSTypeReadAppArea,
		protocol.ReadAppAreaRequest{Size: len(appData)})
	mustSucceed(t, resp)
	var area protocol.AppAreaPayload
	payloadAs(t, resp, &area)
	if !bytes.Equal(area.Data, appData) {
		t.Errorf("read back %q, want %q", area.Data, appData)
	}

	mustSucceed(t, dispatch(t, server, protocol.WSTypeSetRegisterInfo,
		protocol.SetRegisterInfoRequest{Nickname: "Fox", FontRegion: 0}))

	resp = dispatch(t, server, protocol.WSTypeGetRegisterInfo, nil)
	mustSucceed(t, resp)
	var register protocol.RegisterInfoPayload
	payloadAs(t, resp, &register)
	if register.Nickname != "Fox" {
		t.Errorf("nickname = %q, want Fox", register.Nickname)
	}
	if register.CreationDate != "2026-08-30" {
		t.Errorf("creation date = %q, want 2026-08-30", register.CreationDate)
	}

	resp = dispatch(t, server, protocol.WSTypeGetAdminInfo, nil)
	mustSucceed(t, resp)
	var admin protocol.AdminInfoPayload
	payloadAs(t, resp, &admin)
	if !admin.IsRegistered || !admin.HasApplicationArea {
		t.Errorf("admin info = %+v", admin)
	}
	if admin.ApplicationAreaID != 0x1A2B3C4D {
		t.Errorf("admin access id = %#08x", admin.ApplicationAreaID)
	}

	mustSucceed(t, dispatch(t, server, protocol.WSTypeUnmount, nil))
	mustSucceed(t, dispatch(t, server, protocol.WSTypeRemoveTag, nil))

	departed := false
	for _, event := range server.tagEvents {
		if event.messageType == protocol.WSTypeTagDeparted {
			departed = true
		}
	}
	if !departed {
		t.Error("no tagDeparted broadcast after removal")
	}

	mustSucceed(t, dispatch(t, server, protocol.WSTypeStopDetection, nil))

	resp = dispatch(t, server, protocol.WSTypeGetState, nil)
	mustSucceed(t, resp)
	payloadAs(t, resp, &state)
	if state.State != "Initialized" {
		t.Errorf("final state = %q, want Initialized", state.State)
	}
}

func TestDeviceHandlerStateBroadcasts(t *testing.T) {
	server, _ := testHarness(t)

	dispatch(t, server, protocol.WSTypeInitialize, nil)
	dispatch(t, server, protocol.WSTypeGetState, nil)

	if len(server.states) != 1 {
		t.Fatalf("broadcast %d states, want 1", len(server.states))
	}
	if server.states[0].State != "Initialized" {
		t.Errorf("broadcast state = %q, want Initialized", server.states[0].State)
	}
}

func TestDeviceHandlerErrorResults(t *testing.T) {
	server, _ := testHarness(t)
	dispatch(t, server, protocol.WSTypeInitialize, nil)

	tests := []struct {
		name        string
		messageType string
		body        any
		wantResult  string
	}{
		{"mount before detection", protocol.WSTypeMount, protocol.MountRequest{Target: "readWrite"}, "WrongDeviceState"},
		{"flush without mount", protocol.WSTypeFlush, nil, "WrongDeviceState"},
		{"tag info without tag", protocol.WSTypeGetTagInfo, nil, "WrongDeviceState"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := dispatch(t, server, tt.messageType, tt.body)
			if resp.Success {
				t.Fatalf("%s succeeded unexpectedly", tt.messageType)
			}
			if resp.Result != tt.wantResult {
				t.Errorf("result = %q, want %q", resp.Result, tt.wantResult)
			}
			if resp.Error == "" {
				t.Error("error message is empty")
			}
		})
	}
}

func TestDeviceHandlerAppAreaErrors(t *testing.T) {
	server, _ := testHarness(t)
	dispatch(t, server, protocol.WSTypeInitialize, nil)
	dispatch(t, server, protocol.WSTypeStartDetection, protocol.StartDetectionRequest{})
	dispatch(t, server, protocol.WSTypeLoadTag, protocol.LoadTagRequest{Name: testTagName})
	dispatch(t, server, protocol.WSTypeMount, protocol.MountRequest{Target: "readWrite"})

	resp := dispatch(t, server, protocol.WSTypeOpenAppArea, protocol.OpenAppAreaRequest{AccessID: 1})
	if resp.Success || resp.Result != "ApplicationAreaIsNotInitialized" {
		t.Errorf("open on blank tag = %+v", resp)
	}

	mustSucceed(t, dispatch(t, server, protocol.WSTypeCreateAppArea,
		protocol.CreateAppAreaRequest{AccessID: 0xCAFE0000, Data: []byte{1, 2, 3}}))

	resp = dispatch(t, server, protocol.WSTypeOpenAppArea, protocol.OpenAppAreaRequest{AccessID: 0xDEAD0000})
	if resp.Success || resp.Result != "WrongApplicationAreaId" {
		t.Errorf("open with wrong id = %+v", resp)
	}

	resp = dispatch(t, server, protocol.WSTypeCreateAppArea,
		protocol.CreateAppAreaRequest{AccessID: 0xCAFE0000, Data: []byte{1}})
	if resp.Success || resp.Result != "ApplicationAreaExist" {
		t.Errorf("second create = %+v", resp)
	}
}

func TestDeviceHandlerBadRequests(t *testing.T) {
	server, _ := testHarness(t)
	dispatch(t, server, protocol.WSTypeInitialize, nil)

	tests := []struct {
		name        string
		messageType string
		body        any
	}{
		{"unknown protocol", protocol.WSTypeStartDetection, protocol.StartDetectionRequest{Protocols: []string{"typeZ"}}},
		{"unknown mount target", protocol.WSTypeMount, protocol.MountRequest{Target: "writeOnly"}},
		{"load without name or data", protocol.WSTypeLoadTag, protocol.LoadTagRequest{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := dispatch(t, server, tt.messageType, tt.body)
			if resp.Success {
				t.Fatalf("%s succeeded unexpectedly", tt.messageType)
			}
			if resp.Result != "" {
				t.Errorf("bad request carries result %q, want none", resp.Result)
			}
		})
	}
}

func TestParseProtocols(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		want    amiibo.TagProtocol
		wantErr bool
	}{
		{"empty means all", nil, amiibo.ProtocolAll, false},
		{"single", []string{"typeA"}, amiibo.ProtocolTypeA, false},
		{"combined", []string{"typeA", "typeF"}, amiibo.ProtocolTypeA | amiibo.ProtocolTypeF, false},
		{"all keyword", []string{"all"}, amiibo.ProtocolAll, false},
		{"unknown", []string{"typeX"}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseProtocols(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseProtocols() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseProtocols() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseMountTarget(t *testing.T) {
	tests := []struct {
		input   string
		want    amiibo.MountTarget
		wantErr bool
	}{
		{"readOnly", amiibo.MountTargetReadOnly, false},
		{"readWrite", amiibo.MountTargetReadWrite, false},
		{"", amiibo.MountTargetReadWrite, false},
		{"all", amiibo.MountTargetAll, false},
		{"backwards", 0, true},
	}
	for _, tt := range tests {
		got, err := parseMountTarget(tt.input)
		if (err != nil) != tt.wantErr {
			t.Fatalf("parseMountTarget(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("parseMountTarget(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
