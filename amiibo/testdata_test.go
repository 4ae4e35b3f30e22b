package amiibo

import (
	"testing"
	"time"
)

// testKeys builds a deterministic synthetic key file. The derivation math
// only needs well-formed templates, not the retail secrets.
func testKeys(t *testing.T) *RetailKeys {
	t.Helper()
	blob := make([]byte, KeyFileSize)
	for i := range blob {
		blob[i] = byte(i*7 + 13)
	}
	blob[31] = 14                   // data template magic length
	blob[KeyTemplateSize+31] = 16   // tag template magic length
	keys, err := ParseRetailKeys(blob)
	if err != nil {
		t.Fatalf("ParseRetailKeys() error = %v", err)
	}
	return keys
}

// testUID returns a serial number with both check bytes satisfied.
func testUID() [UIDSize]byte {
	uid := [UIDSize]byte{0x04, 0x11, 0x22, 0, 0x33, 0x44, 0x55, 0x66, 0}
	uid[3] = uidCascadeTag ^ uid[0] ^ uid[1] ^ uid[2]
	uid[8] = uid[4] ^ uid[5] ^ uid[6] ^ uid[7]
	return uid
}

// testImage builds a structurally valid decoded tag with a registered
// owner and an initialized application area under testAreaID.
const testAreaID = 0x12345678

func testImage() *Image {
	img := &Image{
		UID:                 testUID(),
		InternalByte:        0x48,
		StaticLock:          constantStaticLock,
		CapabilityContainer: constantCapability,
		Constant:            constantUserMarker,
		WriteCounter:        5,
		DynamicLock:         0x01000FBD,
		CFG0:                constantCFG0,
		CFG1:                constantCFG1,
	}
	img.ModelInfo = ModelInfo{
		CharacterID: 0x01C2,
		Type:        0x01,
		ModelNumber: 0x0380,
		Series:      0x05,
		Constant:    constantModelMarker,
	}
	for i := range img.KeygenSalt {
		img.KeygenSalt[i] = byte(i*3 + 1)
	}
	img.Settings.Flags.setSetup(true)
	img.Settings.Flags.setAppData(true)
	img.Settings.SetNickname("Fox")
	img.Settings.InitDate = NewDate(time.Date(2021, time.March, 14, 0, 0, 0, 0, time.UTC))
	img.ApplicationAreaID = testAreaID
	for i := range img.ApplicationArea {
		img.ApplicationArea[i] = byte(i)
	}
	uid7 := ShortUID(img.UID)
	img.Password.PWD = TagPassword(uid7)
	img.Password.PACK = [2]byte{0x80, 0x80}
	return img
}

// testRawImage encodes testImage under testKeys.
func testRawImage(t *testing.T, keys *RetailKeys) *RawImage {
	t.Helper()
	raw, err := Encode(testImage(), keys)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	return raw
}

const testTagName = "fox.bin"

// testDevice wires a controller to in-memory storage holding one encoded
// test tag, a fake clock and synthetic keys (nil keys for the read-only
// fallback path).
func testDevice(t *testing.T, keys *RetailKeys) (*Device, *MemoryStorage, *FakeClock) {
	t.Helper()
	storage := NewMemoryStorage()
	encodeWith := keys
	if encodeWith == nil {
		encodeWith = testKeys(t)
	}
	raw := testRawImage(t, encodeWith)
	if err := storage.Store(testTagName, raw.Bytes()); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	clock := NewFakeClock(time.Date(2026, time.August, 30, 12, 0, 0, 0, time.UTC))
	return NewDevice(keys, storage, clock, nil, nil), storage, clock
}

// mountTestDevice drives a fresh device through load and mount.
func mountTestDevice(t *testing.T, d *Device, target MountTarget) {
	t.Helper()
	d.Initialize()
	if err := d.StartDetection(ProtocolAll); err != nil {
		t.Fatalf("StartDetection() error = %v", err)
	}
	if err := d.LoadTag(testTagName); err != nil {
		t.Fatalf("LoadTag() error = %v", err)
	}
	if err := d.Mount(target); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
}
