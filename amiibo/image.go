// Package amiibo emulates an amiibo contactless storage tag and the reader
// logic that authenticates, decodes and rewrites its encrypted contents.
//
// The package is split into three layers: the fixed-size tag image model
// (RawImage and Image), the cryptographic codec (Decode/Encode plus the
// retail key schedule), and the Device lifecycle controller that gates every
// operation on the tag's presence and mount status.
package amiibo

import (
	"encoding/binary"
	"fmt"
)

// NTAG215 image geometry. An amiibo occupies the full 540-byte dump of an
// NTAG215 tag (135 pages of 4 bytes).
const (
	ImageSize = 540

	// UIDSize is the serial number length including both check bytes.
	UIDSize = 9

	// ApplicationAreaSize is the fixed per-game payload capacity.
	ApplicationAreaSize = 216

	// NameLength is the owner-assigned nickname length in UTF-16 code units.
	NameLength = 10

	// MiiSize is the owner avatar blob size.
	MiiSize = 92

	// CounterLimit is the saturation ceiling for every write counter on the
	// tag. Counters stop here and never wrap.
	CounterLimit = 0xFFFF
)

// Raw (hardware) layout offsets.
const (
	rawUIDOffset         = 0x000
	rawInternalOffset    = 0x009
	rawStaticLockOffset  = 0x00A
	rawCapContainer      = 0x00C
	rawConstantOffset    = 0x010
	rawWriteCounter      = 0x011
	rawVersionOffset     = 0x013
	rawSettingsOffset    = 0x014
	rawTagHMACOffset     = 0x034
	rawModelInfoOffset   = 0x054
	rawKeygenSaltOffset  = 0x060
	rawDataHMACOffset    = 0x080
	rawPayloadOffset     = 0x0A0
	rawDynamicLockOffset = 0x208
	rawCFG0Offset        = 0x20C
	rawCFG1Offset        = 0x210
	rawPasswordOffset    = 0x214
)

// Constants every genuine amiibo image carries.
const (
	uidCascadeTag       = 0x88 // ISO/IEC 14443-3 cascade tag, folded into BCC0
	constantStaticLock  = 0xE00F
	constantCapability  = 0xEEFF10F1
	constantUserMarker  = 0xA5
	constantModelMarker = 0x02
	constantCFG0        = 0x04000000
	constantCFG1        = 0x5F
)

// RawImage is the encrypted 540-byte tag image exactly as stored on the
// tag (and on disk). Its mutable region is ciphertext; only the plainly
// stored fields have accessors.
type RawImage struct {
	data [ImageSize]byte
}

// ParseRawImage validates the size of b and copies it into a RawImage.
// No structural or cryptographic checks are performed here; see Validate.
func ParseRawImage(b []byte) (*RawImage, error) {
	if len(b) != ImageSize {
		return nil, fmt.Errorf("tag image must be %d bytes, got %d", ImageSize, len(b))
	}
	raw := &RawImage{}
	copy(raw.data[:], b)
	return raw, nil
}

// Bytes returns a copy of the full image.
func (r *RawImage) Bytes() []byte {
	out := make([]byte, ImageSize)
	copy(out, r.data[:])
	return out
}

// UID returns the 9-byte serial number, check bytes included.
func (r *RawImage) UID() [UIDSize]byte {
	var uid [UIDSize]byte
	copy(uid[:], r.data[rawUIDOffset:rawUIDOffset+UIDSize])
	return uid
}

// WriteCounter returns the main tag write counter.
func (r *RawImage) WriteCounter() uint16 {
	return binary.BigEndian.Uint16(r.data[rawWriteCounter:])
}

// StaticLock returns the static lock word.
func (r *RawImage) StaticLock() uint16 {
	return binary.LittleEndian.Uint16(r.data[rawStaticLockOffset:])
}

// CapabilityContainer returns the compatibility container word.
func (r *RawImage) CapabilityContainer() uint32 {
	return binary.LittleEndian.Uint32(r.data[rawCapContainer:])
}

// ModelInfo returns the model info block, which is stored outside the
// encrypted region and therefore readable before any decode.
func (r *RawImage) ModelInfo() ModelInfo {
	var mi ModelInfo
	mi.unmarshal(r.data[rawModelInfoOffset : rawModelInfoOffset+modelInfoSize])
	return mi
}

// Validate performs the structural (key-less) amiibo checks: both UID check
// bytes and the six fixed constants. A failure means the image is not a
// valid amiibo, independent of key availability.
func (r *RawImage) Validate() error {
	uid := r.UID()
	if uidCascadeTag^uid[0]^uid[1]^uid[2] != uid[3] {
		return fmt.Errorf("uid check byte 0 mismatch")
	}
	if uid[4]^uid[5]^uid[6]^uid[7] != uid[8] {
		return fmt.Errorf("uid check byte 1 mismatch")
	}
	if lock := r.StaticLock(); lock != constantStaticLock {
		return fmt.Errorf("static lock 0x%04X, want 0x%04X", lock, constantStaticLock)
	}
	if cc := r.CapabilityContainer(); cc != constantCapability {
		return fmt.Errorf("capability container 0x%08X, want 0x%08X", cc, constantCapability)
	}
	if r.data[rawConstantOffset] != constantUserMarker {
		return fmt.Errorf("user memory marker 0x%02X, want 0x%02X", r.data[rawConstantOffset], constantUserMarker)
	}
	if r.data[rawModelInfoOffset+modelInfoMarkerOffset] != constantModelMarker {
		return fmt.Errorf("model info marker 0x%02X, want 0x%02X",
			r.data[rawModelInfoOffset+modelInfoMarkerOffset], constantModelMarker)
	}
	if cfg0 := binary.LittleEndian.Uint32(r.data[rawCFG0Offset:]); cfg0 != constantCFG0 {
		return fmt.Errorf("CFG0 0x%08X, want 0x%08X", cfg0, constantCFG0)
	}
	if cfg1 := binary.LittleEndian.Uint32(r.data[rawCFG1Offset:]); cfg1 != constantCFG1 {
		return fmt.Errorf("CFG1 0x%08X, want 0x%08X", cfg1, constantCFG1)
	}
	return nil
}

// IsAmiibo reports whether the image passes structural validation.
func (r *RawImage) IsAmiibo() bool {
	return r.Validate() == nil
}

// TagPassword derives the NTAG215 password from a 7-byte serial number
// (check bytes excluded). The tag acknowledges with PACK 0x8080.
func TagPassword(uid [7]byte) [4]byte {
	return [4]byte{
		uid[1] ^ uid[3] ^ 0xAA,
		uid[2] ^ uid[4] ^ 0x55,
		uid[3] ^ uid[5] ^ 0xAA,
		uid[4] ^ uid[6] ^ 0x55,
	}
}

// ShortUID strips the two check bytes from a 9-byte serial number.
func ShortUID(uid [UIDSize]byte) [7]byte {
	return [7]byte{uid[0], uid[1], uid[2], uid[4], uid[5], uid[6], uid[7]}
}
