package amiibo

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	keys := testKeys(t)
	img := testImage()

	raw, err := Encode(img, keys)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	decoded, err := Decode(raw, keys)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	if decoded.WriteCounter != img.WriteCounter {
		t.Errorf("WriteCounter = %d, want %d", decoded.WriteCounter, img.WriteCounter)
	}
	if decoded.ApplicationAreaID != img.ApplicationAreaID {
		t.Errorf("ApplicationAreaID = %#08x, want %#08x", decoded.ApplicationAreaID, img.ApplicationAreaID)
	}
	if got := decoded.Settings.Nickname(); got != "Fox" {
		t.Errorf("Nickname = %q, want %q", got, "Fox")
	}
	if decoded.ApplicationArea != img.ApplicationArea {
		t.Error("application area did not survive the round trip")
	}
	if decoded.UID != img.UID {
		t.Errorf("UID = %x, want %x", decoded.UID, img.UID)
	}

	// Re-encoding the decoded image must reproduce the exact bytes.
	again, err := Encode(decoded, keys)
	if err != nil {
		t.Fatalf("Encode() of decoded image error = %v", err)
	}
	if !bytes.Equal(again.Bytes(), raw.Bytes()) {
		t.Error("encode(decode(encode(img))) is not byte-identical")
	}
}

func TestDecodeRejectsTampering(t *testing.T) {
	keys := testKeys(t)

	tests := []struct {
		name   string
		offset int
	}{
		{name: "settings block", offset: rawSettingsOffset + 3},
		{name: "application area", offset: rawPayloadOffset + 0x100},
		{name: "stored tag signature", offset: rawTagHMACOffset + 7},
		{name: "stored data signature", offset: rawDataHMACOffset + 7},
		{name: "write counter", offset: rawWriteCounter},
		{name: "keygen salt", offset: rawKeygenSaltOffset + 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := testRawImage(t, keys).Bytes()
			data[tt.offset] ^= 0x01
			raw, err := ParseRawImage(data)
			if err != nil {
				t.Fatalf("ParseRawImage() error = %v", err)
			}
			_, err = Decode(raw, keys)
			if err == nil {
				t.Fatal("Decode() accepted a tampered image")
			}
			if !IsCorruptedData(err) {
				t.Errorf("Decode() error = %v, want CorruptedData", err)
			}
		})
	}
}

// TestDeriveKeysKnownAnswer pins the derivation against fixed vectors
// computed with an independent HMAC-SHA256 implementation, so a layout or
// slicing regression in the internal key string cannot slip past the
// self-consistent round-trip tests.
func TestDeriveKeysKnownAnswer(t *testing.T) {
	tmpl := &KeyTemplate{MagicSize: 14}
	for i := range tmpl.HMACKey {
		tmpl.HMACKey[i] = byte(0x10 + i)
	}
	copy(tmpl.TypeString[:], "unfixed infos\x00")
	for i := range tmpl.Magic {
		tmpl.Magic[i] = byte(0x80 + i)
	}
	for i := range tmpl.XORPad {
		tmpl.XORPad[i] = byte(i * 5)
	}

	var intl [ImageSize]byte
	intl[intWriteCounter] = 0xBE
	intl[intWriteCounter+1] = 0xEF
	copy(intl[intUIDOffset:], []byte{0x04, 0x92, 0xAA, 0x3C, 0x33, 0x44, 0x55, 0x66})
	for i := 0; i < keygenSaltSize; i++ {
		intl[intKeygenSaltOffset+i] = byte(i*3 + 1)
	}

	seed := hashSeed(&intl)
	internal := prepareSeed(tmpl, &seed)
	wantInternal, err := hex.DecodeString(
		"756e666978656420696e666f7300beef" +
			"808182838485868788898a8b8c8d" +
			"0492aa3c334455660492aa3c33445566" +
			"01010d0519090d3531312d1519696d6561616d6559292d353131cdd5d9c9cdc5")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(internal, wantInternal) {
		t.Errorf("internal key string =\n%x, want\n%x", internal, wantInternal)
	}

	keys := deriveKeys(tmpl, &intl)
	vectors := []struct {
		name string
		got  []byte
		want string
	}{
		{name: "aes key", got: keys.AESKey[:], want: "c444fc89b34a52bad7c750bb4c7393d9"},
		{name: "aes iv", got: keys.AESIV[:], want: "b8e35f9dd7841e04cada501f305cd0ee"},
		{name: "hmac key", got: keys.HMACKey[:], want: "90e16fdd1136057fd84da5d78eb81478"},
	}
	for _, v := range vectors {
		want, err := hex.DecodeString(v.want)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(v.got, want) {
			t.Errorf("%s = %x, want %x", v.name, v.got, want)
		}
	}
}

func TestDeriveKeysTagSpecific(t *testing.T) {
	keys := testKeys(t)

	plainA := testImage().marshal()
	derivedA := deriveKeys(&keys.Data, &plainA)
	derivedAgain := deriveKeys(&keys.Data, &plainA)
	if derivedA != derivedAgain {
		t.Error("derivation is not deterministic")
	}

	imgB := testImage()
	imgB.WriteCounter++
	plainB := imgB.marshal()
	if derivedB := deriveKeys(&keys.Data, &plainB); derivedB == derivedA {
		t.Error("write counter change did not alter derived keys")
	}

	imgC := testImage()
	imgC.KeygenSalt[0] ^= 0xFF
	plainC := imgC.marshal()
	if derivedC := deriveKeys(&keys.Data, &plainC); derivedC == derivedA {
		t.Error("salt change did not alter derived keys")
	}

	if derivedTag := deriveKeys(&keys.Tag, &plainA); derivedTag == derivedA {
		t.Error("tag and data templates derived identical keys")
	}
}

func TestDecodeWrongKeys(t *testing.T) {
	keys := testKeys(t)
	raw := testRawImage(t, keys)

	other := testKeys(t)
	other.Data.HMACKey[0] ^= 0xFF
	other.Tag.XORPad[3] ^= 0xFF

	if _, err := Decode(raw, other); !IsCorruptedData(err) {
		t.Errorf("Decode() with wrong keys error = %v, want CorruptedData", err)
	}
}

func TestParseRetailKeys(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(b []byte) []byte
		wantErr bool
	}{
		{name: "valid", mutate: func(b []byte) []byte { return b }},
		{name: "truncated", mutate: func(b []byte) []byte { return b[:KeyFileSize-1] }, wantErr: true},
		{name: "oversized", mutate: func(b []byte) []byte { return append(b, 0x00) }, wantErr: true},
		{
			name: "magic length out of range",
			mutate: func(b []byte) []byte {
				b[31] = 17
				return b
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blob := make([]byte, KeyFileSize)
			for i := range blob {
				blob[i] = byte(i)
			}
			blob[31] = 14
			blob[KeyTemplateSize+31] = 16
			_, err := ParseRetailKeys(tt.mutate(blob))
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseRetailKeys() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
