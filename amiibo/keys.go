package amiibo

import (
	"fmt"
	"os"
)

// KeyTemplate is one fixed 80-byte key derivation record from the retail
// key file: the HMAC seed key, the human-readable type string, the magic
// byte run and the XOR pad mixed into every per-tag seed.
type KeyTemplate struct {
	HMACKey    [16]byte
	TypeString [14]byte
	Reserved   uint8
	MagicSize  uint8
	Magic      [16]byte
	XORPad     [32]byte
}

// KeyTemplateSize is the serialized size of one KeyTemplate record.
const KeyTemplateSize = 80

// KeyFileSize is the retail key file length: the data template followed by
// the tag template.
const KeyFileSize = 2 * KeyTemplateSize

func (k *KeyTemplate) unmarshal(b []byte) error {
	if len(b) < KeyTemplateSize {
		return fmt.Errorf("key template must be %d bytes, got %d", KeyTemplateSize, len(b))
	}
	copy(k.HMACKey[:], b[0:16])
	copy(k.TypeString[:], b[16:30])
	k.Reserved = b[30]
	k.MagicSize = b[31]
	copy(k.Magic[:], b[32:48])
	copy(k.XORPad[:], b[48:80])
	if k.MagicSize > uint8(len(k.Magic)) {
		return fmt.Errorf("key template magic length %d exceeds %d", k.MagicSize, len(k.Magic))
	}
	return nil
}

// RetailKeys holds both key templates a reader needs: Data drives the
// payload cipher and data HMAC, Tag drives the UID/model-info HMAC.
type RetailKeys struct {
	Data KeyTemplate // "unfixed infos"
	Tag  KeyTemplate // "locked secret"
}

// ParseRetailKeys decodes a raw retail key blob. The data template comes
// first, matching the layout of the well-known key_retail.bin.
func ParseRetailKeys(b []byte) (*RetailKeys, error) {
	if len(b) != KeyFileSize {
		return nil, fmt.Errorf("retail key file must be %d bytes, got %d", KeyFileSize, len(b))
	}
	keys := &RetailKeys{}
	if err := keys.Data.unmarshal(b[:KeyTemplateSize]); err != nil {
		return nil, fmt.Errorf("data key template: %w", err)
	}
	if err := keys.Tag.unmarshal(b[KeyTemplateSize:]); err != nil {
		return nil, fmt.Errorf("tag key template: %w", err)
	}
	return keys, nil
}

// LoadRetailKeys reads the key file at path. A missing or malformed file is
// an error for the caller to absorb; the controller treats it as "no keys"
// and degrades mounts to read-only.
func LoadRetailKeys(path string) (*RetailKeys, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read retail keys: %w", err)
	}
	return ParseRetailKeys(b)
}
