package amiibo

// MiiProvider supplies owner Mii data when the caller registers a tag
// without providing its own, and when a wiped register block needs a
// placeholder identity.
type MiiProvider interface {
	OwnerMii() [MiiSize]byte
}

// DefaultMiiProvider returns a fixed guest Mii blob.
type DefaultMiiProvider struct{}

func NewDefaultMiiProvider() *DefaultMiiProvider {
	return &DefaultMiiProvider{}
}

func (p *DefaultMiiProvider) OwnerMii() [MiiSize]byte {
	var mii [MiiSize]byte
	// Minimal well-formed guest data: version, non-zero id, neutral looks.
	mii[0x00] = 0x03
	mii[0x04] = 0x80
	copy(mii[0x1A:], encodeUTF16BE("Guest", NameLength))
	return mii
}

// encodeUTF16BE packs a string into a fixed big-endian UTF-16 code unit
// slot count, zero padded.
func encodeUTF16BE(s string, units int) []byte {
	out := make([]byte, units*2)
	i := 0
	for _, r := range s {
		if i >= units {
			break
		}
		if r > 0xFFFF {
			r = 0xFFFD
		}
		out[i*2] = byte(r >> 8)
		out[i*2+1] = byte(r)
		i++
	}
	return out
}
