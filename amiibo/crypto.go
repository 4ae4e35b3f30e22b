package amiibo

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
)

// DerivedKeys is the ephemeral per-tag key material computed for one codec
// operation. It is never persisted; both mount and flush re-derive it from
// the key template and the tag's current seed fields.
type DerivedKeys struct {
	AESKey  [16]byte
	AESIV   [16]byte
	HMACKey [16]byte
}

const (
	seedSize        = 0x40
	derivedKeysSize = 48
)

// hashSeed builds the 64-byte derivation seed from an internal-layout
// image: the raw write counter bytes, the first eight UID bytes twice, and
// the per-tag keygen salt.
func hashSeed(intl *[ImageSize]byte) [seedSize]byte {
	var seed [seedSize]byte
	copy(seed[0:2], intl[intWriteCounter:intWriteCounter+2])
	copy(seed[0x10:0x18], intl[intUIDOffset:intUIDOffset+8])
	copy(seed[0x18:0x20], intl[intUIDOffset:intUIDOffset+8])
	copy(seed[0x20:0x40], intl[intKeygenSaltOffset:intKeygenSaltOffset+keygenSaltSize])
	return seed
}

// prepareSeed assembles the internal key string for one template: the type
// string, the leading seed bytes not displaced by the magic run, the magic
// bytes, both UID copies, and the salt XORed with the template pad.
func prepareSeed(tmpl *KeyTemplate, seed *[seedSize]byte) []byte {
	leading := 16 - int(tmpl.MagicSize)
	out := make([]byte, 0, len(tmpl.TypeString)+16+16+32)

	out = append(out, tmpl.TypeString[:]...)
	out = append(out, seed[:leading]...)
	out = append(out, tmpl.Magic[:tmpl.MagicSize]...)
	out = append(out, seed[0x10:0x20]...)
	for i := 0; i < 32; i++ {
		out = append(out, seed[0x20+i]^tmpl.XORPad[i])
	}
	return out
}

// deriveKeys runs the counter-mode HMAC-SHA256 generator over the internal
// key string. Each step hashes a big-endian 16-bit iteration counter
// followed by the string; two steps cover the 48 key bytes.
func deriveKeys(tmpl *KeyTemplate, intl *[ImageSize]byte) DerivedKeys {
	seed := hashSeed(intl)
	internal := prepareSeed(tmpl, &seed)

	var stream []byte
	var counter [2]byte
	for iteration := uint16(0); len(stream) < derivedKeysSize; iteration++ {
		binary.BigEndian.PutUint16(counter[:], iteration)
		mac := hmac.New(sha256.New, tmpl.HMACKey[:])
		mac.Write(counter[:])
		mac.Write(internal)
		stream = mac.Sum(stream)
	}

	var keys DerivedKeys
	copy(keys.AESKey[:], stream[0:16])
	copy(keys.AESIV[:], stream[16:32])
	copy(keys.HMACKey[:], stream[32:48])
	return keys
}

// cryptPayload applies AES-128-CTR over the mutable span of an
// internal-layout image. CTR is symmetric, so this is both directions.
func cryptPayload(keys *DerivedKeys, intl *[ImageSize]byte) error {
	block, err := aes.NewCipher(keys.AESKey[:])
	if err != nil {
		return err
	}
	span := intl[cipherSpanStart:cipherSpanEnd]
	cipher.NewCTR(block, keys.AESIV[:]).XORKeyStream(span, span)
	return nil
}

// tagSignature authenticates the plainly stored identity region: UID, model
// info and keygen salt.
func tagSignature(keys *DerivedKeys, intl *[ImageSize]byte) [hmacSize]byte {
	mac := hmac.New(sha256.New, keys.HMACKey[:])
	mac.Write(intl[tagHMACInputStart:tagHMACInputEnd])
	var sig [hmacSize]byte
	copy(sig[:], mac.Sum(nil))
	return sig
}

// dataSignature authenticates the decrypted payload. The tag signature is
// part of its input, so it must already be computed.
func dataSignature(keys *DerivedKeys, intl *[ImageSize]byte, tagSig *[hmacSize]byte) [hmacSize]byte {
	mac := hmac.New(sha256.New, keys.HMACKey[:])
	mac.Write(intl[dataHMACInputStart:intTagHMACOffset])
	mac.Write(tagSig[:])
	mac.Write(intl[tagHMACInputStart:tagHMACInputEnd])
	var sig [hmacSize]byte
	copy(sig[:], mac.Sum(nil))
	return sig
}

// Decode decrypts and authenticates a raw tag image. Both chained HMACs
// must verify or the image is rejected as corrupted; structural validation
// is a separate, key-less concern (RawImage.Validate).
func Decode(raw *RawImage, keys *RetailKeys) (*Image, error) {
	intl := tagToInternal(&raw.data)
	dataKeys := deriveKeys(&keys.Data, &intl)
	tagKeys := deriveKeys(&keys.Tag, &intl)

	plain := intl
	if err := cryptPayload(&dataKeys, &plain); err != nil {
		return nil, &Error{Result: ResultCorruptedData, Op: "Decode", Message: "cipher setup failed", Cause: err}
	}

	tagSig := tagSignature(&tagKeys, &plain)
	dataSig := dataSignature(&dataKeys, &plain, &tagSig)

	if subtle.ConstantTimeCompare(tagSig[:], intl[intTagHMACOffset:intTagHMACOffset+hmacSize]) != 1 {
		return nil, &Error{Result: ResultCorruptedData, Op: "Decode", Message: "tag signature mismatch"}
	}
	if subtle.ConstantTimeCompare(dataSig[:], intl[intDataHMACOffset:intDataHMACOffset+hmacSize]) != 1 {
		return nil, &Error{Result: ResultCorruptedData, Op: "Decode", Message: "data signature mismatch"}
	}

	img := &Image{}
	img.unmarshal(&plain)
	return img, nil
}

// Encode is the mirror of Decode: it regenerates both HMACs over the
// plaintext, stores them, then encrypts the mutable span back into the
// hardware layout.
func Encode(img *Image, keys *RetailKeys) (*RawImage, error) {
	plain := img.marshal()
	dataKeys := deriveKeys(&keys.Data, &plain)
	tagKeys := deriveKeys(&keys.Tag, &plain)

	tagSig := tagSignature(&tagKeys, &plain)
	dataSig := dataSignature(&dataKeys, &plain, &tagSig)
	copy(plain[intTagHMACOffset:], tagSig[:])
	copy(plain[intDataHMACOffset:], dataSig[:])

	if err := cryptPayload(&dataKeys, &plain); err != nil {
		return nil, newWriteFailedError("Encode", err)
	}

	raw := &RawImage{data: internalToTag(&plain)}
	return raw, nil
}
