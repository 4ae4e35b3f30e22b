package amiibo

import (
	"encoding/binary"
	"time"
)

// Internal (decoded) layout offsets. This is the byte order the cipher and
// both HMACs operate on; converting between it and the hardware layout is a
// pure relayout.
const (
	intHeaderOffset      = 0x000 // BCC1, internal byte, static lock, capability container
	intDataHMACOffset    = 0x008
	intConstantOffset    = 0x028
	intWriteCounter      = 0x029
	intVersionOffset     = 0x02B
	intSettingsOffset    = 0x02C
	intOwnerMiiOffset    = 0x04C
	intMiiCRCOffset      = 0x0AA
	intTitleIDOffset     = 0x0AC
	intAppWriteCounter   = 0x0B4
	intAppAreaIDOffset   = 0x0B6
	intAppIDByteOffset   = 0x0BA
	intScratchOffset     = 0x0BB
	intMiiExtOffset      = 0x0BC
	intScratchWords      = 0x0C4
	intRegisterCRCOffset = 0x0D8
	intAppAreaOffset     = 0x0DC
	intTagHMACOffset     = 0x1B4
	intUIDOffset         = 0x1D4
	intModelInfoOffset   = 0x1DC
	intKeygenSaltOffset  = 0x1E8
	intDynamicLockOffset = 0x208
	intCFG0Offset        = 0x20C
	intCFG1Offset        = 0x210
	intPasswordOffset    = 0x214

	settingsSize        = 0x20
	modelInfoSize       = 0x0C
	keygenSaltSize      = 0x20
	hmacSize            = 0x20
	scratchWordCount    = 5
	cipherSpanStart     = intSettingsOffset // settings through application area
	cipherSpanEnd       = intTagHMACOffset
	dataHMACInputStart  = intWriteCounter
	tagHMACInputStart   = intUIDOffset
	tagHMACInputEnd     = intDynamicLockOffset
	modelInfoMarkerOffset = 0x07
)

// Date is the packed on-tag date format: seven bits of year offset from
// 2000, four bits of month, five bits of day.
type Date uint16

// NewDate packs t's local calendar date.
func NewDate(t time.Time) Date {
	year := t.Year() - 2000
	if year < 0 {
		year = 0
	}
	if year > 0x7F {
		year = 0x7F
	}
	return Date(uint16(year)<<9 | uint16(t.Month())<<5 | uint16(t.Day()))
}

func (d Date) Year() int        { return int(d>>9) + 2000 }
func (d Date) Month() time.Month { return time.Month(d >> 5 & 0x0F) }
func (d Date) Day() int         { return int(d & 0x1F) }

// SettingsFlags is the packed settings byte. The low nibble carries the
// owner's font region; bit 4 marks owner registration, bit 5 marks an
// initialized application area.
type SettingsFlags uint8

const (
	flagFontRegionMask SettingsFlags = 0x0F
	flagSetup          SettingsFlags = 1 << 4
	flagAppDataInit    SettingsFlags = 1 << 5
)

func (f SettingsFlags) FontRegion() uint8   { return uint8(f & flagFontRegionMask) }
func (f SettingsFlags) IsSetup() bool       { return f&flagSetup != 0 }
func (f SettingsFlags) HasAppData() bool    { return f&flagAppDataInit != 0 }

func (f *SettingsFlags) setSetup(v bool)   { f.assign(flagSetup, v) }
func (f *SettingsFlags) setAppData(v bool) { f.assign(flagAppDataInit, v) }
func (f *SettingsFlags) setFontRegion(region uint8) {
	*f = *f&^flagFontRegionMask | SettingsFlags(region)&flagFontRegionMask
}

func (f *SettingsFlags) assign(bit SettingsFlags, v bool) {
	if v {
		*f |= bit
	} else {
		*f &^= bit
	}
}

// Settings is the owner settings block: registration flags, dates, the
// self-check counter and checksum, and the UTF-16 nickname.
type Settings struct {
	Flags       SettingsFlags
	CountryCode uint8
	CRCCounter  uint16
	InitDate    Date
	WriteDate   Date
	CRC         uint32
	Name        [NameLength]uint16
}

func (s *Settings) marshal(b []byte) {
	b[0] = byte(s.Flags)
	b[1] = s.CountryCode
	binary.BigEndian.PutUint16(b[2:], s.CRCCounter)
	binary.BigEndian.PutUint16(b[4:], uint16(s.InitDate))
	binary.BigEndian.PutUint16(b[6:], uint16(s.WriteDate))
	binary.BigEndian.PutUint32(b[8:], s.CRC)
	for i, r := range s.Name {
		binary.BigEndian.PutUint16(b[12+2*i:], r)
	}
}

func (s *Settings) unmarshal(b []byte) {
	s.Flags = SettingsFlags(b[0])
	s.CountryCode = b[1]
	s.CRCCounter = binary.BigEndian.Uint16(b[2:])
	s.InitDate = Date(binary.BigEndian.Uint16(b[4:]))
	s.WriteDate = Date(binary.BigEndian.Uint16(b[6:]))
	s.CRC = binary.BigEndian.Uint32(b[8:])
	for i := range s.Name {
		s.Name[i] = binary.BigEndian.Uint16(b[12+2*i:])
	}
}

// Nickname decodes the owner-assigned name, stopping at the first NUL.
func (s *Settings) Nickname() string {
	runes := make([]rune, 0, NameLength)
	for _, r := range s.Name {
		if r == 0 {
			break
		}
		runes = append(runes, rune(r))
	}
	return string(runes)
}

// SetNickname encodes name into the fixed UTF-16 field, truncating to
// NameLength code units and NUL-padding the rest.
func (s *Settings) SetNickname(name string) {
	var encoded [NameLength]uint16
	i := 0
	for _, r := range name {
		if i >= NameLength {
			break
		}
		encoded[i] = uint16(r)
		i++
	}
	s.Name = encoded
}

// ModelInfo identifies the figure the tag belongs to. It sits outside the
// encrypted region.
type ModelInfo struct {
	CharacterID      uint16
	CharacterVariant uint8
	Type             uint8
	ModelNumber      uint16
	Series           uint8
	Constant         uint8 // always 0x02 on a genuine tag
	Reserved         [4]byte
}

func (m *ModelInfo) marshal(b []byte) {
	binary.LittleEndian.PutUint16(b[0:], m.CharacterID)
	b[2] = m.CharacterVariant
	b[3] = m.Type
	binary.BigEndian.PutUint16(b[4:], m.ModelNumber)
	b[6] = m.Series
	b[7] = m.Constant
	copy(b[8:12], m.Reserved[:])
}

func (m *ModelInfo) unmarshal(b []byte) {
	m.CharacterID = binary.LittleEndian.Uint16(b[0:])
	m.CharacterVariant = b[2]
	m.Type = b[3]
	m.ModelNumber = binary.BigEndian.Uint16(b[4:])
	m.Series = b[6]
	m.Constant = b[7]
	copy(m.Reserved[:], b[8:12])
}

// Password is the NTAG password block stored at the end of the image.
type Password struct {
	PWD  [4]byte
	PACK [2]byte
	RFUI [2]byte
}

// Image is the decoded tag: the same logical content as RawImage but with
// every field directly addressable. Field values are only meaningful after
// a successful Decode.
type Image struct {
	// Plain header carried over from the hardware layout.
	UID                 [UIDSize]byte
	InternalByte        uint8
	StaticLock          uint16
	CapabilityContainer uint32

	Constant     uint8 // user memory marker, 0xA5
	WriteCounter uint16
	Version      uint8

	Settings Settings

	OwnerMii    [MiiSize]byte
	MiiPad      [2]byte
	MiiCRC      uint16
	TitleID     uint64
	AppWriteCounter uint16
	ApplicationAreaID uint32
	ApplicationIDByte uint8
	Scratch     uint8
	MiiExtension uint64
	ScratchWords [scratchWordCount]uint32
	RegisterCRC uint32

	ApplicationArea [ApplicationAreaSize]byte

	DataHMAC [hmacSize]byte
	TagHMAC  [hmacSize]byte

	ModelInfo  ModelInfo
	KeygenSalt [keygenSaltSize]byte

	DynamicLock uint32
	CFG0        uint32
	CFG1        uint32
	Password    Password
}

// marshal writes the image in the internal layout.
func (img *Image) marshal() [ImageSize]byte {
	var b [ImageSize]byte

	b[intHeaderOffset] = img.UID[8]
	b[intHeaderOffset+1] = img.InternalByte
	binary.LittleEndian.PutUint16(b[intHeaderOffset+2:], img.StaticLock)
	binary.LittleEndian.PutUint32(b[intHeaderOffset+4:], img.CapabilityContainer)

	copy(b[intDataHMACOffset:], img.DataHMAC[:])
	b[intConstantOffset] = img.Constant
	binary.BigEndian.PutUint16(b[intWriteCounter:], img.WriteCounter)
	b[intVersionOffset] = img.Version

	img.Settings.marshal(b[intSettingsOffset : intSettingsOffset+settingsSize])

	copy(b[intOwnerMiiOffset:], img.OwnerMii[:])
	copy(b[intOwnerMiiOffset+MiiSize:], img.MiiPad[:])
	binary.BigEndian.PutUint16(b[intMiiCRCOffset:], img.MiiCRC)
	binary.BigEndian.PutUint64(b[intTitleIDOffset:], img.TitleID)
	binary.BigEndian.PutUint16(b[intAppWriteCounter:], img.AppWriteCounter)
	binary.BigEndian.PutUint32(b[intAppAreaIDOffset:], img.ApplicationAreaID)
	b[intAppIDByteOffset] = img.ApplicationIDByte
	b[intScratchOffset] = img.Scratch
	binary.BigEndian.PutUint64(b[intMiiExtOffset:], img.MiiExtension)
	for i, w := range img.ScratchWords {
		binary.BigEndian.PutUint32(b[intScratchWords+4*i:], w)
	}
	binary.BigEndian.PutUint32(b[intRegisterCRCOffset:], img.RegisterCRC)

	copy(b[intAppAreaOffset:], img.ApplicationArea[:])
	copy(b[intTagHMACOffset:], img.TagHMAC[:])
	copy(b[intUIDOffset:], img.UID[:8])
	img.ModelInfo.marshal(b[intModelInfoOffset : intModelInfoOffset+modelInfoSize])
	copy(b[intKeygenSaltOffset:], img.KeygenSalt[:])

	binary.LittleEndian.PutUint32(b[intDynamicLockOffset:], img.DynamicLock)
	binary.LittleEndian.PutUint32(b[intCFG0Offset:], img.CFG0)
	binary.LittleEndian.PutUint32(b[intCFG1Offset:], img.CFG1)
	copy(b[intPasswordOffset:], img.Password.PWD[:])
	copy(b[intPasswordOffset+4:], img.Password.PACK[:])
	copy(b[intPasswordOffset+6:], img.Password.RFUI[:])

	return b
}

// unmarshal populates the image from the internal layout.
func (img *Image) unmarshal(b *[ImageSize]byte) {
	copy(img.UID[:8], b[intUIDOffset:])
	img.UID[8] = b[intHeaderOffset]
	img.InternalByte = b[intHeaderOffset+1]
	img.StaticLock = binary.LittleEndian.Uint16(b[intHeaderOffset+2:])
	img.CapabilityContainer = binary.LittleEndian.Uint32(b[intHeaderOffset+4:])

	copy(img.DataHMAC[:], b[intDataHMACOffset:])
	img.Constant = b[intConstantOffset]
	img.WriteCounter = binary.BigEndian.Uint16(b[intWriteCounter:])
	img.Version = b[intVersionOffset]

	img.Settings.unmarshal(b[intSettingsOffset : intSettingsOffset+settingsSize])

	copy(img.OwnerMii[:], b[intOwnerMiiOffset:])
	copy(img.MiiPad[:], b[intOwnerMiiOffset+MiiSize:])
	img.MiiCRC = binary.BigEndian.Uint16(b[intMiiCRCOffset:])
	img.TitleID = binary.BigEndian.Uint64(b[intTitleIDOffset:])
	img.AppWriteCounter = binary.BigEndian.Uint16(b[intAppWriteCounter:])
	img.ApplicationAreaID = binary.BigEndian.Uint32(b[intAppAreaIDOffset:])
	img.ApplicationIDByte = b[intAppIDByteOffset]
	img.Scratch = b[intScratchOffset]
	img.MiiExtension = binary.BigEndian.Uint64(b[intMiiExtOffset:])
	for i := range img.ScratchWords {
		img.ScratchWords[i] = binary.BigEndian.Uint32(b[intScratchWords+4*i:])
	}
	img.RegisterCRC = binary.BigEndian.Uint32(b[intRegisterCRCOffset:])

	copy(img.ApplicationArea[:], b[intAppAreaOffset:])
	copy(img.TagHMAC[:], b[intTagHMACOffset:])
	img.ModelInfo.unmarshal(b[intModelInfoOffset : intModelInfoOffset+modelInfoSize])
	copy(img.KeygenSalt[:], b[intKeygenSaltOffset:])

	img.DynamicLock = binary.LittleEndian.Uint32(b[intDynamicLockOffset:])
	img.CFG0 = binary.LittleEndian.Uint32(b[intCFG0Offset:])
	img.CFG1 = binary.LittleEndian.Uint32(b[intCFG1Offset:])
	copy(img.Password.PWD[:], b[intPasswordOffset:])
	copy(img.Password.PACK[:], b[intPasswordOffset+4:])
	copy(img.Password.RFUI[:], b[intPasswordOffset+6:])
}

// tagToInternal relays the hardware layout into the internal layout.
func tagToInternal(tag *[ImageSize]byte) [ImageSize]byte {
	var intl [ImageSize]byte
	copy(intl[intHeaderOffset:intHeaderOffset+8], tag[0x008:])
	copy(intl[intDataHMACOffset:intDataHMACOffset+hmacSize], tag[rawDataHMACOffset:])
	copy(intl[intConstantOffset:intConstantOffset+0x24], tag[rawConstantOffset:])
	copy(intl[intOwnerMiiOffset:intOwnerMiiOffset+0x168], tag[rawPayloadOffset:])
	copy(intl[intTagHMACOffset:intTagHMACOffset+hmacSize], tag[rawTagHMACOffset:])
	copy(intl[intUIDOffset:intUIDOffset+8], tag[rawUIDOffset:])
	copy(intl[intModelInfoOffset:intModelInfoOffset+0x2C], tag[rawModelInfoOffset:])
	copy(intl[intDynamicLockOffset:], tag[rawDynamicLockOffset:])
	return intl
}

// internalToTag is the inverse relayout.
func internalToTag(intl *[ImageSize]byte) [ImageSize]byte {
	var tag [ImageSize]byte
	copy(tag[0x008:0x010], intl[intHeaderOffset:])
	copy(tag[rawDataHMACOffset:rawDataHMACOffset+hmacSize], intl[intDataHMACOffset:])
	copy(tag[rawConstantOffset:rawConstantOffset+0x24], intl[intConstantOffset:])
	copy(tag[rawPayloadOffset:rawPayloadOffset+0x168], intl[intOwnerMiiOffset:])
	copy(tag[rawTagHMACOffset:rawTagHMACOffset+hmacSize], intl[intTagHMACOffset:])
	copy(tag[rawUIDOffset:rawUIDOffset+8], intl[intUIDOffset:])
	copy(tag[rawModelInfoOffset:rawModelInfoOffset+0x2C], intl[intModelInfoOffset:])
	copy(tag[rawDynamicLockOffset:], intl[intDynamicLockOffset:])
	return tag
}
