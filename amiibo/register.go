package amiibo

import "encoding/binary"

// RegisterInfo is the owner registration block exposed to callers.
type RegisterInfo struct {
	Mii          [MiiSize]byte
	Nickname     string
	FontRegion   uint8
	CreationDate Date
}

// AdminInfo summarizes registration and application area status.
type AdminInfo struct {
	TitleID            uint64
	ApplicationAreaID  uint32
	ApplicationIDByte  uint8
	IsRegistered       bool
	HasApplicationArea bool
	Version            uint8
}

// GetRegisterInfo returns the owner registration block.
func (d *Device) GetRegisterInfo() (RegisterInfo, error) {
	if err := d.mountedWritable("GetRegisterInfo", false); err != nil {
		return RegisterInfo{}, err
	}
	if !d.img.Settings.Flags.IsSetup() {
		return RegisterInfo{}, newResultError(ResultRegistrationIsNotInitialized, "GetRegisterInfo", "tag owner is not registered")
	}
	return RegisterInfo{
		Mii:          d.img.OwnerMii,
		Nickname:     d.img.Settings.Nickname(),
		FontRegion:   d.img.Settings.Flags.FontRegion(),
		CreationDate: d.img.Settings.InitDate,
	}, nil
}

// SetRegisterInfo registers the owner: Mii, nickname and font region. A
// zero Mii blob is replaced with the injected default. First registration
// also stamps the creation date.
func (d *Device) SetRegisterInfo(info RegisterInfo) error {
	if err := d.mountedWritable("SetRegisterInfo", true); err != nil {
		return err
	}

	mii := info.Mii
	if mii == ([MiiSize]byte{}) {
		mii = d.miis.OwnerMii()
	}

	if !d.img.Settings.Flags.IsSetup() {
		d.img.Settings.InitDate = NewDate(d.clock.Now())
	}
	d.img.OwnerMii = mii
	d.img.MiiCRC = d.miiChecksum()
	d.img.Settings.SetNickname(info.Nickname)
	d.img.Settings.Flags.setFontRegion(info.FontRegion)
	d.img.Settings.Flags.setSetup(true)
	d.updateRegisterCrc()
	d.dirty = true
	return d.Flush()
}

// DeleteRegisterInfo wipes the owner registration with random bytes and
// clears the setup flag.
func (d *Device) DeleteRegisterInfo() error {
	if err := d.mountedWritable("DeleteRegisterInfo", true); err != nil {
		return err
	}
	if !d.img.Settings.Flags.IsSetup() {
		return newResultError(ResultRegistrationIsNotInitialized, "DeleteRegisterInfo", "tag owner is not registered")
	}

	if err := fillRandom(d.img.OwnerMii[:]); err != nil {
		return newWriteFailedError("DeleteRegisterInfo", err)
	}
	fillRandom(d.img.MiiPad[:])
	d.img.MiiCRC = uint16(randomUint32())
	d.img.MiiExtension = uint64(randomUint32())<<32 | uint64(randomUint32())
	for i := range d.img.ScratchWords {
		d.img.ScratchWords[i] = randomUint32()
	}
	d.img.RegisterCRC = randomUint32()
	d.img.Settings.InitDate = Date(randomUint32())
	var name [NameLength]uint16
	d.img.Settings.Name = name
	d.img.Settings.Flags.setFontRegion(0)
	d.img.Settings.Flags.setSetup(false)
	d.dirty = true
	return d.Flush()
}

// GetAdminInfo reports registration and application area status.
func (d *Device) GetAdminInfo() (AdminInfo, error) {
	if err := d.mountedWritable("GetAdminInfo", false); err != nil {
		return AdminInfo{}, err
	}
	return AdminInfo{
		TitleID:            d.img.TitleID,
		ApplicationAreaID:  d.img.ApplicationAreaID,
		ApplicationIDByte:  d.img.ApplicationIDByte,
		IsRegistered:       d.img.Settings.Flags.IsSetup(),
		HasApplicationArea: d.img.Settings.Flags.HasAppData(),
		Version:            d.img.Version,
	}, nil
}

// Format wipes both feature surfaces, returning the tag to factory state.
// Surfaces that were never initialized are skipped.
func (d *Device) Format() error {
	if err := d.mountedWritable("Format", true); err != nil {
		return err
	}
	if err := d.DeleteApplicationArea(); err != nil && ResultOf(err) != ResultApplicationAreaIsNotInitialized {
		return err
	}
	if err := d.DeleteRegisterInfo(); err != nil && ResultOf(err) != ResultRegistrationIsNotInitialized {
		return err
	}
	d.dirty = true
	return d.Flush()
}

// miiChecksum covers the Mii blob and its trailing pad.
func (d *Device) miiChecksum() uint16 {
	span := make([]byte, 0, MiiSize+2)
	span = append(span, d.img.OwnerMii[:]...)
	span = append(span, d.img.MiiPad[:]...)
	return Crc16(span)
}

// updateRegisterCrc recomputes the registration checksum over the Mii
// blob, its pad and checksum, the application id byte, the scratch fields
// and the Mii extension.
func (d *Device) updateRegisterCrc() {
	span := make([]byte, 0, 0x7E)
	span = append(span, d.img.OwnerMii[:]...)
	span = append(span, d.img.MiiPad[:]...)
	var u16 [2]byte
	binary.BigEndian.PutUint16(u16[:], d.img.MiiCRC)
	span = append(span, u16[:]...)
	span = append(span, d.img.ApplicationIDByte, d.img.Scratch)
	var u64 [8]byte
	binary.BigEndian.PutUint64(u64[:], d.img.MiiExtension)
	span = append(span, u64[:]...)
	var u32 [4]byte
	for _, w := range d.img.ScratchWords {
		binary.BigEndian.PutUint32(u32[:], w)
		span = append(span, u32[:]...)
	}
	d.img.RegisterCRC = Crc32(span)
}
