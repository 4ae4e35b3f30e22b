package amiibo

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

const applicationIDVersionOffset = 0x1C

// OpenApplicationArea grants subsequent reads and writes of the per-game
// data region. The caller's access id must match the id stored on the tag.
func (d *Device) OpenApplicationArea(accessID uint32) error {
	if err := d.mountedWritable("OpenApplicationArea", false); err != nil {
		return err
	}
	if !d.img.Settings.Flags.HasAppData() {
		return newResultError(ResultApplicationAreaIsNotInitialized, "OpenApplicationArea", "application area is not initialized")
	}
	if d.img.ApplicationAreaID != accessID {
		return newResultError(ResultWrongApplicationAreaId, "OpenApplicationArea",
			fmt.Sprintf("access id %#08x does not match stored id", accessID))
	}
	d.appOpen = true
	return nil
}

// GetApplicationAreaID returns the stored access id without opening the
// area.
func (d *Device) GetApplicationAreaID() (uint32, error) {
	if err := d.mountedWritable("GetApplicationAreaID", false); err != nil {
		return 0, err
	}
	if !d.img.Settings.Flags.HasAppData() {
		return 0, newResultError(ResultApplicationAreaIsNotInitialized, "GetApplicationAreaID", "application area is not initialized")
	}
	return d.img.ApplicationAreaID, nil
}

// GetApplicationArea reads up to size bytes of the open area. size larger
// than the capacity is clamped.
func (d *Device) GetApplicationArea(size int) ([]byte, error) {
	if err := d.mountedWritable("GetApplicationArea", false); err != nil {
		return nil, err
	}
	if !d.appOpen {
		return nil, newWrongStateError("GetApplicationArea", d.state)
	}
	if !d.img.Settings.Flags.HasAppData() {
		return nil, newResultError(ResultApplicationAreaIsNotInitialized, "GetApplicationArea", "application area is not initialized")
	}
	if size < 0 || size > ApplicationAreaSize {
		size = ApplicationAreaSize
	}
	out := make([]byte, size)
	copy(out, d.img.ApplicationArea[:size])
	return out, nil
}

// SetApplicationArea overwrites the open area with data, padding the
// unused tail with random bytes so shorter writes never expose earlier
// contents. The app write counter advances, saturating at its ceiling.
func (d *Device) SetApplicationArea(data []byte) error {
	if err := d.mountedWritable("SetApplicationArea", true); err != nil {
		return err
	}
	if !d.appOpen {
		return newWrongStateError("SetApplicationArea", d.state)
	}
	if !d.img.Settings.Flags.HasAppData() {
		return newResultError(ResultApplicationAreaIsNotInitialized, "SetApplicationArea", "application area is not initialized")
	}
	if len(data) == 0 || len(data) > ApplicationAreaSize {
		return newResultError(ResultWrongApplicationAreaSize, "SetApplicationArea",
			fmt.Sprintf("payload size %d exceeds capacity %d", len(data), ApplicationAreaSize))
	}

	copy(d.img.ApplicationArea[:], data)
	if err := fillRandom(d.img.ApplicationArea[len(data):]); err != nil {
		return newWriteFailedError("SetApplicationArea", err)
	}
	d.img.Scratch = randomByte()
	if d.img.AppWriteCounter < CounterLimit {
		d.img.AppWriteCounter++
	}
	d.updateRegisterCrc()
	d.dirty = true
	return nil
}

// CreateApplicationArea initializes the area for accessID. Fails when one
// already exists; RecreateApplicationArea replaces unconditionally.
func (d *Device) CreateApplicationArea(accessID uint32, data []byte) error {
	if err := d.mountedWritable("CreateApplicationArea", true); err != nil {
		return err
	}
	if d.img.Settings.Flags.HasAppData() {
		return newResultError(ResultApplicationAreaExist, "CreateApplicationArea", "application area already exists")
	}
	return d.writeApplicationArea("CreateApplicationArea", accessID, data)
}

// RecreateApplicationArea reinitializes the area for accessID, discarding
// whatever was there. The area must not be open.
func (d *Device) RecreateApplicationArea(accessID uint32, data []byte) error {
	if err := d.mountedWritable("RecreateApplicationArea", true); err != nil {
		return err
	}
	if d.appOpen {
		return newWrongStateError("RecreateApplicationArea", d.state)
	}
	return d.writeApplicationArea("RecreateApplicationArea", accessID, data)
}

func (d *Device) writeApplicationArea(op string, accessID uint32, data []byte) error {
	if len(data) == 0 || len(data) > ApplicationAreaSize {
		return newResultError(ResultWrongApplicationAreaSize, op,
			fmt.Sprintf("payload size %d exceeds capacity %d", len(data), ApplicationAreaSize))
	}

	copy(d.img.ApplicationArea[:], data)
	if err := fillRandom(d.img.ApplicationArea[len(data):]); err != nil {
		return newWriteFailedError(op, err)
	}
	d.img.ApplicationAreaID = accessID
	d.img.ApplicationIDByte = uint8(accessID >> applicationIDVersionOffset & 0xF)
	d.img.Scratch = randomByte()
	d.img.Settings.Flags.setAppData(true)
	if d.img.AppWriteCounter < CounterLimit {
		d.img.AppWriteCounter++
	}
	d.updateRegisterCrc()
	d.dirty = true
	return d.Flush()
}

// DeleteApplicationArea wipes the area, its id and its counter trail with
// random bytes and clears the initialization flag.
func (d *Device) DeleteApplicationArea() error {
	if err := d.mountedWritable("DeleteApplicationArea", true); err != nil {
		return err
	}
	if !d.img.Settings.Flags.HasAppData() {
		return newResultError(ResultApplicationAreaIsNotInitialized, "DeleteApplicationArea", "application area is not initialized")
	}

	if err := fillRandom(d.img.ApplicationArea[:]); err != nil {
		return newWriteFailedError("DeleteApplicationArea", err)
	}
	d.img.ApplicationAreaID = randomUint32()
	d.img.ApplicationIDByte = randomByte()
	d.img.Scratch = randomByte()
	d.img.Settings.Flags.setAppData(false)
	d.appOpen = false
	if d.img.AppWriteCounter < CounterLimit {
		d.img.AppWriteCounter++
	}
	d.updateRegisterCrc()
	d.dirty = true
	return d.Flush()
}

// ApplicationAreaExists reports whether the area has been initialized.
func (d *Device) ApplicationAreaExists() (bool, error) {
	if err := d.mountedWritable("ApplicationAreaExists", false); err != nil {
		return false, err
	}
	return d.img.Settings.Flags.HasAppData(), nil
}

func fillRandom(b []byte) error {
	_, err := rand.Read(b)
	return err
}

func randomByte() uint8 {
	var b [1]byte
	rand.Read(b[:])
	return b[0]
}

func randomUint32() uint32 {
	var b [4]byte
	rand.Read(b[:])
	return binary.BigEndian.Uint32(b[:])
}
