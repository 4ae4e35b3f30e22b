// Package amiibo emulates an NTAG215 amiibo tag and the reader-side logic
// that mounts, decodes, edits and flushes it.
package amiibo

import (
	"log"
)

// DeviceState is the tag lifecycle position. Every operation is gated on
// it; decoded image fields are only meaningful in StateTagMounted.
type DeviceState int

const (
	StateUnavailable DeviceState = iota
	StateInitialized
	StateSearching
	StateTagFound
	StateTagRemoved
	StateTagMounted
)

func (s DeviceState) String() string {
	switch s {
	case StateUnavailable:
		return "Unavailable"
	case StateInitialized:
		return "Initialized"
	case StateSearching:
		return "SearchingForTag"
	case StateTagFound:
		return "TagFound"
	case StateTagRemoved:
		return "TagRemoved"
	case StateTagMounted:
		return "TagMounted"
	default:
		return "Unknown"
	}
}

// MountTarget selects the access level granted at mount time. Mutating
// accessors require the ReadWrite bit.
type MountTarget int

const (
	MountTargetNone      MountTarget = 0
	MountTargetReadOnly  MountTarget = 1
	MountTargetReadWrite MountTarget = 2
	MountTargetAll       MountTarget = MountTargetReadOnly | MountTargetReadWrite
)

func (t MountTarget) writable() bool {
	return t&MountTargetReadWrite != 0
}

func (t MountTarget) String() string {
	switch t {
	case MountTargetNone:
		return "None"
	case MountTargetReadOnly:
		return "ReadOnly"
	case MountTargetReadWrite:
		return "ReadWrite"
	case MountTargetAll:
		return "All"
	default:
		return "Unknown"
	}
}

// TagProtocol is the radio protocol filter requested at detection start.
// Amiibo tags are ISO 14443 Type A.
type TagProtocol int

const (
	ProtocolNone  TagProtocol = 0
	ProtocolTypeA TagProtocol = 1 << 0
	ProtocolTypeB TagProtocol = 1 << 1
	ProtocolTypeF TagProtocol = 1 << 2
	ProtocolAll   TagProtocol = ProtocolTypeA | ProtocolTypeB | ProtocolTypeF
)

// TagInfo describes the physical identity of the present tag.
type TagInfo struct {
	UID       [7]byte
	UIDLength uint8
	Protocol  TagProtocol
}

// CommonInfo summarizes the mounted tag's bookkeeping fields.
type CommonInfo struct {
	LastWriteDate       Date
	WriteCounter        uint16
	Version             uint8
	ApplicationAreaSize uint32
}

// Device is the tag lifecycle controller. It owns one raw image and, while
// mounted with keys, its decoded counterpart.
//
// Device performs no internal locking beyond the presence signals; callers
// sharing one Device across goroutines must serialize access themselves.
type Device struct {
	logger  *log.Logger
	clock   Clock
	storage Storage
	miis    MiiProvider
	keys    *RetailKeys // nil means read-only mounts only

	state            DeviceState
	mountTarget      MountTarget
	allowedProtocols TagProtocol

	events ActivationEvents

	tagName    string
	raw        *RawImage
	img        *Image
	plainMount bool
	dirty      bool
	appOpen    bool
}

// NewDevice builds a controller. keys may be nil, which restricts every
// mount to the read-only fallback. A nil clock, storage, mii provider or
// logger falls back to the real clock, in-memory storage, default miis and
// the process logger.
func NewDevice(keys *RetailKeys, storage Storage, clock Clock, miis MiiProvider, logger *log.Logger) *Device {
	if clock == nil {
		clock = NewRealClock()
	}
	if storage == nil {
		storage = NewMemoryStorage()
	}
	if miis == nil {
		miis = NewDefaultMiiProvider()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Device{
		logger:  logger,
		clock:   clock,
		storage: storage,
		miis:    miis,
		keys:    keys,
		state:   StateUnavailable,
	}
}

// State returns the current lifecycle state.
func (d *Device) State() DeviceState {
	return d.state
}

// CurrentMountTarget returns the access level of the active mount, or
// MountTargetNone when nothing is mounted.
func (d *Device) CurrentMountTarget() MountTarget {
	return d.mountTarget
}

// HasKeys reports whether retail key material is available for full mounts.
func (d *Device) HasKeys() bool {
	return d.keys != nil
}

// Events exposes the presence signals for callers waiting on tag edges.
func (d *Device) Events() *ActivationEvents {
	return &d.events
}

// Initialize resets the controller to a clean Initialized state. Valid from
// any state; both images are dropped.
func (d *Device) Initialize() {
	d.resetTag()
	d.state = StateInitialized
}

// Finalize tears the controller down to Unavailable, implicitly unmounting
// and stopping detection first.
func (d *Device) Finalize() {
	if d.state == StateTagMounted {
		// Best effort; a failed implicit flush must not block teardown.
		if err := d.Unmount(); err != nil {
			d.logger.Printf("finalize: unmount failed: %v", err)
		}
	}
	d.resetTag()
	d.state = StateUnavailable
}

// StartDetection begins scanning for tags matching the protocol filter.
func (d *Device) StartDetection(protocols TagProtocol) error {
	if d.state != StateInitialized && d.state != StateTagRemoved {
		return newWrongStateError("StartDetection", d.state)
	}
	d.allowedProtocols = protocols
	d.state = StateSearching
	return nil
}

// StopDetection returns the controller to Initialized. Idempotent when
// already Initialized; a present tag departs first.
func (d *Device) StopDetection() error {
	switch d.state {
	case StateInitialized:
		return nil
	case StateTagMounted:
		if err := d.Unmount(); err != nil {
			d.logger.Printf("stop detection: unmount failed: %v", err)
		}
		fallthrough
	case StateTagFound:
		d.events.TagDeparted()
		fallthrough
	case StateSearching, StateTagRemoved:
		d.resetTag()
		d.state = StateInitialized
		return nil
	default:
		return newWrongStateError("StopDetection", d.state)
	}
}

// LoadTag places a stored tag image in front of the emulated reader. name
// is the storage key the image will be flushed back to.
func (d *Device) LoadTag(name string) error {
	data, err := d.storage.Load(name)
	if err != nil {
		return &Error{Result: ResultWrongDeviceState, Op: "LoadTag", Message: "load failed", Cause: err}
	}
	return d.LoadTagData(name, data)
}

// LoadTagData places raw image bytes in front of the emulated reader.
// Rejected unless the controller is searching, the bytes are exactly one
// image, and the protocol filter admits Type A tags.
func (d *Device) LoadTagData(name string, data []byte) error {
	if d.state != StateSearching {
		return newWrongStateError("LoadTag", d.state)
	}
	if d.allowedProtocols&ProtocolTypeA == 0 {
		return newResultError(ResultWrongDeviceState, "LoadTag", "protocol filter excludes type A tags")
	}
	raw, err := ParseRawImage(data)
	if err != nil {
		return &Error{Result: ResultWrongDeviceState, Op: "LoadTag", Message: "rejected image", Cause: err}
	}

	d.tagName = name
	d.raw = raw
	d.state = StateTagFound
	d.events.TagArrived()
	d.logger.Printf("tag loaded: %s", name)
	return nil
}

// RemoveTag takes the tag out of range. A mounted tag unmounts first; the
// raw image stays behind, stale, until detection restarts.
func (d *Device) RemoveTag() error {
	switch d.state {
	case StateTagMounted:
		if err := d.Unmount(); err != nil {
			d.logger.Printf("remove tag: unmount failed: %v", err)
		}
		fallthrough
	case StateTagFound:
		d.img = nil
		d.appOpen = false
		d.state = StateTagRemoved
		d.events.TagDeparted()
		return nil
	default:
		return stateError("RemoveTag", d.state)
	}
}

// Mount decodes and mounts the present tag. Without key material the mount
// degrades to read-only, the image stays encrypted and only the plainly
// stored surfaces (tag info, model info) are readable; structural checks
// still apply.
func (d *Device) Mount(target MountTarget) error {
	if d.state != StateTagFound {
		return stateError("Mount", d.state)
	}
	if err := d.raw.Validate(); err != nil {
		return &Error{Result: ResultNotAnAmiibo, Op: "Mount", Message: "structural validation failed", Cause: err}
	}

	if d.keys == nil {
		d.img = nil
		d.plainMount = true
		d.mountTarget = MountTargetReadOnly
		d.state = StateTagMounted
		d.logger.Printf("tag mounted read-only, no key material")
		return nil
	}

	img, err := Decode(d.raw, d.keys)
	if err != nil {
		return err
	}
	d.img = img
	d.plainMount = false
	d.mountTarget = target
	d.state = StateTagMounted
	return nil
}

// Unmount drops the decoded image and returns to TagFound. A dirty
// writable mount flushes first.
func (d *Device) Unmount() error {
	if d.state != StateTagMounted {
		return stateError("Unmount", d.state)
	}
	if d.dirty && d.mountTarget.writable() {
		if err := d.Flush(); err != nil {
			d.logger.Printf("unmount: flush failed: %v", err)
		}
	}
	d.img = nil
	d.plainMount = false
	d.dirty = false
	d.appOpen = false
	d.mountTarget = MountTargetNone
	d.state = StateTagFound
	return nil
}

// Flush re-encodes the decoded image and persists it. The write date is
// refreshed and the main write counter advances, saturating at its
// ceiling.
func (d *Device) Flush() error {
	if d.state != StateTagMounted {
		return stateError("Flush", d.state)
	}
	if !d.mountTarget.writable() {
		return newWrongStateError("Flush", d.state)
	}
	if d.plainMount {
		return newResultError(ResultWriteAmiiboFailed, "Flush", "mounted without key material")
	}

	d.refreshWriteDate()
	if d.img.WriteCounter < CounterLimit {
		d.img.WriteCounter++
	}

	raw, err := Encode(d.img, d.keys)
	if err != nil {
		return err
	}
	if err := d.storage.Store(d.tagName, raw.Bytes()); err != nil {
		return newWriteFailedError("Flush", err)
	}
	d.raw = raw
	d.dirty = false
	return nil
}

// refreshWriteDate stamps today's date into the settings block, bumping the
// self-check counter and checksum when the date actually changes.
func (d *Device) refreshWriteDate() {
	today := NewDate(d.clock.Now())
	if d.img.Settings.WriteDate == today {
		return
	}
	d.img.Settings.WriteDate = today
	if d.img.Settings.CRCCounter < CounterLimit {
		d.img.Settings.CRCCounter++
	}
	d.updateSettingsCrc()
}

// updateSettingsCrc recomputes the settings self-check over the fields
// preceding the checksum: flags, country code, counter and both dates.
func (d *Device) updateSettingsCrc() {
	var span [8]byte
	s := &d.img.Settings
	span[0] = byte(s.Flags)
	span[1] = s.CountryCode
	span[2] = byte(s.CRCCounter >> 8)
	span[3] = byte(s.CRCCounter)
	span[4] = byte(s.InitDate >> 8)
	span[5] = byte(s.InitDate)
	span[6] = byte(s.WriteDate >> 8)
	span[7] = byte(s.WriteDate)
	s.CRC = Crc32(span[:])
}

// GetTagInfo reports the physical identity of the present tag.
func (d *Device) GetTagInfo() (TagInfo, error) {
	if d.state != StateTagFound && d.state != StateTagMounted {
		return TagInfo{}, stateError("GetTagInfo", d.state)
	}
	uid := d.raw.UID()
	return TagInfo{
		UID:       ShortUID(uid),
		UIDLength: 7,
		Protocol:  ProtocolTypeA,
	}, nil
}

// GetCommonInfo reports the mounted tag's bookkeeping fields.
func (d *Device) GetCommonInfo() (CommonInfo, error) {
	if err := d.mountedWritable("GetCommonInfo", false); err != nil {
		return CommonInfo{}, err
	}
	return CommonInfo{
		LastWriteDate:       d.img.Settings.WriteDate,
		WriteCounter:        d.img.WriteCounter,
		Version:             d.img.Version,
		ApplicationAreaSize: ApplicationAreaSize,
	}, nil
}

// GetModelInfo reports which figure the present tag belongs to. The model
// block sits outside the encrypted region, so a mount is not required.
func (d *Device) GetModelInfo() (ModelInfo, error) {
	if d.state != StateTagFound && d.state != StateTagMounted {
		return ModelInfo{}, stateError("GetModelInfo", d.state)
	}
	return d.raw.ModelInfo(), nil
}

// mountedWritable is the shared precondition chain prefix for every
// feature accessor: mounted first, decoded image present, then write
// access for mutators. A keyless mount never has a decoded image, so
// every accessor behind this gate fails on it.
func (d *Device) mountedWritable(op string, mutating bool) error {
	if d.state != StateTagMounted {
		return stateError(op, d.state)
	}
	if d.img == nil {
		return newWrongStateError(op, d.state)
	}
	if mutating && !d.mountTarget.writable() {
		return newWrongStateError(op, d.state)
	}
	return nil
}

// resetTag clears all per-tag state.
func (d *Device) resetTag() {
	d.tagName = ""
	d.raw = nil
	d.img = nil
	d.plainMount = false
	d.dirty = false
	d.appOpen = false
	d.mountTarget = MountTargetNone
	d.allowedProtocols = ProtocolNone
	d.events.arrived.clear()
	d.events.departed.clear()
}
