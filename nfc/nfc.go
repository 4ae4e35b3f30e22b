// Package nfc bridges physical NTAG215 tags into the agent: it discovers
// readers, wraps freefare Ultralight tags as page devices and moves whole
// 540-byte images between a tag and the emulator's storage.
package nfc

import "errors"

const (
	// PageSize is the NTAG215 page width in bytes.
	PageSize = 4

	// TotalPages covers the full NTAG215 memory, 540 bytes.
	TotalPages = 135

	// ImageSize is the dump length produced by DumpTag.
	ImageSize = TotalPages * PageSize

	// FirstWritablePage skips the factory-programmed serial pages.
	FirstWritablePage = 3
)

var (
	// ErrNoDevice indicates no NFC reader could be found or opened.
	ErrNoDevice = errors.New("no NFC device available")

	// ErrNoTag indicates no compatible tag is in the reader's field.
	ErrNoTag = errors.New("no compatible tag present")
)

// Device is an opened NFC reader.
type Device interface {
	Close() error
	InitiatorInit() error
	String() string
	Connection() string
}

// Tag exposes page-level access to an NTAG215 in the field.
type Tag interface {
	UID() string
	Type() string
	ReadPage(page byte) ([PageSize]byte, error)
	WritePage(page byte, data [PageSize]byte) error
}

// Manager abstracts reader enumeration, opening and tag polling so the
// agent can run against libnfc hardware or a mock.
type Manager interface {
	OpenDevice(connection string) (Device, error)
	ListDevices() ([]string, error)
	GetTags(dev Device) ([]Tag, error)
}
