package nfc

import (
	"fmt"
	"log"
	"time"

	"github.com/clausecker/freefare"
	"github.com/clausecker/nfc/v2"
)

// deviceEnumRetries bounds how often enumeration is retried; some readers
// need a moment after plug-in before libnfc sees them.
const deviceEnumRetries = 3

// LibnfcManager implements Manager on top of libnfc and freefare.
type LibnfcManager struct{}

// NewLibnfcManager creates a manager backed by real hardware.
func NewLibnfcManager() *LibnfcManager {
	return &LibnfcManager{}
}

// libnfcDevice wraps an opened nfc.Device.
type libnfcDevice struct {
	device nfc.Device
}

func (d *libnfcDevice) Close() error         { return d.device.Close() }
func (d *libnfcDevice) InitiatorInit() error { return d.device.InitiatorInit() }
func (d *libnfcDevice) String() string       { return d.device.String() }
func (d *libnfcDevice) Connection() string   { return d.device.Connection() }

// OpenDevice opens the reader named by connection; an empty string lets
// libnfc pick the first available one.
func (m *LibnfcManager) OpenDevice(connection string) (Device, error) {
	dev, err := nfc.Open(connection)
	if err != nil {
		return nil, fmt.Errorf("open NFC device %q: %w", connection, err)
	}
	return &libnfcDevice{device: dev}, nil
}

// ListDevices enumerates connected readers, retrying briefly.
func (m *LibnfcManager) ListDevices() ([]string, error) {
	var err error
	for i := 0; i < deviceEnumRetries; i++ {
		var devices []string
		devices, err = nfc.ListDevices()
		if err == nil {
			return devices, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return nil, fmt.Errorf("list NFC devices after %d retries: %w", deviceEnumRetries, err)
}

// GetTags polls the device and returns the NTAG215-compatible tags in the
// field. freefare reports NTAG21x as Ultralight; other tag families are
// logged and skipped.
func (m *LibnfcManager) GetTags(dev Device) ([]Tag, error) {
	libnfcDev, ok := dev.(*libnfcDevice)
	if !ok {
		return nil, fmt.Errorf("GetTags expects a libnfc device, got %T", dev)
	}

	ffTags, err := freefare.GetTags(libnfcDev.device)
	if err != nil {
		return nil, fmt.Errorf("poll tags: %w", err)
	}

	var tags []Tag
	for _, ffTag := range ffTags {
		ultralight, ok := ffTag.(freefare.UltralightTag)
		if !ok {
			log.Printf("Skipping unsupported tag: UID %s, type %T", ffTag.UID(), ffTag)
			continue
		}
		tags = append(tags, NewNtag215Tag(ultralight))
	}
	return tags, nil
}
