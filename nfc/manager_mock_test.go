package nfc

import (
	"errors"
	"testing"
)

func TestMockManagerOpenDevice(t *testing.T) {
	m := NewMockManager()

	dev, err := m.OpenDevice("mock:usb:007")
	if err != nil {
		t.Fatalf("OpenDevice() error = %v", err)
	}
	if dev.Connection() != "mock:usb:007" {
		t.Errorf("Connection() = %q, want mock:usb:007", dev.Connection())
	}
	if err := dev.InitiatorInit(); err != nil {
		t.Errorf("InitiatorInit() error = %v", err)
	}
	if err := dev.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if !m.MockDevice.Closed {
		t.Error("device not marked closed")
	}
}

func TestMockManagerErrors(t *testing.T) {
	m := NewMockManager()
	m.OpenDeviceError = errors.New("no reader")
	m.ListDevicesError = errors.New("enumeration failed")
	m.GetTagsError = errors.New("poll failed")

	if _, err := m.OpenDevice(""); err == nil {
		t.Error("OpenDevice() succeeded despite configured error")
	}
	if _, err := m.ListDevices(); err == nil {
		t.Error("ListDevices() succeeded despite configured error")
	}
	if _, err := m.GetTags(m.MockDevice); err == nil {
		t.Error("GetTags() succeeded despite configured error")
	}
}

func TestMockManagerGetTags(t *testing.T) {
	m := NewMockManager()
	m.Tags = []Tag{NewMockTag("04AABBCC", nil)}

	tags, err := m.GetTags(m.MockDevice)
	if err != nil {
		t.Fatalf("GetTags() error = %v", err)
	}
	if len(tags) != 1 || tags[0].UID() != "04AABBCC" {
		t.Errorf("GetTags() = %v", tags)
	}
	if tags[0].Type() != "NTAG215" {
		t.Errorf("Type() = %q, want NTAG215", tags[0].Type())
	}
}
