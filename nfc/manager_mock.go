package nfc

import (
	"fmt"
	"sync"
)

// MockManager is a test implementation of Manager that simulates reader
// discovery and tag polling without hardware.
type MockManager struct {
	// DevicesList is returned by ListDevices.
	DevicesList []string

	// ListDevicesError, if set, is returned by ListDevices.
	ListDevicesError error

	// MockDevice is returned by OpenDevice. If nil, a fresh one is made.
	MockDevice *MockDevice

	// OpenDeviceError, if set, is returned by OpenDevice.
	OpenDeviceError error

	// Tags is returned by GetTags.
	Tags []Tag

	// GetTagsError, if set, is returned by GetTags.
	GetTagsError error

	// CallLog tracks method calls for verification in tests.
	CallLog []string

	mu sync.Mutex
}

// NewMockManager creates a MockManager with one fake reader.
func NewMockManager() *MockManager {
	return &MockManager{
		DevicesList: []string{"mock:usb:001"},
		MockDevice:  NewMockDevice(),
	}
}

func (m *MockManager) OpenDevice(connection string) (Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = append(m.CallLog, fmt.Sprintf("OpenDevice(%s)", connection))
	if m.OpenDeviceError != nil {
		return nil, m.OpenDeviceError
	}
	if m.MockDevice == nil {
		m.MockDevice = NewMockDevice()
	}
	m.MockDevice.DeviceConnection = connection
	return m.MockDevice, nil
}

func (m *MockManager) ListDevices() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = append(m.CallLog, "ListDevices")
	if m.ListDevicesError != nil {
		return nil, m.ListDevicesError
	}
	return m.DevicesList, nil
}

func (m *MockManager) GetTags(dev Device) ([]Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallLog = append(m.CallLog, "GetTags")
	if m.GetTagsError != nil {
		return nil, m.GetTagsError
	}
	return m.Tags, nil
}

// MockDevice is a fake opened reader.
type MockDevice struct {
	DeviceConnection string
	DeviceName       string
	InitError        error
	CloseError       error
	Closed           bool
}

// NewMockDevice creates a MockDevice with default values.
func NewMockDevice() *MockDevice {
	return &MockDevice{
		DeviceConnection: "mock:usb:001",
		DeviceName:       "Mock NFC Reader",
	}
}

func (d *MockDevice) Close() error {
	d.Closed = true
	return d.CloseError
}

func (d *MockDevice) InitiatorInit() error { return d.InitError }
func (d *MockDevice) String() string       { return d.DeviceName }
func (d *MockDevice) Connection() string   { return d.DeviceConnection }

// MockTag simulates an NTAG215 with in-memory page storage.
type MockTag struct {
	TagUID string

	// Pages is the full tag memory.
	Pages [TotalPages][PageSize]byte

	// ReadError, if set, is returned by ReadPage.
	ReadError error

	// WriteError, if set, is returned by WritePage.
	WriteError error

	mu sync.Mutex
}

// NewMockTag creates a MockTag pre-loaded with the given image. A short or
// nil image leaves the remaining pages zeroed.
func NewMockTag(uid string, image []byte) *MockTag {
	t := &MockTag{TagUID: uid}
	for i := 0; i < len(image) && i < ImageSize; i++ {
		t.Pages[i/PageSize][i%PageSize] = image[i]
	}
	return t
}

func (t *MockTag) UID() string  { return t.TagUID }
func (t *MockTag) Type() string { return "NTAG215" }

func (t *MockTag) ReadPage(page byte) ([PageSize]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ReadError != nil {
		return [PageSize]byte{}, t.ReadError
	}
	if int(page) >= TotalPages {
		return [PageSize]byte{}, fmt.Errorf("read page %d: out of range", page)
	}
	return t.Pages[page], nil
}

func (t *MockTag) WritePage(page byte, data [PageSize]byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.WriteError != nil {
		return t.WriteError
	}
	if int(page) >= TotalPages {
		return fmt.Errorf("write page %d: out of range", page)
	}
	t.Pages[page] = data
	return nil
}
