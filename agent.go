package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/dotside-studios/amiibo-agent/amiibo"
	"github.com/dotside-studios/amiibo-agent/nfc"
	"github.com/dotside-studios/amiibo-agent/server"
)

// Agent ties the tag controller, its storage and the WebSocket server
// together and manages their shared lifecycle.
type Agent struct {
	Logger  *log.Logger
	Keys    *amiibo.RetailKeys
	Storage amiibo.Storage
	Device  *amiibo.Device
	Server  *server.Server
	Manager nfc.Manager

	Port      int
	APISecret string
	CertFile  string
	KeyFile   string
}

// NewAgent creates an agent using the given reader manager for physical
// tag transfers. Keys and flags are assigned before Start.
func NewAgent(manager nfc.Manager) *Agent {
	return &Agent{
		Logger:  log.New(os.Stderr, "[agent] ", log.LstdFlags),
		Storage: amiibo.NewFileStorage(),
		Manager: manager,
	}
}

// Start brings up the controller and the server. Without retail keys the
// agent still runs, limited to read-only plaintext mounts.
func (a *Agent) Start() error {
	if a.Server != nil {
		return errors.New("agent is already running")
	}

	if a.Keys == nil {
		a.Logger.Println("No retail keys loaded; mounts will be read-only")
	}

	device := amiibo.NewDevice(a.Keys, a.Storage, amiibo.NewRealClock(), amiibo.NewDefaultMiiProvider(), a.Logger)
	device.Initialize()
	a.Device = device

	a.Server = server.New(server.Config{
		Device:    device,
		Port:      a.Port,
		APISecret: a.APISecret,
		CertFile:  a.CertFile,
		KeyFile:   a.KeyFile,
	})
	go a.Server.Start()
	return nil
}

// Stop shuts down the server and powers off the controller.
func (a *Agent) Stop() {
	if a.Server == nil && a.Device == nil {
		a.Logger.Println("Agent is not running")
		return
	}

	a.Logger.Println("Stopping agent...")

	if a.Server != nil {
		a.Server.Stop()
		a.Server = nil
	}
	if a.Device != nil {
		a.Device.Finalize()
		a.Device = nil
	}

	a.Logger.Println("Agent stopped successfully")
}

// StateString reports the controller state for status displays, or an
// empty string when the agent is not running.
func (a *Agent) StateString() string {
	if a.Server == nil {
		return ""
	}
	return a.Server.DeviceState()
}

// findTag opens a reader through the manager and returns the first
// NTAG215 in its field.
func (a *Agent) findTag(connection string) (nfc.Tag, nfc.Device, error) {
	dev, err := a.Manager.OpenDevice(connection)
	if err != nil {
		return nil, nil, err
	}
	if err := dev.InitiatorInit(); err != nil {
		dev.Close()
		return nil, nil, fmt.Errorf("initialize reader %s: %w", dev, err)
	}
	tags, err := a.Manager.GetTags(dev)
	if err != nil {
		dev.Close()
		return nil, nil, err
	}
	if len(tags) == 0 {
		dev.Close()
		return nil, nil, nfc.ErrNoTag
	}
	return tags[0], dev, nil
}

// DumpPhysicalTag reads a tag from the reader into storage under name.
// The dump is validated as an amiibo before it is written.
func (a *Agent) DumpPhysicalTag(connection, name string) error {
	tag, dev, err := a.findTag(connection)
	if err != nil {
		return err
	}
	defer dev.Close()

	a.Logger.Printf("Dumping tag %s", tag.UID())
	image, err := nfc.DumpTag(tag)
	if err != nil {
		return err
	}
	raw, err := amiibo.ParseRawImage(image)
	if err != nil {
		return err
	}
	if err := raw.Validate(); err != nil {
		a.Logger.Printf("Warning: dump is not a valid amiibo: %v", err)
	}
	return a.Storage.Store(name, image)
}

// WritePhysicalTag restores a stored image onto a tag in the reader.
func (a *Agent) WritePhysicalTag(connection, name string) error {
	image, err := a.Storage.Load(name)
	if err != nil {
		return err
	}
	tag, dev, err := a.findTag(connection)
	if err != nil {
		return err
	}
	defer dev.Close()

	a.Logger.Printf("Restoring %s onto tag %s", name, tag.UID())
	return nfc.RestoreTag(tag, image)
}
