// Command amiibo-agent emulates an NTAG215 amiibo tag and exposes the
// console-side lifecycle over a WebSocket API. It can also dump physical
// tags to disk and restore images back onto writable tags.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"fyne.io/systray"

	"github.com/dotside-studios/amiibo-agent/amiibo"
	"github.com/dotside-studios/amiibo-agent/nfc"
	agenttls "github.com/dotside-studios/amiibo-agent/tls"
)

const defaultPort = 18080

var (
	devicePathFlag string
	portFlag       int
	keyFileFlag    string
	apiSecretFlag  string
	cliFlag        bool
	tlsFlag        bool
	configDirFlag  string
	dumpFlag       string
	restoreFlag    string
)

func defaultConfigDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, "amiibo-agent")
}

func main() {
	flag.StringVar(&devicePathFlag, "device", "", "NFC reader connection string (optional)")
	flag.IntVar(&portFlag, "port", defaultPort, "Port to listen on")
	flag.StringVar(&keyFileFlag, "keys", "", "Path to the retail key file")
	flag.StringVar(&apiSecretFlag, "api-secret", "", "API secret for session handshake (optional)")
	flag.BoolVar(&cliFlag, "cli", false, "Run in CLI mode (default: system tray mode)")
	flag.BoolVar(&tlsFlag, "tls", false, "Serve over TLS with a locally trusted certificate")
	flag.StringVar(&configDirFlag, "config-dir", defaultConfigDir(), "Directory for certificates and agent state")
	flag.StringVar(&dumpFlag, "dump", "", "Dump a physical tag to the given file and exit")
	flag.StringVar(&restoreFlag, "restore", "", "Restore the given image file onto a physical tag and exit")
	flag.Parse()

	agent := NewAgent(nfc.NewLibnfcManager())
	agent.Port = portFlag
	agent.APISecret = apiSecretFlag

	// One-shot physical tag transfers bypass the server entirely.
	if dumpFlag != "" {
		if err := agent.DumpPhysicalTag(devicePathFlag, dumpFlag); err != nil {
			log.Fatalf("Dump failed: %v", err)
		}
		log.Printf("Dumped tag to %s", dumpFlag)
		return
	}
	if restoreFlag != "" {
		if err := agent.WritePhysicalTag(devicePathFlag, restoreFlag); err != nil {
			log.Fatalf("Restore failed: %v", err)
		}
		log.Printf("Restored %s onto tag", restoreFlag)
		return
	}

	if keyFileFlag != "" {
		keys, err := amiibo.LoadRetailKeys(keyFileFlag)
		if err != nil {
			log.Printf("Failed to load retail keys: %v", err)
		} else {
			agent.Keys = keys
		}
	}

	if tlsFlag {
		manager := agenttls.NewManager(configDirFlag)
		certFile, keyFile, err := manager.EnsureCertificates()
		if err != nil {
			log.Fatalf("Failed to set up TLS: %v", err)
		}
		agent.CertFile = certFile
		agent.KeyFile = keyFile

		bootstrap := agenttls.NewBootstrapServer(manager, portFlag+1)
		if err := bootstrap.Start(); err != nil {
			log.Printf("Failed to start CA bootstrap server: %v", err)
		} else {
			defer bootstrap.Stop()
		}
	}

	if cliFlag {
		if err := agent.Start(); err != nil {
			log.Fatalf("Failed to start agent: %v", err)
		}
		defer agent.Stop()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		log.Println("Shutdown signal received, stopping agent...")
		return
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		systray.Quit()
	}()

	NewSystrayApp(agent).Run()
}
