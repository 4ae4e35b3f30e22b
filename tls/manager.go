package tls

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jittering/truststore"
)

// Manager owns the agent's serving certificate and the local CA behind it.
// Certificates live under <configDir>/tls, the CA under <configDir>/ca;
// the serving certificate is reissued whenever the machine's addresses no
// longer match the cached SAN list.
type Manager struct {
	configDir string
	tlsDir    string
	caDir     string
	certPath  string
	keyPath   string
	sansPath  string
	logger    *log.Logger
}

// NewManager builds a Manager rooted at configDir.
func NewManager(configDir string) *Manager {
	tlsDir := filepath.Join(configDir, "tls")
	return &Manager{
		configDir: configDir,
		tlsDir:    tlsDir,
		caDir:     filepath.Join(configDir, "ca"),
		certPath:  filepath.Join(tlsDir, "amiibo-agent.crt"),
		keyPath:   filepath.Join(tlsDir, "amiibo-agent.key"),
		sansPath:  filepath.Join(tlsDir, "cert-hosts"),
		logger:    log.New(os.Stderr, "tls: ", log.LstdFlags),
	}
}

// EnsureCertificates returns paths to a serving certificate and key that
// cover the machine's current addresses, issuing a fresh pair when none
// exist or the address set drifted. Issuing may install the local CA into
// the system trust store, which can prompt for a password.
func (m *Manager) EnsureCertificates() (certPath, keyPath string, err error) {
	if err := os.MkdirAll(m.tlsDir, 0700); err != nil {
		return "", "", fmt.Errorf("create tls directory: %w", err)
	}

	hosts, err := CertificateHosts()
	if err != nil {
		m.logger.Printf("lan address lookup failed, falling back to loopback: %v", err)
		hosts = []string{"localhost", "127.0.0.1"}
	}

	switch {
	case !m.haveCertPair():
		m.logger.Printf("no serving certificate, issuing one for %v", hosts)
	case m.sansChanged(hosts):
		m.logger.Printf("address set changed, reissuing certificate for %v", hosts)
	default:
		m.logger.Printf("reusing serving certificate at %s", m.certPath)
		return m.certPath, m.keyPath, nil
	}

	if err := m.issueCertificate(hosts); err != nil {
		return "", "", err
	}
	return m.certPath, m.keyPath, nil
}

func (m *Manager) haveCertPair() bool {
	if _, err := os.Stat(m.certPath); err != nil {
		return false
	}
	_, err := os.Stat(m.keyPath)
	return err == nil
}

// sansChanged compares hosts against the SAN list the current certificate
// was issued for, order-insensitively.
func (m *Manager) sansChanged(hosts []string) bool {
	cached, err := m.readCachedSANs()
	if err != nil {
		return true
	}
	return canonicalHosts(cached) != canonicalHosts(hosts)
}

func canonicalHosts(hosts []string) string {
	sorted := append([]string(nil), hosts...)
	sort.Strings(sorted)
	return strings.Join(sorted, "\n")
}

func (m *Manager) readCachedSANs() ([]string, error) {
	data, err := os.ReadFile(m.sansPath)
	if err != nil {
		return nil, err
	}
	var hosts []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			hosts = append(hosts, line)
		}
	}
	return hosts, nil
}

func (m *Manager) writeCachedSANs(hosts []string) error {
	return os.WriteFile(m.sansPath, []byte(strings.Join(hosts, "\n")+"\n"), 0600)
}

// issueCertificate mints a serving certificate for hosts, creating and
// installing the local CA on first use. truststore reads the CA location
// from CAROOT, so the variable is pinned to the agent's ca directory.
func (m *Manager) issueCertificate(hosts []string) error {
	if err := os.MkdirAll(m.caDir, 0700); err != nil {
		return fmt.Errorf("create ca directory: %w", err)
	}
	os.Setenv("CAROOT", m.caDir)

	store, err := truststore.NewLib()
	if err != nil {
		return fmt.Errorf("init truststore: %w", err)
	}

	m.logger.Println("installing local CA into the system trust store, a password prompt may appear")
	if err := store.Install(); err != nil {
		return fmt.Errorf("install local CA: %w", err)
	}

	cert, err := store.MakeCert(hosts, m.tlsDir)
	if err != nil {
		return fmt.Errorf("issue certificate: %w", err)
	}

	// truststore names the files after the first SAN; move them to the
	// stable paths the server config points at.
	if cert.CertFile != m.certPath {
		if err := os.Rename(cert.CertFile, m.certPath); err != nil {
			return fmt.Errorf("place certificate: %w", err)
		}
	}
	if cert.KeyFile != m.keyPath {
		if err := os.Rename(cert.KeyFile, m.keyPath); err != nil {
			return fmt.Errorf("place key: %w", err)
		}
	}

	if err := m.writeCachedSANs(hosts); err != nil {
		m.logger.Printf("caching SAN list failed: %v", err)
	}

	m.logger.Printf("certificate issued: %s", m.certPath)
	if fp, err := m.CAFingerprint(); err == nil {
		m.logger.Printf("ca fingerprint (sha256): %s", fp)
	}
	return nil
}

// CertFile returns the serving certificate path.
func (m *Manager) CertFile() string { return m.certPath }

// KeyFile returns the serving key path.
func (m *Manager) KeyFile() string { return m.keyPath }

func (m *Manager) caCertPath() string {
	return filepath.Join(m.caDir, "rootCA.pem")
}

// CACertificate returns the CA certificate PEM, for the bootstrap download
// endpoint.
func (m *Manager) CACertificate() ([]byte, error) {
	return os.ReadFile(m.caCertPath())
}

// CAFingerprint returns the CA certificate's SHA-256 fingerprint as
// colon-separated hex, the form users compare against the download page.
func (m *Manager) CAFingerprint() (string, error) {
	pemData, err := m.CACertificate()
	if err != nil {
		return "", fmt.Errorf("read ca certificate: %w", err)
	}
	block, _ := pem.Decode(pemData)
	if block == nil {
		return "", fmt.Errorf("ca certificate is not valid PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("parse ca certificate: %w", err)
	}

	sum := sha256.Sum256(cert.Raw)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":"), nil
}
