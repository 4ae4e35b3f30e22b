package tls

import "testing"

func TestCertificateHosts(t *testing.T) {
	hosts, err := CertificateHosts()
	if err != nil {
		t.Fatalf("CertificateHosts() error = %v", err)
	}

	// The loopback pair is always first so a machine with no LAN
	// addresses still gets a usable certificate.
	if len(hosts) < 2 || hosts[0] != "localhost" || hosts[1] != "127.0.0.1" {
		t.Fatalf("CertificateHosts() = %v, want loopback pair first", hosts)
	}
	for _, h := range hosts[2:] {
		if h == "localhost" || h == "127.0.0.1" {
			t.Errorf("loopback entry %q repeated in LAN addresses", h)
		}
	}
}
