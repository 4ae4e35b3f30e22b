// Package tls issues the agent's serving certificate from a local CA and
// distributes that CA to companion devices.
package tls

import "net"

// CertificateHosts lists every name the serving certificate must cover:
// the loopback pair plus all non-loopback IPv4 addresses of up interfaces.
func CertificateHosts() ([]string, error) {
	hosts := []string{"localhost", "127.0.0.1"}

	ifaces, err := net.Interfaces()
	if err != nil {
		return hosts, err
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip != nil && ip.To4() != nil && !ip.IsLoopback() {
				hosts = append(hosts, ip.String())
			}
		}
	}
	return hosts, nil
}
