package server

import "github.com/dotside-studios/amiibo-agent/buildinfo"

// mDNS service discovery constants. Clients browse for this service type
// to find agents on the local network.
var (
	MDNSServiceType = "_amiibo-agent._tcp"
	MDNSServiceName = buildinfo.DisplayName
	MDNSDomain      = "local."
)

// CORS configuration
const (
	CORSAllowOrigin  = "*"
	CORSAllowMethods = "GET, POST, OPTIONS"
	CORSAllowHeaders = "Content-Type, Authorization"
)
