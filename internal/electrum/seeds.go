package electrum

// seedServers are long-lived public Electrum servers compiled in as the
// last connect fallback and as discovery entry points when no configured
// server is reachable.
var seedServers = []struct {
	host    string
	tcpPort int
	tlsPort int
}{
	{host: "electrum.blockstream.info", tcpPort: 50001, tlsPort: 50002},
	{host: "blockstream.info", tcpPort: 110, tlsPort: 700},
	{host: "electrum.bitaroo.net", tcpPort: 50001, tlsPort: 50002},
	{host: "electrum.emzy.de", tcpPort: 50001, tlsPort: 50002},
	{host: "fortress.qtornado.com", tcpPort: 50001, tlsPort: 443},
}

// builtinSeeds returns the fallback endpoints for the chosen transport.
func builtinSeeds(useTLS bool) []ServerEndpoint {
	endpoints := make([]ServerEndpoint, 0, len(seedServers))
	for _, seed := range seedServers {
		if useTLS {
			endpoints = append(endpoints, ServerEndpoint{
				Host: seed.host, Port: seed.tlsPort, UseTLS: true,
			})
		} else {
			endpoints = append(endpoints, ServerEndpoint{
				Host: seed.host, Port: seed.tcpPort, UseTLS: false,
			})
		}
	}
	return endpoints
}
