package payload

import (
	"net"
	"sync"
)

const loopbackIP = "127.0.0.1"

var (
	localIPOnce sync.Once
	localIP     string
)

// LocalIP returns the first non-loopback IPv4 address of this host, or the
// loopback address if there is none. The lookup is done once per process.
func LocalIP() string {
	localIPOnce.Do(func() {
		localIP = lookupLocalIP()
	})

	return localIP
}

func lookupLocalIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return loopbackIP
	}

	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}

		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}

	return loopbackIP
}
