// ABOUTME: Discovers the node's announced identity: host name, OS and primary IPv4 address.
// ABOUTME: Uses gopsutil for host facts and falls back to the Go runtime when it fails.

package agent

import (
	"errors"
	"net"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/host"
)

// Identity is what a node announces about itself in its hello.
type Identity struct {
	Name string
	OS   string
}

// ProbeIdentity reports the host name and operating system.
func ProbeIdentity() Identity {
	id := Identity{OS: runtime.GOOS}

	info, err := host.Info()
	if err == nil {
		id.Name = info.Hostname
		if info.OS != "" {
			id.OS = info.OS
		}
	}
	if id.Name == "" {
		if name, err := os.Hostname(); err == nil {
			id.Name = name
		}
	}
	return id
}

// PrimaryIPv4 returns the first IPv4 address of an up, non-loopback interface.
func PrimaryIPv4() (string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ip4 := ipnet.IP.To4(); ip4 != nil {
					return ip4.String(), nil
				}
			}
		}
	}
	return "", errors.New("no non-loopback IPv4 address found")
}
