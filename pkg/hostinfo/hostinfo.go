// Package hostinfo describes the machine the agent runs on.
package hostinfo

import (
	"net"
	"os"
	"runtime"
)

// Info is a static snapshot of the local host. It satisfies dash.HostInfo.
type Info struct {
	hostname  string
	mac       string
	ip        string
	osName    string
	osVersion string
	arch      string
}

// Collect collects the local host's description. Missing facts are left empty rather
// than failing.
func Collect() *Info {
	info := &Info{arch: runtime.GOARCH, osName: runtime.GOOS}
	info.hostname, _ = os.Hostname()
	if name, release, machine := uname(); name != "" {
		info.osName = name
		info.osVersion = release
		if machine != "" {
			info.arch = machine
		}
	}
	ifaces, _ := net.Interfaces()
	info.mac, info.ip = primaryInterface(ifaces, interfaceAddrs)
	return info
}

// New builds an Info from known values, for tests and overrides.
func New(hostname, mac, ip, osName, osVersion, arch string) *Info {
	return &Info{hostname: hostname, mac: mac, ip: ip, osName: osName, osVersion: osVersion, arch: arch}
}

func (i *Info) Hostname() string { return i.hostname }
func (i *Info) MACAddress() string { return i.mac }
func (i *Info) IPAddress() string { return i.ip }
func (i *Info) OSName() string { return i.osName }
func (i *Info) OSVersion() string { return i.osVersion }
func (i *Info) Architecture() string { return i.arch }

func interfaceAddrs(iface net.Interface) ([]net.Addr, error) {
	return iface.Addrs()
}

// primaryInterface returns the MAC and first IPv4 address of the first interface that
// is up, not loopback, and has a hardware address.
func primaryInterface(ifaces []net.Interface, addrs func(net.Interface) ([]net.Addr, error)) (string, string) {
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(iface.HardwareAddr) == 0 {
			continue
		}
		list, err := addrs(iface)
		if err != nil {
			continue
		}
		for _, addr := range list {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if v4 := ipnet.IP.To4(); v4 != nil {
				return iface.HardwareAddr.String(), v4.String()
			}
		}
	}
	return "", ""
}
