package docker

import (
	"fmt"
	"math/rand"
	"net"

	"github.com/kpndevrootentri/ShipEntri/internal/fault"
)

const (
	portRangeLow  = 8000
	portRangeHigh = 9999
	portAttempts  = 50
)

// allocateHostPort draws a random port from [8000, 9999] and confirms it is
// not already bound before returning it. Ports are shared across projects,
// so an unverified draw can collide under concurrent deployments.
func allocateHostPort() (int, error) {
	for attempt := 0; attempt < portAttempts; attempt++ {
		port := portRangeLow + rand.Intn(portRangeHigh-portRangeLow+1)
		if portFree(port) {
			return port, nil
		}
	}
	return 0, fault.Newf(fault.KindRunFailed, "no free host port in [%d, %d] after %d attempts", portRangeLow, portRangeHigh, portAttempts)
}

// portFree probes the port by binding it briefly on all interfaces.
func portFree(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}
