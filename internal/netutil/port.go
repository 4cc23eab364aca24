// Package netutil has small bind-address helpers shared by the CLI
// commands that open listening sockets.
package netutil

import (
	"net"
	"strconv"

	"github.com/Eavina-s-org/webmock/internal/errs"
)

// SelectBindAddr picks an available bind address: the preferred one when
// free, otherwise the first free candidate when autoFallback is set. A busy
// preferred address without fallback is port_in_use, never a silent switch.
func SelectBindAddr(preferred string, candidates []string, autoFallback bool) (string, error) {
	if preferred != "" {
		ok, err := IsAddrAvailable(preferred)
		if err != nil {
			return "", err
		}
		if ok {
			return preferred, nil
		}
		if !autoFallback {
			return "", errs.Newf(errs.CodePortInUse, "bind address in use: %s", preferred)
		}
	}

	for _, addr := range candidates {
		ok, err := IsAddrAvailable(addr)
		if err != nil {
			return "", err
		}
		if ok {
			return addr, nil
		}
	}

	return "", errs.Newf(errs.CodeBind, "no available bind addresses (preferred %q, %d candidates)", preferred, len(candidates))
}

// IsAddrAvailable returns true when an address can be listened on.
func IsAddrAvailable(addr string) (bool, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return false, nil
	}
	if closeErr := ln.Close(); closeErr != nil {
		return false, closeErr
	}
	return true, nil
}

// PortAvailable reports whether host:port can be bound right now. Port 0
// is always available; the OS picks.
func PortAvailable(host string, port int) bool {
	if port == 0 {
		return true
	}
	ok, _ := IsAddrAvailable(net.JoinHostPort(host, strconv.Itoa(port)))
	return ok
}
