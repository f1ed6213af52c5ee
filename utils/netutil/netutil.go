// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package netutil provides small networking helpers shared by cmd
// entrypoints and config loading.
package netutil

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// SplitHostPort splits addr into host and port. Unlike net.SplitHostPort,
// a bare host with no port (e.g. "master.com") is valid and returns an
// empty port. A present but empty host or port (e.g. "master.com:", ":")
// or more than one colon is invalid.
func SplitHostPort(addr string) (host, port string, err error) {
	parts := strings.Split(addr, ":")
	switch len(parts) {
	case 1:
		return parts[0], "", nil
	case 2:
		if parts[0] == "" || parts[1] == "" {
			return "", "", fmt.Errorf("%s is not a valid address", addr)
		}
		return parts[0], parts[1], nil
	default:
		return "", "", fmt.Errorf("%s is not a valid address", addr)
	}
}

// GetLocalIP returns the first non-loopback IPv4 address found on the
// host's network interfaces.
func GetLocalIP() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", fmt.Errorf("interface addrs: %s", err)
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return ip4.String(), nil
		}
	}
	return "", errors.New("no non-loopback ipv4 address found")
}
