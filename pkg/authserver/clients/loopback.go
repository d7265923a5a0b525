// Copyright 2025 Stacklok, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package clients

import (
	"net"
	"net/url"
	"strings"
)

const schemeHTTP = "http"

// matchesRedirectURI reports whether requestedURI satisfies one of a
// client's registered URIs: either an exact match (required for all
// non-loopback clients per spec.md), or, for native/CLI clients bound to
// a loopback address, an RFC 8252 Section 7.3 loopback match that allows
// the port to vary.
func matchesRedirectURI(requestedURI, registeredURI string) bool {
	if requestedURI == registeredURI {
		return true
	}
	return matchesAsLoopback(requestedURI, registeredURI)
}

// matchesAsLoopback implements RFC 8252 Section 7.3: loopback redirect
// URIs use "http", the host must be 127.0.0.1, [::1], or localhost, the
// authorization server must allow any port, and the path and query must
// match exactly.
func matchesAsLoopback(requestedURI, registeredURI string) bool {
	requested, err := url.Parse(requestedURI)
	if err != nil {
		return false
	}
	registered, err := url.Parse(registeredURI)
	if err != nil {
		return false
	}

	if requested.Scheme != schemeHTTP || registered.Scheme != schemeHTTP {
		return false
	}
	if !IsLoopbackHost(requested.Hostname()) || !IsLoopbackHost(registered.Hostname()) {
		return false
	}
	if !hostnamesMatch(requested.Hostname(), registered.Hostname()) {
		return false
	}
	if requested.Path != registered.Path {
		return false
	}
	if requested.RawQuery != registered.RawQuery {
		return false
	}
	return true
}

// IsLoopbackHost reports whether hostname is a loopback address per
// RFC 8252 Section 7.3: "localhost" (case-insensitive), 127.0.0.1, or ::1.
func IsLoopbackHost(hostname string) bool {
	if strings.EqualFold(hostname, "localhost") {
		return true
	}
	ip := net.ParseIP(hostname)
	return ip != nil && ip.IsLoopback()
}

func hostnamesMatch(requested, registered string) bool {
	if strings.EqualFold(requested, "localhost") && strings.EqualFold(registered, "localhost") {
		return true
	}
	return requested == registered
}
