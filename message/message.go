// Package message defines the envelope exchanged by the urp transport.
//
// RPCMessage is serialized by an envelope codec (JSON or Binary) and wrapped
// in a protocol frame for transmission over TCP. The payload inside it is
// already encoded by the method's payload codec and is opaque here.
package message

import (
	"fmt"
	"strings"
)

// RPCMessage carries the data for a single RPC request or response.
//
//   - On request:  ServiceMethod is set, Payload contains the encoded request, Error is empty.
//   - On response: Payload contains the encoded reply, Error is non-empty if the call failed.
type RPCMessage struct {
	ServiceMethod string // "Service.Method" or "/pkg.Service/Method"
	Error         string // Non-empty if the server-side handler returned an error
	Payload       []byte
}

// SplitServiceMethod splits a method path into its service and method names.
// Both the dotted form "Greeter.SayHello" and the gRPC form
// "/greet.Greeter/SayHello" are accepted; for the latter the package
// qualifier is dropped and "Greeter" is returned as the service.
func SplitServiceMethod(path string) (service, method string, err error) {
	if strings.HasPrefix(path, "/") {
		full, m, ok := strings.Cut(path[1:], "/")
		if !ok || full == "" || m == "" || strings.Contains(m, "/") {
			return "", "", fmt.Errorf("invalid method path: %q", path)
		}
		if i := strings.LastIndexByte(full, '.'); i >= 0 {
			full = full[i+1:]
		}
		if full == "" {
			return "", "", fmt.Errorf("invalid method path: %q", path)
		}
		return full, m, nil
	}

	split := strings.Split(path, ".")
	if len(split) != 2 || split[0] == "" || split[1] == "" {
		return "", "", fmt.Errorf("invalid service method format: %q", path)
	}
	return split[0], split[1], nil
}
