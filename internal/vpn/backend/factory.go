package backend

import (
	"fmt"

	"github.com/veevpn/panel/internal/domain/server"
)

// NewClientForServer builds the protocol client matching a server's
// declared protocol. insecureSkipVerify is a per-server opt-in for
// self-signed management endpoints, never a global default.
func NewClientForServer(s *server.Server, insecureSkipVerify bool) (VpnBackend, error) {
	switch s.Protocol() {
	case server.ProtocolOutline:
		return NewOutlineClient(s.APIURL(), insecureSkipVerify), nil
	case server.ProtocolV2Ray:
		return NewV2RayClient(s.APIURL(), string(s.APICredential()), insecureSkipVerify), nil
	default:
		return nil, fmt.Errorf("unsupported server protocol: %s", s.Protocol())
	}
}
