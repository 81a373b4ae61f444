// Package server models a fleet member: one Outline or V2Ray management
// endpoint that the subscription engine provisions keys against.
package server

import (
	"fmt"
)

// Protocol identifies which backend API dialect a server speaks.
type Protocol string

const (
	ProtocolOutline Protocol = "outline"
	ProtocolV2Ray   Protocol = "v2ray"
)

func (p Protocol) Valid() bool {
	return p == ProtocolOutline || p == ProtocolV2Ray
}

// Server is a single fleet member.
type Server struct {
	id             uint
	displayName    string
	country        string
	protocol       Protocol
	apiURL         string
	apiCredential  []byte
	domain         string
	active         bool
	accessLevel    int
}

// New creates a new server entry. apiCredential is the management API
// secret (Outline cert fingerprint pin or V2Ray gRPC token), already run
// through a credential.Codec by the caller; it is never logged or surfaced
// on the bundle endpoint.
func New(displayName, country string, protocol Protocol, apiURL string, apiCredential []byte, domain string, accessLevel int) (*Server, error) {
	if displayName == "" {
		return nil, fmt.Errorf("display name is required")
	}
	if !protocol.Valid() {
		return nil, fmt.Errorf("invalid protocol: %s", protocol)
	}
	if apiURL == "" {
		return nil, fmt.Errorf("api url is required")
	}
	if domain == "" {
		return nil, fmt.Errorf("domain is required")
	}
	return &Server{
		displayName:   displayName,
		country:       country,
		protocol:      protocol,
		apiURL:        apiURL,
		apiCredential: apiCredential,
		domain:        domain,
		active:        true,
		accessLevel:   accessLevel,
	}, nil
}

// Reconstruct rebuilds a Server from persistence.
func Reconstruct(id uint, displayName, country string, protocol Protocol, apiURL string, apiCredential []byte, domain string, active bool, accessLevel int) (*Server, error) {
	if id == 0 {
		return nil, fmt.Errorf("server id cannot be zero")
	}
	if !protocol.Valid() {
		return nil, fmt.Errorf("invalid protocol: %s", protocol)
	}
	return &Server{
		id: id, displayName: displayName, country: country, protocol: protocol,
		apiURL: apiURL, apiCredential: apiCredential, domain: domain,
		active: active, accessLevel: accessLevel,
	}, nil
}

func (s *Server) ID() uint              { return s.id }
func (s *Server) DisplayName() string   { return s.displayName }
func (s *Server) Country() string       { return s.country }
func (s *Server) Protocol() Protocol    { return s.protocol }
func (s *Server) APIURL() string        { return s.apiURL }
func (s *Server) APICredential() []byte { return s.apiCredential }
func (s *Server) Domain() string        { return s.domain }
func (s *Server) Active() bool          { return s.active }
func (s *Server) AccessLevel() int      { return s.accessLevel }

// IsV2Ray reports whether this server participates in V2Ray provisioning
// (Outline servers are excluded from the V2Ray key fan-out in subscription
// creation).
func (s *Server) IsV2Ray() bool { return s.protocol == ProtocolV2Ray }

func (s *Server) Activate()   { s.active = true }
func (s *Server) Deactivate() { s.active = false }

// MeetsAccessLevel reports whether a subscriber's effective access level
// (derived from VIP status) is sufficient to use this server.
func (s *Server) MeetsAccessLevel(subscriberLevel int) bool {
	return subscriberLevel >= s.accessLevel
}
