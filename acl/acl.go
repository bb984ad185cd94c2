// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package acl defines the runtime authorization hook consulted by the
// session layer on connect and re-authentication and by the router when
// replaying retained messages.
package acl

import "github.com/absmach/mbus/core"

// Op identifies the operation being authorized.
type Op byte

const (
	OpPublish Op = iota
	OpSubscribe
)

func (o Op) String() string {
	switch o {
	case OpPublish:
		return "publish"
	case OpSubscribe:
		return "subscribe"
	default:
		return "unknown"
	}
}

// ConnectRequest carries the protocol-agnostic CONNECT fields the authorizer
// may inspect.
type ConnectRequest struct {
	ClientID   string
	Username   string
	Password   []byte
	CleanStart bool
	Properties map[string]string
}

// ConnectResponse carries the CONNACK fields the authorizer controls.
type ConnectResponse struct {
	ReasonCode byte
	Properties map[string]string
}

// AuthRequest carries the MQTT 5.0 AUTH packet fields for enhanced
// re-authentication.
type AuthRequest struct {
	Method string
	Data   []byte
}

// AuthResponse is the authorizer's answer to an AUTH exchange step.
type AuthResponse struct {
	ReasonCode byte
	Method     string
	Data       []byte
}

// Authorizer is the runtime authorization hook. Each callback is pure with
// respect to routing state; the router holds no locks while calling it.
type Authorizer interface {
	// NewUserContext builds the opaque per-client context threaded through
	// later callbacks.
	NewUserContext(pool, clientID string) any

	// Connect authorizes a CONNECT handshake and may replace the user
	// context.
	Connect(req *ConnectRequest, userCtx any) (*ConnectResponse, any, error)

	// Reauth handles an MQTT 5.0 AUTH exchange and may replace the user
	// context.
	Reauth(req *AuthRequest, userCtx any) (*AuthResponse, any, error)

	// IsAllowed authorizes a single publish or subscribe against a concrete
	// topic. The router consults it with OpSubscribe during retained replay.
	IsAllowed(op Op, topic []string, msg *core.Message, userCtx any) bool
}

var _ Authorizer = AllowAll{}

// AllowAll is the default authorizer: every client and every topic is
// permitted.
type AllowAll struct{}

// NewUserContext returns a nil context.
func (AllowAll) NewUserContext(pool, clientID string) any { return nil }

// Connect accepts every handshake.
func (AllowAll) Connect(req *ConnectRequest, userCtx any) (*ConnectResponse, any, error) {
	return &ConnectResponse{}, userCtx, nil
}

// Reauth accepts every AUTH exchange.
func (AllowAll) Reauth(req *AuthRequest, userCtx any) (*AuthResponse, any, error) {
	return &AuthResponse{Method: req.Method}, userCtx, nil
}

// IsAllowed permits everything.
func (AllowAll) IsAllowed(op Op, topic []string, msg *core.Message, userCtx any) bool {
	return true
}
