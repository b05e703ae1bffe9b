// Package api implements HTTP handlers and helpers for the aircargo service.
package api

import (
    "net/http"
    "strings"
)

type Principal struct {
    Role    string // admin, operator, viewer
    Subject string
}

// getPrincipal extracts the caller's role from a bearer token or headers.
// - If Authorization: Bearer is present, uses configured verifier (dev/hmac).
// - Else falls back to headers for dev.
func (s *Server) getPrincipal(r *http.Request) Principal {
    authz := r.Header.Get("Authorization")
    if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
        tok := strings.TrimSpace(authz[len("Bearer "):])
        if pr, err := s.Auth.Verify(tok); err == nil {
            return Principal{Role: pr.Role, Subject: pr.Subject}
        }
    }
    role := r.Header.Get("X-Role")
    if role == "" {
        role = "admin"
    }
    return Principal{Role: strings.ToLower(role), Subject: r.Header.Get("X-Subject")}
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool { return p.Role == "admin" }

// CanOperate reports whether the principal may drive the planner and sim.
func (p Principal) CanOperate() bool { return p.Role == "admin" || p.Role == "operator" }
