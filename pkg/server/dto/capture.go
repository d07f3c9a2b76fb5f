package dto

import (
	"errors"
	"strings"
)

// Validation errors
var (
	ErrEmptyMemoryID   = errors.New("memory_id cannot be empty")
	ErrEmptyText       = errors.New("text cannot be empty")
	ErrMemoryIDTooLong = errors.New("memory_id exceeds maximum length (256)")
	ErrTextTooLong     = errors.New("text exceeds maximum length (1MB)")
)

// Maximum field lengths to prevent abuse
const (
	MaxMemoryIDLength = 256
	MaxTextLength     = 1024 * 1024 // 1MB
)

// DomainScope scopes a request to an organization / project / repository
// tuple. Empty components are left unscoped.
type DomainScope struct {
	Organization string `json:"organization,omitempty"`
	Project      string `json:"project,omitempty"`
	Repository   string `json:"repository,omitempty"`
}

// CaptureRequest represents a request to capture a memory into the graph
type CaptureRequest struct {
	MemoryID string      `json:"memory_id" binding:"required"`
	Text     string      `json:"text" binding:"required"`
	Domain   DomainScope `json:"domain,omitempty"`
}

// Validate performs validation on CaptureRequest
func (r *CaptureRequest) Validate() error {
	if strings.TrimSpace(r.MemoryID) == "" {
		return ErrEmptyMemoryID
	}
	if len(r.MemoryID) > MaxMemoryIDLength {
		return ErrMemoryIDTooLong
	}
	if strings.TrimSpace(r.Text) == "" {
		return ErrEmptyText
	}
	if len(r.Text) > MaxTextLength {
		return ErrTextTooLong
	}
	return nil
}

// ForgetResponse represents the result of removing a memory's mentions
type ForgetResponse struct {
	MemoryID        string `json:"memory_id"`
	MentionsRemoved int    `json:"mentions_removed"`
}
