// Package transfer manages site transfers, requests to move materials from
// one construction site to another.
package transfer

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Site transfer lifecycle statuses, same workflow as purchase orders:
// PENDING then APPROVED then TRANSFERRED, CANCELLED from any non-terminal
// state.
type Status string

const (
	StatusPending     Status = "PENDING"
	StatusApproved    Status = "APPROVED"
	StatusTransferred Status = "TRANSFERRED"
	StatusCancelled   Status = "CANCELLED"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusTransferred || s == StatusCancelled
}

// Material is one line on a transfer.
type Material struct {
	ID         int64   `json:"id"`
	TransferID int64   `json:"transfer_id"`
	ItemName   string  `json:"item_name"`
	Category   string  `json:"category"`
	Quantity   float64 `json:"quantity"`
	UOM        string  `json:"uom"`
	Remarks    string  `json:"remarks,omitempty"`
}

// Attachment is a stored supporting document.
type Attachment struct {
	ID          int64  `json:"id"`
	Key         string `json:"key"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// SiteTransfer domain model.
type SiteTransfer struct {
	ID           int64        `json:"id"`
	Number       string       `json:"number"`
	FromSiteID   int64        `json:"from_site_id"`
	FromSiteName string       `json:"from_site_name"`
	ToSiteID     int64        `json:"to_site_id"`
	ToSiteName   string       `json:"to_site_name"`
	RequestedBy  string       `json:"requested_by"`
	Status       Status       `json:"status"`
	Remarks      string       `json:"remarks,omitempty"`
	RequestDate  time.Time    `json:"request_date"`
	Materials    []Material   `json:"materials"`
	Attachments  []Attachment `json:"attachments,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

var (
	// ErrNotFound indicates record missing.
	ErrNotFound = errors.New("transfer: not found")
	// ErrInvalidState occurs when action violates status workflow.
	ErrInvalidState = errors.New("transfer: invalid state transition")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("transfer: invalid input")
)

// ValidationError aggregates every field violation of one request.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "transfer: validation failed: " + strings.Join(parts, "; ")
}

// Is lets callers match the aggregate against ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
