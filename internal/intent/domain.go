// Package intent manages purchase orders, the "intents" operators raise to
// have materials delivered to a site.
package intent

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Purchase order lifecycle statuses. The happy path is monotonic:
// PENDING then APPROVED then TRANSFERRED. CANCELLED is reachable from any
// non-terminal state.
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

// Material is one requested line on a purchase order.
type Material struct {
	ID           int64   `json:"id"`
	OrderID      int64   `json:"order_id"`
	ItemName     string  `json:"item_name"`
	Category     string  `json:"category"`
	SubCategory  string  `json:"sub_category"`
	SubCategory1 string  `json:"sub_category1,omitempty"`
	Quantity     float64 `json:"quantity"`
	UOM          string  `json:"uom"`
	Remarks      string  `json:"remarks,omitempty"`
}

// Attachment is a stored supporting document.
type Attachment struct {
	ID          int64  `json:"id"`
	Key         string `json:"key"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// PurchaseOrder domain model.
type PurchaseOrder struct {
	ID          int64        `json:"id"`
	Number      string       `json:"number"`
	SiteID      int64        `json:"site_id"`
	SiteName    string       `json:"site_name"`
	RequestedBy string       `json:"requested_by"`
	Status      Status       `json:"status"`
	Remarks     string       `json:"remarks,omitempty"`
	RequestDate time.Time    `json:"request_date"`
	Materials   []Material   `json:"materials"`
	Attachments []Attachment `json:"attachments,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

var (
	// ErrNotFound indicates record missing.
	ErrNotFound = errors.New("intent: not found")
	// ErrInvalidState occurs when action violates status workflow.
	ErrInvalidState = errors.New("intent: invalid state transition")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("intent: invalid input")
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
	return "intent: validation failed: " + strings.Join(parts, "; ")
}

// Is lets callers match the aggregate against ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
