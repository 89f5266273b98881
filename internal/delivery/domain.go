// Package delivery tracks materials in transit between a purchase order or
// site transfer and their receipt on site. A delivery's status is always a
// pure function of its line items; every view reads the same derivation.
package delivery

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Delivery receipt statuses.
type Status string

const (
	StatusPending     Status = "Pending"
	StatusPartial     Status = "Partial"
	StatusTransferred Status = "Transferred"
)

// OriginType discriminates which record staged the delivery.
type OriginType string

const (
	OriginPurchaseOrder OriginType = "PO"
	OriginSiteTransfer  OriginType = "ST"
)

// Origin is the typed link back to the staging record.
type Origin struct {
	Type   OriginType `json:"type"`
	ID     int64      `json:"id"`
	Number string     `json:"number"`
}

// Item is one material line on a delivery checklist. Quantity is the approved
// quantity from the origin record; ReceivedQuantity is what arrived so far.
type Item struct {
	ID               int64   `json:"id"`
	DeliveryID       int64   `json:"delivery_id"`
	ItemName         string  `json:"item_name"`
	Category         string  `json:"category"`
	SubCategory      string  `json:"sub_category"`
	SubCategory1     string  `json:"sub_category1,omitempty"`
	Quantity         float64 `json:"quantity"`
	ReceivedQuantity float64 `json:"received_quantity"`
	UOM              string  `json:"uom"`
	IsReceived       bool    `json:"is_received"`
	Remarks          string  `json:"remarks,omitempty"`
}

// FullyReceived reports whether the line needs no further receipt.
func (i Item) FullyReceived() bool {
	return i.ReceivedQuantity >= i.Quantity
}

// Discount types accepted on billing.
type DiscountType string

const (
	DiscountFlat       DiscountType = "flat"
	DiscountPercentage DiscountType = "percentage"
)

// Billing holds the goods-receipt billing fields attached once a delivery is
// fully transferred. Amount is derived from the other fields, never entered.
type Billing struct {
	InvoiceNumber string       `json:"invoice_number"`
	Price         float64      `json:"price"`
	BillDate      time.Time    `json:"bill_date"`
	Discount      float64      `json:"discount"`
	DiscountType  DiscountType `json:"discount_type"`
	Amount        float64      `json:"amount"`
}

// Attachment is a stored delivery receipt image.
type Attachment struct {
	ID          int64  `json:"id"`
	Key         string `json:"key"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// Delivery is an upcoming delivery record.
type Delivery struct {
	ID          int64        `json:"id"`
	Origin      Origin       `json:"origin"`
	FromSiteID  int64        `json:"from_site_id,omitempty"`
	FromSite    string       `json:"from_site"`
	ToSiteID    int64        `json:"to_site_id"`
	ToSite      string       `json:"to_site"`
	Date        time.Time    `json:"date"`
	CreatedBy   string       `json:"created_by"`
	Status      Status       `json:"status"`
	Items       []Item       `json:"items"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Billing     *Billing     `json:"billing,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

var (
	// ErrNotFound indicates record missing.
	ErrNotFound = errors.New("delivery: not found")
	// ErrInvalidState occurs when action violates the receipt workflow.
	ErrInvalidState = errors.New("delivery: invalid state")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("delivery: invalid input")
)

// ValidationError aggregates every field violation of one request so the
// operator can correct them all at once rather than one per round trip.
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
	return "delivery: validation failed: " + strings.Join(parts, "; ")
}

// Is lets callers match the aggregate against ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ConflictError reports lines marked received while still short of the
// approved quantity. Both outcomes are legitimate business states, so the
// save is refused until the operator picks a resolution.
type ConflictError struct {
	ItemIDs []int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("delivery: %d item(s) marked received below approved quantity, resolution required", len(e.ItemIDs))
}

// DeriveStatus computes the canonical status from line items. It is the only
// place this rule lives; handlers, lists and the GRN projection all call it.
//
// Transferred means every item is fully received, Partial means something but
// not everything arrived, Pending means nothing has. An empty checklist is
// Pending. The result does not depend on item order.
func DeriveStatus(items []Item) Status {
	if len(items) == 0 {
		return StatusPending
	}
	anyReceived := false
	allReceived := true
	for _, item := range items {
		if item.ReceivedQuantity > 0 {
			anyReceived = true
		}
		if !item.FullyReceived() {
			allReceived = false
		}
	}
	switch {
	case allReceived:
		return StatusTransferred
	case anyReceived:
		return StatusPartial
	default:
		return StatusPending
	}
}
