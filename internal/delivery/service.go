package delivery

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/buildmat/buildmat/internal/notify"
	"github.com/buildmat/buildmat/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Delivery, error)
	FindByOrigin(ctx context.Context, origin Origin) (Delivery, error)
	List(ctx context.Context, filters ListFilters) ([]Delivery, int, error)
	ListIDs(ctx context.Context) ([]int64, error)
}

// OriginPort lets the reconciliation flow mark the staging record as
// transferred once every line is fully received. Implemented by the purchase
// order and site transfer services.
type OriginPort interface {
	MarkTransferred(ctx context.Context, originID int64) error
}

// Notifier fans out refresh topics to every open view.
type Notifier interface {
	Publish(ctx context.Context, topics ...notify.Topic)
}

// AttachmentStore persists delivery receipt images.
type AttachmentStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Remove(ctx context.Context, key string) error
	RemovePrefix(ctx context.Context, prefix string) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates delivery receipt reconciliation.
type Service struct {
	repo        RepositoryPort
	notifier    Notifier
	attachments AttachmentStore
	audit       AuditPort
	origins     map[OriginType]OriginPort
}

// NewService constructs the delivery service. Origin ports are registered
// afterwards to break the construction cycle with the origin services.
func NewService(repo RepositoryPort, notifier Notifier, attachments AttachmentStore, audit AuditPort) *Service {
	return &Service{
		repo:        repo,
		notifier:    notifier,
		attachments: attachments,
		audit:       audit,
		origins:     make(map[OriginType]OriginPort),
	}
}

// RegisterOrigin wires the port that owns one origin type.
func (s *Service) RegisterOrigin(t OriginType, port OriginPort) {
	s.origins[t] = port
}

// CreateInput describes a delivery staged from an approved origin record.
type CreateInput struct {
	Origin     Origin
	FromSiteID int64
	FromSite   string
	ToSiteID   int64
	ToSite     string
	Date       time.Time
	CreatedBy  string
	Items      []ItemInput
}

// ItemInput describes one checklist line.
type ItemInput struct {
	ItemName     string
	Category     string
	SubCategory  string
	SubCategory1 string
	Quantity     float64
	UOM          string
	Remarks      string
}

// ScheduleFromOrigin creates the upcoming delivery that tracks receipt of an
// approved order or transfer. One delivery per origin record; approving the
// same origin twice returns the existing delivery.
func (s *Service) ScheduleFromOrigin(ctx context.Context, input CreateInput) (int64, error) {
	if input.Origin.ID == 0 || input.Origin.Type == "" {
		return 0, ErrValidation
	}
	if existing, err := s.repo.FindByOrigin(ctx, input.Origin); err == nil {
		return existing.ID, nil
	}
	d := Delivery{
		Origin:     input.Origin,
		FromSiteID: input.FromSiteID,
		FromSite:   input.FromSite,
		ToSiteID:   input.ToSiteID,
		ToSite:     input.ToSite,
		Date:       defaultTime(input.Date),
		CreatedBy:  input.CreatedBy,
		Status:     StatusPending,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.Create(ctx, d)
		if err != nil {
			return err
		}
		d.ID = id
		for _, in := range input.Items {
			item := Item{
				DeliveryID:   id,
				ItemName:     in.ItemName,
				Category:     in.Category,
				SubCategory:  in.SubCategory,
				SubCategory1: in.SubCategory1,
				Quantity:     in.Quantity,
				UOM:          in.UOM,
				Remarks:      in.Remarks,
			}
			if _, err := tx.InsertItem(ctx, item); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.recordAudit(ctx, "DELIVERY_SCHEDULE", d.ID, map[string]any{"origin": string(d.Origin.Type), "number": d.Origin.Number})
	return d.ID, nil
}

// Get returns one delivery.
func (s *Service) Get(ctx context.Context, id int64) (Delivery, error) {
	return s.repo.Get(ctx, id)
}

// List returns a page of deliveries. Branch-scoped sessions only see
// deliveries touching their site.
func (s *Service) List(ctx context.Context, sess *shared.Session, filters ListFilters) ([]Delivery, int, error) {
	if sess.BranchScoped() {
		filters.SiteID = sess.SiteID
	}
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.Limit <= 0 {
		filters.Limit = 20
	}
	return s.repo.List(ctx, filters)
}

// ListGRN returns the goods receipt projection: deliveries whose every item
// has been fully received. It is the same data, filtered, not a copy.
func (s *Service) ListGRN(ctx context.Context, sess *shared.Session, filters ListFilters) ([]Delivery, int, error) {
	filters.OnlyTransferred = true
	return s.List(ctx, sess, filters)
}

// ItemUpdate is one proposed checklist edit.
type ItemUpdate struct {
	ItemID           int64   `json:"item_id"`
	ReceivedQuantity float64 `json:"received_quantity"`
	IsReceived       bool    `json:"is_received"`
}

// Resolution is the operator's explicit choice for lines marked received
// while short of the approved quantity.
type Resolution string

const (
	// ResolutionFill raises the received quantity to the approved quantity.
	ResolutionFill Resolution = "fill"
	// ResolutionKeep keeps the lesser quantity and the received mark, the
	// under-delivered-but-closed case.
	ResolutionKeep Resolution = "keep"
)

// ReconcileItems is the end-to-end receipt flow: validate every proposed
// quantity (collecting all violations), surface unresolved received-mark
// conflicts, persist the edits atomically, recompute the status from the
// persisted rows, and fan the change out to every view that shows it.
//
// Nothing is published when persistence fails; a delivery is never left with
// some items updated and others not.
func (s *Service) ReconcileItems(ctx context.Context, deliveryID int64, updates []ItemUpdate, resolution Resolution) (Delivery, error) {
	d, err := s.repo.Get(ctx, deliveryID)
	if err != nil {
		return Delivery{}, err
	}
	if len(updates) == 0 {
		return Delivery{}, &ValidationError{Fields: map[string]string{"items": "at least one item update is required"}}
	}

	byID := make(map[int64]Item, len(d.Items))
	for _, item := range d.Items {
		byID[item.ID] = item
	}

	fields := make(map[string]string)
	var conflicts []int64
	for i := range updates {
		u := &updates[i]
		key := "items." + strconv.FormatInt(u.ItemID, 10)
		item, ok := byID[u.ItemID]
		if !ok {
			fields[key] = "unknown item"
			continue
		}
		if u.ReceivedQuantity < 0 {
			fields[key+".received_quantity"] = "must not be negative"
			continue
		}
		if u.ReceivedQuantity > item.Quantity {
			fields[key+".received_quantity"] = fmt.Sprintf("exceeds approved quantity %g", item.Quantity)
			continue
		}
		if u.IsReceived && u.ReceivedQuantity < item.Quantity {
			conflicts = append(conflicts, u.ItemID)
		}
	}
	if len(fields) > 0 {
		return Delivery{}, &ValidationError{Fields: fields}
	}
	if len(conflicts) > 0 {
		switch resolution {
		case ResolutionFill:
			for i := range updates {
				u := &updates[i]
				if item, ok := byID[u.ItemID]; ok && u.IsReceived && u.ReceivedQuantity < item.Quantity {
					u.ReceivedQuantity = item.Quantity
				}
			}
		case ResolutionKeep:
			// Under-delivered but closed; quantities stand as entered.
		default:
			return Delivery{}, &ConflictError{ItemIDs: conflicts}
		}
	}

	prevStatus := d.Status
	var persisted []Item
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, u := range updates {
			item := byID[u.ItemID]
			item.ReceivedQuantity = u.ReceivedQuantity
			item.IsReceived = u.IsReceived
			if err := tx.UpdateItem(ctx, item); err != nil {
				return err
			}
		}
		// Status is derived from what the database now holds, not from the
		// request, so client drift cannot leak into stored state.
		items, err := tx.Items(ctx, deliveryID)
		if err != nil {
			return err
		}
		persisted = items
		if next := DeriveStatus(items); next != prevStatus {
			return tx.UpdateStatus(ctx, deliveryID, next)
		}
		return nil
	})
	if err != nil {
		return Delivery{}, err
	}

	d.Items = persisted
	d.Status = DeriveStatus(persisted)

	if d.Status == StatusTransferred && prevStatus != StatusTransferred {
		if port, ok := s.origins[d.Origin.Type]; ok {
			if err := s.markOrigin(ctx, port, d.Origin); err != nil {
				s.recordAudit(ctx, "DELIVERY_ORIGIN_SYNC_FAILED", d.ID, map[string]any{"error": err.Error()})
			}
		}
	}

	topics := []notify.Topic{notify.TopicUpcomingDeliveryRefresh, originTopic(d.Origin.Type)}
	if (d.Status == StatusTransferred) != (prevStatus == StatusTransferred) {
		// The delivery entered or left the GRN projection.
		topics = append(topics, notify.TopicDeliveryRefresh)
	}
	s.notifier.Publish(ctx, topics...)
	s.recordAudit(ctx, "DELIVERY_RECONCILE", d.ID, map[string]any{"status": string(d.Status)})
	return d, nil
}

// RecomputeStatus re-derives and persists one delivery's status from its
// stored items, repairing any drift. Used by the admin endpoint and the
// nightly sweep.
func (s *Service) RecomputeStatus(ctx context.Context, id int64) (Delivery, bool, error) {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return Delivery{}, false, err
	}
	next := DeriveStatus(d.Items)
	if next == d.Status {
		return d, false, nil
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, id, next)
	})
	if err != nil {
		return Delivery{}, false, err
	}
	prev := d.Status
	d.Status = next
	topics := []notify.Topic{notify.TopicUpcomingDeliveryRefresh, originTopic(d.Origin.Type)}
	if (next == StatusTransferred) != (prev == StatusTransferred) {
		topics = append(topics, notify.TopicDeliveryRefresh)
	}
	s.notifier.Publish(ctx, topics...)
	return d, true, nil
}

// SweepStatuses re-derives every delivery's status, returning how many rows
// drifted. Run from the background worker.
func (s *Service) SweepStatuses(ctx context.Context) (int, error) {
	ids, err := s.repo.ListIDs(ctx)
	if err != nil {
		return 0, err
	}
	fixed := 0
	for _, id := range ids {
		_, changed, err := s.RecomputeStatus(ctx, id)
		if err != nil {
			return fixed, err
		}
		if changed {
			fixed++
		}
	}
	return fixed, nil
}

// BillingInput carries operator-entered billing fields. Amount is never
// accepted from the client.
type BillingInput struct {
	InvoiceNumber string       `json:"invoice_number"`
	Price         float64      `json:"price"`
	BillDate      time.Time    `json:"bill_date"`
	Discount      float64      `json:"discount"`
	DiscountType  DiscountType `json:"discount_type"`
}

// UpdateBilling attaches or edits billing on a transferred delivery. The
// invoice number defaults to the origin number minus its copy suffix; the
// amount is always recomputed here as the authoritative value.
func (s *Service) UpdateBilling(ctx context.Context, id int64, input BillingInput) (Billing, error) {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return Billing{}, err
	}
	if d.Status != StatusTransferred {
		return Billing{}, ErrInvalidState
	}
	b := Billing{
		InvoiceNumber: input.InvoiceNumber,
		Price:         input.Price,
		BillDate:      defaultTime(input.BillDate),
		Discount:      input.Discount,
		DiscountType:  input.DiscountType,
	}
	if b.DiscountType == "" {
		b.DiscountType = DiscountFlat
	}
	if b.InvoiceNumber == "" {
		b.InvoiceNumber = DeriveInvoiceNumber(d.Origin.Number)
	}
	if err := ValidateBilling(b); err != nil {
		return Billing{}, err
	}
	b.Amount = CalcAmount(b.Price, b.Discount, b.DiscountType)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.SetBilling(ctx, id, b)
	})
	if err != nil {
		return Billing{}, err
	}
	s.recordAudit(ctx, "DELIVERY_BILLING", id, map[string]any{"invoice": b.InvoiceNumber, "amount": b.Amount})
	s.notifier.Publish(ctx, notify.TopicDeliveryRefresh)
	return b, nil
}

// AddReceipt stores one uploaded delivery receipt image.
func (s *Service) AddReceipt(ctx context.Context, id int64, fileName, contentType string, size int64, r io.Reader) (Attachment, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return Attachment{}, err
	}
	att := Attachment{
		Key:         fmt.Sprintf("%s%s-%s", attachmentPrefix(id), uuid.NewString(), fileName),
		FileName:    fileName,
		ContentType: contentType,
		Size:        size,
	}
	if err := s.attachments.Put(ctx, att.Key, r, size, contentType); err != nil {
		return Attachment{}, err
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		attID, err := tx.InsertAttachment(ctx, id, att)
		if err != nil {
			return err
		}
		att.ID = attID
		return nil
	})
	if err != nil {
		_ = s.attachments.Remove(ctx, att.Key)
		return Attachment{}, err
	}
	s.notifier.Publish(ctx, notify.TopicUpcomingDeliveryRefresh)
	return att, nil
}

// RemoveAttachment deletes one stored receipt.
func (s *Service) RemoveAttachment(ctx context.Context, id, attachmentID int64) error {
	var key string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		k, err := tx.DeleteAttachment(ctx, id, attachmentID)
		if err != nil {
			return err
		}
		key = k
		return nil
	})
	if err != nil {
		return err
	}
	if err := s.attachments.Remove(ctx, key); err != nil {
		s.recordAudit(ctx, "DELIVERY_ATTACHMENT_SWEEP_PENDING", id, map[string]any{"error": err.Error()})
	}
	s.notifier.Publish(ctx, notify.TopicUpcomingDeliveryRefresh)
	return nil
}

// Delete removes the delivery, its billing and its stored receipts.
func (s *Service) Delete(ctx context.Context, id int64) error {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	if err := s.attachments.RemovePrefix(ctx, attachmentPrefix(id)); err != nil {
		s.recordAudit(ctx, "DELIVERY_ATTACHMENT_SWEEP_PENDING", id, map[string]any{"error": err.Error()})
	}
	topics := []notify.Topic{notify.TopicUpcomingDeliveryRefresh, originTopic(d.Origin.Type)}
	if d.Status == StatusTransferred {
		topics = append(topics, notify.TopicDeliveryRefresh)
	}
	s.notifier.Publish(ctx, topics...)
	s.recordAudit(ctx, "DELIVERY_DELETE", id, map[string]any{"number": d.Origin.Number})
	return nil
}

// DeleteAll removes every delivery, an admin bulk cleanup operation.
func (s *Service) DeleteAll(ctx context.Context) (int, error) {
	var ids []int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		deleted, err := tx.DeleteAll(ctx)
		if err != nil {
			return err
		}
		ids = deleted
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := s.attachments.RemovePrefix(ctx, attachmentPrefix(id)); err != nil {
			s.recordAudit(ctx, "DELIVERY_ATTACHMENT_SWEEP_PENDING", id, map[string]any{"error": err.Error()})
		}
	}
	s.notifier.Publish(ctx, notify.TopicUpcomingDeliveryRefresh, notify.TopicDeliveryRefresh)
	return len(ids), nil
}

func (s *Service) markOrigin(ctx context.Context, port OriginPort, origin Origin) error {
	return port.MarkTransferred(ctx, origin.ID)
}

func originTopic(t OriginType) notify.Topic {
	if t == OriginSiteTransfer {
		return notify.TopicSiteTransferRefresh
	}
	return notify.TopicIntentRefresh
}

func attachmentPrefix(deliveryID int64) string {
	return fmt.Sprintf("delivery/%d/", deliveryID)
}

func (s *Service) recordAudit(ctx context.Context, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "delivery", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}

func defaultTime(value time.Time) time.Time {
	if value.IsZero() {
		return time.Now()
	}
	return value
}
