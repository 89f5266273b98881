package intent

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/buildmat/buildmat/internal/delivery"
	"github.com/buildmat/buildmat/internal/masterdata/sites"
	"github.com/buildmat/buildmat/internal/notify"
	"github.com/buildmat/buildmat/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (PurchaseOrder, error)
	List(ctx context.Context, filters ListFilters) ([]PurchaseOrder, int, error)
	CountNumbers(ctx context.Context, prefix string) (int, error)
}

// DeliveryScheduler stages an upcoming delivery when an order is approved.
type DeliveryScheduler interface {
	ScheduleFromOrigin(ctx context.Context, input delivery.CreateInput) (int64, error)
}

// SiteDirectory resolves site metadata for numbering and display.
type SiteDirectory interface {
	Get(ctx context.Context, id int64) (sites.Site, error)
}

// Notifier fans out refresh topics to every open view.
type Notifier interface {
	Publish(ctx context.Context, topics ...notify.Topic)
}

// AttachmentStore persists supporting documents.
type AttachmentStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Remove(ctx context.Context, key string) error
	RemovePrefix(ctx context.Context, prefix string) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates the purchase order workflow.
type Service struct {
	repo        RepositoryPort
	deliveries  DeliveryScheduler
	sites       SiteDirectory
	notifier    Notifier
	attachments AttachmentStore
	audit       AuditPort
}

// NewService constructs the purchase order service.
func NewService(repo RepositoryPort, deliveries DeliveryScheduler, siteDir SiteDirectory, notifier Notifier, attachments AttachmentStore, audit AuditPort) *Service {
	return &Service{repo: repo, deliveries: deliveries, sites: siteDir, notifier: notifier, attachments: attachments, audit: audit}
}

// CreateInput describes creation payload.
type CreateInput struct {
	SiteID      int64
	RequestedBy string
	Remarks     string
	RequestDate time.Time
	Materials   []MaterialInput
}

// MaterialInput describes one requested line.
type MaterialInput struct {
	ItemName     string  `json:"item_name"`
	Category     string  `json:"category"`
	SubCategory  string  `json:"sub_category"`
	SubCategory1 string  `json:"sub_category1"`
	Quantity     float64 `json:"quantity"`
	UOM          string  `json:"uom"`
	Remarks      string  `json:"remarks"`
}

// Create validates and persists a new purchase order in PENDING status.
func (s *Service) Create(ctx context.Context, input CreateInput) (PurchaseOrder, error) {
	if err := validateOrder(input); err != nil {
		return PurchaseOrder{}, err
	}
	site, err := s.sites.Get(ctx, input.SiteID)
	if err != nil {
		return PurchaseOrder{}, &ValidationError{Fields: map[string]string{"site_id": "unknown site"}}
	}
	number, err := s.nextNumber(ctx, site.Code)
	if err != nil {
		return PurchaseOrder{}, err
	}
	po := PurchaseOrder{
		Number:      number,
		SiteID:      site.ID,
		SiteName:    site.Name,
		RequestedBy: input.RequestedBy,
		Status:      StatusPending,
		Remarks:     input.Remarks,
		RequestDate: defaultTime(input.RequestDate),
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.Create(ctx, po)
		if err != nil {
			return err
		}
		po.ID = id
		for _, m := range input.Materials {
			material := Material{
				OrderID:      id,
				ItemName:     m.ItemName,
				Category:     m.Category,
				SubCategory:  m.SubCategory,
				SubCategory1: m.SubCategory1,
				Quantity:     m.Quantity,
				UOM:          m.UOM,
				Remarks:      m.Remarks,
			}
			if err := tx.InsertMaterial(ctx, material); err != nil {
				return err
			}
			po.Materials = append(po.Materials, material)
		}
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, "PO_CREATE", po.ID, map[string]any{"number": po.Number})
	s.notifier.Publish(ctx, notify.TopicIntentRefresh)
	return po, nil
}

// Get returns one purchase order with lines and attachments.
func (s *Service) Get(ctx context.Context, id int64) (PurchaseOrder, error) {
	return s.repo.Get(ctx, id)
}

// List returns a page of purchase orders. Branch-scoped sessions are pinned
// to their site regardless of the requested filter.
func (s *Service) List(ctx context.Context, sess *shared.Session, filters ListFilters) ([]PurchaseOrder, int, error) {
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

// Update replaces the editable header fields and materials. Terminal orders
// cannot be edited.
func (s *Service) Update(ctx context.Context, id int64, input CreateInput) (PurchaseOrder, error) {
	if err := validateOrder(input); err != nil {
		return PurchaseOrder{}, err
	}
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if existing.Status.Terminal() {
		return PurchaseOrder{}, ErrInvalidState
	}
	existing.SiteID = input.SiteID
	existing.RequestedBy = input.RequestedBy
	existing.Remarks = input.Remarks
	existing.RequestDate = defaultTime(input.RequestDate)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateHeader(ctx, existing); err != nil {
			return err
		}
		if err := tx.DeleteMaterials(ctx, id); err != nil {
			return err
		}
		existing.Materials = existing.Materials[:0]
		for _, m := range input.Materials {
			material := Material{
				OrderID:      id,
				ItemName:     m.ItemName,
				Category:     m.Category,
				SubCategory:  m.SubCategory,
				SubCategory1: m.SubCategory1,
				Quantity:     m.Quantity,
				UOM:          m.UOM,
				Remarks:      m.Remarks,
			}
			if err := tx.InsertMaterial(ctx, material); err != nil {
				return err
			}
			existing.Materials = append(existing.Materials, material)
		}
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, "PO_UPDATE", id, map[string]any{"number": existing.Number})
	s.notifier.Publish(ctx, notify.TopicIntentRefresh)
	return existing, nil
}

// Approve transitions PENDING to APPROVED and stages the upcoming delivery
// that will track receipt of the ordered materials.
func (s *Service) Approve(ctx context.Context, id int64, approvedBy string) error {
	po, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if po.Status != StatusPending {
		return ErrInvalidState
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateStatus(ctx, id, StatusApproved); err != nil {
			return err
		}
		items := make([]delivery.ItemInput, 0, len(po.Materials))
		for _, m := range po.Materials {
			items = append(items, delivery.ItemInput{
				ItemName:     m.ItemName,
				Category:     m.Category,
				SubCategory:  m.SubCategory,
				SubCategory1: m.SubCategory1,
				Quantity:     m.Quantity,
				UOM:          m.UOM,
				Remarks:      m.Remarks,
			})
		}
		_, err := s.deliveries.ScheduleFromOrigin(ctx, delivery.CreateInput{
			Origin:    delivery.Origin{Type: delivery.OriginPurchaseOrder, ID: po.ID, Number: po.Number},
			ToSiteID:  po.SiteID,
			ToSite:    po.SiteName,
			Date:      po.RequestDate,
			CreatedBy: approvedBy,
			Items:     items,
		})
		return err
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "PO_APPROVE", id, map[string]any{"number": po.Number})
	s.notifier.Publish(ctx, notify.TopicIntentRefresh, notify.TopicUpcomingDeliveryRefresh)
	return nil
}

// Cancel moves a non-terminal order to CANCELLED.
func (s *Service) Cancel(ctx context.Context, id int64) error {
	po, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if po.Status.Terminal() {
		return ErrInvalidState
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, id, StatusCancelled)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "PO_CANCEL", id, map[string]any{"number": po.Number})
	s.notifier.Publish(ctx, notify.TopicIntentRefresh)
	return nil
}

// MarkTransferred records that every derived delivery item has been fully
// received. Called by the delivery reconciliation, which handles the topic
// fan-out itself, so no publish happens here. Idempotent once transferred.
func (s *Service) MarkTransferred(ctx context.Context, id int64) error {
	po, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if po.Status == StatusTransferred {
		return nil
	}
	if po.Status == StatusCancelled {
		return ErrInvalidState
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, id, StatusTransferred)
	})
}

// Delete removes the order and cascades its stored attachments.
func (s *Service) Delete(ctx context.Context, id int64) error {
	po, err := s.repo.Get(ctx, id)
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
		// The order row is gone; orphaned objects are swept by the
		// attachments cleanup job.
		s.recordAudit(ctx, "PO_ATTACHMENT_SWEEP_PENDING", id, map[string]any{"error": err.Error()})
	}
	s.recordAudit(ctx, "PO_DELETE", id, map[string]any{"number": po.Number})
	s.notifier.Publish(ctx, notify.TopicIntentRefresh)
	return nil
}

// AddAttachment stores one uploaded document against the order.
func (s *Service) AddAttachment(ctx context.Context, id int64, fileName, contentType string, size int64, r io.Reader) (Attachment, error) {
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
	s.notifier.Publish(ctx, notify.TopicIntentRefresh)
	return att, nil
}

// RemoveAttachment deletes one stored document.
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
		s.recordAudit(ctx, "PO_ATTACHMENT_SWEEP_PENDING", id, map[string]any{"error": err.Error()})
	}
	s.notifier.Publish(ctx, notify.TopicIntentRefresh)
	return nil
}

// nextNumber builds the human-readable order number, e.g. PO20250829-LNBNE-01.
func (s *Service) nextNumber(ctx context.Context, siteCode string) (string, error) {
	prefix := fmt.Sprintf("PO%s-%s", time.Now().Format("20060102"), siteCode)
	n, err := s.repo.CountNumbers(ctx, prefix)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%02d", prefix, n+1), nil
}

func attachmentPrefix(orderID int64) string {
	return fmt.Sprintf("intent/%d/", orderID)
}

func (s *Service) recordAudit(ctx context.Context, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "purchase_order", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}

func defaultTime(value time.Time) time.Time {
	if value.IsZero() {
		return time.Now()
	}
	return value
}
