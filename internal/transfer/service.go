package transfer

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
	Get(ctx context.Context, id int64) (SiteTransfer, error)
	List(ctx context.Context, filters ListFilters) ([]SiteTransfer, int, error)
	CountNumbers(ctx context.Context, prefix string) (int, error)
}

// DeliveryScheduler stages an upcoming delivery when a transfer is approved.
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

// Service orchestrates the site transfer workflow.
type Service struct {
	repo        RepositoryPort
	deliveries  DeliveryScheduler
	sites       SiteDirectory
	notifier    Notifier
	attachments AttachmentStore
	audit       AuditPort
}

// NewService constructs the site transfer service.
func NewService(repo RepositoryPort, deliveries DeliveryScheduler, siteDir SiteDirectory, notifier Notifier, attachments AttachmentStore, audit AuditPort) *Service {
	return &Service{repo: repo, deliveries: deliveries, sites: siteDir, notifier: notifier, attachments: attachments, audit: audit}
}

// CreateInput describes creation payload.
type CreateInput struct {
	FromSiteID  int64
	ToSiteID    int64
	RequestedBy string
	Remarks     string
	RequestDate time.Time
	Materials   []MaterialInput
}

// MaterialInput describes one line.
type MaterialInput struct {
	ItemName string  `json:"item_name"`
	Category string  `json:"category"`
	Quantity float64 `json:"quantity"`
	UOM      string  `json:"uom"`
	Remarks  string  `json:"remarks"`
}

// Create validates and persists a new transfer in PENDING status.
func (s *Service) Create(ctx context.Context, input CreateInput) (SiteTransfer, error) {
	if err := validateTransfer(input); err != nil {
		return SiteTransfer{}, err
	}
	from, err := s.sites.Get(ctx, input.FromSiteID)
	if err != nil {
		return SiteTransfer{}, &ValidationError{Fields: map[string]string{"from_site_id": "unknown site"}}
	}
	to, err := s.sites.Get(ctx, input.ToSiteID)
	if err != nil {
		return SiteTransfer{}, &ValidationError{Fields: map[string]string{"to_site_id": "unknown site"}}
	}
	number, err := s.nextNumber(ctx, from.Code)
	if err != nil {
		return SiteTransfer{}, err
	}
	st := SiteTransfer{
		Number:       number,
		FromSiteID:   from.ID,
		FromSiteName: from.Name,
		ToSiteID:     to.ID,
		ToSiteName:   to.Name,
		RequestedBy:  input.RequestedBy,
		Status:       StatusPending,
		Remarks:      input.Remarks,
		RequestDate:  defaultTime(input.RequestDate),
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.Create(ctx, st)
		if err != nil {
			return err
		}
		st.ID = id
		for _, m := range input.Materials {
			material := Material{
				TransferID: id,
				ItemName:   m.ItemName,
				Category:   m.Category,
				Quantity:   m.Quantity,
				UOM:        m.UOM,
				Remarks:    m.Remarks,
			}
			if err := tx.InsertMaterial(ctx, material); err != nil {
				return err
			}
			st.Materials = append(st.Materials, material)
		}
		return nil
	})
	if err != nil {
		return SiteTransfer{}, err
	}
	s.recordAudit(ctx, "ST_CREATE", st.ID, map[string]any{"number": st.Number})
	s.notifier.Publish(ctx, notify.TopicSiteTransferRefresh)
	return st, nil
}

// Get returns one transfer with lines and attachments.
func (s *Service) Get(ctx context.Context, id int64) (SiteTransfer, error) {
	return s.repo.Get(ctx, id)
}

// List returns a page of transfers. Branch-scoped sessions only see
// transfers touching their site.
func (s *Service) List(ctx context.Context, sess *shared.Session, filters ListFilters) ([]SiteTransfer, int, error) {
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

// Update replaces the editable header fields and materials.
func (s *Service) Update(ctx context.Context, id int64, input CreateInput) (SiteTransfer, error) {
	if err := validateTransfer(input); err != nil {
		return SiteTransfer{}, err
	}
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return SiteTransfer{}, err
	}
	if existing.Status.Terminal() {
		return SiteTransfer{}, ErrInvalidState
	}
	existing.FromSiteID = input.FromSiteID
	existing.ToSiteID = input.ToSiteID
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
				TransferID: id,
				ItemName:   m.ItemName,
				Category:   m.Category,
				Quantity:   m.Quantity,
				UOM:        m.UOM,
				Remarks:    m.Remarks,
			}
			if err := tx.InsertMaterial(ctx, material); err != nil {
				return err
			}
			existing.Materials = append(existing.Materials, material)
		}
		return nil
	})
	if err != nil {
		return SiteTransfer{}, err
	}
	s.recordAudit(ctx, "ST_UPDATE", id, map[string]any{"number": existing.Number})
	s.notifier.Publish(ctx, notify.TopicSiteTransferRefresh)
	return existing, nil
}

// Approve transitions PENDING to APPROVED and stages the upcoming delivery.
func (s *Service) Approve(ctx context.Context, id int64, approvedBy string) error {
	st, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if st.Status != StatusPending {
		return ErrInvalidState
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateStatus(ctx, id, StatusApproved); err != nil {
			return err
		}
		items := make([]delivery.ItemInput, 0, len(st.Materials))
		for _, m := range st.Materials {
			items = append(items, delivery.ItemInput{
				ItemName: m.ItemName,
				Category: m.Category,
				Quantity: m.Quantity,
				UOM:      m.UOM,
				Remarks:  m.Remarks,
			})
		}
		_, err := s.deliveries.ScheduleFromOrigin(ctx, delivery.CreateInput{
			Origin:     delivery.Origin{Type: delivery.OriginSiteTransfer, ID: st.ID, Number: st.Number},
			FromSiteID: st.FromSiteID,
			FromSite:   st.FromSiteName,
			ToSiteID:   st.ToSiteID,
			ToSite:     st.ToSiteName,
			Date:       st.RequestDate,
			CreatedBy:  approvedBy,
			Items:      items,
		})
		return err
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "ST_APPROVE", id, map[string]any{"number": st.Number})
	s.notifier.Publish(ctx, notify.TopicSiteTransferRefresh, notify.TopicUpcomingDeliveryRefresh)
	return nil
}

// Cancel moves a non-terminal transfer to CANCELLED.
func (s *Service) Cancel(ctx context.Context, id int64) error {
	st, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if st.Status.Terminal() {
		return ErrInvalidState
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, id, StatusCancelled)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "ST_CANCEL", id, map[string]any{"number": st.Number})
	s.notifier.Publish(ctx, notify.TopicSiteTransferRefresh)
	return nil
}

// MarkTransferred records full receipt of the derived delivery. The caller
// handles topic fan-out. Idempotent once transferred.
func (s *Service) MarkTransferred(ctx context.Context, id int64) error {
	st, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if st.Status == StatusTransferred {
		return nil
	}
	if st.Status == StatusCancelled {
		return ErrInvalidState
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateStatus(ctx, id, StatusTransferred)
	})
}

// Delete removes the transfer and cascades its stored attachments.
func (s *Service) Delete(ctx context.Context, id int64) error {
	st, err := s.repo.Get(ctx, id)
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
		s.recordAudit(ctx, "ST_ATTACHMENT_SWEEP_PENDING", id, map[string]any{"error": err.Error()})
	}
	s.recordAudit(ctx, "ST_DELETE", id, map[string]any{"number": st.Number})
	s.notifier.Publish(ctx, notify.TopicSiteTransferRefresh)
	return nil
}

// DeleteAll removes every transfer, an admin bulk cleanup operation.
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
			s.recordAudit(ctx, "ST_ATTACHMENT_SWEEP_PENDING", id, map[string]any{"error": err.Error()})
		}
	}
	s.recordAudit(ctx, "ST_DELETE_ALL", 0, map[string]any{"count": len(ids)})
	s.notifier.Publish(ctx, notify.TopicSiteTransferRefresh)
	return len(ids), nil
}

// AddAttachment stores one uploaded document against the transfer.
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
	s.notifier.Publish(ctx, notify.TopicSiteTransferRefresh)
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
		s.recordAudit(ctx, "ST_ATTACHMENT_SWEEP_PENDING", id, map[string]any{"error": err.Error()})
	}
	s.notifier.Publish(ctx, notify.TopicSiteTransferRefresh)
	return nil
}

// nextNumber builds the transfer number, e.g. ST20250829-LNBNE-01.
func (s *Service) nextNumber(ctx context.Context, siteCode string) (string, error) {
	prefix := fmt.Sprintf("ST%s-%s", time.Now().Format("20060102"), siteCode)
	n, err := s.repo.CountNumbers(ctx, prefix)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%02d", prefix, n+1), nil
}

func attachmentPrefix(transferID int64) string {
	return fmt.Sprintf("transfer/%d/", transferID)
}

func (s *Service) recordAudit(ctx context.Context, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "site_transfer", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}

func defaultTime(value time.Time) time.Time {
	if value.IsZero() {
		return time.Now()
	}
	return value
}
