package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations. Reconciliation reads the
// just-written item rows back inside the same transaction so the derived
// status always reflects persisted state.
type TxRepository interface {
	Create(ctx context.Context, d Delivery) (int64, error)
	InsertItem(ctx context.Context, item Item) (int64, error)
	UpdateItem(ctx context.Context, item Item) error
	Items(ctx context.Context, deliveryID int64) ([]Item, error)
	UpdateStatus(ctx context.Context, id int64, status Status) error
	SetBilling(ctx context.Context, id int64, b Billing) error
	InsertAttachment(ctx context.Context, deliveryID int64, a Attachment) (int64, error)
	DeleteAttachment(ctx context.Context, deliveryID, attachmentID int64) (string, error)
	Delete(ctx context.Context, id int64) error
	DeleteAll(ctx context.Context) ([]int64, error)
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepo{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// ListFilters narrows List output. SiteID matches either end of the
// delivery. OnlyTransferred selects the GRN projection.
type ListFilters struct {
	Search          string
	Status          Status
	SiteID          int64
	OriginType      OriginType
	OnlyTransferred bool
	Page            int
	Limit           int
}

const deliverySelect = `SELECT d.id, d.origin_type, d.origin_id, d.origin_number, COALESCE(d.from_site_id,0), COALESCE(fs.name,''), d.to_site_id, COALESCE(ts.name,''), d.delivery_date, d.created_by, d.status,
d.billing_invoice_number, d.billing_price, d.billing_bill_date, d.billing_discount, d.billing_discount_type, d.billing_amount,
d.created_at, d.updated_at
FROM deliveries d
LEFT JOIN sites fs ON fs.id = d.from_site_id
LEFT JOIN sites ts ON ts.id = d.to_site_id`

// Get returns a delivery with items, attachments and billing.
func (r *Repository) Get(ctx context.Context, id int64) (Delivery, error) {
	d, err := scanDelivery(r.pool.QueryRow(ctx, deliverySelect+` WHERE d.id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Delivery{}, ErrNotFound
		}
		return Delivery{}, err
	}
	if d.Items, err = r.items(ctx, id); err != nil {
		return Delivery{}, err
	}
	if d.Attachments, err = r.attachments(ctx, id); err != nil {
		return Delivery{}, err
	}
	return d, nil
}

// FindByOrigin returns the delivery staged from the given origin, if any.
func (r *Repository) FindByOrigin(ctx context.Context, origin Origin) (Delivery, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `SELECT id FROM deliveries WHERE origin_type=$1 AND origin_id=$2`, origin.Type, origin.ID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Delivery{}, ErrNotFound
		}
		return Delivery{}, err
	}
	return r.Get(ctx, id)
}

// List returns a page of deliveries with items, newest first.
func (r *Repository) List(ctx context.Context, filters ListFilters) ([]Delivery, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	idx := 1
	if filters.Search != "" {
		where += fmt.Sprintf(" AND (d.origin_number ILIKE $%d OR d.created_by ILIKE $%d)", idx, idx)
		args = append(args, "%"+filters.Search+"%")
		idx++
	}
	if filters.OnlyTransferred {
		where += fmt.Sprintf(" AND d.status = $%d", idx)
		args = append(args, StatusTransferred)
		idx++
	} else if filters.Status != "" {
		where += fmt.Sprintf(" AND d.status = $%d", idx)
		args = append(args, filters.Status)
		idx++
	}
	if filters.OriginType != "" {
		where += fmt.Sprintf(" AND d.origin_type = $%d", idx)
		args = append(args, filters.OriginType)
		idx++
	}
	if filters.SiteID != 0 {
		where += fmt.Sprintf(" AND (d.from_site_id = $%d OR d.to_site_id = $%d)", idx, idx)
		args = append(args, filters.SiteID)
		idx++
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM deliveries d`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := deliverySelect + where + fmt.Sprintf(" ORDER BY d.created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, filters.Limit, (filters.Page-1)*filters.Limit)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var deliveries []Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, 0, err
		}
		deliveries = append(deliveries, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for i := range deliveries {
		if deliveries[i].Items, err = r.items(ctx, deliveries[i].ID); err != nil {
			return nil, 0, err
		}
	}
	return deliveries, total, nil
}

// ListIDs returns every delivery id, used by the status sweep job.
func (r *Repository) ListIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM deliveries ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AttachmentKeys returns every stored object key, used by the orphan sweep.
func (r *Repository) AttachmentKeys(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT key FROM delivery_attachments ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDelivery(row rowScanner) (Delivery, error) {
	var d Delivery
	var invoice, discountType *string
	var price, discount, amount *float64
	var billDate *time.Time
	err := row.Scan(&d.ID, &d.Origin.Type, &d.Origin.ID, &d.Origin.Number, &d.FromSiteID, &d.FromSite, &d.ToSiteID, &d.ToSite, &d.Date, &d.CreatedBy, &d.Status,
		&invoice, &price, &billDate, &discount, &discountType, &amount,
		&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return Delivery{}, err
	}
	if invoice != nil && price != nil {
		d.Billing = &Billing{
			InvoiceNumber: *invoice,
			Price:         *price,
			Discount:      deref(discount),
			Amount:        deref(amount),
		}
		if billDate != nil {
			d.Billing.BillDate = *billDate
		}
		if discountType != nil {
			d.Billing.DiscountType = DiscountType(*discountType)
		}
	}
	return d, nil
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

func (r *Repository) items(ctx context.Context, deliveryID int64) ([]Item, error) {
	return queryItems(ctx, r.pool, deliveryID)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryItems(ctx context.Context, q querier, deliveryID int64) ([]Item, error) {
	rows, err := q.Query(ctx, `SELECT id, delivery_id, item_name, category, sub_category, COALESCE(sub_category1,''), quantity, received_quantity, uom, is_received, COALESCE(remarks,'')
FROM delivery_items WHERE delivery_id=$1 ORDER BY id`, deliveryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.DeliveryID, &item.ItemName, &item.Category, &item.SubCategory, &item.SubCategory1, &item.Quantity, &item.ReceivedQuantity, &item.UOM, &item.IsReceived, &item.Remarks); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *Repository) attachments(ctx context.Context, deliveryID int64) ([]Attachment, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, key, file_name, content_type, size
FROM delivery_attachments WHERE delivery_id=$1 ORDER BY id`, deliveryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var attachments []Attachment
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.ID, &a.Key, &a.FileName, &a.ContentType, &a.Size); err != nil {
			return nil, err
		}
		attachments = append(attachments, a)
	}
	return attachments, rows.Err()
}

func (tx *txRepo) Create(ctx context.Context, d Delivery) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO deliveries (origin_type, origin_id, origin_number, from_site_id, to_site_id, delivery_date, created_by, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW(),NOW()) RETURNING id`,
		d.Origin.Type, d.Origin.ID, d.Origin.Number, nullInt(d.FromSiteID), d.ToSiteID, d.Date, d.CreatedBy, d.Status).Scan(&id)
	return id, err
}

func (tx *txRepo) InsertItem(ctx context.Context, item Item) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO delivery_items (delivery_id, item_name, category, sub_category, sub_category1, quantity, received_quantity, uom, is_received, remarks)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
		item.DeliveryID, item.ItemName, item.Category, item.SubCategory, item.SubCategory1, item.Quantity, item.ReceivedQuantity, item.UOM, item.IsReceived, item.Remarks).Scan(&id)
	return id, err
}

func (tx *txRepo) UpdateItem(ctx context.Context, item Item) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE delivery_items SET received_quantity=$1, is_received=$2 WHERE id=$3 AND delivery_id=$4`,
		item.ReceivedQuantity, item.IsReceived, item.ID, item.DeliveryID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (tx *txRepo) Items(ctx context.Context, deliveryID int64) ([]Item, error) {
	return queryItems(ctx, tx.tx, deliveryID)
}

func (tx *txRepo) UpdateStatus(ctx context.Context, id int64, status Status) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE deliveries SET status=$1, updated_at=NOW() WHERE id=$2`, status, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (tx *txRepo) SetBilling(ctx context.Context, id int64, b Billing) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE deliveries SET billing_invoice_number=$1, billing_price=$2, billing_bill_date=$3, billing_discount=$4, billing_discount_type=$5, billing_amount=$6, updated_at=NOW() WHERE id=$7`,
		b.InvoiceNumber, b.Price, nullDate(b.BillDate), b.Discount, b.DiscountType, b.Amount, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (tx *txRepo) InsertAttachment(ctx context.Context, deliveryID int64, a Attachment) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO delivery_attachments (delivery_id, key, file_name, content_type, size)
VALUES ($1,$2,$3,$4,$5) RETURNING id`, deliveryID, a.Key, a.FileName, a.ContentType, a.Size).Scan(&id)
	return id, err
}

func (tx *txRepo) DeleteAttachment(ctx context.Context, deliveryID, attachmentID int64) (string, error) {
	var key string
	err := tx.tx.QueryRow(ctx, `DELETE FROM delivery_attachments WHERE id=$1 AND delivery_id=$2 RETURNING key`, attachmentID, deliveryID).Scan(&key)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return key, err
}

func (tx *txRepo) Delete(ctx context.Context, id int64) error {
	if _, err := tx.tx.Exec(ctx, `DELETE FROM delivery_items WHERE delivery_id=$1`, id); err != nil {
		return err
	}
	if _, err := tx.tx.Exec(ctx, `DELETE FROM delivery_attachments WHERE delivery_id=$1`, id); err != nil {
		return err
	}
	tag, err := tx.tx.Exec(ctx, `DELETE FROM deliveries WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (tx *txRepo) DeleteAll(ctx context.Context) ([]int64, error) {
	rows, err := tx.tx.Query(ctx, `SELECT id FROM deliveries`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if _, err := tx.tx.Exec(ctx, `DELETE FROM delivery_items`); err != nil {
		return nil, err
	}
	if _, err := tx.tx.Exec(ctx, `DELETE FROM delivery_attachments`); err != nil {
		return nil, err
	}
	if _, err := tx.tx.Exec(ctx, `DELETE FROM deliveries`); err != nil {
		return nil, err
	}
	return ids, nil
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullDate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
