package intent

import (
	"context"
	"errors"
	"fmt"

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

// TxRepository exposes transactional operations.
type TxRepository interface {
	Create(ctx context.Context, po PurchaseOrder) (int64, error)
	InsertMaterial(ctx context.Context, m Material) error
	UpdateHeader(ctx context.Context, po PurchaseOrder) error
	DeleteMaterials(ctx context.Context, orderID int64) error
	UpdateStatus(ctx context.Context, id int64, status Status) error
	InsertAttachment(ctx context.Context, orderID int64, a Attachment) (int64, error)
	DeleteAttachment(ctx context.Context, orderID, attachmentID int64) (string, error)
	Delete(ctx context.Context, id int64) error
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

// ListFilters narrows List output.
type ListFilters struct {
	Search string
	Status Status
	SiteID int64
	Page   int
	Limit  int
}

// Get returns a purchase order with its materials and attachments.
func (r *Repository) Get(ctx context.Context, id int64) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := r.pool.QueryRow(ctx, `SELECT o.id, o.number, o.site_id, COALESCE(s.name,''), o.requested_by, o.status, o.remarks, o.request_date, o.created_at, o.updated_at
FROM purchase_orders o
LEFT JOIN sites s ON s.id = o.site_id
WHERE o.id=$1`, id).
		Scan(&po.ID, &po.Number, &po.SiteID, &po.SiteName, &po.RequestedBy, &po.Status, &po.Remarks, &po.RequestDate, &po.CreatedAt, &po.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, ErrNotFound
		}
		return PurchaseOrder{}, err
	}
	if po.Materials, err = r.materials(ctx, id); err != nil {
		return PurchaseOrder{}, err
	}
	if po.Attachments, err = r.attachments(ctx, id); err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}

// List returns a page of purchase orders with materials, newest first.
func (r *Repository) List(ctx context.Context, filters ListFilters) ([]PurchaseOrder, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	idx := 1
	if filters.Search != "" {
		where += fmt.Sprintf(" AND (o.number ILIKE $%d OR o.requested_by ILIKE $%d)", idx, idx)
		args = append(args, "%"+filters.Search+"%")
		idx++
	}
	if filters.Status != "" {
		where += fmt.Sprintf(" AND o.status = $%d", idx)
		args = append(args, filters.Status)
		idx++
	}
	if filters.SiteID != 0 {
		where += fmt.Sprintf(" AND o.site_id = $%d", idx)
		args = append(args, filters.SiteID)
		idx++
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_orders o`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT o.id, o.number, o.site_id, COALESCE(s.name,''), o.requested_by, o.status, o.remarks, o.request_date, o.created_at, o.updated_at
FROM purchase_orders o
LEFT JOIN sites s ON s.id = o.site_id` + where + fmt.Sprintf(" ORDER BY o.created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, filters.Limit, (filters.Page-1)*filters.Limit)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var orders []PurchaseOrder
	for rows.Next() {
		var po PurchaseOrder
		if err := rows.Scan(&po.ID, &po.Number, &po.SiteID, &po.SiteName, &po.RequestedBy, &po.Status, &po.Remarks, &po.RequestDate, &po.CreatedAt, &po.UpdatedAt); err != nil {
			return nil, 0, err
		}
		orders = append(orders, po)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for i := range orders {
		if orders[i].Materials, err = r.materials(ctx, orders[i].ID); err != nil {
			return nil, 0, err
		}
	}
	return orders, total, nil
}

// CountNumbers counts orders whose number starts with the prefix, used for
// per-day per-site sequence numbering.
func (r *Repository) CountNumbers(ctx context.Context, prefix string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_orders WHERE number LIKE $1 || '%'`, prefix).Scan(&n)
	return n, err
}

// AttachmentKeys returns every stored object key, used by the orphan sweep.
func (r *Repository) AttachmentKeys(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT key FROM purchase_order_attachments ORDER BY id`)
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

func (r *Repository) materials(ctx context.Context, orderID int64) ([]Material, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, order_id, item_name, category, sub_category, COALESCE(sub_category1,''), quantity, uom, COALESCE(remarks,'')
FROM purchase_order_materials WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var materials []Material
	for rows.Next() {
		var m Material
		if err := rows.Scan(&m.ID, &m.OrderID, &m.ItemName, &m.Category, &m.SubCategory, &m.SubCategory1, &m.Quantity, &m.UOM, &m.Remarks); err != nil {
			return nil, err
		}
		materials = append(materials, m)
	}
	return materials, rows.Err()
}

func (r *Repository) attachments(ctx context.Context, orderID int64) ([]Attachment, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, key, file_name, content_type, size
FROM purchase_order_attachments WHERE order_id=$1 ORDER BY id`, orderID)
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

func (tx *txRepo) Create(ctx context.Context, po PurchaseOrder) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO purchase_orders (number, site_id, requested_by, status, remarks, request_date, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW(),NOW()) RETURNING id`, po.Number, po.SiteID, po.RequestedBy, po.Status, po.Remarks, po.RequestDate).Scan(&id)
	return id, err
}

func (tx *txRepo) InsertMaterial(ctx context.Context, m Material) error {
	_, err := tx.tx.Exec(ctx, `INSERT INTO purchase_order_materials (order_id, item_name, category, sub_category, sub_category1, quantity, uom, remarks)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, m.OrderID, m.ItemName, m.Category, m.SubCategory, m.SubCategory1, m.Quantity, m.UOM, m.Remarks)
	return err
}

func (tx *txRepo) UpdateHeader(ctx context.Context, po PurchaseOrder) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE purchase_orders SET site_id=$1, requested_by=$2, remarks=$3, request_date=$4, updated_at=NOW() WHERE id=$5`,
		po.SiteID, po.RequestedBy, po.Remarks, po.RequestDate, po.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (tx *txRepo) DeleteMaterials(ctx context.Context, orderID int64) error {
	_, err := tx.tx.Exec(ctx, `DELETE FROM purchase_order_materials WHERE order_id=$1`, orderID)
	return err
}

func (tx *txRepo) UpdateStatus(ctx context.Context, id int64, status Status) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE purchase_orders SET status=$1, updated_at=NOW() WHERE id=$2`, status, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (tx *txRepo) InsertAttachment(ctx context.Context, orderID int64, a Attachment) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO purchase_order_attachments (order_id, key, file_name, content_type, size)
VALUES ($1,$2,$3,$4,$5) RETURNING id`, orderID, a.Key, a.FileName, a.ContentType, a.Size).Scan(&id)
	return id, err
}

func (tx *txRepo) DeleteAttachment(ctx context.Context, orderID, attachmentID int64) (string, error) {
	var key string
	err := tx.tx.QueryRow(ctx, `DELETE FROM purchase_order_attachments WHERE id=$1 AND order_id=$2 RETURNING key`, attachmentID, orderID).Scan(&key)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return key, err
}

func (tx *txRepo) Delete(ctx context.Context, id int64) error {
	_, err := tx.tx.Exec(ctx, `DELETE FROM purchase_order_materials WHERE order_id=$1`, id)
	if err != nil {
		return err
	}
	if _, err := tx.tx.Exec(ctx, `DELETE FROM purchase_order_attachments WHERE order_id=$1`, id); err != nil {
		return err
	}
	tag, err := tx.tx.Exec(ctx, `DELETE FROM purchase_orders WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
