package transfer

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
	Create(ctx context.Context, st SiteTransfer) (int64, error)
	InsertMaterial(ctx context.Context, m Material) error
	UpdateHeader(ctx context.Context, st SiteTransfer) error
	DeleteMaterials(ctx context.Context, transferID int64) error
	UpdateStatus(ctx context.Context, id int64, status Status) error
	InsertAttachment(ctx context.Context, transferID int64, a Attachment) (int64, error)
	DeleteAttachment(ctx context.Context, transferID, attachmentID int64) (string, error)
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
// transfer, which is how branch scoping behaves for this entity.
type ListFilters struct {
	Search string
	Status Status
	SiteID int64
	Page   int
	Limit  int
}

const transferSelect = `SELECT t.id, t.number, t.from_site_id, COALESCE(fs.name,''), t.to_site_id, COALESCE(ts.name,''), t.requested_by, t.status, t.remarks, t.request_date, t.created_at, t.updated_at
FROM site_transfers t
LEFT JOIN sites fs ON fs.id = t.from_site_id
LEFT JOIN sites ts ON ts.id = t.to_site_id`

// Get returns a transfer with its materials and attachments.
func (r *Repository) Get(ctx context.Context, id int64) (SiteTransfer, error) {
	var st SiteTransfer
	err := r.pool.QueryRow(ctx, transferSelect+` WHERE t.id=$1`, id).
		Scan(&st.ID, &st.Number, &st.FromSiteID, &st.FromSiteName, &st.ToSiteID, &st.ToSiteName, &st.RequestedBy, &st.Status, &st.Remarks, &st.RequestDate, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SiteTransfer{}, ErrNotFound
		}
		return SiteTransfer{}, err
	}
	if st.Materials, err = r.materials(ctx, id); err != nil {
		return SiteTransfer{}, err
	}
	if st.Attachments, err = r.attachments(ctx, id); err != nil {
		return SiteTransfer{}, err
	}
	return st, nil
}

// List returns a page of transfers, newest first.
func (r *Repository) List(ctx context.Context, filters ListFilters) ([]SiteTransfer, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	idx := 1
	if filters.Search != "" {
		where += fmt.Sprintf(" AND (t.number ILIKE $%d OR t.requested_by ILIKE $%d)", idx, idx)
		args = append(args, "%"+filters.Search+"%")
		idx++
	}
	if filters.Status != "" {
		where += fmt.Sprintf(" AND t.status = $%d", idx)
		args = append(args, filters.Status)
		idx++
	}
	if filters.SiteID != 0 {
		where += fmt.Sprintf(" AND (t.from_site_id = $%d OR t.to_site_id = $%d)", idx, idx)
		args = append(args, filters.SiteID)
		idx++
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM site_transfers t`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := transferSelect + where + fmt.Sprintf(" ORDER BY t.created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, filters.Limit, (filters.Page-1)*filters.Limit)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var transfers []SiteTransfer
	for rows.Next() {
		var st SiteTransfer
		if err := rows.Scan(&st.ID, &st.Number, &st.FromSiteID, &st.FromSiteName, &st.ToSiteID, &st.ToSiteName, &st.RequestedBy, &st.Status, &st.Remarks, &st.RequestDate, &st.CreatedAt, &st.UpdatedAt); err != nil {
			return nil, 0, err
		}
		transfers = append(transfers, st)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for i := range transfers {
		if transfers[i].Materials, err = r.materials(ctx, transfers[i].ID); err != nil {
			return nil, 0, err
		}
	}
	return transfers, total, nil
}

// CountNumbers counts transfers whose number starts with the prefix.
func (r *Repository) CountNumbers(ctx context.Context, prefix string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM site_transfers WHERE number LIKE $1 || '%'`, prefix).Scan(&n)
	return n, err
}

// AttachmentKeys returns every stored object key, used by the orphan sweep.
func (r *Repository) AttachmentKeys(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT key FROM site_transfer_attachments ORDER BY id`)
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

func (r *Repository) materials(ctx context.Context, transferID int64) ([]Material, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, transfer_id, item_name, category, quantity, uom, COALESCE(remarks,'')
FROM site_transfer_materials WHERE transfer_id=$1 ORDER BY id`, transferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var materials []Material
	for rows.Next() {
		var m Material
		if err := rows.Scan(&m.ID, &m.TransferID, &m.ItemName, &m.Category, &m.Quantity, &m.UOM, &m.Remarks); err != nil {
			return nil, err
		}
		materials = append(materials, m)
	}
	return materials, rows.Err()
}

func (r *Repository) attachments(ctx context.Context, transferID int64) ([]Attachment, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, key, file_name, content_type, size
FROM site_transfer_attachments WHERE transfer_id=$1 ORDER BY id`, transferID)
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

func (tx *txRepo) Create(ctx context.Context, st SiteTransfer) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO site_transfers (number, from_site_id, to_site_id, requested_by, status, remarks, request_date, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW(),NOW()) RETURNING id`, st.Number, st.FromSiteID, st.ToSiteID, st.RequestedBy, st.Status, st.Remarks, st.RequestDate).Scan(&id)
	return id, err
}

func (tx *txRepo) InsertMaterial(ctx context.Context, m Material) error {
	_, err := tx.tx.Exec(ctx, `INSERT INTO site_transfer_materials (transfer_id, item_name, category, quantity, uom, remarks)
VALUES ($1,$2,$3,$4,$5,$6)`, m.TransferID, m.ItemName, m.Category, m.Quantity, m.UOM, m.Remarks)
	return err
}

func (tx *txRepo) UpdateHeader(ctx context.Context, st SiteTransfer) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE site_transfers SET from_site_id=$1, to_site_id=$2, requested_by=$3, remarks=$4, request_date=$5, updated_at=NOW() WHERE id=$6`,
		st.FromSiteID, st.ToSiteID, st.RequestedBy, st.Remarks, st.RequestDate, st.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (tx *txRepo) DeleteMaterials(ctx context.Context, transferID int64) error {
	_, err := tx.tx.Exec(ctx, `DELETE FROM site_transfer_materials WHERE transfer_id=$1`, transferID)
	return err
}

func (tx *txRepo) UpdateStatus(ctx context.Context, id int64, status Status) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE site_transfers SET status=$1, updated_at=NOW() WHERE id=$2`, status, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (tx *txRepo) InsertAttachment(ctx context.Context, transferID int64, a Attachment) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO site_transfer_attachments (transfer_id, key, file_name, content_type, size)
VALUES ($1,$2,$3,$4,$5) RETURNING id`, transferID, a.Key, a.FileName, a.ContentType, a.Size).Scan(&id)
	return id, err
}

func (tx *txRepo) DeleteAttachment(ctx context.Context, transferID, attachmentID int64) (string, error) {
	var key string
	err := tx.tx.QueryRow(ctx, `DELETE FROM site_transfer_attachments WHERE id=$1 AND transfer_id=$2 RETURNING key`, attachmentID, transferID).Scan(&key)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return key, err
}

func (tx *txRepo) Delete(ctx context.Context, id int64) error {
	if _, err := tx.tx.Exec(ctx, `DELETE FROM site_transfer_materials WHERE transfer_id=$1`, id); err != nil {
		return err
	}
	if _, err := tx.tx.Exec(ctx, `DELETE FROM site_transfer_attachments WHERE transfer_id=$1`, id); err != nil {
		return err
	}
	tag, err := tx.tx.Exec(ctx, `DELETE FROM site_transfers WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (tx *txRepo) DeleteAll(ctx context.Context) ([]int64, error) {
	rows, err := tx.tx.Query(ctx, `SELECT id FROM site_transfers`)
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
	if _, err := tx.tx.Exec(ctx, `DELETE FROM site_transfer_materials`); err != nil {
		return nil, err
	}
	if _, err := tx.tx.Exec(ctx, `DELETE FROM site_transfer_attachments`); err != nil {
		return nil, err
	}
	if _, err := tx.tx.Exec(ctx, `DELETE FROM site_transfers`); err != nil {
		return nil, err
	}
	return ids, nil
}
