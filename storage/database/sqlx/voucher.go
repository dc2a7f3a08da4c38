package sqlxrepos

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/flare-portal/flare/core"
	"github.com/flare-portal/flare/core/voucher"
)

const (
	poolSelect = `SELECT vp.id, vp.name, vp.description, vp.success_message, vp.empty_pool_message, vp.owner_id,
	(SELECT COUNT(*) FROM vouchers v WHERE v.pool_id = vp.id) AS voucher_count,
	(SELECT COUNT(*) FROM vouchers v WHERE v.pool_id = vp.id AND v.participant_id IS NOT NULL) AS claimed_count,
	vp.created_at, vp.updated_at
	FROM voucher_pools vp`

	voucherSelect = `SELECT v.id, v.pool_id, v.code, v.participant_id, p.participant_id AS participant, v.created_at
	FROM vouchers v
	LEFT JOIN participants p ON p.id = v.participant_id`

	// keeps the bound parameters of a single statement well under the drivers' limits
	voucherBatchSize = 500

	claimAttempts = 3
)

var poolOrderings = map[string]string{
	"id":         "vp.id",
	"name":       "vp.name",
	"created_at": "vp.created_at",
	"updated_at": "vp.updated_at",
}

type poolRow struct {
	ID               int       `db:"id"`
	Name             string    `db:"name"`
	Description      string    `db:"description"`
	SuccessMessage   string    `db:"success_message"`
	EmptyPoolMessage string    `db:"empty_pool_message"`
	OwnerID          string    `db:"owner_id"`
	VoucherCount     int       `db:"voucher_count"`
	ClaimedCount     int       `db:"claimed_count"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

func (row poolRow) pool() voucher.Pool {
	return voucher.Pool{
		ID:               row.ID,
		Name:             row.Name,
		Description:      row.Description,
		SuccessMessage:   row.SuccessMessage,
		EmptyPoolMessage: row.EmptyPoolMessage,
		OwnerID:          row.OwnerID,
		VoucherCount:     row.VoucherCount,
		ClaimedCount:     row.ClaimedCount,
		CreatedAt:        row.CreatedAt.UTC(),
		UpdatedAt:        row.UpdatedAt.UTC(),
	}
}

type voucherRow struct {
	ID            int         `db:"id"`
	PoolID        int         `db:"pool_id"`
	Code          string      `db:"code"`
	ParticipantID null.Int    `db:"participant_id"`
	Participant   null.String `db:"participant"`
	CreatedAt     time.Time   `db:"created_at"`
}

func (row voucherRow) voucher() voucher.Voucher {
	return voucher.Voucher{
		ID:            row.ID,
		PoolID:        row.PoolID,
		Code:          row.Code,
		ParticipantID: row.ParticipantID,
		Participant:   row.Participant,
		CreatedAt:     row.CreatedAt.UTC(),
	}
}

type voucherRepository struct {
	repository
}

var _ voucher.Repository = (*voucherRepository)(nil)

func NewVoucherRepository(db core.DBExecutor) voucher.Repository {
	return &voucherRepository{repository{db: db}}
}

func (repo *voucherRepository) QueryPools(ctx context.Context, orderings ...core.DBOrdering) ([]voucher.Pool, error) {
	var rows []poolRow
	if err := repo.selectAll(ctx, &rows, poolSelect+orderBy(orderings, poolOrderings, "vp.name ASC, vp.id ASC")); err != nil {
		return nil, errors.Wrap(err, "querying voucher pools")
	}
	pools := make([]voucher.Pool, 0, len(rows))
	for _, row := range rows {
		pools = append(pools, row.pool())
	}
	return pools, nil
}

func (repo *voucherRepository) GetPoolByID(ctx context.Context, id int) (voucher.Pool, error) {
	var row poolRow
	if err := repo.get(ctx, &row, poolSelect+" WHERE vp.id = ?", id); err != nil {
		return voucher.Pool{}, trapNoRowsErr(err, voucher.ErrNotFound, "finding voucher pool")
	}
	return row.pool(), nil
}

func (repo *voucherRepository) CreatePool(ctx context.Context, p voucher.Pool) (voucher.Pool, error) {
	err := repo.get(ctx, &p.ID, `INSERT INTO voucher_pools (name, description, success_message, empty_pool_message,
		owner_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		p.Name, p.Description, p.SuccessMessage, p.EmptyPoolMessage, p.OwnerID, p.CreatedAt.UTC(), p.UpdatedAt.UTC())
	if err != nil {
		return voucher.Pool{}, errors.Wrap(err, "inserting voucher pool")
	}
	return p, nil
}

func (repo *voucherRepository) UpdatePool(ctx context.Context, p voucher.Pool) (voucher.Pool, error) {
	res, err := repo.exec(ctx, `UPDATE voucher_pools SET name = ?, description = ?, success_message = ?,
		empty_pool_message = ?, updated_at = ? WHERE id = ?`,
		p.Name, p.Description, p.SuccessMessage, p.EmptyPoolMessage, p.UpdatedAt.UTC(), p.ID)
	if err != nil {
		return voucher.Pool{}, errors.Wrap(err, "updating voucher pool")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return voucher.Pool{}, voucher.ErrNotFound
	}
	return p, nil
}

func (repo *voucherRepository) DeletePool(ctx context.Context, id int) error {
	_, err := repo.exec(ctx, "DELETE FROM voucher_pools WHERE id = ?", id)
	return errors.Wrap(err, "deleting voucher pool")
}

func (repo *voucherRepository) ExistingCodes(ctx context.Context, codes ...string) ([]string, error) {
	existing := make([]string, 0)
	for start := 0; start < len(codes); start += voucherBatchSize {
		end := start + voucherBatchSize
		if end > len(codes) {
			end = len(codes)
		}
		var batch []string
		q, args := in("SELECT DISTINCT code FROM vouchers WHERE code IN (?)", codes[start:end])
		if err := repo.selectAll(ctx, &batch, q, args...); err != nil {
			return nil, errors.Wrap(err, "checking voucher codes")
		}
		existing = append(existing, batch...)
	}
	return existing, nil
}

func (repo *voucherRepository) CreateVouchers(ctx context.Context, poolID int, codes ...string) (int, error) {
	now := time.Now().UTC()
	var created int
	for start := 0; start < len(codes); start += voucherBatchSize {
		end := start + voucherBatchSize
		if end > len(codes) {
			end = len(codes)
		}
		batch := codes[start:end]
		values := make([]string, 0, len(batch))
		args := make([]interface{}, 0, 3*len(batch))
		for _, code := range batch {
			values = append(values, "(?, ?, ?)")
			args = append(args, poolID, code, now)
		}
		res, err := repo.exec(ctx, "INSERT INTO vouchers (pool_id, code, created_at) VALUES "+strings.Join(values, ", "), args...)
		if err != nil {
			return created, errors.Wrap(err, "inserting vouchers")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return created, errors.Wrap(err, "counting vouchers")
		}
		created += int(n)
	}
	return created, nil
}

func (repo *voucherRepository) QueryVouchers(ctx context.Context, poolID int) ([]voucher.Voucher, error) {
	var rows []voucherRow
	if err := repo.selectAll(ctx, &rows, voucherSelect+" WHERE v.pool_id = ? ORDER BY v.id", poolID); err != nil {
		return nil, errors.Wrap(err, "querying vouchers")
	}
	vs := make([]voucher.Voucher, 0, len(rows))
	for _, row := range rows {
		vs = append(vs, row.voucher())
	}
	return vs, nil
}

func (repo *voucherRepository) getVoucher(ctx context.Context, where string, arg interface{}) (voucher.Voucher, error) {
	var row voucherRow
	if err := repo.get(ctx, &row, voucherSelect+" WHERE "+where, arg); err != nil {
		return voucher.Voucher{}, trapNoRowsErr(err, voucher.ErrNotFound, "finding voucher")
	}
	return row.voucher(), nil
}

func (repo *voucherRepository) GetVoucherByParticipant(ctx context.Context, participantID int) (voucher.Voucher, error) {
	return repo.getVoucher(ctx, "v.participant_id = ?", participantID)
}

// ClaimVoucher takes the oldest unclaimed voucher of the pool. The update only applies to a voucher still
// unclaimed, so a concurrent claim of the same voucher makes it retry with the next one.
func (repo *voucherRepository) ClaimVoucher(ctx context.Context, poolID, participantID int) (voucher.Voucher, error) {
	for attempt := 0; attempt < claimAttempts; attempt++ {
		var id int
		err := repo.get(ctx, &id, "SELECT id FROM vouchers WHERE pool_id = ? AND participant_id IS NULL ORDER BY id LIMIT 1", poolID)
		if err != nil {
			return voucher.Voucher{}, trapNoRowsErr(err, voucher.ErrPoolEmpty, "finding unclaimed voucher")
		}

		res, err := repo.exec(ctx, "UPDATE vouchers SET participant_id = ? WHERE id = ? AND participant_id IS NULL", participantID, id)
		if err != nil {
			if isUniqueViolation(err) {
				return voucher.Voucher{}, voucher.ErrAlreadyClaimed
			}
			return voucher.Voucher{}, errors.Wrap(err, "claiming voucher")
		}
		if n, err := res.RowsAffected(); err != nil {
			return voucher.Voucher{}, errors.Wrap(err, "claiming voucher")
		} else if n == 1 {
			return repo.getVoucher(ctx, "v.id = ?", id)
		}
	}
	return voucher.Voucher{}, voucher.ErrPoolEmpty
}

func (repo *voucherRepository) DeleteVouchersByID(ctx context.Context, poolID int, ids ...int) error {
	if len(ids) == 0 {
		return nil
	}
	q, args := in("DELETE FROM vouchers WHERE pool_id = ? AND id IN (?)", poolID, ids)
	_, err := repo.exec(ctx, q, args...)
	return errors.Wrap(err, "deleting vouchers")
}
