package voucher

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/flare-portal/flare/core"
	"github.com/flare-portal/flare/core/user"
)

var (
	// errors
	ErrNotFound       = errors.New("not found")
	ErrPoolEmpty      = errors.New("voucher pool is empty")
	ErrAlreadyClaimed = errors.New("participant already claimed a voucher")
)

type (
	Repository interface {
		QueryPools(ctx context.Context, orderings ...core.DBOrdering) ([]Pool, error)
		GetPoolByID(ctx context.Context, id int) (Pool, error)
		CreatePool(ctx context.Context, p Pool) (Pool, error)
		UpdatePool(ctx context.Context, p Pool) (Pool, error)
		DeletePool(ctx context.Context, id int) error

		// ExistingCodes returns those of codes already used by a voucher of any pool.
		ExistingCodes(ctx context.Context, codes ...string) ([]string, error)
		CreateVouchers(ctx context.Context, poolID int, codes ...string) (int, error)
		QueryVouchers(ctx context.Context, poolID int) ([]Voucher, error)
		GetVoucherByParticipant(ctx context.Context, participantID int) (Voucher, error)
		// ClaimVoucher assigns an unclaimed voucher of the pool to the participant.
		// It returns ErrPoolEmpty when none is left and ErrAlreadyClaimed when the participant holds one.
		ClaimVoucher(ctx context.Context, poolID, participantID int) (Voucher, error)
		DeleteVouchersByID(ctx context.Context, poolID int, ids ...int) error
	}

	Service interface {
		QueryPools(ctx context.Context, orderings []core.DBOrdering) ([]Pool, error)
		GetPool(ctx context.Context, id int) (Pool, error)
		CreatePool(ctx context.Context, owner user.User, pi PoolInput) (Pool, error)
		UpdatePool(ctx context.Context, p Pool, pi PoolInput) (Pool, error)
		DeletePool(ctx context.Context, p Pool) error

		// Upload creates a voucher for each code of a CSV file not used yet.
		Upload(ctx context.Context, p Pool, r io.Reader) (UploadResult, error)
		QueryVouchers(ctx context.Context, p Pool) ([]Voucher, error)
		DeleteVouchers(ctx context.Context, p Pool, ids ...int) error
		// Claim hands out a voucher of the pool to a participant, once.
		Claim(ctx context.Context, p Pool, participantID int) (Voucher, error)
	}

	service struct {
		repo Repository
		tx   core.Transactor
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, tx core.Transactor) Service {
	return &service{repo: repo, tx: tx}
}

func (svc *service) QueryPools(ctx context.Context, orderings []core.DBOrdering) ([]Pool, error) {
	return svc.repo.QueryPools(ctx, orderings...)
}

func (svc *service) GetPool(ctx context.Context, id int) (Pool, error) {
	return svc.repo.GetPoolByID(ctx, id)
}

func (svc *service) CreatePool(ctx context.Context, owner user.User, pi PoolInput) (Pool, error) {
	now := time.Now().UTC()
	p, err := svc.repo.CreatePool(ctx, Pool{
		Name:             pi.Name,
		Description:      pi.Description,
		SuccessMessage:   pi.SuccessMessage,
		EmptyPoolMessage: pi.EmptyPoolMessage,
		OwnerID:          owner.ID,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	return p, errors.Wrap(err, "creating voucher pool")
}

func (svc *service) UpdatePool(ctx context.Context, p Pool, pi PoolInput) (Pool, error) {
	p.Name = pi.Name
	p.Description = pi.Description
	p.SuccessMessage = pi.SuccessMessage
	p.EmptyPoolMessage = pi.EmptyPoolMessage
	p.UpdatedAt = time.Now().UTC()
	p, err := svc.repo.UpdatePool(ctx, p)
	return p, errors.Wrap(err, "updating voucher pool")
}

func (svc *service) DeletePool(ctx context.Context, p Pool) error {
	return svc.repo.DeletePool(ctx, p.ID)
}

func (svc *service) Upload(ctx context.Context, p Pool, r io.Reader) (UploadResult, error) {
	codes, err := ParseCodes(r)
	if err != nil {
		return UploadResult{}, err
	}
	res := UploadResult{RowCount: len(codes)}
	if len(codes) == 0 {
		return res, nil
	}

	err = svc.tx.RunInTx(ctx, func(ctx context.Context) error {
		existing, err := svc.repo.ExistingCodes(ctx, codes...)
		if err != nil {
			return errors.Wrap(err, "checking codes")
		}
		taken := make(map[string]bool, len(existing))
		for _, code := range existing {
			taken[code] = true
		}
		fresh := make([]string, 0, len(codes))
		for _, code := range codes {
			if !taken[code] {
				fresh = append(fresh, code)
			}
		}
		if len(fresh) == 0 {
			return nil
		}
		res.Created, err = svc.repo.CreateVouchers(ctx, p.ID, fresh...)
		return errors.Wrap(err, "creating vouchers")
	})
	if err != nil {
		return UploadResult{}, err
	}
	return res, nil
}

func (svc *service) QueryVouchers(ctx context.Context, p Pool) ([]Voucher, error) {
	return svc.repo.QueryVouchers(ctx, p.ID)
}

func (svc *service) DeleteVouchers(ctx context.Context, p Pool, ids ...int) error {
	return svc.repo.DeleteVouchersByID(ctx, p.ID, ids...)
}

func (svc *service) Claim(ctx context.Context, p Pool, participantID int) (Voucher, error) {
	var v Voucher
	err := svc.tx.RunInTx(ctx, func(ctx context.Context) error {
		_, err := svc.repo.GetVoucherByParticipant(ctx, participantID)
		if err == nil {
			return ErrAlreadyClaimed
		} else if errors.Cause(err) != ErrNotFound {
			return errors.Wrap(err, "getting claimed voucher")
		}
		v, err = svc.repo.ClaimVoucher(ctx, p.ID, participantID)
		return err
	})
	if err != nil {
		return Voucher{}, err
	}
	return v, nil
}
