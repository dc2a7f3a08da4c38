package voucher

import (
	"context"
	"sort"

	"github.com/volatiletech/null/v8"

	"github.com/flare-portal/flare/core"
)

// RepositoryMock is an in-memory Repository.
type RepositoryMock struct {
	poolPK    int
	voucherPK int
	pools     map[int]Pool
	vouchers  map[int]Voucher
}

func NewRepositoryMock() *RepositoryMock {
	return &RepositoryMock{pools: make(map[int]Pool), vouchers: make(map[int]Voucher)}
}

func (r *RepositoryMock) QueryPools(_ context.Context, _ ...core.DBOrdering) ([]Pool, error) {
	ps := make([]Pool, 0)
	for _, p := range r.pools {
		ps = append(ps, p)
	}
	sort.Slice(ps, func(i, j int) bool { return ps[i].ID < ps[j].ID })
	return ps, nil
}

func (r *RepositoryMock) GetPoolByID(_ context.Context, id int) (Pool, error) {
	if p, ok := r.pools[id]; ok {
		return p, nil
	}
	return Pool{}, ErrNotFound
}

func (r *RepositoryMock) CreatePool(_ context.Context, p Pool) (Pool, error) {
	r.poolPK++
	p.ID = r.poolPK
	r.pools[p.ID] = p
	return p, nil
}

func (r *RepositoryMock) UpdatePool(_ context.Context, p Pool) (Pool, error) {
	r.pools[p.ID] = p
	return p, nil
}

func (r *RepositoryMock) DeletePool(_ context.Context, id int) error {
	delete(r.pools, id)
	return nil
}

func (r *RepositoryMock) ExistingCodes(_ context.Context, codes ...string) ([]string, error) {
	var existing []string
	for _, code := range codes {
		for _, v := range r.vouchers {
			if v.Code == code {
				existing = append(existing, code)
				break
			}
		}
	}
	return existing, nil
}

func (r *RepositoryMock) CreateVouchers(_ context.Context, poolID int, codes ...string) (int, error) {
	for _, code := range codes {
		r.voucherPK++
		r.vouchers[r.voucherPK] = Voucher{ID: r.voucherPK, PoolID: poolID, Code: code}
	}
	return len(codes), nil
}

func (r *RepositoryMock) QueryVouchers(_ context.Context, poolID int) ([]Voucher, error) {
	vs := make([]Voucher, 0)
	for _, v := range r.vouchers {
		if v.PoolID == poolID {
			vs = append(vs, v)
		}
	}
	sort.Slice(vs, func(i, j int) bool { return vs[i].ID < vs[j].ID })
	return vs, nil
}

func (r *RepositoryMock) GetVoucherByParticipant(_ context.Context, participantID int) (Voucher, error) {
	for _, v := range r.vouchers {
		if v.ParticipantID.Valid && v.ParticipantID.Int == participantID {
			return v, nil
		}
	}
	return Voucher{}, ErrNotFound
}

func (r *RepositoryMock) ClaimVoucher(ctx context.Context, poolID, participantID int) (Voucher, error) {
	vs, _ := r.QueryVouchers(ctx, poolID)
	for _, v := range vs {
		if !v.ParticipantID.Valid {
			v.ParticipantID = null.IntFrom(participantID)
			r.vouchers[v.ID] = v
			return v, nil
		}
	}
	return Voucher{}, ErrPoolEmpty
}

func (r *RepositoryMock) DeleteVouchersByID(_ context.Context, poolID int, ids ...int) error {
	for _, id := range ids {
		if v, ok := r.vouchers[id]; ok && v.PoolID == poolID {
			delete(r.vouchers, id)
		}
	}
	return nil
}
