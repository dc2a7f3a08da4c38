package voucher

import (
	"context"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flare-portal/flare/core"
	"github.com/flare-portal/flare/core/user"
)

func uploadError(t *testing.T, err error) string {
	t.Helper()
	vErr, ok := errors.Cause(err).(*core.ValidationError)
	require.True(t, ok, "expected a *core.ValidationError, got %v", err)
	require.Len(t, vErr.Fields, 1)
	assert.Equal(t, uploadField, vErr.Fields[0].Field)
	return vErr.Fields[0].Error
}

func TestParseCodes(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		want    []string
		wantErr string
	}{
		{name: "codes", file: "code\nA1\nB2\n", want: []string{"A1", "B2"}},
		{name: "extra columns", file: "id,code\n1,A1\n2,\n3,A1\n4,C3\n", want: []string{"A1", "C3"}},
		{name: "bom", file: "\ufeffcode\nA1\n", want: []string{"A1"}},
		{name: "header only", file: "code\n", want: []string{}},
		{name: "empty file", file: "", wantErr: noCodeColumnText},
		{name: "no code column", file: "voucher\nA1\n", wantErr: noCodeColumnText},
		{name: "too long", file: "code\n" + strings.Repeat("x", 256) + "\n", wantErr: codeTooLongText},
		{name: "max length", file: "code\n" + strings.Repeat("x", 255) + "\n", want: []string{strings.Repeat("x", 255)}},
		{name: "bad quoting", file: "code\n\"A1\n", wantErr: invalidCSVText},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			codes, err := ParseCodes(strings.NewReader(tc.file))
			if tc.wantErr != "" {
				assert.Equal(t, tc.wantErr, uploadError(t, err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, codes)
		})
	}
}

func TestService(t *testing.T) {
	ctx := context.Background()
	repo := NewRepositoryMock()
	svc := NewService(repo, core.NewTransactorMock())

	pool, err := svc.CreatePool(ctx, user.User{ID: "owner"}, PoolInput{Name: "Gift cards", EmptyPoolMessage: "Sorry"})
	require.NoError(t, err)
	other, err := svc.CreatePool(ctx, user.User{ID: "owner"}, PoolInput{Name: "Other"})
	require.NoError(t, err)

	res, err := svc.Upload(ctx, other, strings.NewReader("code\nSHARED\n"))
	require.NoError(t, err)
	assert.Equal(t, UploadResult{RowCount: 1, Created: 1}, res)

	res, err = svc.Upload(ctx, pool, strings.NewReader("code\nA1\nSHARED\nB2\nA1\n"))
	require.NoError(t, err)
	assert.Equal(t, UploadResult{RowCount: 3, Created: 2}, res)

	vs, err := svc.QueryVouchers(ctx, pool)
	require.NoError(t, err)
	require.Len(t, vs, 2)

	v, err := svc.Claim(ctx, pool, 10)
	require.NoError(t, err)
	assert.Equal(t, "A1", v.Code)

	_, err = svc.Claim(ctx, pool, 10)
	assert.Equal(t, ErrAlreadyClaimed, errors.Cause(err))

	v, err = svc.Claim(ctx, pool, 11)
	require.NoError(t, err)
	assert.Equal(t, "B2", v.Code)

	_, err = svc.Claim(ctx, pool, 12)
	assert.Equal(t, ErrPoolEmpty, errors.Cause(err))

	require.NoError(t, svc.DeleteVouchers(ctx, pool, vs[0].ID))
	vs, err = svc.QueryVouchers(ctx, pool)
	require.NoError(t, err)
	assert.Len(t, vs, 1)

	pool, err = svc.UpdatePool(ctx, pool, PoolInput{Name: "Renamed"})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", pool.Name)
	require.NoError(t, svc.DeletePool(ctx, pool))
	_, err = svc.GetPool(ctx, pool.ID)
	assert.Equal(t, ErrNotFound, err)
}
