package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/kart-cart/internal/domain/coupon"
)

func writeGz(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return path
}

func newFinder(minFiles int) *finder {
	return &finder{capacity: 1000, minLen: 8, maxLen: 10, minFiles: minFiles, lg: zap.NewNop()}
}

func TestFinder_CodesInSeveralFiles(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeGz(t, dir, "couponbase1.gz", "FIFTYOFF", "ONLYFILE1", "SHORT", "HAPPYHRS"),
		writeGz(t, dir, "couponbase2.gz", "FIFTYOFF", "ONLYFILE2", "SUPERSAVER"),
		writeGz(t, dir, "couponbase3.gz", "HAPPYHRS", "SUPERSAVER", "FIFTYOFF", "WAYTOOLONGCODE"),
	}

	codes, err := newFinder(2).find(context.Background(), files)
	require.NoError(t, err)
	assert.Equal(t, []string{"FIFTYOFF", "HAPPYHRS", "SUPERSAVER"}, codes)

	codes, err = newFinder(3).find(context.Background(), files)
	require.NoError(t, err)
	assert.Equal(t, []string{"FIFTYOFF"}, codes)
}

func TestFinder_Errors(t *testing.T) {
	dir := t.TempDir()
	one := writeGz(t, dir, "a.gz", "FIFTYOFF")

	_, err := newFinder(2).find(context.Background(), []string{one})
	assert.Error(t, err)

	_, err = newFinder(2).find(context.Background(), []string{one, filepath.Join(dir, "missing.gz")})
	assert.Error(t, err)

	plain := filepath.Join(dir, "plain.gz")
	require.NoError(t, os.WriteFile(plain, []byte("not gzip"), 0o600))
	_, err = newFinder(2).find(context.Background(), []string{one, plain})
	assert.Error(t, err)
}

type recordingWriter struct {
	batches [][]coupon.Coupon
}

func (w *recordingWriter) Upsert(_ context.Context, coupons []coupon.Coupon) error {
	w.batches = append(w.batches, append([]coupon.Coupon(nil), coupons...))
	return nil
}

func TestWriteCoupons_Batches(t *testing.T) {
	template, err := couponTemplate("5", "20")
	require.NoError(t, err)

	w := &recordingWriter{}
	codes := []string{"AAAAAAAA", "BBBBBBBB", "CCCCCCCC", "DDDDDDDD", "EEEEEEEE"}
	require.NoError(t, writeCoupons(context.Background(), zap.NewNop(), w, codes, template, 2))

	require.Len(t, w.batches, 3)
	assert.Len(t, w.batches[0], 2)
	assert.Len(t, w.batches[2], 1)
	assert.Equal(t, "EEEEEEEE", w.batches[2][0].Code)
	assert.True(t, w.batches[0][1].DiscountAbs.Equal(decimal.NewFromInt(5)))
	assert.True(t, w.batches[0][1].MinCartCost.Equal(decimal.NewFromInt(20)))
}

func TestCouponTemplate_Invalid(t *testing.T) {
	_, err := couponTemplate("-1", "0")
	assert.Error(t, err)
	_, err = couponTemplate("5", "lots")
	assert.Error(t, err)
}
