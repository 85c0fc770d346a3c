package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/indiguild/offramp-service/internal/logger"
	"github.com/indiguild/offramp-service/internal/model"
)

func newTestStore(t *testing.T) (*Store, context.Context) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&model.TransactionRecord{}))

	log, _ := logger.NewLogger("info")
	return NewStore(db, nil, log), context.Background()
}

func rec(txID, status string, createdAt int64) *model.TransactionRecord {
	return &model.TransactionRecord{
		TxID:      txID,
		UserID:    "u1",
		Status:    status,
		TxnHash:   "0x" + txID,
		CreatedAt: createdAt,
	}
}

func TestStore_LatestWinsRegardlessOfInsertionOrder(t *testing.T) {
	s, ctx := newTestStore(t)

	// insert out of order on purpose
	assert.NoError(t, s.Append(ctx, rec("t1", model.StatusFiatInit, 300)))
	assert.NoError(t, s.Append(ctx, rec("t1", model.StatusCryptoCompleted, 100)))
	assert.NoError(t, s.Append(ctx, rec("t1", model.StatusFiatCompleted, 500)))
	assert.NoError(t, s.Append(ctx, rec("t1", model.StatusCryptoInit, 50)))

	got, err := s.FindLatestByTxID(ctx, "t1")
	assert.NoError(t, err)
	assert.Equal(t, model.StatusFiatCompleted, got.Status)
	assert.EqualValues(t, 500, got.CreatedAt)

	byHash, err := s.FindLatestByTxnHash(ctx, "0xt1")
	assert.NoError(t, err)
	assert.Equal(t, model.StatusFiatCompleted, byHash.Status)
}

func TestStore_FindLatest_NotFound(t *testing.T) {
	s, ctx := newTestStore(t)

	_, err := s.FindLatestByTxID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.FindLatestByTxnHash(ctx, "0xmissing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.FindLatestByBankTransactionID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_FindLatestByBankTransactionID(t *testing.T) {
	s, ctx := newTestStore(t)

	r := rec("t2", model.StatusFiatInit, 100)
	r.BankTransactionID = "bank-1"
	assert.NoError(t, s.Append(ctx, r))

	r2 := rec("t2", model.StatusFiatCompleted, 200)
	r2.BankTransactionID = "bank-1"
	assert.NoError(t, s.Append(ctx, r2))

	got, err := s.FindLatestByBankTransactionID(ctx, "bank-1")
	assert.NoError(t, err)
	assert.Equal(t, model.StatusFiatCompleted, got.Status)
}

func TestStore_AppendStampsCreatedAt(t *testing.T) {
	s, ctx := newTestStore(t)
	s.now = func() time.Time { return time.UnixMilli(424242) }

	r := rec("t3", model.StatusPending, 0)
	assert.NoError(t, s.Append(ctx, r))
	assert.EqualValues(t, 424242, r.CreatedAt)
}

func TestStore_AppendAfter(t *testing.T) {
	s, ctx := newTestStore(t)

	assert.NoError(t, s.Append(ctx, rec("t4", model.StatusCryptoCompleted, 100)))

	// append against the observed predecessor succeeds
	next := rec("t4", model.StatusFiatInit, 200)
	assert.NoError(t, s.AppendAfter(ctx, next, 100))

	// a second writer that also observed createdAt=100 loses
	stale := rec("t4", model.StatusFiatInit, 300)
	assert.ErrorIs(t, s.AppendAfter(ctx, stale, 100), ErrStaleState)

	got, err := s.FindLatestByTxID(ctx, "t4")
	assert.NoError(t, err)
	assert.Equal(t, model.StatusFiatInit, got.Status)
	assert.EqualValues(t, 200, got.CreatedAt)
}

func TestStore_AppendAfter_NoPredecessor(t *testing.T) {
	s, ctx := newTestStore(t)

	// expecting a predecessor that does not exist fails
	assert.ErrorIs(t, s.AppendAfter(ctx, rec("t5", model.StatusFiatInit, 100), 77), ErrStaleState)

	// expectedPrev 0 means "first record"
	assert.NoError(t, s.AppendAfter(ctx, rec("t5", model.StatusCryptoCompleted, 100), 0))
}

func TestStore_FiatHistoryDedupesByTxID(t *testing.T) {
	s, ctx := newTestStore(t)

	assert.NoError(t, s.Append(ctx, rec("a", model.StatusCryptoCompleted, 100)))
	assert.NoError(t, s.Append(ctx, rec("a", model.StatusFiatInit, 200)))
	assert.NoError(t, s.Append(ctx, rec("a", model.StatusFiatCompleted, 300)))
	assert.NoError(t, s.Append(ctx, rec("b", model.StatusCryptoCompleted, 150)))

	history, err := s.FindFiatHistoryByUserID(ctx, "u1")
	assert.NoError(t, err)
	assert.Len(t, history, 2)
	assert.Equal(t, "a", history[0].TxID) // newest first
	assert.Equal(t, model.StatusFiatCompleted, history[0].Status)
	assert.Equal(t, "b", history[1].TxID)

	all, err := s.FindAllByUserID(ctx, "u1")
	assert.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestStore_CachedStatusByHash(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&model.TransactionRecord{}))

	rdb, mock := redismock.NewClientMock()
	log, _ := logger.NewLogger("info")
	s := NewStore(db, rdb, log)
	ctx := context.Background()

	mock.ExpectSet("txstatus:0xt6", model.StatusCryptoCompleted, statusCacheTTL).SetVal("OK")
	assert.NoError(t, s.Append(ctx, rec("t6", model.StatusCryptoCompleted, 100)))

	mock.ExpectGet("txstatus:0xt6").SetVal(model.StatusCryptoCompleted)
	status, err := s.CachedStatusByHash(ctx, "0xt6")
	assert.NoError(t, err)
	assert.Equal(t, model.StatusCryptoCompleted, status)

	// miss falls back to the ledger and repopulates
	mock.ExpectGet("txstatus:0xt6").RedisNil()
	mock.ExpectSet("txstatus:0xt6", model.StatusCryptoCompleted, statusCacheTTL).SetVal("OK")
	status, err = s.CachedStatusByHash(ctx, "0xt6")
	assert.NoError(t, err)
	assert.Equal(t, model.StatusCryptoCompleted, status)
}

func TestLatest(t *testing.T) {
	_, ok := Latest(nil)
	assert.False(t, ok)

	records := []model.TransactionRecord{
		{TxID: "x", Status: model.StatusFiatInit, CreatedAt: 300},
		{TxID: "x", Status: model.StatusCryptoCompleted, CreatedAt: 100},
		{TxID: "x", Status: model.StatusFiatCompleted, CreatedAt: 500},
	}
	got, ok := Latest(records)
	assert.True(t, ok)
	assert.Equal(t, model.StatusFiatCompleted, got.Status)

	// ties resolve to the later element
	tied := []model.TransactionRecord{
		{Status: "first", CreatedAt: 100},
		{Status: "second", CreatedAt: 100},
	}
	got, _ = Latest(tied)
	assert.Equal(t, "second", got.Status)
}
