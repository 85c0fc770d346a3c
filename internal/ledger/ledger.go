package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/indiguild/offramp-service/internal/model"
)

// ErrNotFound is returned when no record matches a lookup key.
var ErrNotFound = errors.New("transaction not found")

// ErrStaleState is returned by AppendAfter when another writer advanced the
// transaction since the caller read it.
var ErrStaleState = errors.New("transaction state is stale")

// ErrStoreUnavailable wraps database failures on writes.
var ErrStoreUnavailable = errors.New("ledger store unavailable")

const statusCacheTTL = 5 * time.Minute

// Store is the append-only ledger of TransactionRecords. Rows are never
// updated or deleted; the latest row per key wins.
type Store struct {
	db  *gorm.DB
	rdb *redis.Client
	log *zap.SugaredLogger
	now func() time.Time
}

func NewStore(db *gorm.DB, rdb *redis.Client, logger *zap.SugaredLogger) *Store {
	return &Store{db: db, rdb: rdb, log: logger, now: time.Now}
}

// Append inserts a new record. CreatedAt is stamped when the caller left it
// zero. Duplicate appends are not deduplicated.
func (s *Store) Append(ctx context.Context, rec *model.TransactionRecord) error {
	if rec.CreatedAt == 0 {
		rec.CreatedAt = s.now().UnixMilli()
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	s.cacheStatus(ctx, rec)
	return nil
}

// AppendAfter inserts rec only if the latest record for rec.TxID still has
// CreatedAt == expectedPrev, serializing concurrent webhook deliveries for
// the same transaction.
func (s *Store) AppendAfter(ctx context.Context, rec *model.TransactionRecord, expectedPrev int64) error {
	if rec.CreatedAt == 0 {
		rec.CreatedAt = s.now().UnixMilli()
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur model.TransactionRecord
		err := tx.Where("tx_id = ?", rec.TxID).
			Order("created_at DESC, id DESC").
			First(&cur).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if expectedPrev != 0 {
				return ErrStaleState
			}
		case err != nil:
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		case cur.CreatedAt != expectedPrev:
			return ErrStaleState
		}
		if err := tx.Create(rec).Error; err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.cacheStatus(ctx, rec)
	return nil
}

// FindLatestByTxID returns the most recently created record for txID.
func (s *Store) FindLatestByTxID(ctx context.Context, txID string) (*model.TransactionRecord, error) {
	return s.findLatest(ctx, "tx_id = ?", txID)
}

// FindLatestByTxnHash returns the most recently created record carrying the
// blockchain transaction hash.
func (s *Store) FindLatestByTxnHash(ctx context.Context, hash string) (*model.TransactionRecord, error) {
	return s.findLatest(ctx, "txn_hash = ?", hash)
}

// FindLatestByBankTransactionID returns the most recently created record
// carrying the bank transaction id.
func (s *Store) FindLatestByBankTransactionID(ctx context.Context, id string) (*model.TransactionRecord, error) {
	return s.findLatest(ctx, "bank_transaction_id = ?", id)
}

func (s *Store) findLatest(ctx context.Context, cond string, arg string) (*model.TransactionRecord, error) {
	var rec model.TransactionRecord
	err := s.db.WithContext(ctx).
		Where(cond, arg).
		Order("created_at DESC, id DESC").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// FindAllByUserID returns the full ledger history for a user, newest first.
func (s *Store) FindAllByUserID(ctx context.Context, userID string) ([]model.TransactionRecord, error) {
	var recs []model.TransactionRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Find(&recs).Error
	return recs, err
}

// FindFiatHistoryByUserID collapses a user's history to one row per TxID,
// keeping the latest record of each transaction, newest first.
func (s *Store) FindFiatHistoryByUserID(ctx context.Context, userID string) ([]model.TransactionRecord, error) {
	recs, err := s.FindAllByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(recs))
	history := make([]model.TransactionRecord, 0, len(recs))
	for _, r := range recs { // already newest first
		if seen[r.TxID] {
			continue
		}
		seen[r.TxID] = true
		history = append(history, r)
	}
	return history, nil
}

// CachedStatusByHash serves the status lookup from redis, falling back to
// the ledger and repopulating on miss.
func (s *Store) CachedStatusByHash(ctx context.Context, hash string) (string, error) {
	if s.rdb != nil {
		if status, err := s.rdb.Get(ctx, statusKey(hash)).Result(); err == nil {
			return status, nil
		}
	}
	rec, err := s.FindLatestByTxnHash(ctx, hash)
	if err != nil {
		return "", err
	}
	s.cacheStatus(ctx, rec)
	return rec.Status, nil
}

// cacheStatus is best effort; a cache failure never fails the write path.
func (s *Store) cacheStatus(ctx context.Context, rec *model.TransactionRecord) {
	if s.rdb == nil || rec.TxnHash == "" {
		return
	}
	if err := s.rdb.Set(ctx, statusKey(rec.TxnHash), rec.Status, statusCacheTTL).Err(); err != nil {
		s.log.Warnf("cache status for %s: %v", rec.TxnHash, err)
	}
}

func statusKey(hash string) string { return "txstatus:" + hash }
