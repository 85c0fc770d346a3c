package ledger

import "github.com/indiguild/offramp-service/internal/model"

// Latest returns the record with the maximum CreatedAt, making the
// "most recent write wins" rule explicit and independent of storage.
// Ties resolve to the later element of the slice.
func Latest(records []model.TransactionRecord) (model.TransactionRecord, bool) {
	if len(records) == 0 {
		return model.TransactionRecord{}, false
	}
	best := records[0]
	for _, r := range records[1:] {
		if r.CreatedAt >= best.CreatedAt {
			best = r
		}
	}
	return best, true
}
