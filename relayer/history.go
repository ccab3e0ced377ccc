package relayer

import (
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/lo"

	"github.com/mintrelay/mintrelay/model"
	"github.com/mintrelay/mintrelay/pkg/logger"
	"github.com/mintrelay/mintrelay/storage"
	"github.com/mintrelay/mintrelay/storage/schema"
)

// HistoryStore persists operation records for the debug endpoints. Records are
// keyed by ULID so a plain prefix scan comes back in submission order.
type HistoryStore struct {
	db      storage.Storage
	logger  logger.Logger
	entropy *ulid.MonotonicEntropy
}

func NewHistoryStore(db storage.Storage, l logger.Logger) *HistoryStore {
	return &HistoryStore{
		db:      db,
		logger:  logger.EnsureLogger(l),
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

// Record assigns the record a ULID and writes it together with its per-user
// index entry.
func (h *HistoryStore) Record(rec *model.OperationRecord) error {
	now := time.Now().UTC()
	rec.ID = ulid.MustNew(ulid.Timestamp(now), h.entropy).String()
	rec.SubmittedAt = now

	body, err := rec.ToJSON()
	if err != nil {
		return err
	}

	updates := map[string][]byte{
		string(schema.OperationStorageKey(rec.ID)):               body,
		string(schema.OperationUserIndexKey(rec.UserID, rec.ID)): {},
	}
	if err := h.db.BatchWrite(updates); err != nil {
		return err
	}

	if _, err := h.db.IncCounter(schema.OperationCounterKey(), 0); err != nil {
		h.logger.Warnf("cannot bump operation counter: %v", err)
	}
	return nil
}

// List returns up to limit records, newest first. A non-empty userID restricts
// the scan to that user's index.
func (h *HistoryStore) List(userID string, limit int) ([]*model.OperationRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	var records []*model.OperationRecord

	if userID != "" {
		keys, err := h.db.ListKeys(string(schema.OperationUserIndexPrefix(userID)))
		if err != nil {
			return nil, err
		}

		prefixLen := len(schema.OperationUserIndexPrefix(userID))
		for _, key := range keys {
			id := key[prefixLen:]
			body, err := h.db.GetKey(schema.OperationStorageKey(id))
			if err != nil {
				h.logger.Warnf("dangling history index %s: %v", key, err)
				continue
			}
			rec := &model.OperationRecord{}
			if err := rec.FromStorageData(body); err != nil {
				continue
			}
			records = append(records, rec)
		}
	} else {
		items, err := h.db.GetByPrefix(schema.OperationStoragePrefix())
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			rec := &model.OperationRecord{}
			if err := rec.FromStorageData(item.Value); err != nil {
				continue
			}
			records = append(records, rec)
		}
	}

	records = lo.Reverse(records)
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Total returns the number of operations ever recorded, surviving prunes.
func (h *HistoryStore) Total() (uint64, error) {
	return h.db.GetCounter(schema.OperationCounterKey(), 0)
}

// Stored returns the number of records currently on disk.
func (h *HistoryStore) Stored() (int64, error) {
	return h.db.CountKeysByPrefix(schema.OperationStoragePrefix())
}

// Prune deletes records older than retention along with their index entries.
func (h *HistoryStore) Prune(retention time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-retention)

	items, err := h.db.GetByPrefix(schema.OperationStoragePrefix())
	if err != nil {
		return 0, err
	}

	pruned := 0
	for _, item := range items {
		rec := &model.OperationRecord{}
		if err := rec.FromStorageData(item.Value); err != nil {
			// unreadable record, drop it
			_ = h.db.Delete(item.Key)
			pruned++
			continue
		}
		if !rec.SubmittedAt.Before(cutoff) {
			continue
		}

		if err := h.db.Delete(item.Key); err != nil {
			return pruned, err
		}
		_ = h.db.Delete(schema.OperationUserIndexKey(rec.UserID, rec.ID))
		pruned++
	}

	return pruned, nil
}
