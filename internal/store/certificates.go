package store

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"licensetrust/pkg/contracts/domain"
)

// CreateCertificate inserts a certificate. A duplicate id is a Conflict.
func (s *Store) CreateCertificate(ctx context.Context, c *domain.Certificate) error {
	return internal("create certificate", s.db.WithContext(ctx).Create(certificateFromDomain(c)).Error)
}

// InsertCertificateIfAbsent inserts c unless a certificate with the same id
// exists. It reports whether a row was written.
func (s *Store) InsertCertificateIfAbsent(ctx context.Context, c *domain.Certificate) (bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(certificateFromDomain(c))
	if res.Error != nil {
		return false, internal("insert certificate", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// GetCertificate loads a certificate by id.
func (s *Store) GetCertificate(ctx context.Context, id string) (*domain.Certificate, error) {
	var m certificateModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, notFoundOr(err, "certificate")
	}
	return m.toDomain(), nil
}

// PendingCertificates returns up to limit certificates awaiting sync, oldest
// first.
func (s *Store) PendingCertificates(ctx context.Context, limit int) ([]*domain.Certificate, error) {
	var rows []certificateModel
	err := s.db.WithContext(ctx).
		Where("sync_status = ?", string(domain.SyncPending)).
		Order("created_at, id").Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, internal("list pending certificates", err)
	}
	out := make([]*domain.Certificate, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

// RequeueFailedCertificates moves every failed certificate back to pending.
func (s *Store) RequeueFailedCertificates(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Model(&certificateModel{}).
		Where("sync_status = ?", string(domain.SyncFailed)).
		Update("sync_status", string(domain.SyncPending))
	if res.Error != nil {
		return 0, internal("requeue certificates", res.Error)
	}
	return res.RowsAffected, nil
}

// MarkCertificateSynced records a successful push after attempts tries.
func (s *Store) MarkCertificateSynced(ctx context.Context, id string, at time.Time, attempts int) error {
	at = utc(at)
	err := s.db.WithContext(ctx).Model(&certificateModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"sync_status":     string(domain.SyncSynced),
			"synced_at":       at,
			"sync_attempts":   gorm.Expr("sync_attempts + ?", attempts),
			"last_sync_error": "",
		}).Error
	return internal("mark certificate synced", err)
}

// MarkCertificateFailed records a push outcome that did not sync. status is
// pending for retryable failures and failed for permanent rejections.
func (s *Store) MarkCertificateFailed(ctx context.Context, id string, status domain.SyncStatus, attempts int, reason string) error {
	if len(reason) > 1024 {
		reason = reason[:1024]
	}
	err := s.db.WithContext(ctx).Model(&certificateModel{}).
		Where("id = ? AND sync_status <> ?", id, string(domain.SyncSynced)).
		Updates(map[string]interface{}{
			"sync_status":     string(status),
			"sync_attempts":   gorm.Expr("sync_attempts + ?", attempts),
			"last_sync_error": reason,
		}).Error
	return internal("mark certificate failed", err)
}

// CountCertificates returns the number of stored certificates by sync status;
// an empty status counts all.
func (s *Store) CountCertificates(ctx context.Context, status domain.SyncStatus) (int64, error) {
	q := s.db.WithContext(ctx).Model(&certificateModel{})
	if status != "" {
		q = q.Where("sync_status = ?", string(status))
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, internal("count certificates", err)
	}
	return n, nil
}

// NextCertificateSequence returns the next per-(client, module, day) sequence
// number, starting at 1. Must run inside a transaction to be race free.
func (s *Store) NextCertificateSequence(ctx context.Context, clientCode, moduleCode, day string) (int, error) {
	db := s.db.WithContext(ctx)
	where := "client_code = ? AND module_code = ? AND issued_on = ?"

	err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&sequenceModel{
		ClientCode: clientCode, ModuleCode: moduleCode, IssuedOn: day,
	}).Error
	if err != nil {
		return 0, internal("init certificate sequence", err)
	}

	err = db.Model(&sequenceModel{}).
		Where(where, clientCode, moduleCode, day).
		UpdateColumn("counter", gorm.Expr("counter + ?", 1)).Error
	if err != nil {
		return 0, internal("bump certificate sequence", err)
	}

	var seq sequenceModel
	if err := db.Where(where, clientCode, moduleCode, day).First(&seq).Error; err != nil {
		return 0, notFoundOr(err, "certificate sequence")
	}
	return seq.Counter, nil
}

// CacheCertificate stores a remotely fetched certificate for later
// verification and evicts the oldest entries beyond maxEntries. The cache is
// never a sync source.
func (s *Store) CacheCertificate(ctx context.Context, c *domain.Certificate, maxEntries int, at time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("certificate_id = ?", c.ID).Delete(&cachedCertificateModel{}).Error; err != nil {
			return internal("cache certificate", err)
		}

		entry := *c
		entry.SyncStatus = ""
		entry.SyncedAt = nil
		if err := tx.Create(&cachedCertificateModel{
			CertificateID: c.ID,
			Certificate:   datatypes.NewJSONType(entry),
			CachedAt:      utc(at),
		}).Error; err != nil {
			return internal("cache certificate", err)
		}

		var cutoff []uint
		if err := tx.Model(&cachedCertificateModel{}).
			Order("seq desc").Offset(maxEntries).Limit(1).
			Pluck("seq", &cutoff).Error; err != nil {
			return internal("evict cache", err)
		}
		if len(cutoff) == 1 {
			if err := tx.Where("seq <= ?", cutoff[0]).Delete(&cachedCertificateModel{}).Error; err != nil {
				return internal("evict cache", err)
			}
		}
		return nil
	})
}

// GetCachedCertificate loads a cached certificate by id.
func (s *Store) GetCachedCertificate(ctx context.Context, id string) (*domain.Certificate, error) {
	var m cachedCertificateModel
	if err := s.db.WithContext(ctx).Where("certificate_id = ?", id).First(&m).Error; err != nil {
		return nil, notFoundOr(err, "cached certificate")
	}
	c := m.Certificate.Data()
	c.CreatedAt = utc(c.CreatedAt)
	if c.Metadata == nil {
		c.Metadata = map[string]string{}
	}
	return &c, nil
}

// CountCachedCertificates returns the number of cache entries.
func (s *Store) CountCachedCertificates(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&cachedCertificateModel{}).Count(&n).Error; err != nil {
		return 0, internal("count cache", err)
	}
	return n, nil
}
