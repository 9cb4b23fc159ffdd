// Package kgorm is the GORM implementation of the magiclink storage
// contracts, supporting sqlite, postgres, and mysql backends.
package kgorm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/getkayan/magiclink/core/audit"
	"github.com/getkayan/magiclink/core/domain"
	"github.com/getkayan/magiclink/core/identity"
	"github.com/getkayan/magiclink/core/link"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository struct {
	db   *gorm.DB
	inTx bool
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) DB() *gorm.DB {
	return r.db
}

func init() {
	Register("sqlite", sqlite.Open)
	Register("postgres", postgres.Open)
	Register("mysql", mysql.Open)
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(
		&gormMagicLink{},
		&gormLinkUse{},
		&gormIdentity{},
	)
}

// Ping checks connectivity, for readiness probes.
func (r *Repository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// WithinTx runs fn inside one database transaction. Link reads performed
// through the transactional repository take a row-level lock, so a racing
// read-modify-write on the same link serializes behind the commit.
func (r *Repository) WithinTx(ctx context.Context, fn func(tx domain.Storage) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repository{db: tx, inTx: true})
	})
}

// ---- Links ----

func (r *Repository) CreateLink(ctx context.Context, l *link.MagicLink) error {
	return r.db.WithContext(ctx).Create(fromCoreLink(l)).Error
}

func (r *Repository) GetLinkByToken(ctx context.Context, token string) (*link.MagicLink, error) {
	q := r.db.WithContext(ctx)
	// SELECT ... FOR UPDATE inside a transaction. Not supported (and not
	// needed) on sqlite, where the single writer lock already serializes
	// the read-modify-write.
	if r.inTx && r.db.Dialector.Name() != "sqlite" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var gl gormMagicLink
	if err := q.First(&gl, "token = ?", token).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, link.ErrLinkNotFound
		}
		return nil, fmt.Errorf("kgorm: get link: %w", err)
	}
	return toCoreLink(&gl), nil
}

func (r *Repository) SaveLink(ctx context.Context, l *link.MagicLink) error {
	// Save writes all columns, including false/nil, which the one-way
	// Active flag and write-once timestamps depend on.
	return r.db.WithContext(ctx).Save(fromCoreLink(l)).Error
}

// ---- Identities ----

func (r *Repository) GetIdentity(ctx context.Context, id string) (*identity.Identity, error) {
	var gi gormIdentity
	if err := r.db.WithContext(ctx).First(&gi, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("kgorm: get identity: %w", err)
	}
	return toCoreIdentity(&gi), nil
}

// CreateIdentity seeds the identity table. The directory is normally owned
// by the surrounding application; this exists for bootstrapping and tests.
func (r *Repository) CreateIdentity(ctx context.Context, i *identity.Identity) error {
	return r.db.WithContext(ctx).Create(fromCoreIdentity(i)).Error
}

// ---- Audit ----

func (r *Repository) SaveUse(ctx context.Context, use *audit.Use) error {
	return r.db.WithContext(ctx).Create(fromCoreUse(use)).Error
}

func (r *Repository) Query(ctx context.Context, filter audit.Filter) ([]audit.Use, error) {
	q := r.buildQuery(ctx, filter).Order("timestamp DESC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var rows []gormLinkUse
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("kgorm: query uses: %w", err)
	}

	uses := make([]audit.Use, 0, len(rows))
	for i := range rows {
		uses = append(uses, *toCoreUse(&rows[i]))
	}
	return uses, nil
}

func (r *Repository) Count(ctx context.Context, filter audit.Filter) (int64, error) {
	var count int64
	if err := r.buildQuery(ctx, filter).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("kgorm: count uses: %w", err)
	}
	return count, nil
}

func (r *Repository) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("timestamp < ?", olderThan).Delete(&gormLinkUse{})
	if res.Error != nil {
		return 0, fmt.Errorf("kgorm: purge uses: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *Repository) buildQuery(ctx context.Context, filter audit.Filter) *gorm.DB {
	q := r.db.WithContext(ctx).Model(&gormLinkUse{})
	if filter.LinkID != "" {
		q = q.Where("link_id = ?", filter.LinkID)
	}
	if filter.FailuresOnly {
		q = q.Where("error <> ''")
	}
	if !filter.StartTime.IsZero() {
		q = q.Where("timestamp >= ?", filter.StartTime)
	}
	if !filter.EndTime.IsZero() {
		q = q.Where("timestamp <= ?", filter.EndTime)
	}
	return q
}
