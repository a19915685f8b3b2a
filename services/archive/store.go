// Package archive persists committed lending events to SQL for audit queries
// and exports them as Parquet.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"p2plend/core/events"
)

const maxBatch = 256

// Filter narrows archive queries. Zero fields match everything.
type Filter struct {
	Type    string
	Actor   string
	OfferID *uint64
	LoanID  *uint64
	Since   time.Time
	Until   time.Time
	Limit   int
}

// Store wraps the archive database.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

func dialector(dsn string) gorm.Dialector {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return postgres.Open(dsn)
	}
	return sqlite.Open(dsn)
}

// Open connects to dsn and migrates the schema.
func Open(dsn string, log *slog.Logger) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("archive: dsn required")
	}
	db, err := gorm.Open(dialector(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("archive: open: %w", err)
	}
	return NewStore(db, log)
}

// NewStore migrates db and returns a store on top of it.
func NewStore(db *gorm.DB, log *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("archive: db is required")
	}
	if log == nil {
		log = slog.Default()
	}
	if err := db.AutoMigrate(&Event{}); err != nil {
		return nil, fmt.Errorf("archive: migrate: %w", err)
	}
	return &Store{db: db, logger: log.With(slog.String("component", "archive"))}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Save persists records in one transaction.
func (s *Store) Save(ctx context.Context, recs ...events.Record) error {
	rows := make([]Event, 0, len(recs))
	for _, rec := range recs {
		if rec.Event == nil {
			continue
		}
		row, err := fromRecord(rec)
		if err != nil {
			return fmt.Errorf("archive: encode event %d: %w", rec.Sequence, err)
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).CreateInBatches(rows, maxBatch).Error; err != nil {
		return fmt.Errorf("archive: insert: %w", err)
	}
	return nil
}

// Query returns matching events ordered by emission.
func (s *Store) Query(ctx context.Context, f Filter) ([]Event, error) {
	q := s.db.WithContext(ctx).Model(&Event{})
	if f.Type != "" {
		if strings.HasSuffix(f.Type, ".") {
			q = q.Where("type LIKE ?", f.Type+"%")
		} else {
			q = q.Where("type = ?", f.Type)
		}
	}
	if f.Actor != "" {
		q = q.Where("actor = ?", f.Actor)
	}
	if f.OfferID != nil {
		q = q.Where("offer_id = ?", *f.OfferID)
	}
	if f.LoanID != nil {
		q = q.Where("loan_id = ?", *f.LoanID)
	}
	if !f.Since.IsZero() {
		q = q.Where("emitted_at >= ?", f.Since.UTC())
	}
	if !f.Until.IsZero() {
		q = q.Where("emitted_at < ?", f.Until.UTC())
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var out []Event
	if err := q.Order("id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("archive: query: %w", err)
	}
	return out, nil
}

// ByLoan returns the history of one loan.
func (s *Store) ByLoan(ctx context.Context, loanID uint64) ([]Event, error) {
	return s.Query(ctx, Filter{LoanID: &loanID})
}

// ByOffer returns the history of one offer, including events of loans drawn
// from it.
func (s *Store) ByOffer(ctx context.Context, offerID uint64) ([]Event, error) {
	return s.Query(ctx, Filter{OfferID: &offerID})
}

// Follow archives records from sub until ctx ends or the subscription closes.
// Records that arrive together are written in one batch.
func (s *Store) Follow(ctx context.Context, sub *events.Subscription) error {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case rec, ok := <-sub.C:
			if !ok {
				return nil
			}
			batch := []events.Record{rec}
		drain:
			for len(batch) < maxBatch {
				select {
				case more, ok := <-sub.C:
					if !ok {
						break drain
					}
					batch = append(batch, more)
				default:
					break drain
				}
			}
			if err := s.Save(ctx, batch...); err != nil {
				s.logger.Error("archive write failed",
					slog.Int("events", len(batch)),
					slog.Uint64("first_sequence", batch[0].Sequence),
					slog.String("error", err.Error()))
			}
		}
	}
}
