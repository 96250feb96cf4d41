package requests

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// ErrMissingSession is returned when an event has no session id to group it by.
var ErrMissingSession = errors.New("request event has no session id")

const insertBatchSize = 100

// Store persists and reads request events from a single configurable table.
type Store struct {
	db     *gorm.DB
	table  string
	logger *slog.Logger
}

// NewStore creates a Store over db. An empty table falls back to DefaultTableName.
func NewStore(db *gorm.DB, table string, logger *slog.Logger) *Store {
	if table == "" {
		table = DefaultTableName
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, table: table, logger: logger}
}

// Migrate creates or updates the request events table.
func Migrate(db *gorm.DB, table string) error {
	if table == "" {
		table = DefaultTableName
	}
	if err := db.Table(table).AutoMigrate(&RequestEvent{}); err != nil {
		return fmt.Errorf("error migrating %s: %w", table, err)
	}
	return nil
}

// Table returns the table name the store reads and writes.
func (s *Store) Table() string {
	return s.table
}

// DB returns the underlying connection.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Query returns a fresh statement scoped to the events table.
func (s *Store) Query(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Table(s.table)
}

// Insert stores a single event.
func (s *Store) Insert(ctx context.Context, event *RequestEvent) error {
	if err := normalize(event); err != nil {
		return err
	}
	return s.write(ctx, func(tx *gorm.DB) error {
		if err := tx.Table(s.table).Create(event).Error; err != nil {
			return fmt.Errorf("error inserting request event: %w", err)
		}
		return nil
	})
}

// InsertBatch stores events in one write and returns how many were stored.
// Events failing normalization are skipped and logged. When the batch write
// fails, each row is retried on its own so one bad row cannot sink the rest;
// an error is returned only if no row could be stored.
func (s *Store) InsertBatch(ctx context.Context, events []RequestEvent) (int, error) {
	valid := make([]RequestEvent, 0, len(events))
	for i := range events {
		if err := normalize(&events[i]); err != nil {
			s.logger.Warn("Skipping invalid request event",
				slog.String("path", events[i].Path),
				slog.Any("error", err))
			continue
		}
		valid = append(valid, events[i])
	}
	if len(valid) == 0 {
		return 0, nil
	}

	// A rolled back batch may still have written ids into valid.
	ids := make([]uint, len(valid))
	for i := range valid {
		ids[i] = valid[i].ID
	}

	batchErr := s.write(ctx, func(tx *gorm.DB) error {
		return tx.Table(s.table).CreateInBatches(valid, insertBatchSize).Error
	})
	if batchErr == nil {
		return len(valid), nil
	}
	if ctx.Err() != nil || len(valid) == 1 {
		return 0, fmt.Errorf("error inserting %d request events: %w", len(valid), batchErr)
	}

	s.logger.Warn("Batch insert failed, retrying rows one by one",
		slog.Int("count", len(valid)),
		slog.Any("error", batchErr))

	stored := 0
	for i := range valid {
		if ctx.Err() != nil {
			break
		}
		event := valid[i]
		event.ID = ids[i]
		err := s.write(ctx, func(tx *gorm.DB) error {
			return tx.Table(s.table).Create(&event).Error
		})
		if err != nil {
			s.logger.Warn("Dropping request event the database rejected",
				slog.String("session_id", event.SessionID),
				slog.String("path", event.Path),
				slog.Any("error", err))
			continue
		}
		stored++
	}
	if stored == 0 {
		return 0, fmt.Errorf("error inserting %d request events: %w", len(valid), batchErr)
	}
	return stored, nil
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Count returns the number of stored events.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.Query(ctx).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("error counting request events: %w", err)
	}
	return count, nil
}

// OldestVisit returns the earliest visited_at, or nil when the table is empty.
func (s *Store) OldestVisit(ctx context.Context) (*time.Time, error) {
	var event RequestEvent
	err := s.Query(ctx).Order("visited_at ASC").Limit(1).Find(&event).Error
	if err != nil {
		return nil, fmt.Errorf("error fetching oldest request event: %w", err)
	}
	if event.ID == 0 {
		return nil, nil
	}
	visited := event.VisitedAt.UTC()
	return &visited, nil
}

// Prune deletes events visited at or before cutoff, batchSize rows at a time.
// Ids are selected first so the delete stays portable across dialects.
func (s *Store) Prune(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}
	cutoff = cutoff.UTC()

	var totalDeleted int64
	for {
		if err := ctx.Err(); err != nil {
			return totalDeleted, err
		}

		var ids []uint
		if err := s.Query(ctx).
			Where("visited_at <= ?", cutoff).
			Order("id ASC").
			Limit(batchSize).
			Pluck("id", &ids).Error; err != nil {
			return totalDeleted, fmt.Errorf("error selecting request events to prune: %w", err)
		}
		if len(ids) == 0 {
			break
		}

		var deleted int64
		err := s.write(ctx, func(tx *gorm.DB) error {
			result := tx.Table(s.table).Where("id IN ?", ids).Delete(&RequestEvent{})
			if result.Error != nil {
				return fmt.Errorf("error pruning request events: %w", result.Error)
			}
			deleted = result.RowsAffected
			return nil
		})
		if err != nil {
			return totalDeleted, err
		}
		totalDeleted += deleted

		if len(ids) < batchSize {
			break
		}

		// Let concurrent writers in between batches.
		time.Sleep(100 * time.Millisecond)
	}

	return totalDeleted, nil
}

// write serializes writes through cartridge on SQLite and uses a plain transaction elsewhere.
func (s *Store) write(ctx context.Context, fn func(tx *gorm.DB) error) error {
	db := s.db.WithContext(ctx)
	if db.Dialector != nil && db.Dialector.Name() == "sqlite" {
		return sqlite.PerformWrite(s.logger, db, fn)
	}
	return db.Transaction(fn)
}

func normalize(event *RequestEvent) error {
	if strings.TrimSpace(event.SessionID) == "" {
		return ErrMissingSession
	}
	if event.VisitedAt.IsZero() {
		event.VisitedAt = time.Now()
	}
	event.VisitedAt = event.VisitedAt.UTC()
	if event.Path == "" {
		event.Path = "/"
	}
	if !event.RequestCategory.IsValid() {
		event.RequestCategory = CategoryWeb
	}
	if event.HTTPMethod == "" {
		event.HTTPMethod = "GET"
	}
	if event.OperatingSystem == "" {
		event.OperatingSystem = Unknown
	}
	if event.Browser == "" {
		event.Browser = Unknown
	}
	if event.Device == "" {
		event.Device = Unknown
	}
	clampColumns(event)
	return nil
}

func clampColumns(event *RequestEvent) {
	event.Path = Clamp(event.Path, MaxPathLength)
	event.Referrer = Clamp(event.Referrer, MaxPathLength)
	event.PageTitle = Clamp(event.PageTitle, MaxPageTitleLength)
	event.Language = Clamp(event.Language, MaxLanguageLength)
	event.IPAddress = Clamp(event.IPAddress, maxIPLength)
	event.OperatingSystem = Clamp(event.OperatingSystem, maxLabelLength)
	event.Browser = Clamp(event.Browser, maxLabelLength)
	event.Device = Clamp(event.Device, maxLabelLength)
	event.Country = Clamp(event.Country, maxLabelLength)
	event.City = Clamp(event.City, maxLabelLength)
	event.Screen = Clamp(event.Screen, maxScreenLength)
	event.SessionID = Clamp(event.SessionID, maxSessionLength)
	event.HTTPMethod = Clamp(event.HTTPMethod, maxMethodLength)
	if event.VisitorID != nil {
		visitor := Clamp(*event.VisitorID, maxVisitorLength)
		event.VisitorID = &visitor
	}
}
