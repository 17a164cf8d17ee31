package writer

import (
	"context"
	"errors"
	"fmt"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	appconfig "skinflow/config"
	"skinflow/logger"
	"skinflow/models"
	"skinflow/processor"
)

// MySQL server error numbers the store classifies.
const (
	mysqlErrDupEntry        = 1062
	mysqlErrLockWaitTimeout = 1205
	mysqlErrLockDeadlock    = 1213
)

// MarketPrice is one row of the price table, unique per source and item.
type MarketPrice struct {
	ID             uint64              `gorm:"primaryKey;autoIncrement"`
	Source         string              `gorm:"size:32;not null;uniqueIndex:idx_source_item,priority:1"`
	MarketHashName string              `gorm:"size:255;not null;uniqueIndex:idx_source_item,priority:2"`
	NormalizedKey  string              `gorm:"size:255;index"`
	Kind           string              `gorm:"size:16"`
	Price          decimal.NullDecimal `gorm:"type:decimal(14,4)"`
	StartingAt     decimal.NullDecimal `gorm:"type:decimal(14,4)"`
	HighestOrder   decimal.NullDecimal `gorm:"type:decimal(14,4)"`
	Last24h        decimal.NullDecimal `gorm:"column:last_24h;type:decimal(14,4)"`
	Last7d         decimal.NullDecimal `gorm:"column:last_7d;type:decimal(14,4)"`
	Last30d        decimal.NullDecimal `gorm:"column:last_30d;type:decimal(14,4)"`
	Last90d        decimal.NullDecimal `gorm:"column:last_90d;type:decimal(14,4)"`
	HasPhases      bool                `gorm:"not null;default:false"`
	Data           string              `gorm:"type:json"`
	UpdatedAt      time.Time           `gorm:"not null"`
}

var upsertColumns = []string{
	"normalized_key", "kind", "price", "starting_at", "highest_order",
	"last_24h", "last_7d", "last_30d", "last_90d", "has_phases", "data", "updated_at",
}

// OpenMySQL opens the gorm connection pool for the price store.
func OpenMySQL(cfg appconfig.MySQLConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return db, nil
}

// MySQLStore upserts price rows through gorm.
type MySQLStore struct {
	db    *gorm.DB
	table string
	log   *logger.Log
}

func NewMySQLStore(db *gorm.DB, table string) *MySQLStore {
	if table == "" {
		table = "market_prices"
	}
	return &MySQLStore{db: db, table: table, log: logger.GetLogger()}
}

// Migrate creates or updates the price table.
func (s *MySQLStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Table(s.table).AutoMigrate(&MarketPrice{}); err != nil {
		return fmt.Errorf("migrate %s: %w", s.table, err)
	}
	s.log.WithComponent("mysql_store").WithFields(logger.Fields{"table": s.table}).Info("price table migrated")
	return nil
}

func (s *MySQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping mysql: %w", err)
	}
	return nil
}

// UpsertBatch writes the entries in one transaction, inserting chunkSize
// rows per statement and updating rows that already exist for the source.
func (s *MySQLStore) UpsertBatch(ctx context.Context, source string, entries []models.Entry, chunkSize int) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	if chunkSize <= 0 {
		chunkSize = len(entries)
	}

	now := time.Now().UTC()
	rows := make([]MarketPrice, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, toMarketPrice(source, e, now))
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Table(s.table).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source"}, {Name: "market_hash_name"}},
			DoUpdates: clause.AssignmentColumns(upsertColumns),
		}).CreateInBatches(rows, chunkSize).Error
	})
	if err != nil {
		return 0, classifyMySQLError(err)
	}
	return len(rows), nil
}

func toMarketPrice(source string, e models.Entry, now time.Time) MarketPrice {
	rec := e.Record
	data := string(rec.Raw)
	if data == "" {
		data = "null"
	}
	return MarketPrice{
		Source:         source,
		MarketHashName: e.Name,
		NormalizedKey:  processor.NormalizeKey(e.Name),
		Kind:           string(rec.Kind),
		Price:          toDecimal(rec.Price),
		StartingAt:     toDecimal(rec.StartingAt),
		HighestOrder:   toDecimal(rec.HighestOrder),
		Last24h:        toDecimal(rec.Last24h),
		Last7d:         toDecimal(rec.Last7d),
		Last30d:        toDecimal(rec.Last30d),
		Last90d:        toDecimal(rec.Last90d),
		HasPhases:      rec.HasPhases(),
		Data:           data,
		UpdatedAt:      now,
	}
}

// toDecimal rounds to the column scale; nil stays NULL.
func toDecimal(v *float64) decimal.NullDecimal {
	if v == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimal.NewFromFloat(*v).Round(4))
}

// classifyMySQLError wraps duplicate-key and deadlock errors with
// ErrWriteConflict and lock wait timeouts with ErrWriteTimeout.
func classifyMySQLError(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %w", ErrWriteConflict, err)
	}
	var me *mysqldriver.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case mysqlErrDupEntry, mysqlErrLockDeadlock:
			return fmt.Errorf("%w: %w", ErrWriteConflict, err)
		case mysqlErrLockWaitTimeout:
			return fmt.Errorf("%w: %w", ErrWriteTimeout, err)
		}
	}
	return err
}
