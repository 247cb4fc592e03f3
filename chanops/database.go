package chanops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	dbTypeSQLite   = "sqlite"
	dbTypePostgres = "postgres"

	// userKeyPrefix namespaces per-user records in the key-value
	// table, like `users.<discord user id>`
	userKeyPrefix = "users."

	// adminTokenKey is where the argon2 hash of the admin API token
	// is stored
	adminTokenKey = "admin.token_hash"
)

var (
	sqliteMaxOpenConns    = 1
	sqliteMaxIdleConns    = 1
	sqliteMaxConnLifetime = 5 * time.Minute
	sqliteExecPragma      = []string{
		"pragma journal_mode=WAL;",
		"pragma synchronous = normal;",
		"pragma temp_store = memory;",
		"pragma foreign_keys = ON;",
	}
)

// KVRecord is a single row of the persistence mapping: an opaque JSON
// value under a flat string key. Guild records are keyed by guild ID,
// user records by `users.<user id>`. There's no schema versioning and
// no multi-key transaction - each Set is an independent upsert.
type KVRecord struct {
	Key   string `gorm:"primaryKey" json:"key"`
	Value string `gorm:"type:string" json:"value"`

	CreatedAt int64 `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
	UpdatedAt int64 `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`
}

// DataStore is the persistence boundary for guild and user records.
// Absent keys are reported as (nil, nil), not as errors. The concrete
// implementation is [kvStore]; tests use an in-memory stand-in.
type DataStore interface {
	// GuildData returns the record for the given guild ID, or nil
	// if none exists yet
	GuildData(ctx context.Context, guildID string) (*GuildData, error)

	SaveGuildData(ctx context.Context, guildID string, g *GuildData) error

	// UserData returns the record for the given user ID, or nil if
	// none exists yet
	UserData(ctx context.Context, userID string) (*UserData, error)

	SaveUserData(ctx context.Context, userID string, u *UserData) error

	// EachUser calls fn once per persisted user record. Used by the
	// alarm recovery scan at startup.
	EachUser(ctx context.Context, fn func(userID string, u *UserData) error) error

	// AdminTokenHash returns the stored argon2 hash of the admin API
	// token, or "" if unset
	AdminTokenHash(ctx context.Context) (string, error)

	SetAdminTokenHash(ctx context.Context, hash string) error
}

// kvStore implements DataStore over a single GORM table. When the
// backing database is SQLite, writes are serialized with a mutex - the
// database runs with a single connection and doesn't tolerate
// concurrent writers well.
type kvStore struct {
	db     *gorm.DB
	mu     sync.Mutex
	logger *slog.Logger

	// concurrentWrites is true for postgres, false for sqlite
	concurrentWrites bool
}

// NewDataStore wraps the given GORM connection in a DataStore.
func NewDataStore(
	db *gorm.DB,
	log *slog.Logger,
	concurrentWrites bool,
) DataStore {
	if log == nil {
		log = slog.Default()
	}
	return &kvStore{
		db:               db,
		logger:           log.With(loggerNameKey, "datastore"),
		concurrentWrites: concurrentWrites,
	}
}

// get reads the raw JSON value under key into dst. Returns false with
// a nil error when the key is absent.
func (s *kvStore) get(ctx context.Context, key string, dst any) (bool, error) {
	var rec KVRecord
	err := s.db.WithContext(ctx).First(&rec, "key = ?", key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("error reading record %q: %w", key, err)
	}
	if err = json.Unmarshal([]byte(rec.Value), dst); err != nil {
		return false, fmt.Errorf("error decoding record %q: %w", key, err)
	}
	return true, nil
}

// set marshals value and upserts it under key.
func (s *kvStore) set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("error encoding record %q: %w", key, err)
	}
	if !s.concurrentWrites {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	rec := KVRecord{Key: key, Value: string(data)}
	err = s.db.WithContext(ctx).Save(&rec).Error
	if err != nil {
		s.logger.ErrorContext(
			ctx,
			"error writing record",
			tint.Err(err),
			"key", key,
		)
		return fmt.Errorf("error writing record %q: %w", key, err)
	}
	return nil
}

func (s *kvStore) GuildData(ctx context.Context, guildID string) (
	*GuildData,
	error,
) {
	g := &GuildData{}
	found, err := s.get(ctx, guildID, g)
	if err != nil || !found {
		return nil, err
	}
	return g, nil
}

func (s *kvStore) SaveGuildData(
	ctx context.Context,
	guildID string,
	g *GuildData,
) error {
	return s.set(ctx, guildID, g)
}

func (s *kvStore) UserData(ctx context.Context, userID string) (
	*UserData,
	error,
) {
	u := &UserData{}
	found, err := s.get(ctx, userKeyPrefix+userID, u)
	if err != nil || !found {
		return nil, err
	}
	return u, nil
}

func (s *kvStore) SaveUserData(
	ctx context.Context,
	userID string,
	u *UserData,
) error {
	return s.set(ctx, userKeyPrefix+userID, u)
}

func (s *kvStore) EachUser(
	ctx context.Context,
	fn func(userID string, u *UserData) error,
) error {
	var records []KVRecord
	err := s.db.WithContext(ctx).Where(
		"key LIKE ?", userKeyPrefix+"%",
	).Find(&records).Error
	if err != nil {
		return fmt.Errorf("error listing user records: %w", err)
	}
	for _, rec := range records {
		u := &UserData{}
		if err = json.Unmarshal([]byte(rec.Value), u); err != nil {
			s.logger.Error(
				"skipping undecodable user record",
				tint.Err(err),
				"key", rec.Key,
			)
			continue
		}
		userID := strings.TrimPrefix(rec.Key, userKeyPrefix)
		if err = fn(userID, u); err != nil {
			return err
		}
	}
	return nil
}

func (s *kvStore) AdminTokenHash(ctx context.Context) (string, error) {
	var hash string
	found, err := s.get(ctx, adminTokenKey, &hash)
	if err != nil || !found {
		return "", err
	}
	return hash, nil
}

func (s *kvStore) SetAdminTokenHash(ctx context.Context, hash string) error {
	return s.set(ctx, adminTokenKey, hash)
}

// CreateDB initializes a GORM connection for the given database type
// ('sqlite' or 'postgres') and runs migrations.
func CreateDB(
	ctx context.Context,
	databaseType string,
	database string,
) (*gorm.DB, error) {
	handler := tint.NewHandler(
		os.Stdout,
		&tint.Options{
			Level:     slog.LevelWarn,
			AddSource: true,
		},
	)
	gormLogger := newGORMLogger(handler, 500*time.Millisecond)
	dbLogger := slog.New(handler)

	dbLogger.InfoContext(
		ctx,
		"Initializing database",
		"database_type", databaseType,
		"database", database,
	)
	db, err := getDB(databaseType, database, gormLogger)
	if err != nil {
		return db, err
	}
	if err = migrateDB(ctx, db); err != nil {
		return db, err
	}
	return db, nil
}

func migrateDB(ctx context.Context, db *gorm.DB) error {
	txn := db.WithContext(ctx).Begin()
	if err := txn.Migrator().AutoMigrate(&KVRecord{}); err != nil {
		return err
	}
	return txn.Commit().Error
}

// getDB opens a GORM connection for the given database type.
func getDB(
	databaseType string,
	database string,
	gormLogger *gormStructuredLogger,
) (*gorm.DB, error) {
	switch databaseType {
	case dbTypeSQLite:
		parentDir := filepath.Dir(database)
		if parentDir != "" {
			if err := os.MkdirAll(parentDir, 0755); err != nil {
				if !errors.Is(err, os.ErrExist) {
					return nil, err
				}
			}
		}
		return gorm.Open(
			sqlite.Open(database),
			&gorm.Config{
				Logger: gormLogger,
				NowFunc: func() time.Time {
					return time.Now().UTC()
				},
			},
		)
	case dbTypePostgres:
		return gorm.Open(
			postgres.Open(database), &gorm.Config{
				Logger: gormLogger,
				NowFunc: func() time.Time {
					return time.Now().UTC()
				},
			},
		)
	default:
		return nil, fmt.Errorf(
			"unsupported database type: %s (must be %q or %q)",
			databaseType, dbTypeSQLite, dbTypePostgres,
		)
	}
}
