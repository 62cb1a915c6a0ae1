package userstore

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// userRecord is the GORM model for the users table.
type userRecord struct {
	ID    int64  `gorm:"primaryKey"`
	Name  string `gorm:"not null"`
	Email string `gorm:"uniqueIndex:users_email_key;not null"`
}

func (userRecord) TableName() string { return "users" }

func (r userRecord) toUser() User {
	return User{ID: r.ID, Name: r.Name, Email: r.Email}
}

// GormStore implements Backend with GORM. The email column carries a unique
// index and duplicate-key errors are translated to ErrConflict.
type GormStore struct {
	db *gorm.DB
}

var _ Backend = (*GormStore)(nil)

// NewGormStore opens a PostgreSQL connection through GORM.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("gorm: open: %w", err)
	}
	return &GormStore{db: db}, nil
}

// NewGormStoreFromDB wraps an existing *gorm.DB. It should be opened with
// TranslateError enabled so duplicate keys surface as gorm.ErrDuplicatedKey.
func NewGormStoreFromDB(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// InitSchema migrates the users table.
func (s *GormStore) InitSchema(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&userRecord{}); err != nil {
		return fmt.Errorf("gorm: migrate: %w", err)
	}
	return nil
}

// List returns all users ordered by ID.
func (s *GormStore) List(ctx context.Context) ([]User, error) {
	var records []userRecord
	if err := s.db.WithContext(ctx).Order("id").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("gorm: list users: %w", err)
	}
	out := make([]User, 0, len(records))
	for _, r := range records {
		out = append(out, r.toUser())
	}
	return out, nil
}

// Get returns the user with the given ID, or nil if not found.
func (s *GormStore) Get(ctx context.Context, id int64) (*User, error) {
	return s.first(ctx, "id = ?", id)
}

// GetByEmail returns the user holding email, or nil if not found.
func (s *GormStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.first(ctx, "email = ?", email)
}

func (s *GormStore) first(ctx context.Context, cond string, arg any) (*User, error) {
	var r userRecord
	err := s.db.WithContext(ctx).Where(cond, arg).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("gorm: get user: %w", err)
	}
	u := r.toUser()
	return &u, nil
}

// Insert creates a row and returns it with the generated ID.
func (s *GormStore) Insert(ctx context.Context, name, email string) (User, error) {
	r := userRecord{Name: name, Email: email}
	if err := s.db.WithContext(ctx).Create(&r).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return User{}, ErrConflict
		}
		return User{}, fmt.Errorf("gorm: create user: %w", err)
	}
	return r.toUser(), nil
}

// Replace overwrites name and email of an existing row.
func (s *GormStore) Replace(ctx context.Context, u User) error {
	res := s.db.WithContext(ctx).
		Model(&userRecord{}).
		Where("id = ?", u.ID).
		Updates(map[string]any{"name": u.Name, "email": u.Email})
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return ErrConflict
		}
		return fmt.Errorf("gorm: update user: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the row with the given ID.
func (s *GormStore) Delete(ctx context.Context, id int64) (bool, error) {
	res := s.db.WithContext(ctx).Delete(&userRecord{}, id)
	if res.Error != nil {
		return false, fmt.Errorf("gorm: delete user: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Close closes the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("gorm: close: %w", err)
	}
	return sqlDB.Close()
}
