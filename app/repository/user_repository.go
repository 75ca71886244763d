package repository

import (
	"context"
	"strings"

	"github.com/ManuelReschke/PalmLedger/app/models"
	"gorm.io/gorm"
)

// userRepository implements the UserRepository interface
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository instance
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// Create creates a new user in the database
func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

// GetByID retrieves a user by their ID
func (r *userRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &user, nil
}

// GetByAPIKeyHash resolves an API key hash to its user.
func (r *userRepository) GetByAPIKeyHash(ctx context.Context, hash string) (*models.User, error) {
	trimmed := strings.TrimSpace(hash)
	if trimmed == "" {
		return nil, ErrNotFound
	}
	var user models.User
	if err := r.db.WithContext(ctx).Where("api_key_hash = ?", trimmed).First(&user).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &user, nil
}

// GetCredits reads the cached balance straight from the users table.
func (r *userRepository) GetCredits(ctx context.Context, id string) (int64, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Select("id", "credits").Where("id = ?", id).First(&user).Error; err != nil {
		return 0, translateNotFound(err)
	}
	return user.Credits, nil
}

// SetCredits overwrites the cached balance.
func (r *userRepository) SetCredits(ctx context.Context, id string, credits int64) error {
	tx := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Update("credits", credits)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
