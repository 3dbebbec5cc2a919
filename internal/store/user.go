package store

import (
	"context"
	"errors"

	"github.com/peerhub/apiserver/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserRepository handles persistence for users.
type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (types.User, error) {
	var user types.User
	err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if err != nil {
		return types.User{}, translate(err)
	}
	return user, nil
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (types.User, error) {
	var user types.User
	err := r.db.WithContext(ctx).First(&user, "username = ?", username).Error
	if err != nil {
		return types.User{}, translate(err)
	}
	return user, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	var user types.User
	err := r.db.WithContext(ctx).First(&user, "email = ?", email).Error
	if err != nil {
		return types.User{}, translate(err)
	}
	return user, nil
}

// Create inserts a new account. The database's unique constraints decide
// username/email collisions, which surface as ErrConflict.
func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	if user.Ratings == nil {
		user.Ratings = types.RatingMap{}
	}
	if err := r.db.WithContext(ctx).Create(&user).Error; err != nil {
		return types.User{}, translate(err)
	}
	return user, nil
}

func (r *UserRepository) UpdateLocation(ctx context.Context, id int64, location string) error {
	return r.updateColumn(ctx, id, "location", location)
}

func (r *UserRepository) UpdateImage(ctx context.Context, id int64, image string) error {
	return r.updateColumn(ctx, id, "image", image)
}

// Rename changes the username in place; the unique index arbitrates races
// between concurrent renames and registrations.
func (r *UserRepository) Rename(ctx context.Context, id int64, username string) error {
	return r.updateColumn(ctx, id, "username", username)
}

func (r *UserRepository) updateColumn(ctx context.Context, id int64, column string, value any) error {
	result := r.db.WithContext(ctx).Model(&types.User{}).Where("id = ?", id).Update(column, value)
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Rate merges {rater: grade} into the target's rating map. The target row is
// locked for the duration of the transaction so concurrent rates of the same
// account serialize into a consistent last-write-wins map.
func (r *UserRepository) Rate(ctx context.Context, targetUsername, rater string, grade float64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var target types.User
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&target, "username = ?", targetUsername).Error
		if err != nil {
			return translate(err)
		}

		if target.Ratings == nil {
			target.Ratings = types.RatingMap{}
		}
		if err := target.Ratings.Merge(target.Username, rater, grade); err != nil {
			return err
		}

		return translate(tx.Model(&target).Update("ratings", target.Ratings).Error)
	})
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrConflict
	default:
		return err
	}
}
