package types

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// RatingMap holds peer ratings keyed by the rater's username. Grades are in
// [0,5]; a repeat rating by the same rater overwrites the previous grade.
// It is persisted as a JSONB column.
type RatingMap map[string]float64

// Value implements driver.Valuer so GORM can write the map as JSONB.
func (m RatingMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner so GORM can read the JSONB column back.
func (m *RatingMap) Scan(src any) error {
	if src == nil {
		*m = RatingMap{}
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported rating map source type %T", src)
	}
	if len(data) == 0 {
		*m = RatingMap{}
		return nil
	}
	return json.Unmarshal(data, m)
}

// ErrSelfRating rejects a rating keyed by the rated account's own username.
var ErrSelfRating = errors.New("account cannot rate itself")

// Merge records a grade for the given rater, overwriting any prior grade
// from the same rater. The owner name guards the no-self-rating invariant.
func (m RatingMap) Merge(owner, rater string, grade float64) error {
	if rater == owner {
		return ErrSelfRating
	}
	m[rater] = grade
	return nil
}

// User represents an account in the system. It is the only persisted entity.
type User struct {
	// ID is the unique, immutable identifier of the account.
	ID int64 `json:"id" gorm:"primaryKey"`

	// Username is the unique login name. It is mutable; uniqueness is
	// re-checked on change.
	Username string `json:"username" gorm:"uniqueIndex;not null"`

	// Email is the unique address the account was created with. Immutable.
	Email string `json:"email" gorm:"uniqueIndex;not null"`

	// Phone is a digits-only contact number. Empty for OAuth accounts.
	Phone string `json:"phone"`

	// PasswordHash is the bcrypt hash of the password. Empty for accounts
	// created through OAuth login. Never exposed in API responses.
	PasswordHash string `json:"-" gorm:"column:password_hash"`

	// FullName is the display name; defaults to the username on password
	// registration.
	FullName string `json:"fullname" gorm:"column:full_name"`

	// Location is a free-text location, empty until set by the user.
	Location string `json:"location"`

	// Image is the avatar object-storage key, empty if none was uploaded.
	Image string `json:"image"`

	// Badge marks verified accounts.
	Badge bool `json:"badge"`

	// Ratings maps rater usernames to grades in [0,5].
	Ratings RatingMap `json:"rate" gorm:"type:jsonb"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"-"`
}

// TableName pins the table used by the migrations.
func (User) TableName() string {
	return "users"
}

// HasPassword reports whether the account was created via password
// registration.
func (u User) HasPassword() bool {
	return u.PasswordHash != ""
}

// AccountSummary is the registration response payload.
type AccountSummary struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

// Summary renders the reduced view returned on registration.
func (u User) Summary() AccountSummary {
	return AccountSummary{
		ID:        u.ID,
		Email:     u.Email,
		Username:  u.Username,
		Phone:     u.Phone,
		CreatedAt: u.CreatedAt,
	}
}

// Profile is the authenticated profile view.
type Profile struct {
	ID        int64     `json:"id"`
	FullName  string    `json:"fullname"`
	Phone     string    `json:"phone"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Location  string    `json:"location"`
	Image     string    `json:"image"`
	Badge     bool      `json:"badge"`
	Ratings   RatingMap `json:"rate"`
	CreatedAt time.Time `json:"created_at"`
}

// ProfileView renders the profile returned by GET /users/me.
func (u User) ProfileView() Profile {
	ratings := u.Ratings
	if ratings == nil {
		ratings = RatingMap{}
	}
	return Profile{
		ID:        u.ID,
		FullName:  u.FullName,
		Phone:     u.Phone,
		Username:  u.Username,
		Email:     u.Email,
		Location:  u.Location,
		Image:     u.Image,
		Badge:     u.Badge,
		Ratings:   ratings,
		CreatedAt: u.CreatedAt,
	}
}
