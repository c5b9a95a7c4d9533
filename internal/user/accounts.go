package user

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"quitcoach/internal/apperr"
)

// Accounts is the login collaborator's view of the users table.
type Accounts struct {
	db *gorm.DB
}

func NewAccounts(db *gorm.DB) *Accounts {
	return &Accounts{db: db}
}

func (a *Accounts) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := a.db.WithContext(ctx).Model(&User{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

// Bootstrap creates the first admin. It is refused once any account exists.
func (a *Accounts) Bootstrap(ctx context.Context, username, password string) (*User, error) {
	var u *User
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&User{}).Count(&n).Error; err != nil {
			return err
		}
		if n != 0 {
			return apperr.Forbidden("setup not allowed; users already exist")
		}
		created, err := create(tx, username, password, RoleAdmin)
		u = created
		return err
	})
	if err != nil {
		if _, ok := apperr.KindOf(err); ok {
			return nil, err
		}
		return nil, fmt.Errorf("bootstrap admin: %w", err)
	}
	return u, nil
}

// Create adds an account with the given role.
func (a *Accounts) Create(ctx context.Context, username, password string, role Role) (*User, error) {
	return create(a.db.WithContext(ctx), username, password, role)
}

func create(tx *gorm.DB, username, password string, role Role) (*User, error) {
	if !role.Valid() {
		return nil, apperr.Unprocessable("unknown role %q", role)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &User{Username: username, PasswordHash: hash, Role: role}
	if err := tx.Create(u).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperr.Conflict("username %q already exists", username)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// Authenticate checks a username/password pair. Unknown users and wrong
// passwords give the same error.
func (a *Accounts) Authenticate(ctx context.Context, username, password string) (*User, error) {
	var u User
	err := a.db.WithContext(ctx).Where("username = ?", username).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Unauthorized("invalid username or password")
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if CheckPassword(u.PasswordHash, password) != nil {
		return nil, apperr.Unauthorized("invalid username or password")
	}
	return &u, nil
}

func (a *Accounts) Get(ctx context.Context, id uint) (*User, error) {
	var u User
	if err := a.db.WithContext(ctx).First(&u, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("user %d not found", id)
		}
		return nil, fmt.Errorf("load user %d: %w", id, err)
	}
	return &u, nil
}

// List returns accounts in id order, optionally only those holding role.
func (a *Accounts) List(ctx context.Context, role Role) ([]User, error) {
	q := a.db.WithContext(ctx).Order("id ASC")
	if role != "" {
		q = q.Where("role = ?", role)
	}
	var users []User
	if err := q.Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}
