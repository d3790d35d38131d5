package models

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	STATUS_ACTIVE   = "active"
	STATUS_DISABLED = "disabled"
)

// User is the ledger record for one account: its bearer credential and the
// consumable generation balances. Balances are only mutated through the
// ledger service so they can never be driven negative.
type User struct {
	ID            uint           `gorm:"primaryKey" json:"-"`
	PublicID      string         `gorm:"type:varchar(45);uniqueIndex;not null" json:"id"`
	Email         string         `gorm:"uniqueIndex;type:varchar(200)" json:"email" validate:"required,email,min=5,max=200"`
	PasswordHash  string         `gorm:"type:text" json:"-"`
	Token         string         `gorm:"type:varchar(64);uniqueIndex;not null" json:"-"`
	Status        string         `gorm:"type:varchar(50);default:'active'" json:"status" validate:"oneof=active disabled"`
	NormalBalance int64          `gorm:"not null;default:0" json:"normal_generations"`
	CleanBalance  int64          `gorm:"not null;default:0" json:"watermark_free_generations"`
	ConsumedCount int64          `gorm:"not null;default:0" json:"-"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime" json:"-"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) Validate() error {
	v := validator.New()

	return v.Struct(u)
}

// CreateUser builds a new account with a fresh public ID and bearer token.
// The password is optional; token-only accounts are how the browser client
// registers implicitly.
func CreateUser(email, password string) (*User, error) {
	u := &User{
		PublicID: "user_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16],
		Email:    strings.ToLower(strings.TrimSpace(email)),
		Token:    NewBearerToken(),
		Status:   STATUS_ACTIVE,
	}

	if password != "" {
		if err := u.SetPassword(password); err != nil {
			return nil, err
		}
	}

	if err := u.Validate(); err != nil {
		return nil, err
	}

	return u, nil
}

// NewBearerToken mints an opaque bearer credential.
func NewBearerToken() string {
	return "tok_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)

	return string(bytes), err
}

// CheckPasswordHash compares the given password with the stored hash.
func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))

	return err == nil
}

// IsActive reports whether the user status is active
func (u *User) IsActive() bool {
	return u.Status == STATUS_ACTIVE
}

// CheckPassword verifies if the provided password matches the user's stored password
func (u *User) CheckPassword(password string) bool {
	if u.PasswordHash == "" {
		return false
	}
	return CheckPasswordHash(password, u.PasswordHash)
}

// SetPassword hashes and sets a new password for the user
func (u *User) SetPassword(password string) error {
	hashedPassword, err := HashPassword(password)
	if err != nil {
		return err
	}
	u.PasswordHash = hashedPassword
	return nil
}

// Balance returns the named balance value.
func (u *User) Balance(kind BalanceKind) int64 {
	if kind == BalanceClean {
		return u.CleanBalance
	}
	return u.NormalBalance
}

// AddBalance credits the named balance.
func (u *User) AddBalance(kind BalanceKind, n int64) {
	if kind == BalanceClean {
		u.CleanBalance += n
		return
	}
	u.NormalBalance += n
}
