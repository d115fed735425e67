package domain

import (
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
)

type Role string

const (
	RoleGuest Role = "guest"
	RoleOwner Role = "owner"
)

func (r Role) Valid() bool {
	return r == RoleGuest || r == RoleOwner
}

var (
	ErrNotFound         = errors.New("not found")
	ErrEmailTaken       = errors.New("email already registered")
	ErrMissingFields    = errors.New("missing required fields")
	ErrPasswordMismatch = errors.New("passwords do not match")
	ErrInvalidRole      = errors.New("invalid user type")
)

// User is a credential store record. PasswordHash never leaves the server;
// use Public for anything sent to a client.
type User struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	Phone        string    `json:"phone,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// PublicUser is the sanitized view of a User.
type PublicUser struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

func (u *User) Public() PublicUser {
	return PublicUser{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Phone:     u.Phone,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
	}
}

// NewUser is what the store needs to insert a user.
type NewUser struct {
	Name         string
	Email        string
	PasswordHash string
	Role         Role
	Phone        string
}

// Identity is the authenticated principal attached to a request.
type Identity struct {
	UserID int64 `json:"id"`
	Role   Role  `json:"role"`
}

type RegisterInput struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
	Phone           string `json:"phone,omitempty"`
	Role            Role   `json:"role"`
}

// Validate applies the registration checks in order and returns the first
// failure: missing fields, password mismatch, then unknown role.
func (in RegisterInput) Validate() error {
	err := validation.ValidateStruct(&in,
		validation.Field(&in.Name, validation.Required),
		validation.Field(&in.Email, validation.Required),
		validation.Field(&in.Password, validation.Required),
		validation.Field(&in.ConfirmPassword, validation.Required),
		validation.Field(&in.Role, validation.Required),
	)
	if err != nil {
		return ErrMissingFields
	}
	if in.Password != in.ConfirmPassword {
		return ErrPasswordMismatch
	}
	if err := validation.Validate(in.Role, validation.In(RoleGuest, RoleOwner)); err != nil {
		return ErrInvalidRole
	}
	return nil
}

type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (in LoginInput) Validate() error {
	err := validation.ValidateStruct(&in,
		validation.Field(&in.Email, validation.Required),
		validation.Field(&in.Password, validation.Required),
	)
	if err != nil {
		return ErrMissingFields
	}
	return nil
}

// AuthResult is returned by a successful registration or login.
type AuthResult struct {
	Message string     `json:"message"`
	User    PublicUser `json:"user"`
	Token   string     `json:"token"`
}
