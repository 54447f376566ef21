package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	Income  TransactionType = "INCOME"
	Expense TransactionType = "EXPENSE"
)

const (
	Daily   Frequency = "DAILY"
	Weekly  Frequency = "WEEKLY"
	Monthly Frequency = "MONTHLY"
	Yearly  Frequency = "YEARLY"
)

// DefaultTagColor is applied when a tag is created without a colour.
const DefaultTagColor = "#718096"

type (
	TransactionType string

	Frequency string

	User struct {
		ID           string    `json:"id"`
		Email        string    `json:"email"`
		PasswordHash string    `json:"-"`
		FullName     string    `json:"full_name"`
		Balance      Money     `json:"balance"`
		CreatedAt    time.Time `json:"created_at"`
		UpdatedAt    time.Time `json:"updated_at"`
	}

	Transaction struct {
		ID          string          `json:"id"`
		UserID      string          `json:"user_id"`
		TagID       *string         `json:"tag_id,omitempty"`
		GeopointID  *string         `json:"geopoint_id,omitempty"`
		Amount      Money           `json:"amount"`
		Type        TransactionType `json:"type"`
		Description string          `json:"description,omitempty"`
		Date        time.Time       `json:"date"`
		CreatedAt   time.Time       `json:"created_at"`
	}

	Budget struct {
		ID          string     `json:"id"`
		UserID      string     `json:"user_id"`
		Name        string     `json:"name"`
		Amount      Money      `json:"amount"`
		Period      string     `json:"period,omitempty"`
		StartDate   *time.Time `json:"start_date,omitempty"`
		EndDate     *time.Time `json:"end_date,omitempty"`
		IsMain      bool       `json:"is_main"`
		Description string     `json:"description,omitempty"`
		CreatedAt   time.Time  `json:"created_at"`
		UpdatedAt   time.Time  `json:"updated_at"`
	}

	Tag struct {
		ID        string    `json:"id"`
		UserID    string    `json:"user_id"`
		Name      string    `json:"name"`
		Color     string    `json:"color"`
		Icon      string    `json:"icon,omitempty"`
		CreatedAt time.Time `json:"created_at"`
	}

	Geopoint struct {
		ID        string          `json:"id"`
		UserID    string          `json:"user_id"`
		Name      string          `json:"name"`
		Type      TransactionType `json:"type"`
		Latitude  float64         `json:"latitude"`
		Longitude float64         `json:"longitude"`
		Address   string          `json:"address,omitempty"`
		CreatedAt time.Time       `json:"created_at"`
	}

	PeriodicTransaction struct {
		ID                string          `json:"id"`
		UserID            string          `json:"user_id"`
		TagID             *string         `json:"tag_id,omitempty"`
		Amount            Money           `json:"amount"`
		Type              TransactionType `json:"type"`
		Description       string          `json:"description,omitempty"`
		Frequency         Frequency       `json:"frequency"`
		StartDate         time.Time       `json:"start_date"`
		EndDate           *time.Time      `json:"end_date,omitempty"`
		LastProcessedDate *time.Time      `json:"last_processed_date,omitempty"`
		CreatedAt         time.Time       `json:"created_at"`
	}
)

// ErrInvalidInput is the root of every validation failure; messages wrapping it are safe to show to clients.
var ErrInvalidInput = errors.New("invalid input")

var (
	ErrInvalidAmount    = fmt.Errorf("%w: amount must be a positive number with at most two decimals", ErrInvalidInput)
	ErrInvalidType      = fmt.Errorf("%w: type must be INCOME or EXPENSE", ErrInvalidInput)
	ErrInvalidFrequency = fmt.Errorf("%w: frequency must be DAILY, WEEKLY, MONTHLY or YEARLY", ErrInvalidInput)
	ErrEmptyName        = fmt.Errorf("%w: name is required", ErrInvalidInput)

	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
)

// Invalid builds a validation error with a client-facing message.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// ParseTransactionType accepts any letter case and normalises to the enum.
func ParseTransactionType(s string) (TransactionType, error) {
	t := TransactionType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", ErrInvalidType
	}
	return t, nil
}

func (t TransactionType) Valid() bool {
	return t == Income || t == Expense
}

// Delta is the signed effect of a transaction on its owner's balance.
func Delta(amount Money, t TransactionType) Money {
	if t == Income {
		return amount
	}
	return amount.Neg()
}

func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(strings.ToUpper(strings.TrimSpace(s)))
	switch f {
	case Daily, Weekly, Monthly, Yearly:
		return f, nil
	}
	return "", ErrInvalidFrequency
}

func (t Transaction) Validate() error {
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if !t.Type.Valid() {
		return ErrInvalidType
	}
	if len(t.Description) > 255 {
		return Invalid("description too long (max 255 characters)")
	}
	if t.Date.IsZero() {
		return Invalid("date cannot be zero")
	}
	return nil
}

func (b Budget) Validate() error {
	if strings.TrimSpace(b.Name) == "" {
		return ErrEmptyName
	}
	if len(b.Name) > 100 {
		return Invalid("name too long (max 100 characters)")
	}
	if err := b.Amount.Validate(); err != nil {
		return err
	}
	if b.StartDate != nil && b.EndDate != nil && b.EndDate.Before(*b.StartDate) {
		return Invalid("end date must not be before start date")
	}
	return nil
}

func (t Tag) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return ErrEmptyName
	}
	if len(t.Name) > 50 {
		return Invalid("name too long (max 50 characters)")
	}
	return nil
}

func (g Geopoint) Validate() error {
	if strings.TrimSpace(g.Name) == "" {
		return ErrEmptyName
	}
	if !g.Type.Valid() {
		return ErrInvalidType
	}
	if g.Latitude < -90 || g.Latitude > 90 {
		return Invalid("latitude must be between -90 and 90")
	}
	if g.Longitude < -180 || g.Longitude > 180 {
		return Invalid("longitude must be between -180 and 180")
	}
	return nil
}

func (p PeriodicTransaction) Validate() error {
	if err := p.Amount.Validate(); err != nil {
		return err
	}
	if !p.Type.Valid() {
		return ErrInvalidType
	}
	if _, err := ParseFrequency(string(p.Frequency)); err != nil {
		return err
	}
	if p.StartDate.IsZero() {
		return Invalid("start date is required")
	}
	if p.EndDate != nil && p.EndDate.Before(p.StartDate) {
		return Invalid("end date must not be before start date")
	}
	if len(p.Description) > 255 {
		return Invalid("description too long (max 255 characters)")
	}
	return nil
}

// ActiveAt reports whether the schedule covers now.
func (p PeriodicTransaction) ActiveAt(now time.Time) bool {
	if now.Before(p.StartDate) {
		return false
	}
	return p.EndDate == nil || !now.After(*p.EndDate)
}
