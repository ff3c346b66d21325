package models

import "time"

// Account is a stored user credential record. Passwords are kept as bcrypt
// hashes only.
type Account struct {
	ID           string    `gorm:"primaryKey;size:128" json:"id"`
	Email        string    `gorm:"uniqueIndex;size:254;not null" json:"email"`
	PasswordHash string    `gorm:"not null" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

func (Account) TableName() string {
	return "accounts"
}

// Principal is the resolved identity threaded into the tracker and the feed.
// It is always passed explicitly; no component performs an ambient lookup.
type Principal struct {
	OwnerID string `json:"owner_id"`
	Email   string `json:"email"`
}
