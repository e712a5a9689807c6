package domain

import "time"

// Account holds a reader's points balance. The balance only moves through the
// ledger, and Version increases with every balance write.
type Account struct {
	UserID        string    `gorm:"column:user_id;primaryKey;type:varchar(191)" json:"user_id"`
	PointsBalance int64     `gorm:"column:points_balance;not null;default:0" json:"points_balance"`
	Version       int64     `gorm:"column:version;not null;default:0" json:"-"`
	CreatedAt     time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time `gorm:"not null" json:"updated_at"`
}

func (Account) TableName() string { return "accounts" }
