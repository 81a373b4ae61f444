// Package models holds the GORM row types for every table in the embedded
// store. These are intentionally flat (no nested structs, no JSON columns)
// so the sqlite schema stays simple to migrate and reconcile against.
package models

import "time"

type UserModel struct {
	ID          uint `gorm:"primaryKey"`
	DisplayName string
	IsVIP       bool
	CreatedAt   time.Time
}

func (UserModel) TableName() string { return "users" }

type ServerModel struct {
	ID            uint `gorm:"primaryKey"`
	DisplayName   string
	Country       string
	Protocol      string `gorm:"index"`
	APIURL        string
	APICredential []byte
	CredentialHash string
	Domain        string
	Active        bool `gorm:"index"`
	AccessLevel   int
}

func (ServerModel) TableName() string { return "servers" }

type TariffModel struct {
	ID             uint `gorm:"primaryKey"`
	Name           string
	DurationSec    int64
	Price          int64
	TrafficLimitMB *int64
}

func (TariffModel) TableName() string { return "tariffs" }

type SubscriptionModel struct {
	ID                       uint `gorm:"primaryKey"`
	UserID                   uint `gorm:"index"`
	Token                    string `gorm:"uniqueIndex"`
	CreatedAt                time.Time
	ExpiresAt                time.Time `gorm:"index"`
	TariffID                 uint
	IsActive                 bool `gorm:"index"`
	TrafficLimitMB           *int64
	TrafficUsageBytes        int64
	TrafficOverLimitAt       *time.Time
	TrafficOverLimitNotified bool
	ExpiryNotifiedMask       uint8
	PurchaseNotificationSent bool
	LastUpdatedAt            time.Time
	DisplayTitle             *string
	ReferralBonusMB          int64 `gorm:"default:0"`
}

func (SubscriptionModel) TableName() string { return "subscriptions" }

type KeyModel struct {
	ID                uint `gorm:"primaryKey"`
	ServerID          uint `gorm:"index"`
	UserID            uint `gorm:"index"`
	SubscriptionID    *uint `gorm:"index"`
	Backend           string
	Email             string
	RemoteID          string
	AccessURL         string
	V2RayUUID         string
	Level             int
	ClientConfig      string
	CreatedAt         time.Time
	TrafficLimitMB    *int64
	TrafficUsageBytes int64
}

func (KeyModel) TableName() string { return "keys" }

type FreeKeyUsageModel struct {
	ID        uint `gorm:"primaryKey"`
	UserID    uint `gorm:"index"`
	Protocol  string
	Country   string
	GrantedAt time.Time
}

func (FreeKeyUsageModel) TableName() string { return "free_key_usage" }

type PaymentModel struct {
	ID             uint `gorm:"primaryKey"`
	UserID         uint `gorm:"index"`
	SubscriptionID *uint `gorm:"index"`
	Status         string
	CreatedAt      time.Time
}

func (PaymentModel) TableName() string { return "payments" }

type ReferralModel struct {
	ID              uint `gorm:"primaryKey"`
	ReferrerUserID  uint `gorm:"index"`
	RefereeUserID   uint `gorm:"index;uniqueIndex"`
	BonusGrantedAt  *time.Time
	CreatedAt       time.Time
}

func (ReferralModel) TableName() string { return "referrals" }

// AllModels is consumed by the GORM auto-migrate strategy.
func AllModels() []interface{} {
	return []interface{}{
		&UserModel{}, &ServerModel{}, &TariffModel{}, &SubscriptionModel{},
		&KeyModel{}, &FreeKeyUsageModel{}, &PaymentModel{}, &ReferralModel{},
	}
}
