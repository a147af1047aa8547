package model

import (
	"time"
)

// ParticipantModel 参与者模型
type ParticipantModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// 钱包信息
	WalletAddress string `json:"wallet_address" gorm:"uniqueIndex;not null"`

	// 等级信息
	TierLevel int `json:"tier_level" gorm:"default:0"`

	// KYC信息
	KycStatus    KycStatus  `json:"kyc_status" gorm:"default:'none'"`
	KycExpiresAt *time.Time `json:"kyc_expires_at"`
	IsAccredited bool       `json:"is_accredited" gorm:"default:false"`

	// 封禁信息
	IsBanned  bool   `json:"is_banned" gorm:"default:false"`
	BanReason string `json:"ban_reason"`

	// 地区信息
	Country string `json:"country"` // ISO 3166-1 alpha-2
}

// TableName 自定义表名
func (ParticipantModel) TableName() string {
	return "participant"
}

// KycStatus KYC状态
type KycStatus string

const (
	KycStatusNone     KycStatus = "none"     // 未提交
	KycStatusPending  KycStatus = "pending"  // 审核中
	KycStatusApproved KycStatus = "approved" // 已通过
	KycStatusRejected KycStatus = "rejected" // 已拒绝
)
