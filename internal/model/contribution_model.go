package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ContributionModel 出资记录
type ContributionModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"` // 严格按创建时间确定先到先得顺序
	UpdatedAt time.Time `json:"updated_at"`

	ParticipantId int64              `json:"participant_id" gorm:"not null;index"`
	DealId        int64              `json:"deal_id" gorm:"not null;index"`
	Amount        decimal.Decimal    `json:"amount" gorm:"type:numeric(38,18);not null"`
	Status        ContributionStatus `json:"status" gorm:"default:'pending'"`
	TxHash        string             `json:"tx_hash" gorm:"uniqueIndex"`

	// 退款信息（结算后写入）
	RefundAmount *decimal.Decimal `json:"refund_amount" gorm:"type:numeric(38,18)"`
	RefundedAt   *time.Time       `json:"refunded_at"`
}

// TableName 自定义表名
func (ContributionModel) TableName() string {
	return "contribution"
}

// ContributionStatus 出资状态
type ContributionStatus string

const (
	ContributionStatusPending   ContributionStatus = "pending"   // 待确认
	ContributionStatusConfirmed ContributionStatus = "confirmed" // 已确认
	ContributionStatusRefunded  ContributionStatus = "refunded"  // 已退款
)
