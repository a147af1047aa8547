package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DealModel 代币发售轮次模型
type DealModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// 基本信息
	Name        string `json:"name" gorm:"not null" binding:"required"`
	TokenSymbol string `json:"token_symbol" gorm:"not null"`
	Description string `json:"description" gorm:"type:text"`

	// 募集信息
	HardCap         decimal.Decimal `json:"hard_cap" gorm:"type:numeric(38,18);not null" binding:"required"`
	SoftCap         decimal.Decimal `json:"soft_cap" gorm:"type:numeric(38,18);default:0"`
	MinContribution decimal.Decimal `json:"min_contribution" gorm:"type:numeric(38,18);default:0"`
	MaxContribution decimal.Decimal `json:"max_contribution" gorm:"type:numeric(38,18);default:0"`

	// 参与门槛
	MinTierRequired       *int   `json:"min_tier_required"`
	RequiresAccreditation bool   `json:"requires_accreditation" gorm:"default:false"`
	AllowedCountries      string `json:"allowed_countries"` // 逗号分隔的国家代码，空表示不限制
	BlockedCountries      string `json:"blocked_countries"` // 逗号分隔的国家代码

	// 时间信息
	RegistrationOpenAt  *time.Time `json:"registration_open_at"`
	RegistrationCloseAt *time.Time `json:"registration_close_at"`
	ContributionOpenAt  *time.Time `json:"contribution_open_at"`
	ContributionCloseAt *time.Time `json:"contribution_close_at"`
	DistributionAt      *time.Time `json:"distribution_at"`
	VestingStartAt      *time.Time `json:"vesting_start_at"`

	// 状态
	Status DealStatus `json:"status" gorm:"default:'draft'"`

	// 承诺信息（最终化后写入）
	CommitmentRoot *string `json:"commitment_root"`

	// 统计信息
	TotalRaised      decimal.Decimal `json:"total_raised" gorm:"type:numeric(38,18);default:0"`
	ContributorCount int64           `json:"contributor_count" gorm:"default:0"`
}

// TableName 自定义表名
func (DealModel) TableName() string {
	return "deal"
}

// DealStatus 轮次状态
type DealStatus string

const (
	DealStatusDraft                DealStatus = "draft"                 // 草稿
	DealStatusUnderReview          DealStatus = "under_review"          // 审核中
	DealStatusApproved             DealStatus = "approved"              // 已批准
	DealStatusRegistrationOpen     DealStatus = "registration_open"     // 注册开放
	DealStatusGuaranteedAllocation DealStatus = "guaranteed_allocation" // 保底分配中
	DealStatusFCFS                 DealStatus = "fcfs"                  // 先到先得
	DealStatusSettlement           DealStatus = "settlement"            // 结算中
	DealStatusDistributing         DealStatus = "distributing"          // 分发中
	DealStatusCompleted            DealStatus = "completed"             // 已完成
	DealStatusCancelled            DealStatus = "cancelled"             // 已取消
)

// IsTerminal 判断是否为终态
func (s DealStatus) IsTerminal() bool {
	return s == DealStatusCompleted || s == DealStatusCancelled
}
