package model

import (
	"time"
)

// DealPhaseModel 轮次阶段记录，与状态机互为镜像
type DealPhaseModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	DealId     int64      `json:"deal_id" gorm:"not null;index"`
	Phase      string     `json:"phase" gorm:"not null"`
	OrderIndex int        `json:"order_index" gorm:"not null"`
	StartsAt   *time.Time `json:"starts_at"`
	EndsAt     *time.Time `json:"ends_at"`
	IsActive   bool       `json:"is_active" gorm:"default:false"` // 存活轮次同一时刻至多一个激活阶段
}

// TableName 自定义表名
func (DealPhaseModel) TableName() string {
	return "deal_phase"
}

// 阶段名称
const (
	PhaseRegistration         = "registration"          // 注册阶段
	PhaseGuaranteedAllocation = "guaranteed_allocation" // 保底分配阶段
	PhaseFCFS                 = "fcfs"                  // 先到先得阶段
	PhaseSettlement           = "settlement"            // 结算阶段
	PhaseDistributing         = "distributing"          // 分发阶段
)
