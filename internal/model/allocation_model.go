package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AllocationModel 分配记录，每个 (participant, deal) 一行
type AllocationModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ParticipantId int64 `json:"participant_id" gorm:"not null;uniqueIndex:idx_allocation_participant_deal"`
	DealId        int64 `json:"deal_id" gorm:"not null;uniqueIndex:idx_allocation_participant_deal"`

	// 金额信息
	GuaranteedAmount decimal.Decimal `json:"guaranteed_amount" gorm:"type:numeric(38,18);default:0"`
	RequestedAmount  decimal.Decimal `json:"requested_amount" gorm:"type:numeric(38,18);default:0"`
	FinalAmount      decimal.Decimal `json:"final_amount" gorm:"type:numeric(38,18);default:0"`

	// 分配方式
	AllocationMethod string `json:"allocation_method"`

	// 抽签信息
	LotteryTickets *int  `json:"lottery_tickets"`
	LotteryWon     *bool `json:"lottery_won"`

	// 最终化信息；IsFinalized 为 true 后该行不可再修改
	IsFinalized bool       `json:"is_finalized" gorm:"default:false"`
	FinalizedAt *time.Time `json:"finalized_at"`
	Proof       *string    `json:"proof" gorm:"type:text"` // 序列化的包含性证明
}

// TableName 自定义表名
func (AllocationModel) TableName() string {
	return "allocation"
}

// AllocationMethod 分配方式
const (
	AllocationMethodGuaranteed = "guaranteed" // 保底分配
	AllocationMethodProRata    = "pro_rata"   // 按比例分配
	AllocationMethodLottery    = "lottery"    // 抽签分配
	AllocationMethodFCFS       = "fcfs"       // 先到先得
	AllocationMethodHybrid     = "hybrid"     // 混合分配
)
