package model

import (
	"time"
)

// AuditLogModel 审计日志，只追加不修改
type AuditLogModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Actor        string `json:"actor" gorm:"not null"`
	Action       string `json:"action" gorm:"not null;index"`
	ResourceType string `json:"resource_type" gorm:"not null"`
	ResourceId   int64  `json:"resource_id" gorm:"not null;index"`
	Metadata     string `json:"metadata" gorm:"type:text"` // JSON
}

// TableName 自定义表名
func (AuditLogModel) TableName() string {
	return "audit_log"
}

// 审计动作
const (
	AuditActionStatusTransition     = "deal.status_transition"
	AuditActionAllocationCalculated = "deal.allocations_calculated"
	AuditActionAllocationFinalized  = "deal.allocations_finalized"
	AuditActionRefundProcessed      = "deal.refund_processed"
	AuditActionDealCancelled        = "deal.cancelled"
)
