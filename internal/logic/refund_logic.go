package logic

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/blues/lps/internal/apperr"
	"github.com/blues/lps/internal/logger"
	"github.com/blues/lps/internal/model"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// RefundEntry 单个参与者的超额退款
type RefundEntry struct {
	ParticipantId int64           `json:"participant_id"`
	WalletAddress string          `json:"wallet_address"`
	Contributed   decimal.Decimal `json:"contributed"`
	Allocated     decimal.Decimal `json:"allocated"`
	RefundAmount  decimal.Decimal `json:"refund_amount"`
}

// RefundSummary 退款汇总
type RefundSummary struct {
	DealId           int64           `json:"deal_id"`
	Entries          []RefundEntry   `json:"entries"`
	TotalContributed decimal.Decimal `json:"total_contributed"`
	TotalRefund      decimal.Decimal `json:"total_refund"`
}

// RefundLogic 超额退款业务逻辑
type RefundLogic struct {
	db *gorm.DB
}

// NewRefundLogic 创建退款业务逻辑
func NewRefundLogic(db *gorm.DB) *RefundLogic {
	return &RefundLogic{db: db}
}

// CalculateRefunds 计算轮次的超额退款：按参与者聚合已确认出资，
// 与其已最终化的分配比较，出资多于分配时产生退款条目。只读操作。
func (r *RefundLogic) CalculateRefunds(dealId int64) (*RefundSummary, error) {
	var deal model.DealModel
	if err := r.db.First(&deal, dealId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NewNotFound("轮次", dealId)
		}
		return nil, fmt.Errorf("获取轮次失败: %w", err)
	}

	contributed, err := confirmedSumsByParticipant(r.db, dealId)
	if err != nil {
		return nil, err
	}

	var allocations []model.AllocationModel
	err = r.db.Where("deal_id = ? AND is_finalized = ?", dealId, true).
		Find(&allocations).Error
	if err != nil {
		return nil, fmt.Errorf("查询最终化分配失败: %w", err)
	}
	allocated := make(map[int64]decimal.Decimal, len(allocations))
	for _, alloc := range allocations {
		allocated[alloc.ParticipantId] = alloc.FinalAmount
	}

	participantIds := make([]int64, 0, len(contributed))
	for id := range contributed {
		participantIds = append(participantIds, id)
	}
	sort.Slice(participantIds, func(i, j int) bool { return participantIds[i] < participantIds[j] })

	wallets := make(map[int64]string)
	if len(participantIds) > 0 {
		var participants []model.ParticipantModel
		if err := r.db.Where("id IN ?", participantIds).Find(&participants).Error; err != nil {
			return nil, fmt.Errorf("查询参与者失败: %w", err)
		}
		for _, p := range participants {
			wallets[p.Id] = p.WalletAddress
		}
	}

	summary := &RefundSummary{
		DealId:           dealId,
		Entries:          []RefundEntry{},
		TotalContributed: decimal.Zero,
		TotalRefund:      decimal.Zero,
	}

	for _, id := range participantIds {
		paid := contributed[id]
		alloc := allocated[id]
		summary.TotalContributed = summary.TotalContributed.Add(paid)

		if paid.GreaterThan(alloc) {
			refund := paid.Sub(alloc)
			summary.Entries = append(summary.Entries, RefundEntry{
				ParticipantId: id,
				WalletAddress: wallets[id],
				Contributed:   paid,
				Allocated:     alloc,
				RefundAmount:  refund,
			})
			summary.TotalRefund = summary.TotalRefund.Add(refund)
		}
	}

	return summary, nil
}

// ProcessRefunds 持久化超额退款：受影响的出资记录标记为已退款并写入退款
// 金额与时间，逐条及轮次级各写一条审计日志。无退款条目时为空操作，
// 仍返回有效的空汇总。
func (r *RefundLogic) ProcessRefunds(dealId int64) (*RefundSummary, error) {
	summary, err := r.CalculateRefunds(dealId)
	if err != nil {
		return nil, err
	}

	if len(summary.Entries) == 0 {
		logger.Info("No oversubscription refunds for deal %d", dealId)
		return summary, nil
	}

	err = r.db.Transaction(func(tx *gorm.DB) error {
		now := time.Now()

		for _, entry := range summary.Entries {
			if err := r.applyRefund(tx, dealId, entry, now); err != nil {
				return err
			}

			if err := writeAuditLog(tx, "refund_calculator", model.AuditActionRefundProcessed, "participant", entry.ParticipantId, map[string]interface{}{
				"deal_id":       dealId,
				"contributed":   entry.Contributed.String(),
				"allocated":     entry.Allocated.String(),
				"refund_amount": entry.RefundAmount.String(),
			}); err != nil {
				return err
			}
		}

		return writeAuditLog(tx, "refund_calculator", model.AuditActionRefundProcessed, "deal", dealId, map[string]interface{}{
			"entry_count":  len(summary.Entries),
			"total_refund": summary.TotalRefund.String(),
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Processed %d refunds for deal %d, total=%s", len(summary.Entries), dealId, summary.TotalRefund)
	return summary, nil
}

// applyRefund 将单个参与者的退款额摊到其出资记录上，后到的出资先退
func (r *RefundLogic) applyRefund(tx *gorm.DB, dealId int64, entry RefundEntry, now time.Time) error {
	var contributions []model.ContributionModel
	err := tx.Where("participant_id = ? AND deal_id = ? AND status = ?",
		entry.ParticipantId, dealId, model.ContributionStatusConfirmed).
		Order("created_at DESC, id DESC").
		Find(&contributions).Error
	if err != nil {
		return fmt.Errorf("查询参与者出资失败: %w", err)
	}

	remaining := entry.RefundAmount
	for _, c := range contributions {
		if !remaining.IsPositive() {
			break
		}

		portion := c.Amount
		if portion.GreaterThan(remaining) {
			portion = remaining
		}

		updates := map[string]interface{}{
			"status":        model.ContributionStatusRefunded,
			"refund_amount": portion,
			"refunded_at":   &now,
		}
		if err := tx.Model(&model.ContributionModel{}).
			Where("id = ?", c.Id).
			Updates(updates).Error; err != nil {
			return fmt.Errorf("标记出资退款失败: %w", err)
		}

		remaining = remaining.Sub(portion)
	}

	return nil
}
