package logic

import (
	"errors"
	"fmt"
	"time"

	"github.com/blues/lps/internal/apperr"
	"github.com/blues/lps/internal/logger"
	"github.com/blues/lps/internal/model"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// transitionTable 合法状态迁移表；不在表内的迁移一律拒绝
var transitionTable = map[model.DealStatus][]model.DealStatus{
	model.DealStatusDraft:                {model.DealStatusUnderReview, model.DealStatusCancelled},
	model.DealStatusUnderReview:          {model.DealStatusApproved, model.DealStatusCancelled},
	model.DealStatusApproved:             {model.DealStatusRegistrationOpen, model.DealStatusCancelled},
	model.DealStatusRegistrationOpen:     {model.DealStatusGuaranteedAllocation, model.DealStatusCancelled},
	model.DealStatusGuaranteedAllocation: {model.DealStatusFCFS, model.DealStatusSettlement, model.DealStatusCancelled},
	model.DealStatusFCFS:                 {model.DealStatusSettlement, model.DealStatusCancelled},
	model.DealStatusSettlement:           {model.DealStatusDistributing, model.DealStatusCancelled},
	model.DealStatusDistributing:         {model.DealStatusCompleted, model.DealStatusCancelled},
	model.DealStatusCompleted:            {},
	model.DealStatusCancelled:            {},
}

// phaseForStatus 状态对应的阶段记录
func phaseForStatus(status model.DealStatus) (string, int, bool) {
	switch status {
	case model.DealStatusRegistrationOpen:
		return model.PhaseRegistration, 1, true
	case model.DealStatusGuaranteedAllocation:
		return model.PhaseGuaranteedAllocation, 2, true
	case model.DealStatusFCFS:
		return model.PhaseFCFS, 3, true
	case model.DealStatusSettlement:
		return model.PhaseSettlement, 4, true
	case model.DealStatusDistributing:
		return model.PhaseDistributing, 5, true
	default:
		return "", 0, false
	}
}

// LifecycleLogic 轮次生命周期业务逻辑
type LifecycleLogic struct {
	db *gorm.DB
}

// NewLifecycleLogic 创建轮次生命周期业务逻辑
func NewLifecycleLogic(db *gorm.DB) *LifecycleLogic {
	return &LifecycleLogic{db: db}
}

// CanTransitionTo 判断迁移是否合法，纯查表
func (l *LifecycleLogic) CanTransitionTo(deal *model.DealModel, target model.DealStatus) bool {
	for _, allowed := range transitionTable[deal.Status] {
		if allowed == target {
			return true
		}
	}
	return false
}

// SubmitForReview 提交审核
func (l *LifecycleLogic) SubmitForReview(dealId int64, actor string) (*model.DealModel, error) {
	return l.transition(dealId, model.DealStatusUnderReview, actor, nil)
}

// ApproveDeal 审核通过
func (l *LifecycleLogic) ApproveDeal(dealId int64, actor string) (*model.DealModel, error) {
	return l.transition(dealId, model.DealStatusApproved, actor, nil)
}

// OpenRegistration 开放注册
func (l *LifecycleLogic) OpenRegistration(dealId int64, actor string) (*model.DealModel, error) {
	return l.transition(dealId, model.DealStatusRegistrationOpen, actor, func(tx *gorm.DB, deal *model.DealModel) error {
		if deal.RegistrationOpenAt == nil {
			now := time.Now()
			deal.RegistrationOpenAt = &now
		}
		return nil
	})
}

// CloseRegistration 截止注册，快照已注册参与者数量
func (l *LifecycleLogic) CloseRegistration(dealId int64, actor string) (*model.DealModel, error) {
	return l.transition(dealId, model.DealStatusGuaranteedAllocation, actor, func(tx *gorm.DB, deal *model.DealModel) error {
		now := time.Now()
		if deal.RegistrationCloseAt == nil {
			deal.RegistrationCloseAt = &now
		}

		var registered int64
		if err := tx.Model(&model.AllocationModel{}).
			Where("deal_id = ?", deal.Id).
			Count(&registered).Error; err != nil {
			return fmt.Errorf("统计注册人数失败: %w", err)
		}
		deal.ContributorCount = registered
		return nil
	})
}

// OpenContributions 开放公开出资窗口
func (l *LifecycleLogic) OpenContributions(dealId int64, actor string) (*model.DealModel, error) {
	return l.transition(dealId, model.DealStatusFCFS, actor, func(tx *gorm.DB, deal *model.DealModel) error {
		if deal.ContributionOpenAt == nil {
			now := time.Now()
			deal.ContributionOpenAt = &now
		}
		return nil
	})
}

// CloseContributions 截止出资并进入结算
func (l *LifecycleLogic) CloseContributions(dealId int64, actor string) (*model.DealModel, error) {
	return l.transition(dealId, model.DealStatusSettlement, actor, func(tx *gorm.DB, deal *model.DealModel) error {
		if deal.ContributionCloseAt == nil {
			now := time.Now()
			deal.ContributionCloseAt = &now
		}

		// 未最终化的分配行进入待结算集合，由最终化服务统一锁定
		var pending int64
		if err := tx.Model(&model.AllocationModel{}).
			Where("deal_id = ? AND is_finalized = ?", deal.Id, false).
			Count(&pending).Error; err != nil {
			return fmt.Errorf("统计待结算分配失败: %w", err)
		}
		logger.Info("Deal %d entering settlement with %d pending allocations", deal.Id, pending)
		return nil
	})
}

// StartDistribution 开始分发，要求分配已最终化
func (l *LifecycleLogic) StartDistribution(dealId int64, actor string) (*model.DealModel, error) {
	return l.transition(dealId, model.DealStatusDistributing, actor, func(tx *gorm.DB, deal *model.DealModel) error {
		if deal.CommitmentRoot == nil {
			return apperr.NewValidation("分配尚未最终化，无法开始分发")
		}
		if deal.DistributionAt == nil {
			now := time.Now()
			deal.DistributionAt = &now
		}
		return nil
	})
}

// CompleteDeal 完成轮次
func (l *LifecycleLogic) CompleteDeal(dealId int64, actor string) (*model.DealModel, error) {
	return l.transition(dealId, model.DealStatusCompleted, actor, nil)
}

// CancelDeal 取消轮次，所有待确认/已确认出资标记为待退款
func (l *LifecycleLogic) CancelDeal(dealId int64, actor string) (*model.DealModel, error) {
	return l.transition(dealId, model.DealStatusCancelled, actor, func(tx *gorm.DB, deal *model.DealModel) error {
		var contributions []model.ContributionModel
		err := tx.Where("deal_id = ? AND status IN ?", deal.Id,
			[]model.ContributionStatus{model.ContributionStatusPending, model.ContributionStatusConfirmed}).
			Find(&contributions).Error
		if err != nil {
			return fmt.Errorf("查询出资记录失败: %w", err)
		}

		liability := decimal.Zero
		for _, c := range contributions {
			amount := c.Amount
			if err := tx.Model(&model.ContributionModel{}).
				Where("id = ?", c.Id).
				Update("refund_amount", amount).Error; err != nil {
				return fmt.Errorf("标记出资待退款失败: %w", err)
			}
			liability = liability.Add(amount)
		}

		return writeAuditLog(tx, actor, model.AuditActionDealCancelled, "deal", deal.Id, map[string]interface{}{
			"flagged_contributions": len(contributions),
			"refund_liability":      liability.String(),
		})
	})
}

// GetDealCurrentPhase 获取当前激活阶段，终态轮次返回 nil
func (l *LifecycleLogic) GetDealCurrentPhase(dealId int64) (*model.DealPhaseModel, error) {
	var deal model.DealModel
	if err := l.db.First(&deal, dealId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NewNotFound("轮次", dealId)
		}
		return nil, fmt.Errorf("获取轮次失败: %w", err)
	}

	var phase model.DealPhaseModel
	err := l.db.Where("deal_id = ? AND is_active = ?", dealId, true).First(&phase).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询当前阶段失败: %w", err)
	}

	return &phase, nil
}

// TransitionDealPhase 基于时间的自动推进：检查调度时间戳，到期则前进一步。
// 幂等，无可满足条件时为空操作。
func (l *LifecycleLogic) TransitionDealPhase(dealId int64) (*model.DealModel, bool, error) {
	var deal model.DealModel
	if err := l.db.First(&deal, dealId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, apperr.NewNotFound("轮次", dealId)
		}
		return nil, false, fmt.Errorf("获取轮次失败: %w", err)
	}

	now := time.Now()
	const actor = "scheduler"

	switch deal.Status {
	case model.DealStatusApproved:
		if deal.RegistrationOpenAt != nil && !now.Before(*deal.RegistrationOpenAt) {
			updated, err := l.OpenRegistration(dealId, actor)
			return updated, err == nil, err
		}
	case model.DealStatusRegistrationOpen:
		if deal.RegistrationCloseAt != nil && !now.Before(*deal.RegistrationCloseAt) {
			updated, err := l.CloseRegistration(dealId, actor)
			return updated, err == nil, err
		}
	case model.DealStatusGuaranteedAllocation:
		if deal.ContributionOpenAt != nil && !now.Before(*deal.ContributionOpenAt) {
			updated, err := l.OpenContributions(dealId, actor)
			return updated, err == nil, err
		}
	case model.DealStatusFCFS:
		if deal.ContributionCloseAt != nil && !now.Before(*deal.ContributionCloseAt) {
			updated, err := l.CloseContributions(dealId, actor)
			return updated, err == nil, err
		}
	case model.DealStatusSettlement:
		if deal.DistributionAt != nil && !now.Before(*deal.DistributionAt) && deal.CommitmentRoot != nil {
			updated, err := l.StartDistribution(dealId, actor)
			return updated, err == nil, err
		}
	}

	return &deal, false, nil
}

// transition 执行一次状态迁移：校验合法性、更新状态与时间戳、
// 维护阶段记录（至多一个激活）、写审计日志；整体单事务，失败不留痕。
func (l *LifecycleLogic) transition(dealId int64, target model.DealStatus, actor string, mutate func(tx *gorm.DB, deal *model.DealModel) error) (*model.DealModel, error) {
	var deal model.DealModel

	err := l.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&deal, dealId).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NewNotFound("轮次", dealId)
			}
			return fmt.Errorf("获取轮次失败: %w", err)
		}

		if !l.CanTransitionTo(&deal, target) {
			return apperr.NewIllegalTransition(string(deal.Status), string(target))
		}

		previous := deal.Status
		deal.Status = target

		if mutate != nil {
			if err := mutate(tx, &deal); err != nil {
				return err
			}
		}

		if err := tx.Save(&deal).Error; err != nil {
			return fmt.Errorf("更新轮次状态失败: %w", err)
		}

		if err := l.updatePhases(tx, &deal); err != nil {
			return err
		}

		return writeAuditLog(tx, actor, model.AuditActionStatusTransition, "deal", deal.Id, map[string]interface{}{
			"previous_status": string(previous),
			"new_status":      string(target),
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Deal %d transitioned to %s", deal.Id, deal.Status)
	return &deal, nil
}

// updatePhases 停用旧阶段并激活目标状态对应的阶段；终态不留激活阶段
func (l *LifecycleLogic) updatePhases(tx *gorm.DB, deal *model.DealModel) error {
	now := time.Now()

	err := tx.Model(&model.DealPhaseModel{}).
		Where("deal_id = ? AND is_active = ?", deal.Id, true).
		Updates(map[string]interface{}{"is_active": false, "ends_at": &now}).Error
	if err != nil {
		return fmt.Errorf("停用历史阶段失败: %w", err)
	}

	phaseName, orderIndex, ok := phaseForStatus(deal.Status)
	if !ok {
		return nil
	}

	var phase model.DealPhaseModel
	err = tx.Where("deal_id = ? AND phase = ?", deal.Id, phaseName).First(&phase).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		phase = model.DealPhaseModel{
			DealId:     deal.Id,
			Phase:      phaseName,
			OrderIndex: orderIndex,
			StartsAt:   &now,
			IsActive:   true,
		}
		if err := tx.Create(&phase).Error; err != nil {
			return fmt.Errorf("创建阶段记录失败: %w", err)
		}
	case err != nil:
		return fmt.Errorf("查询阶段记录失败: %w", err)
	default:
		updates := map[string]interface{}{"is_active": true, "starts_at": &now, "ends_at": nil}
		if err := tx.Model(&phase).Updates(updates).Error; err != nil {
			return fmt.Errorf("激活阶段记录失败: %w", err)
		}
	}

	return nil
}
