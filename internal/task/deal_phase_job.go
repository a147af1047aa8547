package task

import (
	"time"

	"github.com/blues/lps/internal/config"
	"github.com/blues/lps/internal/logger"
	"github.com/blues/lps/internal/logic"
	"github.com/blues/lps/internal/model"
	"github.com/go-co-op/gocron/v2"
	"gorm.io/gorm"
)

// DealPhaseJob 轮次阶段自动推进任务
type DealPhaseJob struct {
	db             *gorm.DB
	config         *config.Config
	lifecycleLogic *logic.LifecycleLogic
}

// NewDealPhaseJob 创建轮次阶段自动推进任务
func NewDealPhaseJob(db *gorm.DB, cfg *config.Config) *DealPhaseJob {
	return &DealPhaseJob{
		db:             db,
		config:         cfg,
		lifecycleLogic: logic.NewLifecycleLogic(db),
	}
}

// GetName 获取任务名称
func (j *DealPhaseJob) GetName() string {
	return "deal_phase_updater"
}

// GetSchedule 获取调度配置
func (j *DealPhaseJob) GetSchedule() gocron.JobDefinition {
	return gocron.DurationJob(time.Duration(j.config.Task.Interval) * time.Second)
}

// Execute 执行任务
func (j *DealPhaseJob) Execute() {
	logger.Info("Starting deal phase update task")

	// 查找可能需要推进的轮次
	var deals []model.DealModel
	err := j.db.Where("status IN ?", []model.DealStatus{
		model.DealStatusApproved,
		model.DealStatusRegistrationOpen,
		model.DealStatusGuaranteedAllocation,
		model.DealStatusFCFS,
		model.DealStatusSettlement,
	}).Find(&deals).Error
	if err != nil {
		logger.Error("Failed to fetch deals: %v", err)
		return
	}

	updatedCount := 0
	for _, deal := range deals {
		previous := deal.Status
		updated, transitioned, err := j.lifecycleLogic.TransitionDealPhase(deal.Id)
		if err != nil {
			logger.Error("Failed to transition deal %d: %v", deal.Id, err)
			continue
		}
		if transitioned {
			logger.Info("Advanced deal %d from %s to %s", deal.Id, previous, updated.Status)
			updatedCount++
		}
	}

	logger.Info("Deal phase update completed. Advanced %d deals", updatedCount)
}
