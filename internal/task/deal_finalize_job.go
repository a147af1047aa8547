package task

import (
	"errors"
	"time"

	"github.com/blues/lps/internal/apperr"
	"github.com/blues/lps/internal/config"
	"github.com/blues/lps/internal/logger"
	"github.com/blues/lps/internal/logic"
	"github.com/blues/lps/internal/model"
	"github.com/go-co-op/gocron/v2"
	"gorm.io/gorm"
)

// DealFinalizeJob 轮次结算任务：对进入结算且尚未生成承诺根的轮次
// 执行分配最终化，退款处理由最终化服务在提交后触发
type DealFinalizeJob struct {
	db            *gorm.DB
	config        *config.Config
	finalizeLogic *logic.FinalizeLogic
}

// NewDealFinalizeJob 创建轮次结算任务
func NewDealFinalizeJob(db *gorm.DB, cfg *config.Config) *DealFinalizeJob {
	return &DealFinalizeJob{
		db:            db,
		config:        cfg,
		finalizeLogic: logic.NewFinalizeLogic(db),
	}
}

// GetName 获取任务名称
func (j *DealFinalizeJob) GetName() string {
	return "deal_finalize_updater"
}

// GetSchedule 获取调度配置
func (j *DealFinalizeJob) GetSchedule() gocron.JobDefinition {
	return gocron.DurationJob(time.Duration(j.config.Task.Interval) * time.Second)
}

// Execute 执行任务
func (j *DealFinalizeJob) Execute() {
	logger.Info("Starting deal finalize task")

	// 查找待结算的轮次
	var deals []model.DealModel
	err := j.db.Where("status = ? AND commitment_root IS NULL", model.DealStatusSettlement).
		Find(&deals).Error
	if err != nil {
		logger.Error("Failed to fetch settlement deals: %v", err)
		return
	}

	finalizedCount := 0
	for _, deal := range deals {
		result, err := j.finalizeLogic.FinalizeAllocations(deal.Id)
		if err != nil {
			// 并发下另一次调用可能已经完成最终化，属正常情况
			if errors.Is(err, apperr.ErrAlreadyFinalized) {
				logger.Warn("Deal %d already finalized, skipping", deal.Id)
				continue
			}
			logger.Error("Failed to finalize deal %d: %v", deal.Id, err)
			continue
		}

		logger.Info("Finalized deal %d: root=%s allocations=%d",
			deal.Id, result.CommitmentRoot, result.AllocationsFinalized)
		finalizedCount++
	}

	logger.Info("Deal finalize task completed. Finalized %d deals", finalizedCount)
}
