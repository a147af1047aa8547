package logic

import (
	"github.com/blues/lps/internal/apperr"
	"github.com/blues/lps/internal/model"
	"github.com/shopspring/decimal"
)

// AllocationConfig 分配策略配置，按 method 取对应分支。
// 非法形态在进入引擎前即被校验拒绝，引擎内部不再出现无类型配置。
type AllocationConfig struct {
	Guaranteed *GuaranteedConfig `json:"guaranteed,omitempty"`
	ProRata    *ProRataConfig    `json:"pro_rata,omitempty"`
	Lottery    *LotteryConfig    `json:"lottery,omitempty"`
	FCFS       *FCFSConfig       `json:"fcfs,omitempty"`
	Hybrid     *HybridConfig     `json:"hybrid,omitempty"`
}

// GuaranteedConfig 保底分配配置。TierAmounts 按等级覆盖默认保底额，可为空。
type GuaranteedConfig struct {
	TierAmounts map[model.TierLevel]decimal.Decimal `json:"tier_amounts,omitempty"`
}

// ProRataConfig 按比例分配配置。Weighted 为 true 时权重乘以等级乘数。
type ProRataConfig struct {
	Weighted bool `json:"weighted"`
}

// LotteryConfig 抽签分配配置。Seed 非空时洗牌可复现，用于审计；
// 为空时使用密码学安全随机源。
type LotteryConfig struct {
	Seed             *int64          `json:"seed,omitempty"`
	MaxWinners       int             `json:"max_winners"`
	WinnerAllocation decimal.Decimal `json:"winner_allocation"`
}

// FCFSConfig 先到先得配置。PerParticipantCap 为空时取轮次的单人出资上限。
type FCFSConfig struct {
	PerParticipantCap *decimal.Decimal `json:"per_participant_cap,omitempty"`
}

// HybridConfig 混合分配配置，硬顶按百分比切分给各子策略
type HybridConfig struct {
	Splits []HybridSplit `json:"splits"`
}

// HybridSplit 单个子池配置
type HybridSplit struct {
	Method  string            `json:"method"`
	Percent decimal.Decimal   `json:"percent"`
	Config  *AllocationConfig `json:"config,omitempty"`
}

// validateAllocationConfig 校验策略配置，任何数据库访问之前执行
func validateAllocationConfig(method string, cfg *AllocationConfig) error {
	if cfg == nil {
		cfg = &AllocationConfig{}
	}

	switch method {
	case model.AllocationMethodGuaranteed, model.AllocationMethodProRata:
		return nil
	case model.AllocationMethodFCFS:
		if cfg.FCFS != nil && cfg.FCFS.PerParticipantCap != nil && !cfg.FCFS.PerParticipantCap.IsPositive() {
			return apperr.NewValidation("先到先得单人上限必须大于0")
		}
		return nil
	case model.AllocationMethodLottery:
		return validateLotteryConfig(cfg.Lottery)
	case model.AllocationMethodHybrid:
		return validateHybridConfig(cfg.Hybrid)
	default:
		return apperr.NewValidation("未知的分配方式: %s", method)
	}
}

// validateLotteryConfig 校验抽签配置
func validateLotteryConfig(cfg *LotteryConfig) error {
	if cfg == nil {
		return apperr.NewValidation("抽签分配缺少 lottery 配置")
	}
	if cfg.MaxWinners <= 0 {
		return apperr.NewValidation("抽签中签人数上限必须大于0")
	}
	if !cfg.WinnerAllocation.IsPositive() {
		return apperr.NewValidation("中签分配额必须大于0")
	}
	return nil
}

// validateHybridConfig 校验混合配置，各子池百分比之和必须恰好为100
func validateHybridConfig(cfg *HybridConfig) error {
	if cfg == nil || len(cfg.Splits) == 0 {
		return apperr.NewValidation("混合分配缺少 splits 配置")
	}

	total := decimal.Zero
	for _, split := range cfg.Splits {
		if split.Method == model.AllocationMethodHybrid {
			return apperr.NewValidation("混合分配不允许嵌套混合子策略")
		}
		if !split.Percent.IsPositive() {
			return apperr.NewValidation("子池百分比必须大于0: %s", split.Method)
		}
		if err := validateAllocationConfig(split.Method, split.Config); err != nil {
			return err
		}
		total = total.Add(split.Percent)
	}

	if !total.Equal(decimal.NewFromInt(100)) {
		return apperr.NewValidation("子池百分比之和必须为100: 当前%s", total)
	}

	return nil
}
