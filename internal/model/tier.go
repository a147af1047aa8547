package model

import (
	"github.com/shopspring/decimal"
)

// TierLevel 参与者等级，按质押量排序
type TierLevel int

const (
	TierBronze   TierLevel = 1 // 青铜
	TierSilver   TierLevel = 2 // 白银
	TierGold     TierLevel = 3 // 黄金
	TierPlatinum TierLevel = 4 // 铂金
	TierDiamond  TierLevel = 5 // 钻石
)

// String 等级名称
func (t TierLevel) String() string {
	switch t {
	case TierBronze:
		return "bronze"
	case TierSilver:
		return "silver"
	case TierGold:
		return "gold"
	case TierPlatinum:
		return "platinum"
	case TierDiamond:
		return "diamond"
	default:
		return "none"
	}
}

// TierConfig 等级静态配置
type TierConfig struct {
	Level            TierLevel
	MinStake         decimal.Decimal // 最低质押量
	LockDays         int             // 要求锁定天数
	Multiplier       decimal.Decimal // 加权分配乘数
	LotteryTickets   int             // 抽签票数
	GuaranteedAmount decimal.Decimal // 默认保底分配额
}

// tierTable 等级配置表，进程启动时构建一次，之后只读
var tierTable = []TierConfig{
	{Level: TierBronze, MinStake: decimal.NewFromInt(1000), LockDays: 7, Multiplier: decimal.NewFromFloat(1.0), LotteryTickets: 1, GuaranteedAmount: decimal.NewFromInt(100)},
	{Level: TierSilver, MinStake: decimal.NewFromInt(5000), LockDays: 14, Multiplier: decimal.NewFromFloat(1.25), LotteryTickets: 3, GuaranteedAmount: decimal.NewFromInt(250)},
	{Level: TierGold, MinStake: decimal.NewFromInt(20000), LockDays: 30, Multiplier: decimal.NewFromFloat(1.5), LotteryTickets: 6, GuaranteedAmount: decimal.NewFromInt(500)},
	{Level: TierPlatinum, MinStake: decimal.NewFromInt(50000), LockDays: 60, Multiplier: decimal.NewFromFloat(2.0), LotteryTickets: 10, GuaranteedAmount: decimal.NewFromInt(1000)},
	{Level: TierDiamond, MinStake: decimal.NewFromInt(100000), LockDays: 90, Multiplier: decimal.NewFromFloat(3.0), LotteryTickets: 20, GuaranteedAmount: decimal.NewFromInt(2500)},
}

// TierConfigs 返回按等级升序的配置表副本
func TierConfigs() []TierConfig {
	configs := make([]TierConfig, len(tierTable))
	copy(configs, tierTable)
	return configs
}

// GetTierConfig 获取指定等级的配置
func GetTierConfig(level TierLevel) (TierConfig, bool) {
	for _, cfg := range tierTable {
		if cfg.Level == level {
			return cfg, true
		}
	}
	return TierConfig{}, false
}
