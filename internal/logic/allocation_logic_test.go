package logic

import (
	"testing"
	"time"

	"github.com/blues/lps/internal/apperr"
	"github.com/blues/lps/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuaranteedUnderCap(t *testing.T) {
	db := newTestDB(t)
	deal := createDeal(t, db, model.DealStatusGuaranteedAllocation, 10000)

	bronze := createParticipant(t, db, model.TierBronze)
	silver := createParticipant(t, db, model.TierSilver)
	gold := createParticipant(t, db, model.TierGold)
	for _, p := range []*model.ParticipantModel{bronze, silver, gold} {
		registerForDeal(t, db, p.Id, deal.Id)
	}

	logic := NewAllocationLogic(db)
	results, err := logic.CalculateAllocations(deal.Id, model.AllocationMethodGuaranteed, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)

	amounts := amountsByParticipant(results)
	// 总额 850 未超过硬顶，按等级表原值分配
	assert.True(t, amounts[bronze.Id].Equal(decimal.NewFromInt(100)))
	assert.True(t, amounts[silver.Id].Equal(decimal.NewFromInt(250)))
	assert.True(t, amounts[gold.Id].Equal(decimal.NewFromInt(500)))

	var rows []model.AllocationModel
	require.NoError(t, db.Where("deal_id = ?", deal.Id).Find(&rows).Error)
	require.Len(t, rows, 3)
	for _, row := range rows {
		assert.Equal(t, model.AllocationMethodGuaranteed, row.AllocationMethod)
		assert.True(t, row.GuaranteedAmount.Equal(row.FinalAmount))
	}
}

func TestGuaranteedScalingOverCap(t *testing.T) {
	db := newTestDB(t)
	deal := createDeal(t, db, model.DealStatusGuaranteedAllocation, 1000)

	bronze := createParticipant(t, db, model.TierBronze)
	silver := createParticipant(t, db, model.TierSilver)
	gold := createParticipant(t, db, model.TierGold)
	for _, p := range []*model.ParticipantModel{bronze, silver, gold} {
		registerForDeal(t, db, p.Id, deal.Id)
	}

	cfg := &AllocationConfig{
		Guaranteed: &GuaranteedConfig{
			TierAmounts: map[model.TierLevel]decimal.Decimal{
				model.TierBronze: decimal.NewFromInt(200),
				model.TierSilver: decimal.NewFromInt(500),
				model.TierGold:   decimal.NewFromInt(1000),
			},
		},
	}

	logic := NewAllocationLogic(db)
	results, err := logic.CalculateAllocations(deal.Id, model.AllocationMethodGuaranteed, cfg)
	require.NoError(t, err)
	require.Len(t, results, 3)

	// 原始总额 1700 超过硬顶 1000，每人按 1000/1700 等比缩放
	amounts := amountsByParticipant(results)
	assert.True(t, amounts[bronze.Id].Equal(decimal.RequireFromString("117.647058823529411764")),
		"got %s", amounts[bronze.Id])
	assert.True(t, amounts[silver.Id].Equal(decimal.RequireFromString("294.117647058823529411")),
		"got %s", amounts[silver.Id])
	assert.True(t, amounts[gold.Id].Equal(decimal.RequireFromString("588.235294117647058823")),
		"got %s", amounts[gold.Id])

	sum := decimal.Zero
	for _, r := range results {
		sum = sum.Add(r.Amount)
	}
	assert.True(t, sum.LessThanOrEqual(deal.HardCap))
	assert.True(t, deal.HardCap.Sub(sum).LessThan(decimal.RequireFromString("0.000000001")),
		"sum %s should be within precision of hard cap", sum)
}

func TestProRataCappedAtMaxContribution(t *testing.T) {
	db := newTestDB(t)
	deal := createDeal(t, db, model.DealStatusSettlement, 1000)
	deal.MaxContribution = decimal.NewFromInt(400)
	require.NoError(t, db.Save(deal).Error)

	p1 := createParticipant(t, db, model.TierBronze)
	p2 := createParticipant(t, db, model.TierBronze)
	registerForDeal(t, db, p1.Id, deal.Id)
	registerForDeal(t, db, p2.Id, deal.Id)

	now := time.Now()
	createContribution(t, db, p1.Id, deal.Id, 100, model.ContributionStatusConfirmed, now)
	createContribution(t, db, p2.Id, deal.Id, 300, model.ContributionStatusConfirmed, now)

	logic := NewAllocationLogic(db)
	results, err := logic.CalculateAllocations(deal.Id, model.AllocationMethodProRata, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	amounts := amountsByParticipant(results)
	// p1 按权重应得 250；p2 应得 750 但被单人上限 400 封顶
	assert.True(t, amounts[p1.Id].Equal(decimal.NewFromInt(250)), "got %s", amounts[p1.Id])
	assert.True(t, amounts[p2.Id].Equal(decimal.NewFromInt(400)), "got %s", amounts[p2.Id])

	sum := decimal.Zero
	for _, r := range results {
		sum = sum.Add(r.Amount)
		assert.True(t, r.Amount.LessThanOrEqual(deal.MaxContribution))
	}
	assert.True(t, sum.LessThanOrEqual(deal.HardCap))
}

func TestProRataWeightedUsesTierMultiplier(t *testing.T) {
	db := newTestDB(t)
	deal := createDeal(t, db, model.DealStatusSettlement, 900)

	bronze := createParticipant(t, db, model.TierBronze)   // 乘数 1.0
	diamond := createParticipant(t, db, model.TierDiamond) // 乘数 3.0
	registerForDeal(t, db, bronze.Id, deal.Id)
	registerForDeal(t, db, diamond.Id, deal.Id)

	now := time.Now()
	createContribution(t, db, bronze.Id, deal.Id, 100, model.ContributionStatusConfirmed, now)
	createContribution(t, db, diamond.Id, deal.Id, 100, model.ContributionStatusConfirmed, now)

	logic := NewAllocationLogic(db)
	results, err := logic.CalculateAllocations(deal.Id, model.AllocationMethodProRata,
		&AllocationConfig{ProRata: &ProRataConfig{Weighted: true}})
	require.NoError(t, err)

	amounts := amountsByParticipant(results)
	// 权重 100 对 300，池子 900 → 225 对 675
	assert.True(t, amounts[bronze.Id].Equal(decimal.NewFromInt(225)), "got %s", amounts[bronze.Id])
	assert.True(t, amounts[diamond.Id].Equal(decimal.NewFromInt(675)), "got %s", amounts[diamond.Id])
}

func TestProRataZeroTotalWeight(t *testing.T) {
	db := newTestDB(t)
	deal := createDeal(t, db, model.DealStatusSettlement, 1000)
	p := createParticipant(t, db, model.TierBronze)
	registerForDeal(t, db, p.Id, deal.Id)

	logic := NewAllocationLogic(db)
	results, err := logic.CalculateAllocations(deal.Id, model.AllocationMethodProRata, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestLotteryDeterministicWithSeed(t *testing.T) {
	db := newTestDB(t)
	deal := createDeal(t, db, model.DealStatusSettlement, 250)

	var participants []*model.ParticipantModel
	tiers := []model.TierLevel{model.TierBronze, model.TierSilver, model.TierGold, model.TierPlatinum, model.TierDiamond}
	for _, tier := range tiers {
		p := createParticipant(t, db, tier)
		registerForDeal(t, db, p.Id, deal.Id)
		participants = append(participants, p)
	}

	seed := int64(42)
	cfg := &AllocationConfig{Lottery: &LotteryConfig{
		Seed:             &seed,
		MaxWinners:       3,
		WinnerAllocation: decimal.NewFromInt(100),
	}}

	logic := NewAllocationLogic(db)
	first, err := logic.CalculateAllocations(deal.Id, model.AllocationMethodLottery, cfg)
	require.NoError(t, err)
	second, err := logic.CalculateAllocations(deal.Id, model.AllocationMethodLottery, cfg)
	require.NoError(t, err)

	// 每个合格参与者恰好出现一次
	require.Len(t, first, len(participants))
	require.Len(t, second, len(participants))

	// 中签人数 = min(maxWinners, floor(hardCap/winnerAllocation)) = min(3, 2) = 2
	assert.Equal(t, 2, countWinners(first))
	assert.Equal(t, 2, countWinners(second))

	// 相同种子必须产生相同的中签集合
	firstWinners := winnerSet(first)
	assert.Equal(t, firstWinners, winnerSet(second))

	for _, r := range first {
		require.NotNil(t, r.LotteryTickets)
		require.NotNil(t, r.LotteryWon)
		if *r.LotteryWon {
			assert.True(t, r.Amount.Equal(decimal.NewFromInt(100)))
		} else {
			assert.True(t, r.Amount.IsZero())
		}
	}
}

func TestLotteryUnseededWinnerCount(t *testing.T) {
	db := newTestDB(t)
	deal := createDeal(t, db, model.DealStatusSettlement, 1000)

	for i := 0; i < 4; i++ {
		p := createParticipant(t, db, model.TierSilver)
		registerForDeal(t, db, p.Id, deal.Id)
	}

	cfg := &AllocationConfig{Lottery: &LotteryConfig{
		MaxWinners:       2,
		WinnerAllocation: decimal.NewFromInt(50),
	}}

	logic := NewAllocationLogic(db)
	results, err := logic.CalculateAllocations(deal.Id, model.AllocationMethodLottery, cfg)
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.Equal(t, 2, countWinners(results))
}

func TestLotteryMissingConfigRejected(t *testing.T) {
	db := newTestDB(t)
	logic := NewAllocationLogic(db)

	_, err := logic.CalculateAllocations(1, model.AllocationMethodLottery, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestFCFSStrictArrivalOrder(t *testing.T) {
	db := newTestDB(t)
	deal := createDeal(t, db, model.DealStatusSettlement, 1000)

	p1 := createParticipant(t, db, model.TierBronze)
	p2 := createParticipant(t, db, model.TierBronze)
	p3 := createParticipant(t, db, model.TierBronze)
	for _, p := range []*model.ParticipantModel{p1, p2, p3} {
		registerForDeal(t, db, p.Id, deal.Id)
	}

	base := time.Now().Add(-time.Hour)
	createContribution(t, db, p1.Id, deal.Id, 600, model.ContributionStatusConfirmed, base.Add(1*time.Minute))
	createContribution(t, db, p2.Id, deal.Id, 600, model.ContributionStatusConfirmed, base.Add(2*time.Minute))
	createContribution(t, db, p3.Id, deal.Id, 500, model.ContributionStatusConfirmed, base.Add(3*time.Minute))

	logic := NewAllocationLogic(db)
	results, err := logic.CalculateAllocations(deal.Id, model.AllocationMethodFCFS, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)

	amounts := amountsByParticipant(results)
	// C1 全额 600；C2 只拿到剩余 400；池子耗尽后 C3 为零
	assert.True(t, amounts[p1.Id].Equal(decimal.NewFromInt(600)), "got %s", amounts[p1.Id])
	assert.True(t, amounts[p2.Id].Equal(decimal.NewFromInt(400)), "got %s", amounts[p2.Id])
	assert.True(t, amounts[p3.Id].IsZero(), "got %s", amounts[p3.Id])
}

func TestFCFSSkipsIneligibleTier(t *testing.T) {
	db := newTestDB(t)
	deal := createDeal(t, db, model.DealStatusSettlement, 1000)
	minTier := int(model.TierGold)
	deal.MinTierRequired = &minTier
	require.NoError(t, db.Save(deal).Error)

	bronze := createParticipant(t, db, model.TierBronze)
	gold := createParticipant(t, db, model.TierGold)
	registerForDeal(t, db, bronze.Id, deal.Id)
	registerForDeal(t, db, gold.Id, deal.Id)

	base := time.Now().Add(-time.Hour)
	createContribution(t, db, bronze.Id, deal.Id, 800, model.ContributionStatusConfirmed, base)
	createContribution(t, db, gold.Id, deal.Id, 300, model.ContributionStatusConfirmed, base.Add(time.Minute))

	logic := NewAllocationLogic(db)
	results, err := logic.CalculateAllocations(deal.Id, model.AllocationMethodFCFS, nil)
	require.NoError(t, err)

	// 青铜在先但等级不足，被跳过且不占池子
	require.Len(t, results, 1)
	assert.Equal(t, gold.Id, results[0].ParticipantId)
	assert.True(t, results[0].Amount.Equal(decimal.NewFromInt(300)))
}

func TestHybridSplitsMustSumToHundred(t *testing.T) {
	db := newTestDB(t)
	logic := NewAllocationLogic(db)

	cfg := &AllocationConfig{Hybrid: &HybridConfig{Splits: []HybridSplit{
		{Method: model.AllocationMethodGuaranteed, Percent: decimal.NewFromInt(50)},
		{Method: model.AllocationMethodFCFS, Percent: decimal.NewFromInt(49)},
	}}}

	// 校验先于任何数据库访问，轮次不存在也应返回校验错误
	_, err := logic.CalculateAllocations(999, model.AllocationMethodHybrid, cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	cfg.Hybrid.Splits[1].Percent = decimal.NewFromInt(51)
	_, err = logic.CalculateAllocations(999, model.AllocationMethodHybrid, cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestHybridMergesAndPreservesLotteryFields(t *testing.T) {
	db := newTestDB(t)
	deal := createDeal(t, db, model.DealStatusSettlement, 1000)

	p1 := createParticipant(t, db, model.TierBronze)
	p2 := createParticipant(t, db, model.TierBronze)
	registerForDeal(t, db, p1.Id, deal.Id)
	registerForDeal(t, db, p2.Id, deal.Id)

	seed := int64(7)
	cfg := &AllocationConfig{Hybrid: &HybridConfig{Splits: []HybridSplit{
		{Method: model.AllocationMethodGuaranteed, Percent: decimal.NewFromInt(50)},
		{
			Method:  model.AllocationMethodLottery,
			Percent: decimal.NewFromInt(50),
			Config: &AllocationConfig{Lottery: &LotteryConfig{
				Seed:             &seed,
				MaxWinners:       1,
				WinnerAllocation: decimal.NewFromInt(400),
			}},
		},
	}}}

	logic := NewAllocationLogic(db)
	results, err := logic.CalculateAllocations(deal.Id, model.AllocationMethodHybrid, cfg)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// 保底子池：每人 100，合计 200 ≤ 500 不缩放；抽签子池：1 名中签者 400 ≤ 500
	winners := 0
	total := decimal.Zero
	for _, r := range results {
		require.NotNil(t, r.LotteryTickets, "抽签字段应从抽签子池保留")
		require.NotNil(t, r.LotteryWon)
		if *r.LotteryWon {
			winners++
			assert.True(t, r.Amount.Equal(decimal.NewFromInt(500)), "got %s", r.Amount)
		} else {
			assert.True(t, r.Amount.Equal(decimal.NewFromInt(100)), "got %s", r.Amount)
		}
		total = total.Add(r.Amount)
	}
	assert.Equal(t, 1, winners)
	assert.True(t, total.Equal(decimal.NewFromInt(600)))

	var rows []model.AllocationModel
	require.NoError(t, db.Where("deal_id = ?", deal.Id).Find(&rows).Error)
	for _, row := range rows {
		assert.Equal(t, model.AllocationMethodHybrid, row.AllocationMethod)
	}
}

func TestHybridScalesSubPoolDown(t *testing.T) {
	db := newTestDB(t)
	deal := createDeal(t, db, model.DealStatusSettlement, 1000)

	p1 := createParticipant(t, db, model.TierBronze)
	p2 := createParticipant(t, db, model.TierBronze)
	registerForDeal(t, db, p1.Id, deal.Id)
	registerForDeal(t, db, p2.Id, deal.Id)

	cfg := &AllocationConfig{Hybrid: &HybridConfig{Splits: []HybridSplit{
		{Method: model.AllocationMethodGuaranteed, Percent: decimal.NewFromInt(10)},
		{Method: model.AllocationMethodFCFS, Percent: decimal.NewFromInt(90)},
	}}}

	logic := NewAllocationLogic(db)
	results, err := logic.CalculateAllocations(deal.Id, model.AllocationMethodHybrid, cfg)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// 保底子池 100，原始 200 → 每人缩到 50；FCFS 子池无出资贡献为零
	amounts := amountsByParticipant(results)
	assert.True(t, amounts[p1.Id].Equal(decimal.NewFromInt(50)), "got %s", amounts[p1.Id])
	assert.True(t, amounts[p2.Id].Equal(decimal.NewFromInt(50)), "got %s", amounts[p2.Id])
}

func TestUnknownMethodRejected(t *testing.T) {
	db := newTestDB(t)
	logic := NewAllocationLogic(db)

	_, err := logic.CalculateAllocations(1, "vickrey_auction", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCalculateAfterFinalizationRejected(t *testing.T) {
	db := newTestDB(t)
	deal := createDeal(t, db, model.DealStatusSettlement, 1000)
	p := createParticipant(t, db, model.TierBronze)

	allocation := registerForDeal(t, db, p.Id, deal.Id)
	now := time.Now()
	require.NoError(t, db.Model(allocation).Updates(map[string]interface{}{
		"is_finalized": true,
		"finalized_at": &now,
	}).Error)

	logic := NewAllocationLogic(db)
	_, err := logic.CalculateAllocations(deal.Id, model.AllocationMethodGuaranteed, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrAlreadyFinalized)
}

func amountsByParticipant(results []AllocationResult) map[int64]decimal.Decimal {
	amounts := make(map[int64]decimal.Decimal, len(results))
	for _, r := range results {
		amounts[r.ParticipantId] = r.Amount
	}
	return amounts
}

func countWinners(results []AllocationResult) int {
	count := 0
	for _, r := range results {
		if r.LotteryWon != nil && *r.LotteryWon {
			count++
		}
	}
	return count
}

func winnerSet(results []AllocationResult) map[int64]bool {
	winners := make(map[int64]bool)
	for _, r := range results {
		if r.LotteryWon != nil && *r.LotteryWon {
			winners[r.ParticipantId] = true
		}
	}
	return winners
}
