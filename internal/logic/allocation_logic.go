package logic

import (
	crand "crypto/rand"
	"errors"
	"fmt"
	"math/big"
	mrand "math/rand"
	"sort"
	"strings"

	"github.com/blues/lps/internal/apperr"
	"github.com/blues/lps/internal/logger"
	"github.com/blues/lps/internal/model"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllocationResult 单个参与者的计算结果
type AllocationResult struct {
	ParticipantId  int64           `json:"participant_id"`
	WalletAddress  string          `json:"wallet_address"`
	Amount         decimal.Decimal `json:"amount"`
	LotteryTickets *int            `json:"lottery_tickets,omitempty"`
	LotteryWon     *bool           `json:"lottery_won,omitempty"`
}

// AllocationLogic 分配引擎业务逻辑
type AllocationLogic struct {
	db          *gorm.DB
	eligibility *EligibilityLogic
}

// NewAllocationLogic 创建分配引擎业务逻辑
func NewAllocationLogic(db *gorm.DB) *AllocationLogic {
	return &AllocationLogic{
		db:          db,
		eligibility: NewEligibilityLogic(db),
	}
}

// RegisterParticipant 为参与者注册轮次，创建初始分配行。
// 注册前执行完整资格检查，任一检查未通过则拒绝。
func (a *AllocationLogic) RegisterParticipant(participantId, dealId int64, requestedAmount decimal.Decimal) (*model.AllocationModel, error) {
	result, err := a.eligibility.CheckEligibility(participantId, dealId, nil)
	if err != nil {
		return nil, err
	}
	if !result.Eligible {
		var reasons []string
		for _, c := range result.Checks {
			if !c.Passed {
				reasons = append(reasons, c.Reason)
			}
		}
		return nil, apperr.NewValidation("参与资格检查未通过: %s", strings.Join(reasons, "; "))
	}

	allocation := model.AllocationModel{
		ParticipantId:   participantId,
		DealId:          dealId,
		RequestedAmount: requestedAmount,
	}
	if err := a.db.Create(&allocation).Error; err != nil {
		return nil, fmt.Errorf("创建分配行失败: %w", err)
	}

	return &allocation, nil
}

// CalculateAllocations 计算并持久化轮次的最终分配。
// 配置校验先于任何数据库访问；持久化为单事务 upsert，
// 以 (participant_id, deal_id) 为键；校验失败时不产生任何写入。
func (a *AllocationLogic) CalculateAllocations(dealId int64, method string, cfg *AllocationConfig) ([]AllocationResult, error) {
	if err := validateAllocationConfig(method, cfg); err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = &AllocationConfig{}
	}

	var deal model.DealModel
	if err := a.db.First(&deal, dealId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NewNotFound("轮次", dealId)
		}
		return nil, fmt.Errorf("获取轮次失败: %w", err)
	}

	participants, err := a.eligibility.EligibleParticipants(dealId)
	if err != nil {
		return nil, err
	}

	results, err := a.computeByMethod(&deal, participants, method, cfg)
	if err != nil {
		return nil, err
	}

	if err := a.persistAllocations(&deal, method, results); err != nil {
		return nil, err
	}

	logger.Info("Calculated allocations for deal %d: method=%s participants=%d", dealId, method, len(results))
	return results, nil
}

// computeByMethod 按策略分发计算，混合策略的子池复用同一入口
func (a *AllocationLogic) computeByMethod(deal *model.DealModel, participants []model.ParticipantModel, method string, cfg *AllocationConfig) ([]AllocationResult, error) {
	switch method {
	case model.AllocationMethodGuaranteed:
		return a.computeGuaranteed(deal, participants, cfg.Guaranteed), nil
	case model.AllocationMethodProRata:
		return a.computeProRata(deal, participants, cfg.ProRata)
	case model.AllocationMethodLottery:
		return a.computeLottery(deal, participants, cfg.Lottery)
	case model.AllocationMethodFCFS:
		return a.computeFCFS(deal, participants, cfg.FCFS)
	case model.AllocationMethodHybrid:
		return a.computeHybrid(deal, participants, cfg.Hybrid)
	default:
		return nil, apperr.NewValidation("未知的分配方式: %s", method)
	}
}

// computeGuaranteed 保底分配：每个合格参与者获得其等级对应的固定额度，
// 原始总额超过硬顶时所有额度按 hardCap/rawTotal 等比缩放。
func (a *AllocationLogic) computeGuaranteed(deal *model.DealModel, participants []model.ParticipantModel, cfg *GuaranteedConfig) []AllocationResult {
	results := make([]AllocationResult, 0, len(participants))
	rawTotal := decimal.Zero

	for _, p := range participants {
		amount := decimal.Zero
		level := model.TierLevel(p.TierLevel)
		if cfg != nil && cfg.TierAmounts != nil {
			if override, ok := cfg.TierAmounts[level]; ok {
				amount = override
			} else if tier, ok := model.GetTierConfig(level); ok {
				amount = tier.GuaranteedAmount
			}
		} else if tier, ok := model.GetTierConfig(level); ok {
			amount = tier.GuaranteedAmount
		}

		rawTotal = rawTotal.Add(amount)
		results = append(results, AllocationResult{
			ParticipantId: p.Id,
			WalletAddress: p.WalletAddress,
			Amount:        amount,
		})
	}

	if rawTotal.GreaterThan(deal.HardCap) {
		for i := range results {
			results[i].Amount = scaleToPool(results[i].Amount, deal.HardCap, rawTotal)
		}
	}

	return results
}

// computeProRata 按比例分配：权重为参与者已确认出资总额，
// weighted 模式下再乘以等级乘数；单人结果以轮次出资上限封顶。
func (a *AllocationLogic) computeProRata(deal *model.DealModel, participants []model.ParticipantModel, cfg *ProRataConfig) ([]AllocationResult, error) {
	weighted := cfg != nil && cfg.Weighted

	sums, err := confirmedSumsByParticipant(a.db, deal.Id)
	if err != nil {
		return nil, err
	}

	weights := make(map[int64]decimal.Decimal, len(participants))
	totalWeight := decimal.Zero
	for _, p := range participants {
		weight := sums[p.Id]
		if weighted {
			if tier, ok := model.GetTierConfig(model.TierLevel(p.TierLevel)); ok {
				weight = weight.Mul(tier.Multiplier)
			}
		}
		weights[p.Id] = weight
		totalWeight = totalWeight.Add(weight)
	}

	// 总权重为零直接返回空结果，避免除零
	if totalWeight.IsZero() {
		return []AllocationResult{}, nil
	}

	results := make([]AllocationResult, 0, len(participants))
	for _, p := range participants {
		amount := scaleToPool(weights[p.Id], deal.HardCap, totalWeight)
		if deal.MaxContribution.IsPositive() && amount.GreaterThan(deal.MaxContribution) {
			amount = deal.MaxContribution
		}
		results = append(results, AllocationResult{
			ParticipantId: p.Id,
			WalletAddress: p.WalletAddress,
			Amount:        amount,
		})
	}

	return results, nil
}

// computeLottery 抽签分配：按等级票数生成票池，Fisher-Yates 洗牌后
// 去重抽取中签者。每个合格参与者在结果中恰好出现一次。
func (a *AllocationLogic) computeLottery(deal *model.DealModel, participants []model.ParticipantModel, cfg *LotteryConfig) ([]AllocationResult, error) {
	tickets := make(map[int64]int, len(participants))
	var pool []int64
	for _, p := range participants {
		count := 0
		if tier, ok := model.GetTierConfig(model.TierLevel(p.TierLevel)); ok {
			count = tier.LotteryTickets
		}
		tickets[p.Id] = count
		for i := 0; i < count; i++ {
			pool = append(pool, p.Id)
		}
	}

	intn := newIntn(cfg.Seed)
	// Fisher-Yates 洗牌；相同种子必然产生相同的中签集合
	for i := len(pool) - 1; i > 0; i-- {
		j := intn(i + 1)
		pool[i], pool[j] = pool[j], pool[i]
	}

	maxWinners := cfg.MaxWinners
	if byCap := poolCapacity(deal.HardCap, cfg.WinnerAllocation); byCap < int64(maxWinners) {
		maxWinners = int(byCap)
	}

	winners := make(map[int64]bool)
	for _, id := range pool {
		if len(winners) >= maxWinners {
			break
		}
		winners[id] = true
	}

	results := make([]AllocationResult, 0, len(participants))
	for _, p := range participants {
		count := tickets[p.Id]
		won := winners[p.Id]
		amount := decimal.Zero
		if won {
			amount = cfg.WinnerAllocation
		}
		ticketCount := count
		wonFlag := won
		results = append(results, AllocationResult{
			ParticipantId:  p.Id,
			WalletAddress:  p.WalletAddress,
			Amount:         amount,
			LotteryTickets: &ticketCount,
			LotteryWon:     &wonFlag,
		})
	}

	return results, nil
}

// computeFCFS 先到先得：已确认出资严格按创建时间升序处理，
// 单人累计至上限、池内累计至硬顶；池耗尽后停止，后续出资不再分配。
func (a *AllocationLogic) computeFCFS(deal *model.DealModel, participants []model.ParticipantModel, cfg *FCFSConfig) ([]AllocationResult, error) {
	eligible := make(map[int64]bool, len(participants))
	for _, p := range participants {
		eligible[p.Id] = true
	}

	var contributions []model.ContributionModel
	err := a.db.
		Where("deal_id = ? AND status = ?", deal.Id, model.ContributionStatusConfirmed).
		Order("created_at ASC, id ASC").
		Find(&contributions).Error
	if err != nil {
		return nil, fmt.Errorf("查询出资记录失败: %w", err)
	}

	perCap := deal.MaxContribution
	if cfg != nil && cfg.PerParticipantCap != nil {
		perCap = *cfg.PerParticipantCap
	}

	allocated := make(map[int64]decimal.Decimal, len(participants))
	remaining := deal.HardCap

	for _, c := range contributions {
		if !remaining.IsPositive() {
			break
		}
		if !eligible[c.ParticipantId] {
			continue
		}

		grant := c.Amount
		if perCap.IsPositive() {
			room := perCap.Sub(allocated[c.ParticipantId])
			if !room.IsPositive() {
				continue
			}
			if grant.GreaterThan(room) {
				grant = room
			}
		}
		if grant.GreaterThan(remaining) {
			grant = remaining
		}

		allocated[c.ParticipantId] = allocated[c.ParticipantId].Add(grant)
		remaining = remaining.Sub(grant)
	}

	results := make([]AllocationResult, 0, len(participants))
	for _, p := range participants {
		results = append(results, AllocationResult{
			ParticipantId: p.Id,
			WalletAddress: p.WalletAddress,
			Amount:        allocated[p.Id],
		})
	}

	return results, nil
}

// computeHybrid 混合分配：硬顶按百分比切分，各子池独立运行子策略后合并。
// 注意：子策略内部仍以轮次完整硬顶为分母计算（例如先到先得的单人上限
// 默认取完整的 max_contribution），仅聚合结果超出子池时整体等比缩减，
// 不放大。
func (a *AllocationLogic) computeHybrid(deal *model.DealModel, participants []model.ParticipantModel, cfg *HybridConfig) ([]AllocationResult, error) {
	hundred := decimal.NewFromInt(100)
	merged := make(map[int64]*AllocationResult)

	for _, split := range cfg.Splits {
		splitCfg := split.Config
		if splitCfg == nil {
			splitCfg = &AllocationConfig{}
		}
		results, err := a.computeByMethod(deal, participants, split.Method, splitCfg)
		if err != nil {
			return nil, err
		}

		subPool := deal.HardCap.Mul(split.Percent).Div(hundred)
		rawTotal := decimal.Zero
		for _, r := range results {
			rawTotal = rawTotal.Add(r.Amount)
		}
		if rawTotal.GreaterThan(subPool) {
			for i := range results {
				results[i].Amount = scaleToPool(results[i].Amount, subPool, rawTotal)
			}
		}

		for _, r := range results {
			entry, ok := merged[r.ParticipantId]
			if !ok {
				entry = &AllocationResult{
					ParticipantId: r.ParticipantId,
					WalletAddress: r.WalletAddress,
					Amount:        decimal.Zero,
				}
				merged[r.ParticipantId] = entry
			}
			entry.Amount = entry.Amount.Add(r.Amount)
			// 抽签字段来自产生它们的子策略
			if r.LotteryTickets != nil {
				entry.LotteryTickets = r.LotteryTickets
			}
			if r.LotteryWon != nil {
				entry.LotteryWon = r.LotteryWon
			}
		}
	}

	results := make([]AllocationResult, 0, len(merged))
	for _, entry := range merged {
		results = append(results, *entry)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].ParticipantId < results[j].ParticipantId
	})

	return results, nil
}

// persistAllocations 单事务持久化计算结果；存在已最终化的行时整体拒绝
func (a *AllocationLogic) persistAllocations(deal *model.DealModel, method string, results []AllocationResult) error {
	return a.db.Transaction(func(tx *gorm.DB) error {
		var finalized int64
		if err := tx.Model(&model.AllocationModel{}).
			Where("deal_id = ? AND is_finalized = ?", deal.Id, true).
			Count(&finalized).Error; err != nil {
			return fmt.Errorf("查询最终化状态失败: %w", err)
		}
		if finalized > 0 {
			return apperr.NewAlreadyFinalized(deal.Id)
		}

		total := decimal.Zero
		for _, r := range results {
			row := model.AllocationModel{
				ParticipantId:    r.ParticipantId,
				DealId:           deal.Id,
				FinalAmount:      r.Amount,
				AllocationMethod: method,
				LotteryTickets:   r.LotteryTickets,
				LotteryWon:       r.LotteryWon,
			}
			if method == model.AllocationMethodGuaranteed {
				row.GuaranteedAmount = r.Amount
			}

			err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "participant_id"}, {Name: "deal_id"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"final_amount", "guaranteed_amount", "allocation_method",
					"lottery_tickets", "lottery_won", "updated_at",
				}),
			}).Create(&row).Error
			if err != nil {
				return fmt.Errorf("写入分配行失败: %w", err)
			}

			total = total.Add(r.Amount)
		}

		return writeAuditLog(tx, "allocation_engine", model.AuditActionAllocationCalculated, "deal", deal.Id, map[string]interface{}{
			"method":            method,
			"participant_count": len(results),
			"total_allocated":   total.String(),
		})
	})
}

// confirmedSumsByParticipant 按参与者聚合已确认出资
func confirmedSumsByParticipant(db *gorm.DB, dealId int64) (map[int64]decimal.Decimal, error) {
	var rows []struct {
		ParticipantId int64
		Total         decimal.Decimal
	}
	err := db.Model(&model.ContributionModel{}).
		Select("participant_id, COALESCE(SUM(amount), 0) as total").
		Where("deal_id = ? AND status = ?", dealId, model.ContributionStatusConfirmed).
		Group("participant_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("聚合出资金额失败: %w", err)
	}

	sums := make(map[int64]decimal.Decimal, len(rows))
	for _, row := range rows {
		sums[row.ParticipantId] = row.Total
	}
	return sums, nil
}

// scaleToPool 等比缩放：amount * pool / total，向下截断到18位小数，
// 保证缩放后的总和不超过池子
func scaleToPool(amount, pool, total decimal.Decimal) decimal.Decimal {
	if total.IsZero() {
		return decimal.Zero
	}
	return amount.Mul(pool).DivRound(total, 24).RoundDown(18)
}

// poolCapacity floor(hardCap / winnerAllocation)，整数运算避免精度漂移
func poolCapacity(hardCap, winnerAllocation decimal.Decimal) int64 {
	capInt := hardCap.Shift(18).Truncate(0).BigInt()
	winInt := winnerAllocation.Shift(18).Truncate(0).BigInt()
	if winInt.Sign() <= 0 {
		return 0
	}
	return new(big.Int).Quo(capInt, winInt).Int64()
}

// newIntn 返回 [0,n) 随机数生成器；带种子时确定性可复现，
// 无种子时使用密码学安全随机源
func newIntn(seed *int64) func(int) int {
	if seed != nil {
		r := mrand.New(mrand.NewSource(*seed))
		return r.Intn
	}
	return func(n int) int {
		v, err := crand.Int(crand.Reader, big.NewInt(int64(n)))
		if err != nil {
			panic(fmt.Sprintf("crypto/rand failed: %v", err))
		}
		return int(v.Int64())
	}
}
