package logic

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/blues/lps/internal/apperr"
	"github.com/blues/lps/internal/model"
	"github.com/ethereum/go-ethereum/common"
	"github.com/panjf2000/ants/v2"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// 检查项名称
const (
	CheckWalletConnected      = "wallet_connected"
	CheckNotBanned            = "not_banned"
	CheckKycApproved          = "kyc_approved"
	CheckTierMinimum          = "tier_minimum"
	CheckDealOpen             = "deal_open"
	CheckHardCap              = "hard_cap"
	CheckContributionLimit    = "contribution_limit"
	CheckGeoAllowed           = "geo_allowed"
	CheckNotAlreadyRegistered = "not_already_registered"
)

// CheckResult 单项检查结果
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Reason string `json:"reason,omitempty"`
}

// EligibilityResult 资格检查汇总结果。所有检查项都会执行并返回，
// 不短路，调用方可以一次展示全部未通过原因。
type EligibilityResult struct {
	ParticipantId int64         `json:"participant_id"`
	DealId        int64         `json:"deal_id"`
	Eligible      bool          `json:"eligible"`
	Checks        []CheckResult `json:"checks"`
}

// EligibilityLogic 参与资格业务逻辑
type EligibilityLogic struct {
	db   *gorm.DB
	pool *ants.Pool
}

// NewEligibilityLogic 创建参与资格业务逻辑
func NewEligibilityLogic(db *gorm.DB) *EligibilityLogic {
	pool, err := ants.NewPool(16)
	if err != nil {
		pool = nil
	}
	return &EligibilityLogic{db: db, pool: pool}
}

// CheckEligibility 检查参与者对指定轮次的参与资格。amount 为可选的拟出资金额。
// 只读操作，不产生任何修改。
func (e *EligibilityLogic) CheckEligibility(participantId, dealId int64, amount *decimal.Decimal) (*EligibilityResult, error) {
	var participant model.ParticipantModel
	if err := e.db.First(&participant, participantId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NewNotFound("参与者", participantId)
		}
		return nil, fmt.Errorf("获取参与者失败: %w", err)
	}

	var deal model.DealModel
	if err := e.db.First(&deal, dealId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NewNotFound("轮次", dealId)
		}
		return nil, fmt.Errorf("获取轮次失败: %w", err)
	}

	// 依赖数据库聚合的检查并发执行
	var (
		wg            sync.WaitGroup
		contributed   decimal.Decimal
		contributeErr error
		regCount      int64
		regErr        error
	)

	wg.Add(2)
	e.submit(func() {
		defer wg.Done()
		contributeErr = e.db.Model(&model.ContributionModel{}).
			Where("participant_id = ? AND deal_id = ? AND status IN ?",
				participantId, dealId,
				[]model.ContributionStatus{model.ContributionStatusPending, model.ContributionStatusConfirmed}).
			Select("COALESCE(SUM(amount), 0)").
			Scan(&contributed).Error
	})
	e.submit(func() {
		defer wg.Done()
		regErr = e.db.Model(&model.AllocationModel{}).
			Where("participant_id = ? AND deal_id = ?", participantId, dealId).
			Count(&regCount).Error
	})
	wg.Wait()

	if contributeErr != nil {
		return nil, fmt.Errorf("统计参与者出资失败: %w", contributeErr)
	}
	if regErr != nil {
		return nil, fmt.Errorf("查询注册记录失败: %w", regErr)
	}

	now := time.Now()
	checks := []CheckResult{
		checkWalletConnected(&participant),
		checkNotBanned(&participant),
		checkKycApproved(&participant, &deal, now),
		checkTierMinimum(&participant, &deal),
		checkDealOpen(&deal, now),
		checkHardCap(&deal, amount),
		checkContributionLimit(&deal, contributed, amount),
		checkGeoAllowed(&participant, &deal),
		checkNotAlreadyRegistered(regCount),
	}

	result := &EligibilityResult{
		ParticipantId: participantId,
		DealId:        dealId,
		Eligible:      true,
		Checks:        checks,
	}
	for _, c := range checks {
		if !c.Passed {
			result.Eligible = false
			break
		}
	}

	return result, nil
}

// EligibleParticipants 返回轮次的合格参与者集合：已注册（存在分配行）、
// 未封禁且等级满足轮次门槛。分配引擎的选人步骤复用此逻辑。
func (e *EligibilityLogic) EligibleParticipants(dealId int64) ([]model.ParticipantModel, error) {
	var deal model.DealModel
	if err := e.db.First(&deal, dealId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NewNotFound("轮次", dealId)
		}
		return nil, fmt.Errorf("获取轮次失败: %w", err)
	}

	var participants []model.ParticipantModel
	err := e.db.
		Joins("JOIN allocation ON allocation.participant_id = participant.id AND allocation.deal_id = ?", dealId).
		Order("participant.id ASC").
		Find(&participants).Error
	if err != nil {
		return nil, fmt.Errorf("查询注册参与者失败: %w", err)
	}

	eligible := make([]model.ParticipantModel, 0, len(participants))
	for _, p := range participants {
		if p.IsBanned {
			continue
		}
		if deal.MinTierRequired != nil && p.TierLevel < *deal.MinTierRequired {
			continue
		}
		eligible = append(eligible, p)
	}

	return eligible, nil
}

// submit 提交到协程池，池不可用时降级为同步执行
func (e *EligibilityLogic) submit(task func()) {
	if e.pool != nil {
		if err := e.pool.Submit(task); err == nil {
			return
		}
	}
	task()
}

func checkWalletConnected(p *model.ParticipantModel) CheckResult {
	if p.WalletAddress == "" {
		return CheckResult{Name: CheckWalletConnected, Passed: false, Reason: "未绑定钱包地址"}
	}
	if !common.IsHexAddress(p.WalletAddress) {
		return CheckResult{Name: CheckWalletConnected, Passed: false, Reason: "钱包地址格式无效"}
	}
	return CheckResult{Name: CheckWalletConnected, Passed: true}
}

func checkNotBanned(p *model.ParticipantModel) CheckResult {
	if p.IsBanned {
		reason := "参与者已被封禁"
		if p.BanReason != "" {
			reason = fmt.Sprintf("参与者已被封禁: %s", p.BanReason)
		}
		return CheckResult{Name: CheckNotBanned, Passed: false, Reason: reason}
	}
	return CheckResult{Name: CheckNotBanned, Passed: true}
}

func checkKycApproved(p *model.ParticipantModel, d *model.DealModel, now time.Time) CheckResult {
	if p.KycStatus != model.KycStatusApproved {
		return CheckResult{Name: CheckKycApproved, Passed: false, Reason: fmt.Sprintf("KYC未通过: %s", p.KycStatus)}
	}
	if p.KycExpiresAt != nil && p.KycExpiresAt.Before(now) {
		return CheckResult{Name: CheckKycApproved, Passed: false, Reason: "KYC已过期"}
	}
	if d.RequiresAccreditation && !p.IsAccredited {
		return CheckResult{Name: CheckKycApproved, Passed: false, Reason: "轮次要求合格投资者认证"}
	}
	return CheckResult{Name: CheckKycApproved, Passed: true}
}

func checkTierMinimum(p *model.ParticipantModel, d *model.DealModel) CheckResult {
	if d.MinTierRequired != nil && p.TierLevel < *d.MinTierRequired {
		return CheckResult{
			Name:   CheckTierMinimum,
			Passed: false,
			Reason: fmt.Sprintf("等级不足: 当前%s，要求%s", model.TierLevel(p.TierLevel), model.TierLevel(*d.MinTierRequired)),
		}
	}
	return CheckResult{Name: CheckTierMinimum, Passed: true}
}

func checkDealOpen(d *model.DealModel, now time.Time) CheckResult {
	switch d.Status {
	case model.DealStatusRegistrationOpen:
		if d.RegistrationOpenAt != nil && now.Before(*d.RegistrationOpenAt) {
			return CheckResult{Name: CheckDealOpen, Passed: false, Reason: "注册尚未开放"}
		}
		if d.RegistrationCloseAt != nil && now.After(*d.RegistrationCloseAt) {
			return CheckResult{Name: CheckDealOpen, Passed: false, Reason: "注册已截止"}
		}
		return CheckResult{Name: CheckDealOpen, Passed: true}
	case model.DealStatusGuaranteedAllocation, model.DealStatusFCFS:
		if d.ContributionCloseAt != nil && now.After(*d.ContributionCloseAt) {
			return CheckResult{Name: CheckDealOpen, Passed: false, Reason: "出资已截止"}
		}
		return CheckResult{Name: CheckDealOpen, Passed: true}
	default:
		return CheckResult{Name: CheckDealOpen, Passed: false, Reason: fmt.Sprintf("轮次当前不开放: %s", d.Status)}
	}
}

func checkHardCap(d *model.DealModel, amount *decimal.Decimal) CheckResult {
	total := d.TotalRaised
	if amount != nil {
		total = total.Add(*amount)
	}
	if total.GreaterThan(d.HardCap) {
		return CheckResult{
			Name:   CheckHardCap,
			Passed: false,
			Reason: fmt.Sprintf("超过硬顶: %s > %s", total, d.HardCap),
		}
	}
	return CheckResult{Name: CheckHardCap, Passed: true}
}

func checkContributionLimit(d *model.DealModel, contributed decimal.Decimal, amount *decimal.Decimal) CheckResult {
	if d.MaxContribution.IsZero() {
		return CheckResult{Name: CheckContributionLimit, Passed: true}
	}
	total := contributed
	if amount != nil {
		total = total.Add(*amount)
	}
	if total.GreaterThan(d.MaxContribution) {
		return CheckResult{
			Name:   CheckContributionLimit,
			Passed: false,
			Reason: fmt.Sprintf("超过单人出资上限: %s > %s", total, d.MaxContribution),
		}
	}
	return CheckResult{Name: CheckContributionLimit, Passed: true}
}

func checkGeoAllowed(p *model.ParticipantModel, d *model.DealModel) CheckResult {
	country := strings.ToUpper(strings.TrimSpace(p.Country))
	if containsCountry(d.BlockedCountries, country) {
		return CheckResult{Name: CheckGeoAllowed, Passed: false, Reason: fmt.Sprintf("所在地区被禁止参与: %s", country)}
	}
	if strings.TrimSpace(d.AllowedCountries) != "" && !containsCountry(d.AllowedCountries, country) {
		return CheckResult{Name: CheckGeoAllowed, Passed: false, Reason: fmt.Sprintf("所在地区不在允许名单内: %s", country)}
	}
	return CheckResult{Name: CheckGeoAllowed, Passed: true}
}

func checkNotAlreadyRegistered(regCount int64) CheckResult {
	if regCount > 0 {
		return CheckResult{Name: CheckNotAlreadyRegistered, Passed: false, Reason: "已注册过该轮次"}
	}
	return CheckResult{Name: CheckNotAlreadyRegistered, Passed: true}
}

// containsCountry 判断逗号分隔的国家列表是否包含指定国家
func containsCountry(list, country string) bool {
	if country == "" {
		return false
	}
	for _, c := range strings.Split(list, ",") {
		if strings.ToUpper(strings.TrimSpace(c)) == country {
			return true
		}
	}
	return false
}
