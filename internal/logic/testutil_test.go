package logic

import (
	"fmt"
	"testing"
	"time"

	"github.com/blues/lps/internal/model"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// newTestDB 创建内存数据库并迁移全部模型
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&model.DealModel{},
		&model.ParticipantModel{},
		&model.ContributionModel{},
		&model.AllocationModel{},
		&model.DealPhaseModel{},
		&model.AuditLogModel{},
	))

	return db
}

// createDeal 创建指定状态的轮次
func createDeal(t *testing.T, db *gorm.DB, status model.DealStatus, hardCap int64) *model.DealModel {
	t.Helper()

	deal := &model.DealModel{
		Name:        "Test Deal",
		TokenSymbol: "TST",
		Status:      status,
		HardCap:     decimal.NewFromInt(hardCap),
	}
	require.NoError(t, db.Create(deal).Error)
	return deal
}

// createParticipant 创建KYC合格的参与者
func createParticipant(t *testing.T, db *gorm.DB, tier model.TierLevel) *model.ParticipantModel {
	t.Helper()

	var count int64
	require.NoError(t, db.Model(&model.ParticipantModel{}).Count(&count).Error)

	expires := time.Now().Add(365 * 24 * time.Hour)
	participant := &model.ParticipantModel{
		WalletAddress: fmt.Sprintf("0x%040x", count+1),
		TierLevel:     int(tier),
		KycStatus:     model.KycStatusApproved,
		KycExpiresAt:  &expires,
		Country:       "SG",
	}
	require.NoError(t, db.Create(participant).Error)
	return participant
}

// registerForDeal 为参与者创建分配行（注册标记）
func registerForDeal(t *testing.T, db *gorm.DB, participantId, dealId int64) *model.AllocationModel {
	t.Helper()

	allocation := &model.AllocationModel{
		ParticipantId: participantId,
		DealId:        dealId,
	}
	require.NoError(t, db.Create(allocation).Error)
	return allocation
}

var txHashSeq int64

// createContribution 创建指定时间的出资记录
func createContribution(t *testing.T, db *gorm.DB, participantId, dealId int64, amount int64, status model.ContributionStatus, createdAt time.Time) *model.ContributionModel {
	t.Helper()

	txHashSeq++
	contribution := &model.ContributionModel{
		ParticipantId: participantId,
		DealId:        dealId,
		Amount:        decimal.NewFromInt(amount),
		Status:        status,
		TxHash:        fmt.Sprintf("0x%064x", txHashSeq),
		CreatedAt:     createdAt,
	}
	require.NoError(t, db.Create(contribution).Error)
	return contribution
}
