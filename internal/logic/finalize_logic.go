package logic

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/blues/lps/internal/apperr"
	"github.com/blues/lps/internal/logger"
	"github.com/blues/lps/internal/merkle"
	"github.com/blues/lps/internal/model"
	"gorm.io/gorm"
)

// FinalizeResult 最终化结果
type FinalizeResult struct {
	CommitmentRoot       string `json:"commitment_root"`
	AllocationsFinalized int    `json:"allocations_finalized"`
}

// FinalizeLogic 最终化与承诺业务逻辑
type FinalizeLogic struct {
	db      *gorm.DB
	refunds *RefundLogic
}

// NewFinalizeLogic 创建最终化业务逻辑
func NewFinalizeLogic(db *gorm.DB) *FinalizeLogic {
	return &FinalizeLogic{
		db:      db,
		refunds: NewRefundLogic(db),
	}
}

// FinalizeAllocations 一次性锁定轮次的全部分配并生成承诺树。
// 非零分配作为叶子进入承诺树并获得包含性证明；零分配一并锁定但不进树。
// 重复最终化检查在写事务内部执行，并发调用在行锁上串行化，
// 后到者得到 AlreadyFinalized。事务提交后触发退款处理。
func (f *FinalizeLogic) FinalizeAllocations(dealId int64) (*FinalizeResult, error) {
	var result FinalizeResult

	err := f.db.Transaction(func(tx *gorm.DB) error {
		var deal model.DealModel
		if err := tx.First(&deal, dealId).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NewNotFound("轮次", dealId)
			}
			return fmt.Errorf("获取轮次失败: %w", err)
		}

		var finalized int64
		if err := tx.Model(&model.AllocationModel{}).
			Where("deal_id = ? AND is_finalized = ?", dealId, true).
			Count(&finalized).Error; err != nil {
			return fmt.Errorf("查询最终化状态失败: %w", err)
		}
		if finalized > 0 {
			return apperr.NewAlreadyFinalized(dealId)
		}

		var allocations []model.AllocationModel
		err := tx.Where("deal_id = ? AND is_finalized = ?", dealId, false).
			Order("id ASC").
			Find(&allocations).Error
		if err != nil {
			return fmt.Errorf("查询待最终化分配失败: %w", err)
		}
		if len(allocations) == 0 {
			return apperr.NewValidation("轮次没有待最终化的分配: deal_id=%d", dealId)
		}

		wallets, err := walletsByParticipant(tx, allocations)
		if err != nil {
			return err
		}

		// 非零分配进树，下标映射回分配行
		var leaves [][]byte
		leafIndex := make(map[int64]int)
		for _, alloc := range allocations {
			if alloc.FinalAmount.IsPositive() {
				leafIndex[alloc.Id] = len(leaves)
				leaves = append(leaves, merkle.AllocationLeaf(wallets[alloc.ParticipantId], alloc.FinalAmount))
			}
		}

		var root []byte
		var tree *merkle.Tree
		if len(leaves) > 0 {
			tree, err = merkle.BuildTree(leaves)
			if err != nil {
				return fmt.Errorf("构建承诺树失败: %w", err)
			}
			root = tree.Root()
		} else {
			// 全零分配：无可认领内容，承诺空树根
			root = merkle.EmptyRoot()
		}

		now := time.Now()
		for _, alloc := range allocations {
			updates := map[string]interface{}{
				"is_finalized": true,
				"finalized_at": &now,
			}
			if idx, ok := leafIndex[alloc.Id]; ok {
				proof, err := tree.Proof(idx)
				if err != nil {
					return fmt.Errorf("生成包含性证明失败: %w", err)
				}
				serialized, err := serializeProof(proof)
				if err != nil {
					return err
				}
				updates["proof"] = serialized
			}
			if err := tx.Model(&model.AllocationModel{}).
				Where("id = ?", alloc.Id).
				Updates(updates).Error; err != nil {
				return fmt.Errorf("锁定分配行失败: %w", err)
			}
		}

		rootHex := "0x" + hex.EncodeToString(root)
		if err := tx.Model(&deal).Update("commitment_root", rootHex).Error; err != nil {
			return fmt.Errorf("写入承诺根失败: %w", err)
		}

		if err := writeAuditLog(tx, "finalization_service", model.AuditActionAllocationFinalized, "deal", dealId, map[string]interface{}{
			"commitment_root":      rootHex,
			"total_allocations":    len(allocations),
			"non_zero_allocations": len(leaves),
		}); err != nil {
			return err
		}

		result.CommitmentRoot = rootHex
		result.AllocationsFinalized = len(allocations)
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Finalized %d allocations for deal %d, root=%s", result.AllocationsFinalized, dealId, result.CommitmentRoot)

	// 最终化已提交，触发超额退款处理
	if _, err := f.refunds.ProcessRefunds(dealId); err != nil {
		return &result, fmt.Errorf("最终化完成但退款处理失败: %w", err)
	}

	return &result, nil
}

// walletsByParticipant 批量取分配行对应的钱包地址
func walletsByParticipant(tx *gorm.DB, allocations []model.AllocationModel) (map[int64]string, error) {
	ids := make([]int64, 0, len(allocations))
	for _, alloc := range allocations {
		ids = append(ids, alloc.ParticipantId)
	}

	var participants []model.ParticipantModel
	if err := tx.Where("id IN ?", ids).Find(&participants).Error; err != nil {
		return nil, fmt.Errorf("查询参与者失败: %w", err)
	}

	wallets := make(map[int64]string, len(participants))
	for _, p := range participants {
		wallets[p.Id] = p.WalletAddress
	}
	return wallets, nil
}

// serializeProof 证明序列化为 0x 前缀十六进制串的 JSON 数组
func serializeProof(proof [][]byte) (string, error) {
	nodes := make([]string, len(proof))
	for i, node := range proof {
		nodes[i] = "0x" + hex.EncodeToString(node)
	}
	data, err := json.Marshal(nodes)
	if err != nil {
		return "", fmt.Errorf("序列化证明失败: %w", err)
	}
	return string(data), nil
}

// DeserializeProof 从存储格式还原证明，认领校验流程使用
func DeserializeProof(serialized string) ([][]byte, error) {
	var nodes []string
	if err := json.Unmarshal([]byte(serialized), &nodes); err != nil {
		return nil, fmt.Errorf("解析证明失败: %w", err)
	}

	proof := make([][]byte, len(nodes))
	for i, node := range nodes {
		raw, err := hex.DecodeString(trimHexPrefix(node))
		if err != nil {
			return nil, fmt.Errorf("解析证明节点失败: %w", err)
		}
		proof[i] = raw
	}
	return proof, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
