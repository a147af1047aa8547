package handler

import (
	"net/http"
	"strconv"

	"github.com/blues/lps/internal/logic"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AllocationHandler 分配与最终化接口
type AllocationHandler struct {
	eligibilityLogic *logic.EligibilityLogic
	allocationLogic  *logic.AllocationLogic
	finalizeLogic    *logic.FinalizeLogic
}

// NewAllocationHandler 创建分配接口
func NewAllocationHandler(db *gorm.DB) *AllocationHandler {
	return &AllocationHandler{
		eligibilityLogic: logic.NewEligibilityLogic(db),
		allocationLogic:  logic.NewAllocationLogic(db),
		finalizeLogic:    logic.NewFinalizeLogic(db),
	}
}

// CheckEligibility 检查参与资格
func (h *AllocationHandler) CheckEligibility(c *gin.Context) {
	dealId, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "无效的轮次ID")
		return
	}
	participantId, err := strconv.ParseInt(c.Param("participantId"), 10, 64)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "无效的参与者ID")
		return
	}

	var amount *decimal.Decimal
	if raw := c.Query("amount"); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			ErrorResponse(c, http.StatusBadRequest, "无效的金额")
			return
		}
		amount = &parsed
	}

	result, err := h.eligibilityLogic.CheckEligibility(participantId, dealId, amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "检查完成", result)
}

// RegisterParticipant 注册轮次
func (h *AllocationHandler) RegisterParticipant(c *gin.Context) {
	dealId, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "无效的轮次ID")
		return
	}

	var req struct {
		ParticipantId   int64           `json:"participant_id" binding:"required"`
		RequestedAmount decimal.Decimal `json:"requested_amount"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	allocation, err := h.allocationLogic.RegisterParticipant(req.ParticipantId, dealId, req.RequestedAmount)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	SuccessResponse(c, http.StatusCreated, "注册成功", allocation)
}

// CalculateAllocations 计算并持久化分配
func (h *AllocationHandler) CalculateAllocations(c *gin.Context) {
	dealId, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "无效的轮次ID")
		return
	}

	var req struct {
		Method string                  `json:"method" binding:"required"`
		Config *logic.AllocationConfig `json:"config"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	results, err := h.allocationLogic.CalculateAllocations(dealId, req.Method, req.Config)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "分配计算完成", results)
}

// FinalizeAllocations 最终化分配并生成承诺
func (h *AllocationHandler) FinalizeAllocations(c *gin.Context) {
	dealId, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "无效的轮次ID")
		return
	}

	result, err := h.finalizeLogic.FinalizeAllocations(dealId)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "最终化完成", result)
}
