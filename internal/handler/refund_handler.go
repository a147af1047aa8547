package handler

import (
	"net/http"
	"strconv"

	"github.com/blues/lps/internal/logic"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// RefundHandler 超额退款接口
type RefundHandler struct {
	refundLogic *logic.RefundLogic
}

// NewRefundHandler 创建退款接口
func NewRefundHandler(db *gorm.DB) *RefundHandler {
	return &RefundHandler{
		refundLogic: logic.NewRefundLogic(db),
	}
}

// CalculateRefunds 计算超额退款（只读）
func (h *RefundHandler) CalculateRefunds(c *gin.Context) {
	dealId, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "无效的轮次ID")
		return
	}

	summary, err := h.refundLogic.CalculateRefunds(dealId)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "计算完成", summary)
}

// ProcessRefunds 持久化超额退款
func (h *RefundHandler) ProcessRefunds(c *gin.Context) {
	dealId, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "无效的轮次ID")
		return
	}

	summary, err := h.refundLogic.ProcessRefunds(dealId)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "退款处理完成", summary)
}
