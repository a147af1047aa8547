package handler

import (
	"net/http"
	"strconv"

	"github.com/blues/lps/internal/logic"
	"github.com/blues/lps/internal/model"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// DealHandler 轮次生命周期接口
type DealHandler struct {
	lifecycleLogic *logic.LifecycleLogic
}

// NewDealHandler 创建轮次生命周期接口
func NewDealHandler(db *gorm.DB) *DealHandler {
	return &DealHandler{
		lifecycleLogic: logic.NewLifecycleLogic(db),
	}
}

// ExecuteAction 执行生命周期手动动作
func (h *DealHandler) ExecuteAction(c *gin.Context) {
	dealId, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "无效的轮次ID")
		return
	}

	actor := c.GetHeader("X-Actor")
	if actor == "" {
		actor = "admin"
	}

	var deal *model.DealModel
	switch c.Param("action") {
	case "submit_for_review":
		deal, err = h.lifecycleLogic.SubmitForReview(dealId, actor)
	case "approve":
		deal, err = h.lifecycleLogic.ApproveDeal(dealId, actor)
	case "open_registration":
		deal, err = h.lifecycleLogic.OpenRegistration(dealId, actor)
	case "close_registration":
		deal, err = h.lifecycleLogic.CloseRegistration(dealId, actor)
	case "open_contributions":
		deal, err = h.lifecycleLogic.OpenContributions(dealId, actor)
	case "close_contributions":
		deal, err = h.lifecycleLogic.CloseContributions(dealId, actor)
	case "start_distribution":
		deal, err = h.lifecycleLogic.StartDistribution(dealId, actor)
	case "complete":
		deal, err = h.lifecycleLogic.CompleteDeal(dealId, actor)
	case "cancel":
		deal, err = h.lifecycleLogic.CancelDeal(dealId, actor)
	default:
		ErrorResponse(c, http.StatusBadRequest, "未知的生命周期动作")
		return
	}

	if err != nil {
		AbortWithError(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "状态迁移成功", deal)
}

// GetCurrentPhase 获取当前激活阶段
func (h *DealHandler) GetCurrentPhase(c *gin.Context) {
	dealId, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "无效的轮次ID")
		return
	}

	phase, err := h.lifecycleLogic.GetDealCurrentPhase(dealId)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "查询成功", phase)
}

// TransitionPhase 触发基于时间的自动推进检查
func (h *DealHandler) TransitionPhase(c *gin.Context) {
	dealId, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "无效的轮次ID")
		return
	}

	deal, transitioned, err := h.lifecycleLogic.TransitionDealPhase(dealId)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, "检查完成", gin.H{
		"transitioned": transitioned,
		"status":       deal.Status,
	})
}
