package router

import (
	"github.com/blues/lps/internal/config"
	"github.com/blues/lps/internal/handler"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func Setup(db *gorm.DB, cfg *config.Config) *gin.Engine {
	r := gin.Default()

	// 中间件
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "launchpad-service",
		})
	})

	// API版本组
	v1 := r.Group("/api/v1")
	{
		dealHandler := handler.NewDealHandler(db)
		allocationHandler := handler.NewAllocationHandler(db)
		refundHandler := handler.NewRefundHandler(db)

		deals := v1.Group("/deals")
		{
			deals.POST("/:id/actions/:action", dealHandler.ExecuteAction)
			deals.GET("/:id/phase", dealHandler.GetCurrentPhase)
			deals.POST("/:id/phase/transition", dealHandler.TransitionPhase)

			deals.GET("/:id/eligibility/:participantId", allocationHandler.CheckEligibility)
			deals.POST("/:id/register", allocationHandler.RegisterParticipant)
			deals.POST("/:id/allocations/calculate", allocationHandler.CalculateAllocations)
			deals.POST("/:id/allocations/finalize", allocationHandler.FinalizeAllocations)

			deals.GET("/:id/refunds", refundHandler.CalculateRefunds)
			deals.POST("/:id/refunds/process", refundHandler.ProcessRefunds)
		}
	}

	return r
}

// CORS中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, X-Actor")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
