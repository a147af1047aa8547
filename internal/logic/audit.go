package logic

import (
	"encoding/json"
	"fmt"

	"github.com/blues/lps/internal/model"
	"gorm.io/gorm"
)

// writeAuditLog 在当前事务内追加一条审计日志
func writeAuditLog(tx *gorm.DB, actor, action, resourceType string, resourceId int64, metadata map[string]interface{}) error {
	data, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("序列化审计元数据失败: %w", err)
	}

	entry := model.AuditLogModel{
		Actor:        actor,
		Action:       action,
		ResourceType: resourceType,
		ResourceId:   resourceId,
		Metadata:     string(data),
	}

	if err := tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("写入审计日志失败: %w", err)
	}

	return nil
}
