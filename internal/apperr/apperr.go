package apperr

import (
	"errors"
	"fmt"
)

// 错误分类哨兵，供 errors.Is 判断
var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrIllegalTransition = errors.New("illegal transition")
	ErrAlreadyFinalized  = errors.New("already finalized")
)

// NotFoundError 资源不存在
type NotFoundError struct {
	Resource string
	Id       int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s不存在: id=%d", e.Resource, e.Id)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// NewNotFound 创建资源不存在错误
func NewNotFound(resource string, id int64) error {
	return &NotFoundError{Resource: resource, Id: id}
}

// ValidationError 参数校验失败，持久化之前即返回
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidation 创建校验失败错误
func NewValidation(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// IllegalTransitionError 非法状态迁移，不产生任何修改
type IllegalTransitionError struct {
	From string
	To   string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("非法状态迁移: %s -> %s", e.From, e.To)
}

func (e *IllegalTransitionError) Unwrap() error {
	return ErrIllegalTransition
}

// NewIllegalTransition 创建非法状态迁移错误
func NewIllegalTransition(from, to string) error {
	return &IllegalTransitionError{From: from, To: to}
}

// AlreadyFinalizedError 重复最终化，调用方不应重试
type AlreadyFinalizedError struct {
	DealId int64
}

func (e *AlreadyFinalizedError) Error() string {
	return fmt.Sprintf("轮次分配已最终化: deal_id=%d", e.DealId)
}

func (e *AlreadyFinalizedError) Unwrap() error {
	return ErrAlreadyFinalized
}

// NewAlreadyFinalized 创建重复最终化错误
func NewAlreadyFinalized(dealId int64) error {
	return &AlreadyFinalizedError{DealId: dealId}
}
