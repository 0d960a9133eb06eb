package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/coresense/coredata/types"
)

// =============================================================================
// ⚠️ 错误分类
// =============================================================================

// classifyConnError 把底层连接错误映射到类型化错误码。
// 超时归为连接池耗尽，认证失败不可重试，其余归为数据库不可达。
func classifyConnError(err error, driver string) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return types.NewError(types.ErrPoolExhausted,
			fmt.Sprintf("timed out acquiring %s connection", driver)).
			WithCause(err).WithRetryable(true)
	case isAuthError(err):
		return types.NewError(types.ErrAuthFailed,
			fmt.Sprintf("%s authentication failed", driver)).WithCause(err)
	default:
		return types.NewError(types.ErrUnreachable,
			fmt.Sprintf("%s database unreachable", driver)).
			WithCause(err).WithRetryable(true)
	}
}

// classifyQueryError 把查询阶段的错误映射到类型化错误码
func classifyQueryError(err error) error {
	var typed *types.Error
	if errors.As(err, &typed) {
		return err
	}

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, sql.ErrNoRows):
		return types.NewError(types.ErrRecordNotFound, "record not found").WithCause(err)
	case isDuplicateError(err):
		return types.NewError(types.ErrDuplicateRecord, "duplicate record").WithCause(err)
	case isConstraintError(err):
		return types.NewError(types.ErrConstraintViolation, "constraint violation").WithCause(err)
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return types.NewError(types.ErrQueryFailed, "query canceled").WithCause(err).WithRetryable(true)
	default:
		return types.NewError(types.ErrQueryFailed, "query failed").WithCause(err)
	}
}

func isAuthError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "password authentication failed") ||
		strings.Contains(msg, "access denied") ||
		strings.Contains(msg, "authentication failed")
}

func isDuplicateError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "duplicate entry")
}

func isConstraintError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "constraint") ||
		strings.Contains(msg, "foreign key")
}

// isRetryableError 判断事务是否值得整体重试
func isRetryableError(err error) bool {
	if types.IsRetryable(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "deadlock") ||
		strings.Contains(msg, "lock wait timeout") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe")
}
