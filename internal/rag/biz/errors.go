package biz

import "errors"

// 服务层错误分类，handler 层据此映射 HTTP 状态码。
var (
	// ErrBadRequest 表示请求参数无效。
	ErrBadRequest = errors.New("invalid request")

	// ErrTeamNotFound 表示团队尚未摄取任何文档。
	ErrTeamNotFound = errors.New("team not found")

	// ErrDependencyUnavailable 表示下游依赖（向量库、嵌入服务等）不可用。
	ErrDependencyUnavailable = errors.New("dependency unavailable")
)
