package biz

import (
	"context"

	"github.com/kart-io/logger"

	"github.com/kart-io/nexus/internal/model"
	"github.com/kart-io/nexus/internal/rag/store"
)

// Expander 将融合后的子块映射回父块，为生成阶段提供更完整的上下文。
// 父块读取走缓存优先、存储兜底的 read-through 路径。
type Expander struct {
	parentStore store.ParentStore
	parentCache store.ParentCache
}

// NewExpander 创建父块扩展器。cache 可以为 nil，此时全部请求直达存储。
func NewExpander(parentStore store.ParentStore, parentCache store.ParentCache) *Expander {
	return &Expander{
		parentStore: parentStore,
		parentCache: parentCache,
	}
}

// Expand 按 parent_id 去重子块并取回对应父块，保持融合排序。
// 父块在缓存与存储中都不存在时，退化为子块自身的文本。
// 输出继承子块的融合得分。
func (e *Expander) Expand(ctx context.Context, team string, children []model.ScoredChunk) []model.ScoredParent {
	seen := make(map[string]bool, len(children))
	parents := make([]model.ScoredParent, 0, len(children))

	for _, child := range children {
		if seen[child.ParentID] {
			continue
		}
		seen[child.ParentID] = true

		parent := e.lookup(ctx, team, child.ParentID)
		if parent == nil {
			logger.Warnw("parent chunk missing, falling back to child text",
				"team", team, "parent_id", child.ParentID)
			parent = &model.ParentChunk{
				ID:       child.ParentID,
				Text:     child.Text,
				FileName: child.FileName,
				Page:     child.Page,
			}
		}
		parents = append(parents, model.ScoredParent{ParentChunk: *parent, Score: child.Score})
	}
	return parents
}

// lookup 先查缓存，未命中再查存储并回写缓存。缓存故障只记录日志。
func (e *Expander) lookup(ctx context.Context, team, parentID string) *model.ParentChunk {
	if e.parentCache != nil {
		parent, err := e.parentCache.GetParent(ctx, team, parentID)
		if err != nil {
			logger.Warnw("parent cache read failed", "parent_id", parentID, "error", err.Error())
		} else if parent != nil {
			return parent
		}
	}

	parent, err := e.parentStore.GetParent(ctx, team, parentID)
	if err != nil {
		return nil
	}

	if e.parentCache != nil {
		if err := e.parentCache.SetParents(ctx, team, []model.ParentChunk{*parent}); err != nil {
			logger.Warnw("parent cache write-back failed", "parent_id", parentID, "error", err.Error())
		}
	}
	return parent
}
