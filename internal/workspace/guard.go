package workspace

import "card-sorter/internal/types"

// Guard 负责在任何运动指令下发前校验目标位姿
// 这是一道硬性否决：越界的指令永远不会发往硬件
type Guard struct {
	limits types.WorkspaceLimits
}

// NewGuard 创建一个工作空间守卫
func NewGuard(limits types.WorkspaceLimits) *Guard {
	return &Guard{limits: limits}
}

// Validate 检查位姿的三个平移轴是否都落在配置范围内 (边界含)
// 旋转轴不做约束
func (g *Guard) Validate(p types.Pose) bool {
	l := g.limits
	if p.X < l.XMin || p.X > l.XMax {
		return false
	}
	if p.Y < l.YMin || p.Y > l.YMax {
		return false
	}
	if p.Z < l.ZMin || p.Z > l.ZMax {
		return false
	}
	return true
}
