// 文件: pkg/event/snowflake.go
// 雪花算法 ID 生成器
// 使用开源库: github.com/bwmarrin/snowflake
// 事件、锁定记录、定时器共用同一个节点

package event

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node     *snowflake.Node
	initOnce sync.Once
)

// InitSnowflake 初始化雪花算法
// nodeID: 节点ID (0-1023)
func InitSnowflake(nodeID int64) error {
	var err error
	initOnce.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// NextID 生成全局唯一 ID
func NextID() int64 {
	if node == nil {
		// 未初始化则使用默认节点0
		InitSnowflake(0)
	}
	return node.Generate().Int64()
}
