/**
 * 仓储:就绪队列加速器
 * @description: 基于Redis List的每Agent就绪队列，MySQL是Job的事实来源，
 *   这里只是一个可随时从MySQL重建的加速结构，用来避免轮询表扫描
 * @func:
 */
package redis

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const readyQueueKeyPrefix = "neoctl:ready_queue:"

// ReadyQueue 定义就绪队列加速器的行为
type ReadyQueue interface {
	Push(ctx context.Context, agentID, jobID string) error
	PopBatch(ctx context.Context, agentID string, limit int64) ([]string, error)
	Len(ctx context.Context, agentID string) (int64, error)
	Rebuild(ctx context.Context, agentID string, jobIDs []string) error
}

type redisReadyQueue struct {
	client *redis.Client
}

// NewReadyQueue 创建基于Redis List的就绪队列
func NewReadyQueue(client *redis.Client) ReadyQueue {
	return &redisReadyQueue{client: client}
}

func key(agentID string) string {
	return readyQueueKeyPrefix + agentID
}

// Push 将新排队的JobID追加到该Agent的就绪队列尾部
func (q *redisReadyQueue) Push(ctx context.Context, agentID, jobID string) error {
	return q.client.RPush(ctx, key(agentID), jobID).Err()
}

// PopBatch 从队列头部弹出最多limit个JobID
// 队列只是一份提示：真正的认领仍需通过job仓储的CAS Claim完成，
// 如果Redis中的JobID已被另一路径认领，调用方会在Claim阶段发现并跳过
func (q *redisReadyQueue) PopBatch(ctx context.Context, agentID string, limit int64) ([]string, error) {
	pipe := q.client.TxPipeline()
	lrange := pipe.LRange(ctx, key(agentID), 0, limit-1)
	pipe.LTrim(ctx, key(agentID), limit, -1)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}
	return lrange.Val(), nil
}

func (q *redisReadyQueue) Len(ctx context.Context, agentID string) (int64, error) {
	return q.client.LLen(ctx, key(agentID)).Result()
}

// Rebuild 用MySQL中的权威队列内容整体替换Redis队列，用于加速器与事实来源产生偏差后的自愈
func (q *redisReadyQueue) Rebuild(ctx context.Context, agentID string, jobIDs []string) error {
	pipe := q.client.TxPipeline()
	pipe.Del(ctx, key(agentID))
	if len(jobIDs) > 0 {
		values := make([]interface{}, len(jobIDs))
		for i, id := range jobIDs {
			values[i] = id
		}
		pipe.RPush(ctx, key(agentID), values...)
	}
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("rebuild ready queue for agent %s: %w", agentID, err)
	}
	return nil
}
