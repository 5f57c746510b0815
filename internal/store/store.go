// Package store 持久化投票会话，以及 (guild, channel) -> 活跃会话 的二级索引。
package store

import (
	"context"

	"github.com/pkg/errors"

	"ddbridge/internal/models"
)

var (
	ErrNotFound  = errors.New("voting session not found")
	ErrPublished = errors.New("published voting session cannot be deleted")
)

// Store 会话存储，单个 local_id 上的写入由调用方串行化
type Store interface {
	Get(ctx context.Context, localID string) (*models.VotingSession, error)
	// Put 覆盖写入，会话行与频道索引在同一事务中更新
	Put(ctx context.Context, session *models.VotingSession) error
	Delete(ctx context.Context, localID string) error
	// FindActive 返回频道内最新的非终态会话
	FindActive(ctx context.Context, guildID, channelID string) (*models.VotingSession, error)
	// Stats 各状态的会话数量
	Stats(ctx context.Context) (map[string]int, error)
	Close() error
}
