package plugin

import (
	"errors"
	"math"
	"sync"

	"QShareFM/core/player"
	"QShareFM/logger"
)

// ErrAlreadyVoted 同一用户对同一首歌重复投票
var ErrAlreadyVoted = errors.New("plugin: already voted to skip this song")

// VoteSkipPlugin 投票切歌插件
// 每个听众对当前歌曲最多投一票，票数达到听众数乘以配置比例时切歌。
// 歌曲切换后票池清空
type VoteSkipPlugin struct {
	p         *player.Player
	ratio     float64
	listeners func() int // 当前听众数量，由接入层提供

	mu    sync.Mutex
	votes map[string]bool // userId -> 已投票
}

// NewVoteSkipPlugin 创建投票切歌插件
func NewVoteSkipPlugin(p *player.Player, ratio float64, listeners func() int) *VoteSkipPlugin {
	if ratio <= 0 || ratio > 1 {
		ratio = 0.5
	}
	return &VoteSkipPlugin{
		p:         p,
		ratio:     ratio,
		listeners: listeners,
		votes:     make(map[string]bool),
	}
}

// Name 插件名称
func (v *VoteSkipPlugin) Name() string {
	return "voteskip"
}

// Hooks 插件订阅的钩子
func (v *VoteSkipPlugin) Hooks() map[player.Hook]player.HookFunc {
	return map[player.Hook]player.HookFunc{
		player.HookOnSongChange: v.onSongChange,
	}
}

func (v *VoteSkipPlugin) onSongChange(args ...interface{}) error {
	v.mu.Lock()
	v.votes = make(map[string]bool)
	v.mu.Unlock()
	return nil
}

// Vote 记录一票并在达到阈值时切歌
// 返回当前票数和阈值
func (v *VoteSkipPlugin) Vote(userID string) (votes, required int, err error) {
	if v.p.NowPlaying() == nil {
		return 0, 0, errors.New("plugin: nothing is playing")
	}

	required = v.requiredVotes()

	v.mu.Lock()
	if v.votes[userID] {
		votes = len(v.votes)
		v.mu.Unlock()
		return votes, required, ErrAlreadyVoted
	}
	v.votes[userID] = true
	votes = len(v.votes)
	v.mu.Unlock()

	logger.Info("收到切歌投票",
		logger.String("userId", userID),
		logger.Int("votes", votes),
		logger.Int("required", required))

	if votes >= required {
		v.mu.Lock()
		v.votes = make(map[string]bool)
		v.mu.Unlock()

		logger.Info("投票通过，切歌")
		v.p.SongEnd()
	}
	return votes, required, nil
}

// requiredVotes 通过阈值：听众数乘以比例向上取整，至少 1 票
func (v *VoteSkipPlugin) requiredVotes() int {
	count := 1
	if v.listeners != nil {
		count = v.listeners()
	}
	if count < 1 {
		count = 1
	}
	required := int(math.Ceil(float64(count) * v.ratio))
	if required < 1 {
		required = 1
	}
	return required
}
