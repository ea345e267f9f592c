package plugin

import (
	"time"

	"QShareFM/core/player"
	"QShareFM/logger"
	"QShareFM/model"
	"QShareFM/repository"
)

// HistoryPlugin 播放历史插件
// 订阅 onSongEnd，把每首播完（或被切走）的歌曲写入数据库
type HistoryPlugin struct {
	repo repository.PlayHistoryRepository
}

// NewHistoryPlugin 创建播放历史插件
func NewHistoryPlugin(repo repository.PlayHistoryRepository) *HistoryPlugin {
	return &HistoryPlugin{repo: repo}
}

// Name 插件名称
func (p *HistoryPlugin) Name() string {
	return "history"
}

// Hooks 插件订阅的钩子
func (p *HistoryPlugin) Hooks() map[player.Hook]player.HookFunc {
	return map[player.Hook]player.HookFunc{
		player.HookOnSongEnd: p.onSongEnd,
	}
}

func (p *HistoryPlugin) onSongEnd(args ...interface{}) error {
	song, ok := args[0].(*player.Song)
	if !ok || song == nil {
		return nil
	}

	record := &model.PlayHistory{
		Backend:  song.BackendName(),
		SongID:   song.ID,
		Title:    song.Title,
		Artist:   song.Artist,
		Album:    song.Album,
		Duration: song.Duration.Seconds(),
		PlayedAt: time.Now(),
	}
	if err := p.repo.Create(record); err != nil {
		// 历史记录失败不阻断切歌
		logger.Warn("写入播放历史失败",
			logger.String("songId", song.ID),
			logger.ErrorField(err))
	}
	return nil
}

// Recent 返回最近的播放历史
func (p *HistoryPlugin) Recent(limit int) ([]model.PlayHistory, error) {
	return p.repo.Recent(limit)
}
