package player

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// PlaybackInfo 记录一次播放的起点
// StartTime 为零值表示播放尚未开始，StartPos 是恢复播放用的偏移量
type PlaybackInfo struct {
	StartTime time.Time     `json:"startTime"`
	StartPos  time.Duration `json:"startPos"`
}

// Song 队列中的一首歌
// UUID 是会话内身份（与队列位置无关），ID 是后端目录身份。
// preparing/cancelPrepare 的读写由 Player 的互斥锁保护；
// prepared 是原子量，HTTP 处理协程可以不加锁读取
type Song struct {
	UUID     string        `json:"uuid"`
	ID       string        `json:"songId"`
	Title    string        `json:"title"`
	Artist   string        `json:"artist"`
	Album    string        `json:"album,omitempty"`
	Duration time.Duration `json:"duration"`

	Backend  Backend      `json:"-"`
	Playback PlaybackInfo `json:"playback"`

	prepared      atomic.Bool
	preparing     bool
	cancelPrepare CancelFunc
}

// NewSong 创建歌曲并分配会话内 UUID
func NewSong(backend Backend, songID, title, artist, album string, duration time.Duration) *Song {
	return &Song{
		UUID:     uuid.NewString(),
		ID:       songID,
		Title:    title,
		Artist:   artist,
		Album:    album,
		Duration: duration,
		Backend:  backend,
	}
}

// BackendName 返回所属后端名称
func (s *Song) BackendName() string {
	if s.Backend == nil {
		return ""
	}
	return s.Backend.Name()
}

// IsPrepared 歌曲数据是否已经预取完成
func (s *Song) IsPrepared() bool {
	return s.prepared.Load()
}

// MarkPrepared 标记歌曲已预取完成
// 后端可在歌曲数据已在缓存中时直接标记，跳过抓取
func (s *Song) MarkPrepared() {
	s.prepared.Store(true)
}

// playbackStarted 记录播放起点（墙钟时间 + 偏移量）
// 偏移量不允许为负
func (s *Song) playbackStarted(pos time.Duration) {
	if pos < 0 {
		pos = 0
	}
	s.Playback.StartTime = time.Now()
	s.Playback.StartPos = pos
}

// started 播放是否已经开始
func (s *Song) started() bool {
	return !s.Playback.StartTime.IsZero()
}
