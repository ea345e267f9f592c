package player

import (
	"errors"
	"math"
	"sync"
	"time"

	"QShareFM/config"
	"QShareFM/logger"
)

var (
	// ErrQueueEmpty 对空队列发起播放
	ErrQueueEmpty = errors.New("player: queue is empty")
	// ErrSongNotFound 队列中不存在目标歌曲
	ErrSongNotFound = errors.New("player: song not found in queue")
	// ErrPrepareTimeout 预取看门狗超时
	ErrPrepareTimeout = errors.New("player: song prepare timed out")
	// ErrPrepareCancelled 预取被外部取消
	ErrPrepareCancelled = errors.New("player: song prepare cancelled")
)

// Player 共享播放队列的编排核心
// 聚合根：持有队列、播放状态、插件/后端注册表和预取看门狗。
// 所有播放状态的变更都串行在 mu 之下；注册表单独用 regMu 保护，
// 钩子调度时不持有 mu，插件可以安全地回调 Player
type Player struct {
	cfg    *config.Config
	loader Loader

	mu              sync.Mutex
	queue           *Queue
	nowPlaying      *Song // nil 或队列中的某首歌（非持有引用）
	play            bool
	repeat          bool
	volume          float64
	songEndTimer    *time.Timer
	prepareTimeouts map[string]*time.Timer // songId -> 在途看门狗，每首歌最多一个

	regMu       sync.RWMutex
	plugins     map[string]Plugin
	pluginOrder []string
	backends    map[string]Backend
}

// New 创建播放器
func New(cfg *config.Config, loader Loader) *Player {
	return &Player{
		cfg:             cfg,
		loader:          loader,
		queue:           NewQueue(),
		volume:          1.0,
		prepareTimeouts: make(map[string]*time.Timer),
		plugins:         make(map[string]Plugin),
		backends:        make(map[string]Backend),
	}
}

// ========== 播放状态机 ==========
// 三个状态：Idle（nowPlaying 为 nil）、Stopped（play 为 false）、
// Playing（play 为 true）

// StartPlayback 开始播放
// 没有当前歌曲时采用队首歌曲；队列为空返回 ErrQueueEmpty 且状态不变。
// 触发歌曲预取；实际起播发生在预取完成（已就绪则立即）或首字节到达时。
// 异步预取失败通过 onSongPrepareError 钩子上报，不在此处返回
func (p *Player) StartPlayback(pos time.Duration) error {
	p.mu.Lock()
	if p.nowPlaying == nil {
		if p.queue.Len() == 0 {
			p.mu.Unlock()
			return ErrQueueEmpty
		}
		p.nowPlaying = p.queue.SongAtIndex(0)
	}
	song := p.nowPlaying
	p.play = true
	if pos > 0 {
		song.Playback.StartPos = pos
	}
	p.mu.Unlock()

	logger.Debug("请求开始播放",
		logger.String("uuid", song.UUID),
		logger.String("title", song.Title))

	p.PrepareSong(song, nil)
	return nil
}

// StopPlayback 停止或暂停播放
// 取消切歌定时器，计算已播放位置 startPos + (now - startTime)，
// pause 为 true 时保留该位置供恢复，否则归零
func (p *Player) StopPlayback(pause bool) {
	p.mu.Lock()
	p.stopSongEndTimerLocked()
	p.play = false
	if np := p.nowPlaying; np != nil {
		if np.started() {
			elapsed := np.Playback.StartPos + time.Since(np.Playback.StartTime)
			np.Playback.StartTime = time.Time{}
			np.Playback.StartPos = elapsed
		}
		if !pause {
			// 彻底停止时丢弃暂停保留的位置
			np.Playback.StartPos = 0
		}
	}
	p.mu.Unlock()
}

// ChangeSong 切换到队列中的指定歌曲
// 目标不在队列中时清空当前播放并转入 Idle（不计算播放位置），
// 返回 ErrSongNotFound
func (p *Player) ChangeSong(uuid string) error {
	p.mu.Lock()
	p.stopSongEndTimerLocked()
	song := p.queue.FindSong(uuid)
	if song == nil {
		p.nowPlaying = nil
		p.play = false
		p.mu.Unlock()
		return ErrSongNotFound
	}
	p.nowPlaying = song
	song.Playback = PlaybackInfo{}
	p.mu.Unlock()

	if err := p.CallHooks(HookOnSongChange, song); err != nil {
		logger.Warn("onSongChange 钩子返回错误",
			logger.String("uuid", uuid),
			logger.ErrorField(err))
	}
	return p.StartPlayback(0)
}

// SongEnd 当前歌曲播放结束
// 由切歌定时器（或投票切歌等外部触发）调用：触发 onSongEnd 钩子后
// 推进到下一首；队尾且开了循环时回到队首，否则停在队列末尾。
// 结束后总是触发一轮预取
func (p *Player) SongEnd() {
	p.mu.Lock()
	np := p.nowPlaying
	if np == nil {
		p.mu.Unlock()
		return
	}
	idx := p.queue.FindSongIndex(np.UUID)
	p.mu.Unlock()

	if err := p.CallHooks(HookOnSongEnd, np); err != nil {
		logger.Warn("onSongEnd 钩子返回错误", logger.ErrorField(err))
	}

	p.mu.Lock()
	var next *Song
	if idx >= 0 {
		next = p.queue.SongAtIndex(idx + 1)
	}
	if next == nil && p.repeat {
		next = p.queue.SongAtIndex(0)
	}
	p.mu.Unlock()

	if next != nil {
		if err := p.ChangeSong(next.UUID); err != nil {
			logger.Warn("切歌失败", logger.ErrorField(err))
		}
	} else {
		p.StopPlayback(false)
		logger.Info("已到达队列末尾")
	}

	p.PrepareSongs()
}

// playbackStartedLocked 记录播放起点并布置切歌定时器
// 调用方必须持有 p.mu
func (p *Player) playbackStartedLocked(song *Song) {
	song.playbackStarted(song.Playback.StartPos)
	p.play = true
	p.armSongEndTimerLocked(song)

	logger.Info("开始播放",
		logger.String("uuid", song.UUID),
		logger.String("title", song.Title),
		logger.Duration("startPos", song.Playback.StartPos))
}

// armSongEndTimerLocked 按剩余时长布置切歌定时器
func (p *Player) armSongEndTimerLocked(song *Song) {
	p.stopSongEndTimerLocked()
	if song.Duration <= 0 {
		return
	}
	remaining := song.Duration - song.Playback.StartPos
	if remaining < 0 {
		remaining = 0
	}
	p.songEndTimer = time.AfterFunc(remaining, p.SongEnd)
}

func (p *Player) stopSongEndTimerLocked() {
	if p.songEndTimer != nil {
		p.songEndTimer.Stop()
		p.songEndTimer = nil
	}
}

// ========== 队列操作 ==========

// AddSong 歌曲入队
// preSongQueued 钩子拥有否决权；入队成功后触发 onQueueModify 并预取
func (p *Player) AddSong(song *Song, actorID string) error {
	if song == nil {
		return errors.New("player: song required")
	}
	if err := p.CallHooks(HookPreSongQueued, song, actorID); err != nil {
		logger.Info("歌曲入队被插件否决",
			logger.String("songId", song.ID),
			logger.String("title", song.Title),
			logger.ErrorField(err))
		return err
	}

	p.mu.Lock()
	p.queue.Add(song)
	p.mu.Unlock()

	if err := p.CallHooks(HookOnQueueModify); err != nil {
		logger.Warn("onQueueModify 钩子返回错误", logger.ErrorField(err))
	}
	p.PrepareSongs()
	return nil
}

// RemoveSong 按 UUID 移除歌曲
// 移除的是当前歌曲时直接推进到下一首（不触发 onSongEnd），
// 并取消它可能在途的预取
func (p *Player) RemoveSong(uuid string) error {
	p.mu.Lock()
	song := p.queue.FindSong(uuid)
	if song == nil {
		p.mu.Unlock()
		return ErrSongNotFound
	}

	wasNowPlaying := song == p.nowPlaying
	var next *Song
	if wasNowPlaying {
		p.stopSongEndTimerLocked()
		idx := p.queue.FindSongIndex(uuid)
		next = p.queue.SongAtIndex(idx + 1)
		p.nowPlaying = nil
		if next == nil {
			p.play = false
		}
	}
	p.queue.Remove(uuid)

	cancel := song.cancelPrepare
	song.cancelPrepare = nil
	song.preparing = false
	p.clearPrepareWatchdogLocked(song.ID)
	p.mu.Unlock()

	if cancel != nil {
		cancel(ErrPrepareCancelled)
	}
	if wasNowPlaying && next != nil {
		if err := p.ChangeSong(next.UUID); err != nil {
			logger.Warn("移除后切歌失败", logger.ErrorField(err))
		}
	}

	if err := p.CallHooks(HookOnQueueModify); err != nil {
		logger.Warn("onQueueModify 钩子返回错误", logger.ErrorField(err))
	}
	p.PrepareSongs()
	return nil
}

// ========== 音量 ==========

// SetVolume 设置音量
// 值被钳制到 [0,1]，NaN 按 0 处理，onVolumeChange 钩子携带钳制后的值和操作者
func (p *Player) SetVolume(value float64, actorID string) {
	if math.IsNaN(value) {
		value = 0
	}
	if value < 0 {
		value = 0
	}
	if value > 1 {
		value = 1
	}

	p.mu.Lock()
	p.volume = value
	p.mu.Unlock()

	if err := p.CallHooks(HookOnVolumeChange, value, actorID); err != nil {
		logger.Warn("onVolumeChange 钩子返回错误", logger.ErrorField(err))
	}
}

// Volume 当前音量
func (p *Player) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// ========== 状态访问 ==========

// NowPlaying 当前歌曲，可能为 nil
func (p *Player) NowPlaying() *Song {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nowPlaying
}

// IsPlaying 是否处于播放状态
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.play
}

// SetRepeat 设置循环播放
func (p *Player) SetRepeat(repeat bool) {
	p.mu.Lock()
	p.repeat = repeat
	p.mu.Unlock()
}

// Repeat 是否循环播放
func (p *Player) Repeat() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.repeat
}

// QueueSongs 队列快照
func (p *Player) QueueSongs() []*Song {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.Songs()
}

// QueueLen 队列长度
func (p *Player) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.Len()
}

// UUIDAtIndex 按队列位置取歌曲 UUID
func (p *Player) UUIDAtIndex(index int) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.UUIDAtIndex(index)
}
