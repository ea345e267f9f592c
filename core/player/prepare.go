package player

import (
	"errors"
	"time"

	"QShareFM/logger"
)

// PrepareSong 驱动一首歌的预取
// 已就绪的歌曲立即回调 done，并在它是当前歌曲、播放挂起时直接起播；
// 否则委托给后端的抓取能力，进度事件依次经过本文件的处理流程。
// done 在本轮预取终止（完成或失败）时恰好被调用一次；
// 同一首歌同时只驱动一次抓取，在途时 done 立即以 nil 回调
func (p *Player) PrepareSong(song *Song, done func(error)) {
	if done == nil {
		done = func(error) {}
	}
	if song == nil || song.Backend == nil {
		done(errors.New("player: song with backend required"))
		return
	}

	p.mu.Lock()
	if song.prepared.Load() {
		if song == p.nowPlaying && p.play && !song.started() {
			p.playbackStartedLocked(song)
		}
		p.mu.Unlock()
		done(nil)
		return
	}
	if song.preparing {
		p.mu.Unlock()
		done(nil)
		return
	}
	song.preparing = true
	p.mu.Unlock()

	logger.Debug("开始预取歌曲",
		logger.String("backend", song.BackendName()),
		logger.String("songId", song.ID),
		logger.String("title", song.Title))

	cancel := song.Backend.Prepare(song, func(chunk int64, complete bool, err error) {
		p.handlePrepareProgress(song, done, chunk, complete, err)
	})

	p.mu.Lock()
	if song.preparing {
		// 抓取仍在途才保存取消能力；已终止时这里是迟到的空挂载
		song.cancelPrepare = cancel
		p.armPrepareWatchdogLocked(song)
	}
	p.mu.Unlock()
}

// handlePrepareProgress 预取进度事件处理
// 错误：回调 done(err)、清除看门狗、丢弃取消能力、触发 onSongPrepareError
// 并丢弃后端缓冲——本轮预取中止，重试只发生在下一次外部触发。
// 数据块：播放挂起且首字节到达时起播，触发 onPrepareProgress 并重置看门狗。
// 完成：触发 onSongPrepared、释放后端缓冲、清除看门狗、回调 done(nil)
func (p *Player) handlePrepareProgress(song *Song, done func(error), chunk int64, complete bool, err error) {
	if err != nil {
		p.mu.Lock()
		p.clearPrepareWatchdogLocked(song.ID)
		song.cancelPrepare = nil
		song.preparing = false
		p.mu.Unlock()

		logger.Warn("歌曲预取失败",
			logger.String("backend", song.BackendName()),
			logger.String("songId", song.ID),
			logger.ErrorField(err))

		done(err)
		if hookErr := p.CallHooks(HookOnSongPrepareError, song, err); hookErr != nil {
			logger.Warn("onSongPrepareError 钩子返回错误", logger.ErrorField(hookErr))
		}
		song.Backend.DiscardPrepared(song.ID)
		return
	}

	if chunk > 0 {
		p.mu.Lock()
		if song == p.nowPlaying && p.play && !song.started() {
			// 播放挂起且首字节刚到达
			p.playbackStartedLocked(song)
		}
		if !complete {
			p.armPrepareWatchdogLocked(song)
		}
		p.mu.Unlock()

		if hookErr := p.CallHooks(HookOnPrepareProgress, song, chunk, complete); hookErr != nil {
			logger.Warn("onPrepareProgress 钩子返回错误", logger.ErrorField(hookErr))
		}
	}

	if complete {
		p.mu.Lock()
		p.clearPrepareWatchdogLocked(song.ID)
		song.cancelPrepare = nil
		song.preparing = false
		song.prepared.Store(true)
		if song == p.nowPlaying && p.play && !song.started() {
			p.playbackStartedLocked(song)
		}
		p.mu.Unlock()

		logger.Debug("歌曲预取完成",
			logger.String("backend", song.BackendName()),
			logger.String("songId", song.ID))

		if hookErr := p.CallHooks(HookOnSongPrepared, song); hookErr != nil {
			logger.Warn("onSongPrepared 钩子返回错误", logger.ErrorField(hookErr))
		}
		song.Backend.ReleasePrepared(song.ID)
		done(nil)
	}
}

// PrepareSongs 向前看的预取
// 先预取当前歌曲（无当前歌曲时为队首），严格在其完成之后再预取队列中
// 紧随其后的一首；任一步没有适用歌曲则短路跳过
func (p *Player) PrepareSongs() {
	p.mu.Lock()
	first := p.nowPlaying
	if first == nil {
		first = p.queue.SongAtIndex(0)
	}
	p.mu.Unlock()
	if first == nil {
		return
	}

	p.PrepareSong(first, func(err error) {
		if err != nil {
			// 本轮中止，下一次队列变更或歌曲结束时重试
			return
		}
		p.mu.Lock()
		var next *Song
		if idx := p.queue.FindSongIndex(first.UUID); idx >= 0 {
			next = p.queue.SongAtIndex(idx + 1)
		}
		p.mu.Unlock()
		if next == nil {
			return
		}
		p.PrepareSong(next, nil)
	})
}

// CancelSongPrepare 取消歌曲的在途预取
// 取消后清除看门狗并丢弃取消能力，保证不会二次触发
func (p *Player) CancelSongPrepare(uuid string, reason error) error {
	p.mu.Lock()
	song := p.queue.FindSong(uuid)
	if song == nil {
		p.mu.Unlock()
		return ErrSongNotFound
	}
	cancel := song.cancelPrepare
	song.cancelPrepare = nil
	p.clearPrepareWatchdogLocked(song.ID)
	p.mu.Unlock()

	if cancel != nil {
		if reason == nil {
			reason = ErrPrepareCancelled
		}
		cancel(reason)
	}
	return nil
}

// armPrepareWatchdogLocked 布置（或重置）预取看门狗
// 重置即先取消再重排——单一幂等操作；到期未被重置时以超时原因
// 调用歌曲的取消能力恰好一次，并清除自己的句柄，不自行安排重试。
// 每首歌同一时刻最多一个在途看门狗。调用方必须持有 p.mu
func (p *Player) armPrepareWatchdogLocked(song *Song) {
	if t, ok := p.prepareTimeouts[song.ID]; ok {
		t.Stop()
	}

	timeout := p.cfg.SongPrepareTimeout
	var timer *time.Timer
	timer = time.AfterFunc(timeout, func() {
		p.mu.Lock()
		current, ok := p.prepareTimeouts[song.ID]
		if !ok || current != timer {
			// 触发与加锁之间被重置过，本次触发作废
			p.mu.Unlock()
			return
		}
		delete(p.prepareTimeouts, song.ID)
		cancel := song.cancelPrepare
		song.cancelPrepare = nil
		p.mu.Unlock()

		logger.Warn("预取看门狗超时",
			logger.String("songId", song.ID),
			logger.Duration("timeout", timeout))

		if cancel != nil {
			cancel(ErrPrepareTimeout)
		}
	})
	p.prepareTimeouts[song.ID] = timer
}

// clearPrepareWatchdogLocked 清除歌曲的预取看门狗，调用方必须持有 p.mu
func (p *Player) clearPrepareWatchdogLocked(songID string) {
	if t, ok := p.prepareTimeouts[songID]; ok {
		t.Stop()
		delete(p.prepareTimeouts, songID)
	}
}
