package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"QShareFM/config"
	"QShareFM/core/player"
	"QShareFM/logger"

	"github.com/fsnotify/fsnotify"
)

const localFetchChunkSize = 64 * 1024

var localAudioExts = map[string]bool{
	".mp3":  true,
	".flac": true,
	".wav":  true,
	".ogg":  true,
	".m4a":  true,
}

// localTrack 本地目录中的一首歌
type localTrack struct {
	path   string
	title  string
	artist string
}

// LocalBackend 本地音乐目录后端
// 启动时扫描音乐目录建立索引，之后通过 fsnotify 监听目录变化增量
// 维护索引。不提供歌单能力
type LocalBackend struct {
	dir string

	mu     sync.Mutex
	tracks map[string]localTrack // songId（相对路径）-> 歌曲

	fetchMu   sync.Mutex
	preparing map[string]*songFetch

	watcher *fsnotify.Watcher
}

// NewLocalBackend 创建本地后端并完成首次扫描
func NewLocalBackend(cfg *config.Config) (*LocalBackend, error) {
	b := &LocalBackend{
		dir:       cfg.LocalMusicDir,
		tracks:    make(map[string]localTrack),
		preparing: make(map[string]*songFetch),
	}

	if err := os.MkdirAll(b.dir, 0755); err != nil {
		return nil, fmt.Errorf("创建音乐目录失败: %w", err)
	}
	if err := b.scan(); err != nil {
		return nil, err
	}
	if err := b.watch(); err != nil {
		return nil, err
	}

	logger.Info("本地音乐目录就绪",
		logger.String("dir", b.dir),
		logger.Int("tracks", b.trackCount()))
	return b, nil
}

// Name 后端名称
func (b *LocalBackend) Name() string {
	return "local"
}

// Close 停止目录监听
func (b *LocalBackend) Close() error {
	if b.watcher != nil {
		return b.watcher.Close()
	}
	return nil
}

// ========== 目录索引 ==========

// scan 全量扫描音乐目录
func (b *LocalBackend) scan() error {
	tracks := make(map[string]localTrack)
	err := filepath.Walk(b.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !localAudioExts[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		rel, err := filepath.Rel(b.dir, path)
		if err != nil {
			return err
		}
		tracks[rel] = newLocalTrack(path, rel)
		return nil
	})
	if err != nil {
		return fmt.Errorf("扫描音乐目录失败: %w", err)
	}

	b.mu.Lock()
	b.tracks = tracks
	b.mu.Unlock()
	return nil
}

// watch 监听目录变化，增量维护索引
func (b *LocalBackend) watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建目录监听失败: %w", err)
	}
	if err := watcher.Add(b.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("监听音乐目录失败: %w", err)
	}
	b.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				b.handleEvent(event)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("目录监听错误", logger.ErrorField(err))
			}
		}
	}()
	return nil
}

func (b *LocalBackend) handleEvent(event fsnotify.Event) {
	if !localAudioExts[strings.ToLower(filepath.Ext(event.Name))] {
		return
	}
	rel, err := filepath.Rel(b.dir, event.Name)
	if err != nil {
		return
	}

	switch {
	case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
		b.mu.Lock()
		b.tracks[rel] = newLocalTrack(event.Name, rel)
		b.mu.Unlock()
		logger.Debug("本地歌曲入库", logger.String("songId", rel))
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		b.mu.Lock()
		delete(b.tracks, rel)
		b.mu.Unlock()
		logger.Debug("本地歌曲移除", logger.String("songId", rel))
	}
}

// newLocalTrack 从文件名解析元数据，约定格式 "艺术家 - 标题.ext"
func newLocalTrack(path, rel string) localTrack {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	track := localTrack{path: path, title: base}
	if parts := strings.SplitN(base, " - ", 2); len(parts) == 2 {
		track.artist = strings.TrimSpace(parts[0])
		track.title = strings.TrimSpace(parts[1])
	}
	return track
}

func (b *LocalBackend) trackCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tracks)
}

// ========== 搜索 ==========

// Search 在索引中做大小写无关的子串匹配
func (b *LocalBackend) Search(ctx context.Context, query string, limit int) ([]*player.Song, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	needle := strings.ToLower(query)

	b.mu.Lock()
	ids := make([]string, 0, len(b.tracks))
	for id := range b.tracks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	songs := make([]*player.Song, 0, limit)
	for _, id := range ids {
		track := b.tracks[id]
		if needle != "" &&
			!strings.Contains(strings.ToLower(track.title), needle) &&
			!strings.Contains(strings.ToLower(track.artist), needle) {
			continue
		}
		// 本地文件不做解码，时长未知
		songs = append(songs, player.NewSong(b, id, track.title, track.artist, "", 0))
		if len(songs) >= limit {
			break
		}
	}
	b.mu.Unlock()

	return songs, nil
}

// ========== 预取 ==========

// Prepare 分块读取本地文件
// 文件已在磁盘上，预取只是把数据搬进缓冲并驱动进度事件，
// 与远端后端走同一条就绪流程
func (b *LocalBackend) Prepare(song *player.Song, progress player.ProgressFunc) player.CancelFunc {
	ctx, cancel := context.WithCancel(context.Background())
	fetch := &songFetch{cancel: cancel}

	b.fetchMu.Lock()
	if _, exists := b.preparing[song.ID]; exists {
		b.fetchMu.Unlock()
		cancel()
		return func(error) {}
	}
	b.preparing[song.ID] = fetch
	b.fetchMu.Unlock()

	go b.readFile(ctx, fetch, song, progress)

	return func(reason error) {
		fetch.mu.Lock()
		if fetch.reason == nil {
			fetch.reason = reason
		}
		fetch.mu.Unlock()
		fetch.cancel()
	}
}

func (b *LocalBackend) readFile(ctx context.Context, fetch *songFetch, song *player.Song, progress player.ProgressFunc) {
	fail := func(err error) {
		b.fetchMu.Lock()
		delete(b.preparing, song.ID)
		b.fetchMu.Unlock()

		fetch.mu.Lock()
		if fetch.reason != nil {
			err = fetch.reason
		}
		fetch.mu.Unlock()
		progress(0, false, err)
	}

	b.mu.Lock()
	track, ok := b.tracks[song.ID]
	b.mu.Unlock()
	if !ok {
		fail(fmt.Errorf("本地歌曲不存在: %s", song.ID))
		return
	}

	file, err := os.Open(track.path)
	if err != nil {
		fail(fmt.Errorf("打开音频文件失败: %w", err))
		return
	}
	defer file.Close()

	chunk := make([]byte, localFetchChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			fail(err)
			return
		}
		n, readErr := file.Read(chunk)
		if n > 0 {
			fetch.mu.Lock()
			fetch.buf.Write(chunk[:n])
			fetch.mu.Unlock()
			progress(int64(n), false, nil)
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				progress(0, true, nil)
				return
			}
			fail(fmt.Errorf("读取音频文件失败: %w", readErr))
			return
		}
	}
}

// ReleasePrepared 释放缓冲
// 本地文件本身就是持久存储，这里只从在途注册表移除
func (b *LocalBackend) ReleasePrepared(songID string) {
	b.fetchMu.Lock()
	delete(b.preparing, songID)
	b.fetchMu.Unlock()
}

// DiscardPrepared 丢弃缓冲
func (b *LocalBackend) DiscardPrepared(songID string) {
	b.fetchMu.Lock()
	fetch, ok := b.preparing[songID]
	delete(b.preparing, songID)
	b.fetchMu.Unlock()
	if !ok {
		return
	}

	fetch.cancel()
	fetch.mu.Lock()
	fetch.buf.Reset()
	fetch.mu.Unlock()
}
