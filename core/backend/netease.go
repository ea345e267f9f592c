package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"QShareFM/cache"
	"QShareFM/config"
	"QShareFM/core/player"
	"QShareFM/logger"
	"QShareFM/storage"
)

const neteaseFetchChunkSize = 64 * 1024

// NeteaseBackend 网易云音乐目录后端
// 通过本地部署的 NeteaseCloudMusicApi 服务搜索歌曲并抓取音频，
// 预取完成的音频写入 Redis 热缓存和 MinIO 对象存储
type NeteaseBackend struct {
	baseURL    string
	httpClient *http.Client
	cfg        *config.Config

	mu        sync.Mutex
	preparing map[string]*songFetch // songId -> 在途抓取
}

// songFetch 一次在途的音频抓取
type songFetch struct {
	cancel context.CancelFunc

	mu     sync.Mutex
	buf    bytes.Buffer
	reason error // 取消原因，由抓取协程上报
}

// NewNeteaseBackend 创建网易云后端
func NewNeteaseBackend(cfg *config.Config) *NeteaseBackend {
	return &NeteaseBackend{
		baseURL: cfg.NeteaseAPIURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		cfg:       cfg,
		preparing: make(map[string]*songFetch),
	}
}

// Name 后端名称
func (b *NeteaseBackend) Name() string {
	return "netease"
}

// ========== 搜索 ==========

// Search 调用云搜索接口
func (b *NeteaseBackend) Search(ctx context.Context, query string, limit int) ([]*player.Song, error) {
	reqURL := fmt.Sprintf("%s/cloudsearch?keywords=%s&limit=%d",
		b.baseURL, url.QueryEscape(query), limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("创建搜索请求失败: %w", err)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("搜索请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("搜索API返回错误状态码: %d", resp.StatusCode)
	}

	var result struct {
		Code   int `json:"code"`
		Result struct {
			Songs []struct {
				ID   int64  `json:"id"`
				Name string `json:"name"`
				Ar   []struct {
					Name string `json:"name"`
				} `json:"ar"`
				Al struct {
					Name string `json:"name"`
				} `json:"al"`
				Dt int64 `json:"dt"` // 毫秒
			} `json:"songs"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("解析搜索响应失败: %w", err)
	}
	if result.Code != 200 {
		return nil, fmt.Errorf("搜索API返回错误码: %d", result.Code)
	}

	songs := make([]*player.Song, 0, len(result.Result.Songs))
	for _, item := range result.Result.Songs {
		artist := ""
		for i, a := range item.Ar {
			if i > 0 {
				artist += ","
			}
			artist += a.Name
		}
		song := player.NewSong(b,
			strconv.FormatInt(item.ID, 10),
			item.Name,
			artist,
			item.Al.Name,
			time.Duration(item.Dt)*time.Millisecond,
		)
		songs = append(songs, song)
	}
	return songs, nil
}

// GetPlaylists 获取热门歌单
func (b *NeteaseBackend) GetPlaylists(ctx context.Context) ([]player.Playlist, error) {
	reqURL := fmt.Sprintf("%s/top/playlist?limit=%d", b.baseURL, b.cfg.SearchResultLimit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("创建歌单请求失败: %w", err)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("歌单请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("歌单API返回错误状态码: %d", resp.StatusCode)
	}

	var result struct {
		Code      int `json:"code"`
		Playlists []struct {
			ID         int64  `json:"id"`
			Name       string `json:"name"`
			TrackCount int    `json:"trackCount"`
		} `json:"playlists"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("解析歌单响应失败: %w", err)
	}
	if result.Code != 200 {
		return nil, fmt.Errorf("歌单API返回错误码: %d", result.Code)
	}

	playlists := make([]player.Playlist, 0, len(result.Playlists))
	for _, item := range result.Playlists {
		playlists = append(playlists, player.Playlist{
			ID:         strconv.FormatInt(item.ID, 10),
			Name:       item.Name,
			Backend:    b.Name(),
			TrackCount: item.TrackCount,
		})
	}
	return playlists, nil
}

// ========== 预取 ==========

// Prepare 异步抓取歌曲音频
// 缓存命中直接上报完成；否则解析下载地址后分块拉取，每块上报一次进度。
// 返回的取消能力通过上下文终止抓取协程，取消原因由抓取协程作为
// 错误通过进度回调上报恰好一次
func (b *NeteaseBackend) Prepare(song *player.Song, progress player.ProgressFunc) player.CancelFunc {
	ctx, cancel := context.WithCancel(context.Background())
	fetch := &songFetch{cancel: cancel}

	b.mu.Lock()
	if _, exists := b.preparing[song.ID]; exists {
		b.mu.Unlock()
		cancel()
		// 已有在途抓取，不再发起第二次（Player 侧也会去重）
		return func(error) {}
	}
	b.preparing[song.ID] = fetch
	b.mu.Unlock()

	go b.fetchSong(ctx, fetch, song, progress)

	return func(reason error) {
		fetch.mu.Lock()
		if fetch.reason == nil {
			fetch.reason = reason
		}
		fetch.mu.Unlock()
		fetch.cancel()
	}
}

// fetchSong 抓取协程，终止事件（完成或错误）只上报一次
func (b *NeteaseBackend) fetchSong(ctx context.Context, fetch *songFetch, song *player.Song, progress player.ProgressFunc) {
	fail := func(err error) {
		b.mu.Lock()
		delete(b.preparing, song.ID)
		b.mu.Unlock()
		progress(0, false, err)
	}

	// 先查 Redis 热缓存，再查对象存储
	if data, _ := cache.GetSongAudio(b.Name(), song.ID); data != nil {
		fetch.mu.Lock()
		fetch.buf.Write(data)
		fetch.mu.Unlock()
		logger.Debug("音频缓存命中，跳过抓取",
			logger.String("songId", song.ID))
		progress(int64(len(data)), true, nil)
		return
	}
	if data, err := storage.FetchSongAudio(ctx, b.Name(), song.ID); err == nil && data != nil {
		fetch.mu.Lock()
		fetch.buf.Write(data)
		fetch.mu.Unlock()
		logger.Debug("对象存储命中，跳过抓取",
			logger.String("songId", song.ID))
		progress(int64(len(data)), true, nil)
		return
	}

	audioURL, err := b.resolveSongURL(ctx, song.ID)
	if err != nil {
		fail(b.cancelReasonOr(fetch, err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		fail(err)
		return
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		fail(b.cancelReasonOr(fetch, err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fail(fmt.Errorf("音频下载返回错误状态码: %d", resp.StatusCode))
		return
	}

	chunk := make([]byte, neteaseFetchChunkSize)
	for {
		n, readErr := resp.Body.Read(chunk)
		if n > 0 {
			fetch.mu.Lock()
			fetch.buf.Write(chunk[:n])
			fetch.mu.Unlock()
			progress(int64(n), false, nil)
		}
		if readErr == io.EOF {
			progress(0, true, nil)
			return
		}
		if readErr != nil {
			fail(b.cancelReasonOr(fetch, readErr))
			return
		}
	}
}

// cancelReasonOr 抓取被取消时返回存储的取消原因，否则返回原始错误
func (b *NeteaseBackend) cancelReasonOr(fetch *songFetch, err error) error {
	fetch.mu.Lock()
	defer fetch.mu.Unlock()
	if fetch.reason != nil {
		return fetch.reason
	}
	return err
}

// resolveSongURL 解析歌曲的下载地址
func (b *NeteaseBackend) resolveSongURL(ctx context.Context, songID string) (string, error) {
	reqURL := fmt.Sprintf("%s/song/url/v1?id=%s&level=exhigh", b.baseURL, songID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("创建请求失败: %w", err)
	}
	// 设置cookie确保返回正常码率的url
	req.AddCookie(&http.Cookie{Name: "os", Value: "pc"})

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API返回错误状态码: %d", resp.StatusCode)
	}

	var result struct {
		Data []struct {
			ID  int64  `json:"id"`
			URL string `json:"url"`
		} `json:"data"`
		Code int    `json:"code"`
		Msg  string `json:"msg,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("解析响应失败: %w", err)
	}
	if result.Code != 200 {
		return "", fmt.Errorf("API返回错误: %s (code: %d)", result.Msg, result.Code)
	}
	if len(result.Data) == 0 || result.Data[0].URL == "" {
		return "", fmt.Errorf("歌曲URL为空，可能是版权限制")
	}
	return result.Data[0].URL, nil
}

// ReleasePrepared 预取完成后释放缓冲
// 缓冲写入 Redis 热缓存和 MinIO 对象存储后从在途注册表移除
func (b *NeteaseBackend) ReleasePrepared(songID string) {
	b.mu.Lock()
	fetch, ok := b.preparing[songID]
	delete(b.preparing, songID)
	b.mu.Unlock()
	if !ok {
		return
	}

	fetch.mu.Lock()
	data := make([]byte, fetch.buf.Len())
	copy(data, fetch.buf.Bytes())
	fetch.buf.Reset()
	fetch.mu.Unlock()
	if len(data) == 0 {
		return
	}

	if cache.RedisClient != nil {
		if err := cache.SetSongAudio(b.Name(), songID, data); err != nil {
			logger.Warn("写入音频缓存失败",
				logger.String("songId", songID),
				logger.ErrorField(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := storage.UploadSongAudio(ctx, b.Name(), songID, data); err != nil {
		logger.Warn("写入对象存储失败",
			logger.String("songId", songID),
			logger.ErrorField(err))
	}
}

// DiscardPrepared 预取失败或取消后丢弃缓冲
func (b *NeteaseBackend) DiscardPrepared(songID string) {
	b.mu.Lock()
	fetch, ok := b.preparing[songID]
	delete(b.preparing, songID)
	b.mu.Unlock()
	if !ok {
		return
	}

	fetch.cancel()
	fetch.mu.Lock()
	fetch.buf.Reset()
	fetch.mu.Unlock()
}
