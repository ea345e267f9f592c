package player

import (
	"context"
	"sort"

	"QShareFM/logger"
)

// ProgressFunc 预取进度回调
// chunk 为本次到达的字节数，complete 表示抓取完成（最后一块数据可以与
// complete 同时到达），err 非 nil 表示本轮预取失败并终止。
// 终止事件（complete 或 err）只会上报一次
type ProgressFunc func(chunk int64, complete bool, err error)

// CancelFunc 取消一次在途预取
// 后端必须保证：取消后丢弃已缓冲的数据，并把 reason 通过进度回调
// 作为错误上报恰好一次；重复调用是空操作
type CancelFunc func(reason error)

// Backend 音乐目录后端描述符
// 后端自己持有在途预取注册表（songsPreparing，以 songId 为键），
// Player 只通过 Release/Discard 驱动其释放
type Backend interface {
	Name() string

	// Search 搜索歌曲，limit 为返回数量上限
	Search(ctx context.Context, query string, limit int) ([]*Song, error)

	// Prepare 异步抓取歌曲数据，进度通过 progress 上报
	// 返回的取消能力在抓取结束前一直有效
	Prepare(song *Song, progress ProgressFunc) CancelFunc

	// ReleasePrepared 预取完成后释放在途注册表中的缓冲
	// （写入缓存/对象存储由后端自行决定）
	ReleasePrepared(songID string)

	// DiscardPrepared 预取失败后丢弃在途注册表中的缓冲
	DiscardPrepared(songID string)
}

// Playlist 后端歌单
type Playlist struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Backend    string `json:"backend"`
	TrackCount int    `json:"trackCount"`
}

// PlaylistProvider 可选的歌单列举能力
// 未实现该接口的后端在聚合时按空结果立即完成
type PlaylistProvider interface {
	GetPlaylists(ctx context.Context) ([]Playlist, error)
}

// registerBackends 按名称字典序将一批后端并入注册表
func (p *Player) registerBackends(backends map[string]Backend) {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)

	p.regMu.Lock()
	defer p.regMu.Unlock()
	for _, name := range names {
		if _, exists := p.backends[name]; exists {
			logger.Warn("后端重复注册，忽略", logger.String("backend", name))
			continue
		}
		p.backends[name] = backends[name]
	}
}

// snapshotBackends 取后端注册表快照
func (p *Player) snapshotBackends() map[string]Backend {
	p.regMu.RLock()
	defer p.regMu.RUnlock()

	snapshot := make(map[string]Backend, len(p.backends))
	for name, b := range p.backends {
		snapshot[name] = b
	}
	return snapshot
}

// GetBackend 按名称查找后端
func (p *Player) GetBackend(name string) Backend {
	p.regMu.RLock()
	defer p.regMu.RUnlock()
	return p.backends[name]
}

// Backends 返回已注册后端名称，字典序
func (p *Player) Backends() []string {
	p.regMu.RLock()
	defer p.regMu.RUnlock()

	names := make([]string, 0, len(p.backends))
	for name := range p.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
