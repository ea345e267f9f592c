package player

import (
	"context"
	"sync"

	"QShareFM/logger"
)

// SearchResults 按后端名称聚合的搜索结果
type SearchResults map[string][]*Song

// PlaylistResults 按后端名称聚合的歌单列表
type PlaylistResults map[string][]Playlist

// SearchBackends 跨后端并发搜索
// 查询同时发往每个已注册后端（互不阻塞），每首返回的歌曲逐一经过
// preAddSearchResult 钩子过滤，被否决的丢弃并记录日志。
// 所有后端（成功或失败）都报告之后才返回，恰好返回一次；
// 后端完成的先后顺序不作保证。失败的后端贡献空结果
func (p *Player) SearchBackends(ctx context.Context, query string) SearchResults {
	backends := p.snapshotBackends()
	results := make(SearchResults, len(backends))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, backend := range backends {
		wg.Add(1)
		go func(name string, backend Backend) {
			defer wg.Done()

			songs, err := backend.Search(ctx, query, p.cfg.SearchResultLimit)
			if err != nil {
				logger.Warn("后端搜索失败",
					logger.String("backend", name),
					logger.String("query", query),
					logger.ErrorField(err))
				return
			}

			kept := make([]*Song, 0, len(songs))
			for _, song := range songs {
				if vetoErr := p.CallHooks(HookPreAddSearchResult, song); vetoErr != nil {
					logger.Debug("搜索结果被插件否决",
						logger.String("backend", name),
						logger.String("songId", song.ID),
						logger.String("title", song.Title),
						logger.ErrorField(vetoErr))
					continue
				}
				kept = append(kept, song)
			}

			mu.Lock()
			results[name] = kept
			mu.Unlock()
		}(name, backend)
	}
	wg.Wait()

	return results
}

// GetPlaylists 跨后端并发获取歌单
// 与搜索相同的汇合模式；未实现歌单能力的后端按空结果立即完成
func (p *Player) GetPlaylists(ctx context.Context) PlaylistResults {
	backends := p.snapshotBackends()
	results := make(PlaylistResults, len(backends))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, backend := range backends {
		provider, ok := backend.(PlaylistProvider)
		if !ok {
			// 前面迭代孵化的协程可能已在并发写同一个映射
			mu.Lock()
			results[name] = nil
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(name string, provider PlaylistProvider) {
			defer wg.Done()

			playlists, err := provider.GetPlaylists(ctx)
			if err != nil {
				logger.Warn("后端歌单获取失败",
					logger.String("backend", name),
					logger.ErrorField(err))
				return
			}

			mu.Lock()
			results[name] = playlists
			mu.Unlock()
		}(name, provider)
	}
	wg.Wait()

	return results
}
