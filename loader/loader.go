package loader

import (
	"context"
	"fmt"

	"QShareFM/cache"
	"QShareFM/config"
	"QShareFM/core/backend"
	"QShareFM/core/player"
	"QShareFM/core/plugin"
	"QShareFM/logger"
	"QShareFM/repository"
	"QShareFM/server"
)

// Loader 插件与后端的装载器
// 内建插件（history、voteskip）和内建后端（local）总是装载，
// 外部插件/后端按配置名单装载
type Loader struct {
	cfg         *config.Config
	historyRepo repository.PlayHistoryRepository

	rest     *server.RestServer
	voteskip *plugin.VoteSkipPlugin
	history  *plugin.HistoryPlugin
	local    *backend.LocalBackend
}

// New 创建装载器
// historyRepo 为 nil 时跳过播放历史插件（数据库未连接的降级运行）
func New(cfg *config.Config, historyRepo repository.PlayHistoryRepository) *Loader {
	return &Loader{cfg: cfg, historyRepo: historyRepo}
}

// RestServer 返回装载出的 REST 接入层，未启用时为 nil
func (l *Loader) RestServer() *server.RestServer {
	return l.rest
}

// Close 释放装载器持有的资源
func (l *Loader) Close() {
	if l.local != nil {
		_ = l.local.Close()
	}
}

// LoadBuiltinPlugins 装载内建插件
func (l *Loader) LoadBuiltinPlugins(ctx context.Context, p *player.Player) (map[string]player.Plugin, error) {
	plugins := make(map[string]player.Plugin)

	// 听众数量来自 REST 接入层，它在后续阶段才装载，这里延迟取值
	l.voteskip = plugin.NewVoteSkipPlugin(p, l.cfg.VoteSkipRatio, func() int {
		if l.rest == nil {
			return 0
		}
		return l.rest.Hub().ListenerCount()
	})
	plugins[l.voteskip.Name()] = l.voteskip

	if l.historyRepo != nil {
		l.history = plugin.NewHistoryPlugin(l.historyRepo)
		plugins[l.history.Name()] = l.history
	} else {
		logger.Warn("数据库未连接，跳过播放历史插件")
	}

	return plugins, nil
}

// LoadPlugins 按名单装载外部插件
func (l *Loader) LoadPlugins(ctx context.Context, p *player.Player, names []string, forceUpdate bool) (map[string]player.Plugin, error) {
	plugins := make(map[string]player.Plugin)
	for _, name := range names {
		switch name {
		case "rest":
			l.rest = server.NewRestServer(l.cfg, p, l.voteskip, l.history)
			plugins[l.rest.Name()] = l.rest
		default:
			return nil, fmt.Errorf("unknown plugin: %s", name)
		}
	}
	return plugins, nil
}

// LoadBuiltinBackends 装载内建后端
func (l *Loader) LoadBuiltinBackends(ctx context.Context, p *player.Player) (map[string]player.Backend, error) {
	local, err := backend.NewLocalBackend(l.cfg)
	if err != nil {
		return nil, fmt.Errorf("load local backend: %w", err)
	}
	l.local = local

	return map[string]player.Backend{local.Name(): local}, nil
}

// LoadBackends 按名单装载外部后端
// forceUpdate 时清空对应后端的音频缓存，保证重新抓取
func (l *Loader) LoadBackends(ctx context.Context, p *player.Player, names []string, forceUpdate bool) (map[string]player.Backend, error) {
	backends := make(map[string]player.Backend)
	for _, name := range names {
		switch name {
		case "netease":
			b := backend.NewNeteaseBackend(l.cfg)
			backends[b.Name()] = b
		default:
			return nil, fmt.Errorf("unknown backend: %s", name)
		}

		if forceUpdate && forceFlushable() {
			if err := cache.FlushSongAudio(name); err != nil {
				logger.Warn("清空音频缓存失败",
					logger.String("backend", name),
					logger.ErrorField(err))
			}
		}
	}
	return backends, nil
}

func forceFlushable() bool {
	return cache.RedisClient != nil
}
