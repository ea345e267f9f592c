package player

import (
	"sort"

	"QShareFM/logger"
)

// Hook 插件生命周期扩展点名称
type Hook string

const (
	HookOnBuiltinPluginsInitialized  Hook = "onBuiltinPluginsInitialized"
	HookOnPluginsInitialized         Hook = "onPluginsInitialized"
	HookOnBuiltinBackendsInitialized Hook = "onBuiltinBackendsInitialized"
	HookOnBackendsInitialized        Hook = "onBackendsInitialized"
	HookOnReady                      Hook = "onReady"
	HookOnSongChange                 Hook = "onSongChange"
	HookOnSongEnd                    Hook = "onSongEnd"
	HookOnSongPrepareError           Hook = "onSongPrepareError"
	HookOnPrepareProgress            Hook = "onPrepareProgress"
	HookOnSongPrepared               Hook = "onSongPrepared"
	HookPreAddSearchResult           Hook = "preAddSearchResult"
	HookPreSongQueued                Hook = "preSongQueued"
	HookOnQueueModify                Hook = "onQueueModify"
	HookOnVolumeChange               Hook = "onVolumeChange"
)

// HookFunc 插件提供的钩子函数
// 返回非 nil 表示否决/失败，调度会在第一个非 nil 返回处停止
type HookFunc func(args ...interface{}) error

// Plugin 插件描述符
// Hooks 返回的映射是插件能力的唯一规范形态，CallHooks 和 NumHooks
// 都通过它查找，不存在第二条查找路径
type Plugin interface {
	Name() string
	Hooks() map[Hook]HookFunc
}

// registerPlugins 按名称字典序将一批插件并入注册表
// 同一阶段内以字典序注册，跨阶段按阶段先后排序
func (p *Player) registerPlugins(plugins map[string]Plugin) {
	names := make([]string, 0, len(plugins))
	for name := range plugins {
		names = append(names, name)
	}
	sort.Strings(names)

	p.regMu.Lock()
	defer p.regMu.Unlock()
	for _, name := range names {
		if _, exists := p.plugins[name]; exists {
			logger.Warn("插件重复注册，忽略", logger.String("plugin", name))
			continue
		}
		p.plugins[name] = plugins[name]
		p.pluginOrder = append(p.pluginOrder, name)
	}
}

// snapshotPlugins 按注册顺序取插件快照
// 调度钩子时不持有任何 Player 锁，插件可以安全地回调 Player 方法
func (p *Player) snapshotPlugins() []Plugin {
	p.regMu.RLock()
	defer p.regMu.RUnlock()

	snapshot := make([]Plugin, 0, len(p.pluginOrder))
	for _, name := range p.pluginOrder {
		snapshot = append(snapshot, p.plugins[name])
	}
	return snapshot
}

// CallHooks 按注册顺序依次调用所有暴露了该钩子的插件
// 第一个返回非 nil 的调用会中断迭代，其返回值作为否决/错误信号返回；
// 没有插件否决时返回 nil。钩子内部的 panic 不做恢复
func (p *Player) CallHooks(hook Hook, args ...interface{}) error {
	for _, plugin := range p.snapshotPlugins() {
		fn, ok := plugin.Hooks()[hook]
		if !ok || fn == nil {
			continue
		}
		if err := fn(args...); err != nil {
			return err
		}
	}
	return nil
}

// NumHooks 统计暴露了该钩子的插件数量
func (p *Player) NumHooks(hook Hook) int {
	count := 0
	for _, plugin := range p.snapshotPlugins() {
		if fn, ok := plugin.Hooks()[hook]; ok && fn != nil {
			count++
		}
	}
	return count
}

// Plugins 返回已注册插件名称，按注册顺序
func (p *Player) Plugins() []string {
	p.regMu.RLock()
	defer p.regMu.RUnlock()

	names := make([]string, len(p.pluginOrder))
	copy(names, p.pluginOrder)
	return names
}
