package player

import (
	"context"
	"fmt"

	"QShareFM/logger"
)

// Loader 插件/后端装载器（外部协作者）
// 每个方法返回 name -> 描述符 的映射，装载失败返回错误
type Loader interface {
	LoadBuiltinPlugins(ctx context.Context, p *Player) (map[string]Plugin, error)
	LoadPlugins(ctx context.Context, p *Player, names []string, forceUpdate bool) (map[string]Plugin, error)
	LoadBuiltinBackends(ctx context.Context, p *Player) (map[string]Backend, error)
	LoadBackends(ctx context.Context, p *Player, names []string, forceUpdate bool) (map[string]Backend, error)
}

// Initialize 初始化流水线
// 四个严格有序的阶段：内建插件 → 外部插件 → 内建后端 → 外部后端。
// 每个阶段先并入注册表再触发对应钩子，后一阶段依赖前一阶段注册的能力。
// 任一阶段失败立即中止并返回包装错误（不重试）；
// 四个阶段全部完成后记录就绪日志并触发 onReady
func (p *Player) Initialize(ctx context.Context, forceUpdate bool) error {
	stages := []struct {
		name string
		hook Hook
		run  func() error
	}{
		{
			name: "builtin plugins",
			hook: HookOnBuiltinPluginsInitialized,
			run: func() error {
				plugins, err := p.loader.LoadBuiltinPlugins(ctx, p)
				if err != nil {
					return err
				}
				p.registerPlugins(plugins)
				return nil
			},
		},
		{
			name: "plugins",
			hook: HookOnPluginsInitialized,
			run: func() error {
				plugins, err := p.loader.LoadPlugins(ctx, p, p.cfg.EnabledPlugins, forceUpdate)
				if err != nil {
					return err
				}
				p.registerPlugins(plugins)
				return nil
			},
		},
		{
			name: "builtin backends",
			hook: HookOnBuiltinBackendsInitialized,
			run: func() error {
				backends, err := p.loader.LoadBuiltinBackends(ctx, p)
				if err != nil {
					return err
				}
				p.registerBackends(backends)
				return nil
			},
		},
		{
			name: "backends",
			hook: HookOnBackendsInitialized,
			run: func() error {
				backends, err := p.loader.LoadBackends(ctx, p, p.cfg.EnabledBackends, forceUpdate)
				if err != nil {
					return err
				}
				p.registerBackends(backends)
				return nil
			},
		},
	}

	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := stage.run(); err != nil {
			return fmt.Errorf("initialize %s: %w", stage.name, err)
		}
		if err := p.CallHooks(stage.hook); err != nil {
			return fmt.Errorf("initialize %s hook: %w", stage.name, err)
		}
		logger.Debug("初始化阶段完成", logger.String("stage", stage.name))
	}

	logger.Info("播放器就绪",
		logger.Int("plugins", len(p.Plugins())),
		logger.Int("backends", len(p.Backends())))

	if err := p.CallHooks(HookOnReady); err != nil {
		return fmt.Errorf("initialize onReady hook: %w", err)
	}
	return nil
}
