package player

import (
	"context"
	"errors"
	"strings"
	"testing"

	"QShareFM/config"
)

// fakeLoader 记录每个装载阶段的调用顺序
type fakeLoader struct {
	log *[]string

	builtinPlugins  map[string]Plugin
	plugins         map[string]Plugin
	builtinBackends map[string]Backend
	backends        map[string]Backend

	failStage string

	gotPluginNames  []string
	gotBackendNames []string
	gotForceUpdate  bool
}

func (l *fakeLoader) LoadBuiltinPlugins(ctx context.Context, p *Player) (map[string]Plugin, error) {
	*l.log = append(*l.log, "load:builtinPlugins")
	if l.failStage == "builtinPlugins" {
		return nil, errors.New("builtin plugins failed")
	}
	return l.builtinPlugins, nil
}

func (l *fakeLoader) LoadPlugins(ctx context.Context, p *Player, names []string, forceUpdate bool) (map[string]Plugin, error) {
	*l.log = append(*l.log, "load:plugins")
	l.gotPluginNames = names
	l.gotForceUpdate = forceUpdate
	if l.failStage == "plugins" {
		return nil, errors.New("plugins failed")
	}
	return l.plugins, nil
}

func (l *fakeLoader) LoadBuiltinBackends(ctx context.Context, p *Player) (map[string]Backend, error) {
	*l.log = append(*l.log, "load:builtinBackends")
	if l.failStage == "builtinBackends" {
		return nil, errors.New("builtin backends failed")
	}
	return l.builtinBackends, nil
}

func (l *fakeLoader) LoadBackends(ctx context.Context, p *Player, names []string, forceUpdate bool) (map[string]Backend, error) {
	*l.log = append(*l.log, "load:backends")
	l.gotBackendNames = names
	if l.failStage == "backends" {
		return nil, errors.New("backends failed")
	}
	return l.backends, nil
}

func stagePlugin(name string, log *[]string) Plugin {
	hooks := make(map[Hook]HookFunc)
	for _, hook := range []Hook{
		HookOnBuiltinPluginsInitialized,
		HookOnPluginsInitialized,
		HookOnBuiltinBackendsInitialized,
		HookOnBackendsInitialized,
		HookOnReady,
	} {
		h := hook
		hooks[h] = func(args ...interface{}) error {
			*log = append(*log, "hook:"+string(h))
			return nil
		}
	}
	return &fakePlugin{name: name, hooks: hooks}
}

func TestInitializeStageOrder(t *testing.T) {
	var log []string
	loader := &fakeLoader{
		log:             &log,
		builtinPlugins:  map[string]Plugin{"stagewatch": stagePlugin("stagewatch", &log)},
		plugins:         map[string]Plugin{"extra": &fakePlugin{name: "extra", hooks: map[Hook]HookFunc{}}},
		builtinBackends: map[string]Backend{"local": newFakeBackend("local")},
		backends:        map[string]Backend{"remote": newFakeBackend("remote")},
	}
	cfg := testConfig()
	cfg.EnabledPlugins = []string{"extra"}
	cfg.EnabledBackends = []string{"remote"}
	p := New(cfg, loader)

	if err := p.Initialize(context.Background(), true); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	want := []string{
		"load:builtinPlugins",
		"hook:onBuiltinPluginsInitialized",
		"load:plugins",
		"hook:onPluginsInitialized",
		"load:builtinBackends",
		"hook:onBuiltinBackendsInitialized",
		"load:backends",
		"hook:onBackendsInitialized",
		"hook:onReady",
	}
	if len(log) != len(want) {
		t.Fatalf("sequence %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("sequence %v, want %v", log, want)
		}
	}

	if !loader.gotForceUpdate {
		t.Error("forceUpdate should be forwarded to the loader")
	}
	if len(loader.gotPluginNames) != 1 || loader.gotPluginNames[0] != "extra" {
		t.Errorf("plugin names %v, want [extra]", loader.gotPluginNames)
	}
	if len(loader.gotBackendNames) != 1 || loader.gotBackendNames[0] != "remote" {
		t.Errorf("backend names %v, want [remote]", loader.gotBackendNames)
	}
	if got := p.Backends(); len(got) != 2 {
		t.Errorf("registered backends %v, want local and remote", got)
	}
}

func TestInitializeStageFailureAborts(t *testing.T) {
	var log []string
	loader := &fakeLoader{
		log:            &log,
		builtinPlugins: map[string]Plugin{"stagewatch": stagePlugin("stagewatch", &log)},
		plugins:        map[string]Plugin{},
		failStage:      "builtinBackends",
	}
	p := New(testConfig(), loader)

	err := p.Initialize(context.Background(), false)
	if err == nil {
		t.Fatal("expected error when a stage fails")
	}
	if !strings.Contains(err.Error(), "builtin backends") {
		t.Errorf("error should name the failing stage, got %v", err)
	}

	for _, entry := range log {
		if entry == "load:backends" {
			t.Error("stage after the failure must not run")
		}
		if entry == "hook:onReady" {
			t.Error("onReady must not fire after a failed stage")
		}
	}
}

func TestInitializeCancelledContext(t *testing.T) {
	var log []string
	loader := &fakeLoader{log: &log}
	p := New(&config.Config{}, loader)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := p.Initialize(ctx, false); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(log) != 0 {
		t.Errorf("no stage should run with a cancelled context, got %v", log)
	}
}

func TestInitializeHookVetoAborts(t *testing.T) {
	var log []string
	veto := errors.New("refusing to start")
	bad := &fakePlugin{name: "bad", hooks: map[Hook]HookFunc{
		HookOnBuiltinPluginsInitialized: func(args ...interface{}) error { return veto },
	}}
	loader := &fakeLoader{
		log:            &log,
		builtinPlugins: map[string]Plugin{"bad": bad},
	}
	p := New(testConfig(), loader)

	err := p.Initialize(context.Background(), false)
	if !errors.Is(err, veto) {
		t.Fatalf("expected hook veto to abort initialization, got %v", err)
	}
	for _, entry := range log {
		if entry == "load:plugins" {
			t.Error("later stages must not run after a hook veto")
		}
	}
}
