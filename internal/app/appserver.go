package app

import (
	"context"
	"net/http"
	"sync"
	"time"

	"keyprobe/internal/core/extractor"
	"keyprobe/internal/core/scheduler"
	"keyprobe/internal/core/validator"
	"keyprobe/internal/keystore"
	"keyprobe/internal/service/web"
	"keyprobe/internal/shared/config"
	"keyprobe/internal/shared/logger"
	"keyprobe/internal/shared/settings"
	"keyprobe/internal/shared/types"
	"keyprobe/proxypool"
)

var (
	ErrBatchRunning = types.ErrBatchRunning
	ErrNoKeys       = types.ErrNoKeys
)

// BatchValidator is the validator a batch runs with. Close is called once the
// batch is complete.
type BatchValidator interface {
	scheduler.Validator
	Close()
}

// EventListener receives every scheduler event of every batch, in order.
type EventListener func(batchID string, ev scheduler.Event)

// Options 允许替换 AppServer 的依赖，主要用于测试。
type Options struct {
	SettingsManager *settings.SettingsManager
	Store           *keystore.Store
	NewValidator    func(rc settings.RunConfig) BatchValidator
	ProxiesFromEnv  func(endpoint string) ([]proxypool.Spec, error)
}

// AppServer is the application's main struct.
type AppServer struct {
	cfg *types.Config

	settingsManager *settings.SettingsManager
	store           *keystore.Store
	extractor       *extractor.Extractor
	hub             *web.Hub

	newValidator   func(rc settings.RunConfig) BatchValidator
	proxiesFromEnv func(endpoint string) ([]proxypool.Spec, error)

	ctx    context.Context
	cancel context.CancelFunc

	// batchLock 保护 batch/lastBatch 指针
	batchLock sync.Mutex
	batch     *batchState
	lastBatch *batchState

	listenersLock sync.RWMutex
	listeners     []EventListener

	server    *http.Server
	waitGroup sync.WaitGroup
	stopOnce  sync.Once
}

var _ web.Controller = (*AppServer)(nil)
var _ settings.ConfigurableModule = (*AppServer)(nil)

// New creates an AppServer backed by the files under cfg.DataDir.
func New(cfg *types.Config) (*AppServer, error) {
	sm, err := settings.NewSettingsManager(config.SettingsPath(cfg))
	if err != nil {
		return nil, err
	}
	store := keystore.New(keystore.NewFileStorage(config.ResultsPath(cfg)))
	if err := store.Load(); err != nil {
		return nil, err
	}
	return NewWithOptions(cfg, Options{SettingsManager: sm, Store: store}), nil
}

// NewWithOptions creates an AppServer from explicit dependencies. Missing
// ones get in-memory defaults.
func NewWithOptions(cfg *types.Config, opts Options) *AppServer {
	if opts.SettingsManager == nil {
		// 内存模式不会失败
		opts.SettingsManager, _ = settings.NewSettingsManager("")
	}
	if opts.Store == nil {
		opts.Store = keystore.New(keystore.NewFileStorage(""))
	}
	if opts.NewValidator == nil {
		opts.NewValidator = defaultValidator
	}
	if opts.ProxiesFromEnv == nil {
		opts.ProxiesFromEnv = proxypool.FromEnvironment
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &AppServer{
		cfg:             cfg,
		settingsManager: opts.SettingsManager,
		store:           opts.Store,
		extractor:       extractor.New(),
		hub:             web.NewHub(),
		newValidator:    opts.NewValidator,
		proxiesFromEnv:  opts.ProxiesFromEnv,
		ctx:             ctx,
		cancel:          cancel,
	}
	s.settingsManager.Register("query", s)
	s.settingsManager.Register("proxy", s)
	return s
}

func defaultValidator(rc settings.RunConfig) BatchValidator {
	return validator.New(validator.Options{
		Endpoint:  rc.Endpoint,
		UsageDays: rc.UsageDays,
		Timeout:   rc.RequestTimeout,
	})
}

// Subscribe registers a listener for batch events.
func (s *AppServer) Subscribe(fn EventListener) {
	s.listenersLock.Lock()
	defer s.listenersLock.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Serve starts the websocket hub and the web API. It returns immediately.
func (s *AppServer) Serve() error {
	go s.hub.Run()
	srv, err := web.StartServer(&s.waitGroup, s.cfg, s.settingsManager, s, s.hub)
	if err != nil {
		return err
	}
	s.server = srv
	return nil
}

// Shutdown aborts any running batch, stops the web API and waits for all
// background work. The key store is saved by the aborted batch.
func (s *AppServer) Shutdown() {
	s.stopOnce.Do(func() {
		logger.Info().Msg("Stopping server...")
		web.Shutdown(s.server, 5*time.Second)
		s.StopQuery()
		s.cancel()
		s.waitGroup.Wait()
		s.hub.Stop()
	})
}

// Store exposes the key store.
func (s *AppServer) Store() *keystore.Store {
	return s.store
}

// Records 实现 web.Controller
func (s *AppServer) Records() []keystore.Record {
	return s.store.Records()
}
