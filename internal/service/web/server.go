package web

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"keyprobe/internal/shared/logger"
	"keyprobe/internal/shared/settings"
	"keyprobe/internal/shared/types"
)

// loggingListener logs accepted connections at debug level.
type loggingListener struct {
	net.Listener
}

func (l loggingListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err == nil {
		logger.Debug().Msgf("[WebServer] Connection accepted from: %s", conn.RemoteAddr())
	}
	return conn, err
}

// basicAuthMiddleware 检查 web_user 和 web_password 是否已配置。
// 如果配置了，它将强制执行 HTTP Basic Authentication。
func basicAuthMiddleware(next http.Handler, user, pass string) http.Handler {
	// 如果用户名或密码未设置，则不启用认证，直接返回原始处理器
	if user == "" || pass == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte("Unauthorized.\n"))
			return
		}
		// 认证成功，继续处理请求
		next.ServeHTTP(w, r)
	})
}

// NewRouter 构建全部 API 路由
func NewRouter(cfg *types.Config, settingsManager *settings.SettingsManager, controller Controller, hub *Hub) http.Handler {
	handler := NewHandler(settingsManager, controller)
	mux := http.NewServeMux()

	webUser := cfg.WebConf.WebUser
	webPassword := cfg.WebConf.WebPassword
	protect := func(path string, fn http.HandlerFunc) {
		mux.Handle(path, basicAuthMiddleware(fn, webUser, webPassword))
	}

	// key 管理与查询
	protect("/api/keys/import", handler.HandleImport)
	protect("/api/keys", handler.HandleKeys)
	protect("/api/query/start", handler.HandleQueryStart)
	protect("/api/query/stop", handler.HandleQueryStop)
	protect("/api/export", handler.HandleExport)

	// 统一配置管理 API
	protect("/api/settings", handler.HandleGetSettings)
	protect("/api/settings/", handler.HandleUpdateSettings) // 捕获 /api/settings/{module}

	// 公开的状态 API
	mux.HandleFunc("/api/status", handler.HandleStatus)

	// --- WebSocket Endpoint ---
	protect("/ws", func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	})

	return mux
}

// StartServer 启动 Web 服务，web_port 未配置时返回 nil。
func StartServer(
	wg *sync.WaitGroup,
	cfg *types.Config,
	settingsManager *settings.SettingsManager,
	controller Controller,
	hub *Hub,
) (*http.Server, error) {
	l := logger.WithComponent("WebServer")
	if cfg.WebConf.WebPort <= 0 {
		l.Info().Msg("Web API is disabled (web_port is 0 or not set).")
		return nil, nil
	}

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.WebConf.WebPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start web API on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           NewRouter(cfg, settingsManager, controller, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}
	l.Info().Msgf("SUCCESS: Web API is listening on http://%s", addr)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Serve(loggingListener{Listener: listener}); err != nil && err != http.ErrServerClosed {
			l.Error().Err(err).Msg("Web server error")
		}
		l.Info().Msg("Web server stopped.")
	}()
	return srv, nil
}

// Shutdown 优雅关闭 Web 服务
func Shutdown(srv *http.Server, timeout time.Duration) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("Web server shutdown incomplete")
	}
}
