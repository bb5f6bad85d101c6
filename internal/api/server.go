package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"OpenMCP-Goals/internal/auth"
	xerrors "OpenMCP-Goals/internal/errors"
	"OpenMCP-Goals/internal/observability/metrics"
	"OpenMCP-Goals/internal/tools"
	"OpenMCP-Goals/pkg/logger"
)

// maxBodyBytes 限制单次工具调用的请求体大小。
const maxBodyBytes = 1 << 20

// HealthFunc 探测依赖是否可用。
type HealthFunc func(ctx context.Context) error

// Server 负责通过 HTTP 暴露工具调用接口。
type Server struct {
	addr     string
	registry *tools.Registry
	health   HealthFunc
	auth     *auth.Service
}

// Option 调整 Server 的可选行为。
type Option func(*Server)

// WithAuth 要求工具接口携带 API key。健康检查与指标不受影响。
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) { s.auth = svc }
}

// NewServer 构造 API 服务实例。health 可为空。
func NewServer(addr string, registry *tools.Registry, health HealthFunc, opts ...Option) *Server {
	s := &Server{addr: addr, registry: registry, health: health}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler 返回注册好全部路由的处理器。
func (s *Server) Handler() http.Handler {
	guard := func(h http.Handler) http.Handler { return h }
	if s.auth != nil {
		guard = s.auth.Middleware(auth.MiddlewareConfig{Permission: s.permissionFor})
	}

	mux := http.NewServeMux()
	mux.Handle("GET /api/v1/tools", instrument("list_tools", guard(http.HandlerFunc(s.handleListTools))))
	mux.Handle("POST /api/v1/tools/{name}", instrument("call_tool", guard(http.HandlerFunc(s.handleCallTool))))
	mux.Handle("GET /healthz", instrument("healthz", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Named("api").Info("HTTP 服务已启动", slog.String("addr", s.addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// permissionFor 只读工具需要读权限，其余工具需要写权限。
func (s *Server) permissionFor(r *http.Request) string {
	name := r.PathValue("name")
	if name == "" {
		return auth.PermissionRead
	}
	if tool, ok := s.registry.Lookup(name); ok && tool.ReadOnly {
		return auth.PermissionRead
	}
	return auth.PermissionWrite
}

func (s *Server) handleListTools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tools": s.registry.Tools()})
}

func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体读取失败"))
		return
	}

	result, err := s.registry.Call(r.Context(), name, body)
	if err != nil {
		resp := tools.RenderError(err)
		resp.Partial = result
		writeJSON(w, statusFor(err), resp)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor 将错误类别映射为 HTTP 状态码。
func statusFor(err error) int {
	switch xerrors.CategoryOf(err) {
	case xerrors.CategoryValidation:
		return http.StatusBadRequest
	case xerrors.CategoryNotFound:
		return http.StatusNotFound
	case xerrors.CategoryStore:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), tools.RenderError(err))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Named("api").Warn("写入响应失败", slog.Any("error", err))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument 记录请求耗时与状态码。
func instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.ObserveHTTPRequest(name, r.Method, rec.status, time.Since(start))
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
