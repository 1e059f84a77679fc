// Package httpapi 提供状态查询与手动下单的 HTTP 服务。
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"shortbot/internal/config"
	"shortbot/internal/engine"
	"shortbot/internal/logger"
)

// Server 暴露只读状态、最近一轮摘要、报表与手动开空入口。
type Server struct {
	addr   string
	ctrl   *engine.Controller
	report config.ReportConfig
	router *gin.Engine

	mu   sync.RWMutex
	last *engine.CycleSummary
}

func NewServer(addr string, ctrl *engine.Controller, report config.ReportConfig) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	s := &Server{addr: addr, ctrl: ctrl, report: report, router: router}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/api/state", s.handleState)
	router.GET("/api/cycle", s.handleLastCycle)
	router.GET("/api/report", s.handleReport)
	router.POST("/api/short", s.handleManualShort)
	return s
}

// Publish 让 server 兼任 Reporter：缓存最近一轮摘要供查询。
func (s *Server) Publish(summary engine.CycleSummary) error {
	s.mu.Lock()
	s.last = &summary
	s.mu.Unlock()
	return nil
}

var _ engine.Reporter = (*Server)(nil)

func (s *Server) handleState(c *gin.Context) {
	store := s.ctrl.Store()
	c.JSON(http.StatusOK, gin.H{
		"state":     store.Snapshot(),
		"positions": store.Positions(),
	})
}

func (s *Server) handleLastCycle(c *gin.Context) {
	s.mu.RLock()
	last := s.last
	s.mu.RUnlock()
	if last == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no cycle completed yet"})
		return
	}
	c.JSON(http.StatusOK, last)
}

// handleReport 回源最近一份 HTML 报表。
func (s *Server) handleReport(c *gin.Context) {
	path := filepath.Join(s.report.Dir, "latest.html")
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no report generated yet"})
		return
	}
	c.File(path)
}

type manualShortRequest struct {
	Symbol string `json:"symbol" binding:"required"`
}

// handleManualShort 手动开空：跳过选币，沿用同一套风控与下单路径。
func (s *Server) handleManualShort(c *gin.Context) {
	var req manualShortRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()
	pos, err := s.ctrl.ManualShort(ctx, symbol)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"position": pos})
}

// requestLogger 记录接口调用，便于追踪人工操作。
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		client := c.ClientIP()
		c.Next()
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s",
			method, path, c.Writer.Status(), client, time.Since(start))
	}
}

// Start 启动 HTTP 服务，直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
