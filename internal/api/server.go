package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"AgentOS-Bridge/internal/arena"
	"AgentOS-Bridge/internal/bridge"
	xerrors "AgentOS-Bridge/internal/errors"
	"AgentOS-Bridge/internal/observability/alerting"
	"AgentOS-Bridge/internal/observability/metrics"
	"AgentOS-Bridge/internal/storage"
	"AgentOS-Bridge/internal/task"
	"AgentOS-Bridge/internal/tools"
	"AgentOS-Bridge/internal/transport"
	"AgentOS-Bridge/pkg/logger"
)

// Utterer 处理一条话语。bridge.Handler 实现该接口。
type Utterer interface {
	Handle(ctx context.Context, utterance string, progress arena.ProgressSink) bridge.Reply
}

// ToolLister 列出已注册的工具。
type ToolLister interface {
	Definitions(includeHidden bool) []tools.Definition
}

// StateReporter 报告帧通道的当前状态。
type StateReporter interface {
	State() transport.State
}

// Dependencies 汇总服务依赖的协作方，除 Utterer 外均可为空。
type Dependencies struct {
	Utterer Utterer
	Tools   ToolLister
	Records storage.RecordRepository
	Jobs    *task.Service
	Alerts  *alerting.Recorder
	Channel StateReporter
}

// Server 负责暴露 REST 接口，供展示端或脚本提交话语。
type Server struct {
	addr   string
	token  string
	deps   Dependencies
	logger *slog.Logger
}

// NewServer 构造 API 服务实例。token 为空时不做认证。
func NewServer(addr, token string, deps Dependencies) *Server {
	return &Server{addr: addr, token: strings.TrimSpace(token), deps: deps, logger: logger.Named("api")}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("HTTP 服务已启动", "address", s.addr, "auth", s.token != "")

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

// Handler 返回挂载了全部路由的 http.Handler。
func (s *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery(), metrics.Middleware())

	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := router.Group("/api/v1", bearerAuth(s.token))
	v1.POST("/utterances", s.handleUtterance)
	v1.GET("/tools", s.handleTools)
	v1.GET("/runs", s.handleRuns)
	v1.GET("/matches", s.handleMatches)
	v1.GET("/alerts", s.handleAlerts)
	v1.POST("/jobs", s.handleSubmitJob)
	v1.GET("/jobs", s.handleListJobs)
	v1.GET("/jobs/stats", s.handleJobStats)
	v1.GET("/jobs/:id", s.handleJobDetail)
	return router
}

type utteranceRequest struct {
	ID        string `json:"id"`
	Utterance string `json:"utterance" binding:"required"`
}

type utteranceResponse struct {
	DisplayText string         `json:"display_text"`
	Route       string         `json:"route"`
	OK          bool           `json:"ok"`
	ErrorCode   string         `json:"error_code,omitempty"`
	Tool        string         `json:"tool,omitempty"`
	RunID       string         `json:"run_id,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

func (s *Server) handleUtterance(c *gin.Context) {
	if s.deps.Utterer == nil {
		s.fail(c, xerrors.New(xerrors.CodeInitializationFailure, "utterance handler is not configured"))
		return
	}
	var req utteranceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "utterance is required"))
		return
	}
	reply := s.deps.Utterer.Handle(c.Request.Context(), req.Utterance, nil)
	c.JSON(http.StatusOK, utteranceResponse{
		DisplayText: reply.DisplayText,
		Route:       reply.Route,
		OK:          reply.OK,
		ErrorCode:   reply.ErrorCode,
		Tool:        reply.Tool,
		RunID:       reply.RunID,
		Data:        reply.Data,
	})
}

func (s *Server) handleTools(c *gin.Context) {
	if s.deps.Tools == nil {
		c.JSON(http.StatusOK, []tools.Definition{})
		return
	}
	hidden, _ := strconv.ParseBool(c.Query("hidden"))
	c.JSON(http.StatusOK, s.deps.Tools.Definitions(hidden))
}

func (s *Server) handleRuns(c *gin.Context) {
	if s.deps.Records == nil {
		c.JSON(http.StatusOK, []storage.RunRecord{})
		return
	}
	runs, err := s.deps.Records.ListRuns(c.Request.Context(), queryInt(c, "limit", storage.DefaultListLimit))
	if err != nil {
		s.fail(c, xerrors.Wrap(xerrors.CodeStorageFailure, err, "could not list runs"))
		return
	}
	if runs == nil {
		runs = []storage.RunRecord{}
	}
	c.JSON(http.StatusOK, runs)
}

func (s *Server) handleMatches(c *gin.Context) {
	if s.deps.Records == nil {
		c.JSON(http.StatusOK, []storage.MatchRecord{})
		return
	}
	matches, err := s.deps.Records.ListMatches(c.Request.Context(), queryInt(c, "limit", storage.DefaultListLimit))
	if err != nil {
		s.fail(c, xerrors.Wrap(xerrors.CodeStorageFailure, err, "could not list matches"))
		return
	}
	if matches == nil {
		matches = []storage.MatchRecord{}
	}
	c.JSON(http.StatusOK, matches)
}

func (s *Server) handleAlerts(c *gin.Context) {
	if s.deps.Alerts == nil {
		c.JSON(http.StatusOK, []alerting.Event{})
		return
	}
	events := s.deps.Alerts.Events()
	if events == nil {
		events = []alerting.Event{}
	}
	c.JSON(http.StatusOK, events)
}

func (s *Server) handleSubmitJob(c *gin.Context) {
	if s.deps.Jobs == nil {
		s.fail(c, xerrors.New(xerrors.CodeInitializationFailure, "job queue is not configured"))
		return
	}
	var req utteranceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, xerrors.Wrap(task.CodeJobValidation, err, "utterance is required"))
		return
	}
	job, err := s.deps.Jobs.Submit(c.Request.Context(), task.Submission{ID: req.ID, Utterance: req.Utterance})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

func (s *Server) handleListJobs(c *gin.Context) {
	if s.deps.Jobs == nil {
		c.JSON(http.StatusOK, []*task.Job{})
		return
	}
	opts, err := listOptions(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	jobs, err := s.deps.Jobs.List(c.Request.Context(), opts...)
	if err != nil {
		s.fail(c, err)
		return
	}
	if jobs == nil {
		jobs = []*task.Job{}
	}
	c.JSON(http.StatusOK, jobs)
}

func (s *Server) handleJobStats(c *gin.Context) {
	if s.deps.Jobs == nil {
		c.JSON(http.StatusOK, task.JobStats{})
		return
	}
	opts, err := listOptions(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	stats, err := s.deps.Jobs.Stats(c.Request.Context(), opts...)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleJobDetail(c *gin.Context) {
	if s.deps.Jobs == nil {
		s.fail(c, task.ErrJobNotFound)
		return
	}
	job, err := s.deps.Jobs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

type healthResponse struct {
	Status     string          `json:"status"`
	Channel    string          `json:"channel,omitempty"`
	QueueDepth *int            `json:"queue_depth,omitempty"`
	Jobs       *task.JobStats  `json:"jobs,omitempty"`
	Alerts     int             `json:"alerts"`
	LastAlert  *alerting.Event `json:"last_alert,omitempty"`
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := healthResponse{Status: "ok"}
	if s.deps.Channel != nil {
		state := s.deps.Channel.State()
		resp.Channel = state.String()
		if state != transport.StateReady {
			resp.Status = "degraded"
		}
	}
	if s.deps.Jobs != nil {
		depth := s.deps.Jobs.QueueDepth(c.Request.Context())
		resp.QueueDepth = &depth
		if stats, err := s.deps.Jobs.Stats(c.Request.Context()); err == nil {
			resp.Jobs = &stats
		} else {
			resp.Status = "degraded"
		}
	}
	if s.deps.Alerts != nil {
		events := s.deps.Alerts.Events()
		resp.Alerts = len(events)
		if len(events) > 0 {
			resp.LastAlert = &events[len(events)-1]
		}
	}
	c.JSON(http.StatusOK, resp)
}

type errorResponse struct {
	ErrorCode   string `json:"error_code"`
	DisplayText string `json:"display_text"`
}

// fail 以错误码对应的 HTTP 状态返回，响应中不包含底层原因。
func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("请求处理失败", "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(status, errorResponse{
		ErrorCode:   string(xerrors.CodeOf(err)),
		DisplayText: xerrors.Describe(err),
	})
}

func statusFor(err error) int {
	switch xerrors.CodeOf(err) {
	case xerrors.CodeInvalidArgument, task.CodeJobValidation:
		return http.StatusBadRequest
	case xerrors.CodeNotFound, task.CodeJobNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict, task.CodeJobConflict:
		return http.StatusConflict
	case xerrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func listOptions(c *gin.Context) ([]task.ListOption, error) {
	var opts []task.ListOption
	if raw := c.Query("limit"); raw != "" {
		opts = append(opts, task.WithLimit(queryInt(c, "limit", 20)))
	}
	if raw := c.Query("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "offset must be a non-negative integer")
		}
		opts = append(opts, task.WithOffset(offset))
	}
	if raw := c.Query("status"); raw != "" {
		var statuses []task.Status
		for _, part := range strings.Split(raw, ",") {
			status := task.Status(strings.TrimSpace(part))
			if !task.IsValidStatus(status) {
				return nil, xerrors.New(xerrors.CodeInvalidArgument, "unknown job status "+string(status))
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	if raw := c.Query("has_reply"); raw != "" {
		hasReply, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "has_reply must be a boolean")
		}
		opts = append(opts, task.WithReplyPresence(hasReply))
	}
	if raw := c.Query("order"); raw != "" {
		switch strings.ToLower(raw) {
		case "asc":
			opts = append(opts, task.WithSortOrder(task.SortByUpdatedAsc))
		case "desc":
			opts = append(opts, task.WithSortOrder(task.SortByUpdatedDesc))
		default:
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "order must be asc or desc")
		}
	}
	if q := c.Query("q"); q != "" {
		opts = append(opts, task.WithQuery(q))
	}
	return opts, nil
}
