package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "agentos"

// Registry 保存本进程暴露的全部指标。
var Registry = prometheus.NewRegistry()

var (
	// FramesSent 统计发送的帧数量。
	FramesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "transport", Name: "frames_sent_total",
		Help: "Frames written to the channel, by kind.",
	}, []string{"kind"})
	// FramesReceived 统计接收的帧数量。
	FramesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "transport", Name: "frames_received_total",
		Help: "Frames decoded from the channel, by kind.",
	}, []string{"kind"})
	// FramesDiscarded 统计被丢弃的帧或字节片段。
	FramesDiscarded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "transport", Name: "frames_discarded_total",
		Help: "Frames or byte runs dropped by the channel, by reason.",
	}, []string{"reason"})
	// SessionTransitions 统计会话状态迁移。
	SessionTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "transport", Name: "session_transitions_total",
		Help: "Channel session state transitions, by target state.",
	}, []string{"state"})
	// Reconnects 统计重连尝试结果。
	Reconnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "transport", Name: "reconnect_attempts_total",
		Help: "Re-discovery attempts after I/O failures, by outcome.",
	}, []string{"outcome"})

	// ToolInvocations 统计工具调用结果。
	ToolInvocations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "tools", Name: "invocations_total",
		Help: "Tool invocations, by tool and outcome code.",
	}, []string{"tool", "outcome"})
	// ToolLatency 记录工具调用耗时。
	ToolLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "tools", Name: "invocation_seconds",
		Help:    "Tool invocation latency.",
		Buckets: prometheus.ExponentialBuckets(0.005, 4, 8),
	}, []string{"tool"})

	// RouteDecisions 统计意图路由结果。
	RouteDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "router", Name: "decisions_total",
		Help: "Intent router decisions, by route and source.",
	}, []string{"route", "source"})

	// EngineRuns 统计执行引擎运行结果。
	EngineRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "engine", Name: "runs_total",
		Help: "Agent runs, by strategy and outcome.",
	}, []string{"strategy", "outcome"})
	// EngineTraceLength 记录运行轨迹长度。
	EngineTraceLength = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "engine", Name: "trace_entries",
		Help:    "Trace entries per run.",
		Buckets: prometheus.LinearBuckets(2, 2, 10),
	}, []string{"strategy"})

	// ArenaMatches 统计对局数量。
	ArenaMatches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "arena", Name: "matches_total",
		Help: "Arena matches, by puzzle family.",
	}, []string{"family"})

	// JobsProcessed 统计话语作业处理结果。
	JobsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "jobs", Name: "processed_total",
		Help: "Utterance jobs handled by the processor, by status.",
	}, []string{"status"})

	// Utterances 统计桥接层答复的话语。
	Utterances = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "bridge", Name: "utterances_total",
		Help: "Utterances answered by the bridge, by route and outcome.",
	}, []string{"route", "ok"})

	// HTTPRequests 统计 HTTP 请求。
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "http", Name: "requests_total",
		Help: "HTTP requests, by route, method and status code.",
	}, []string{"handler", "method", "code"})
	// HTTPLatency 记录 HTTP 请求耗时。
	HTTPLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "http", Name: "request_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"handler", "method"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		FramesSent, FramesReceived, FramesDiscarded, SessionTransitions, Reconnects,
		ToolInvocations, ToolLatency,
		RouteDecisions,
		EngineRuns, EngineTraceLength,
		ArenaMatches,
		JobsProcessed,
		Utterances,
		HTTPRequests, HTTPLatency,
	)
}
