package arena

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"AgentOS-Bridge/internal/agent"
	xerrors "AgentOS-Bridge/internal/errors"
	"AgentOS-Bridge/internal/observability/metrics"
	"AgentOS-Bridge/internal/storage"
	"AgentOS-Bridge/pkg/logger"
)

// Participant 将参赛者名称绑定到一种推理策略。
type Participant struct {
	Name     string           `json:"name"`
	Strategy agent.StrategyID `json:"strategy"`
}

// Runner 是对局所需的执行引擎能力，*agent.Engine 满足该接口。
type Runner interface {
	Run(ctx context.Context, req agent.RunRequest) (*agent.Outcome, error)
}

// ProgressSink 接收对局进度消息，可能被多个参赛者并发触发，Arena 会串行化调用。
type ProgressSink func(message string)

// Result 是单个参赛者在一场对局中的表现。
type Result struct {
	Participant Participant    `json:"participant"`
	Answer      string         `json:"answer"`
	Correct     bool           `json:"correct"`
	Score       Score          `json:"score"`
	ErrorCode   string         `json:"error_code,omitempty"`
	Error       string         `json:"error,omitempty"`
	RunID       string         `json:"run_id,omitempty"`
	Outcome     *agent.Outcome `json:"-"`
}

func (r Result) toolsUsed() []string {
	if r.Outcome == nil || r.Outcome.Trace == nil {
		return nil
	}
	return r.Outcome.Trace.ToolsUsed()
}

// Match 是一场已结束的对局。所有参赛者的轨迹均已终止后才计算计分板。
type Match struct {
	ID          string          `json:"id"`
	Puzzle      Puzzle          `json:"-"`
	Results     []Result        `json:"results"`
	Leaderboard Leaderboard     `json:"leaderboard"`
	SWOT        map[string]SWOT `json:"swot"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at"`
}

// Arena 组织多个策略在同一谜题上的对局。
type Arena struct {
	runner        Runner
	participants  []Participant
	maxIterations int
	concurrency   int
	records       storage.RecordRepository
	logger        *slog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

// Option 定义可选的 Arena 配置。
type Option func(*Arena)

// WithMaxIterations 设置每个参赛者的迭代预算。
func WithMaxIterations(n int) Option {
	return func(a *Arena) {
		if n > 0 {
			a.maxIterations = n
		}
	}
}

// WithConcurrency 限制同时运行的参赛者数量。
func WithConcurrency(n int) Option {
	return func(a *Arena) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

// WithSeed 固定谜题生成的随机种子。
func WithSeed(seed int64) Option {
	return func(a *Arena) {
		a.rng = newRand(seed)
	}
}

// WithRecordRepository 配置对局记录仓库。
func WithRecordRepository(repo storage.RecordRepository) Option {
	return func(a *Arena) {
		a.records = repo
	}
}

func newRand(seed int64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
}

// New 创建 Arena，至少需要两个名称互不相同的参赛者。
func New(runner Runner, participants []Participant, opts ...Option) (*Arena, error) {
	if runner == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "arena requires an engine")
	}
	if len(participants) < 2 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "arena requires at least two participants")
	}
	seen := make(map[string]struct{}, len(participants))
	for _, p := range participants {
		if strings.TrimSpace(p.Name) == "" || p.Strategy == "" {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "participant name and strategy are required")
		}
		if _, dup := seen[p.Name]; dup {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("duplicate participant %q", p.Name))
		}
		seen[p.Name] = struct{}{}
	}
	a := &Arena{
		runner:        runner,
		participants:  append([]Participant(nil), participants...),
		maxIterations: 5,
		concurrency:   len(participants),
		logger:        logger.Named("arena"),
		rng:           newRand(time.Now().UnixNano()),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

// Participants 返回参赛者列表。
func (a *Arena) Participants() []Participant {
	return append([]Participant(nil), a.participants...)
}

// Generate 使用 Arena 的随机源生成谜题。
func (a *Arena) Generate(family Family) (Puzzle, error) {
	a.rngMu.Lock()
	defer a.rngMu.Unlock()
	return Generate(family, a.rng)
}

// PlayFamily 生成一个谜题并进行对局。
func (a *Arena) PlayFamily(ctx context.Context, family Family, sink ProgressSink) (*Match, error) {
	puzzle, err := a.Generate(family)
	if err != nil {
		return nil, err
	}
	return a.Play(ctx, puzzle, sink)
}

// Play 让所有参赛者在同一谜题上并发运行。单个参赛者失败只影响其自身得分。
func (a *Arena) Play(ctx context.Context, puzzle Puzzle, sink ProgressSink) (*Match, error) {
	if strings.TrimSpace(puzzle.Prompt) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "puzzle prompt is empty")
	}
	progress := serialize(sink)
	match := &Match{
		ID:        uuid.NewString(),
		Puzzle:    puzzle,
		Results:   make([]Result, len(a.participants)),
		StartedAt: time.Now(),
	}
	progress(fmt.Sprintf("Arena match %s: %s puzzle, %d participants", short(match.ID), puzzle.Family, len(a.participants)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, p := range a.participants {
		g.Go(func() error {
			progress(fmt.Sprintf(">>> %s (%s) thinking...", p.Name, p.Strategy))
			match.Results[i] = a.attempt(gctx, p, puzzle)
			r := match.Results[i]
			line := fmt.Sprintf("    %s answered %q: %d/%d points in %d steps", p.Name, clip(r.Answer, 48), r.Score.Total, maxPoints, r.Score.Steps)
			if r.ErrorCode != "" {
				line += " (" + r.ErrorCode + ")"
			}
			progress(line)
			return nil
		})
	}
	_ = g.Wait()

	match.FinishedAt = time.Now()
	match.Leaderboard = leaderboard(match.Results)
	match.SWOT = make(map[string]SWOT, len(match.Results))
	for _, r := range match.Results {
		match.SWOT[r.Participant.Name] = synthesize(r, match.Results, match.Leaderboard, puzzle.Expected)
	}
	if match.Leaderboard.Winner == TieName {
		progress("Result: TIE")
	} else {
		progress(fmt.Sprintf("Winner: %s (+%.1f%%)", match.Leaderboard.Winner, match.Leaderboard.MarginPercent))
	}

	a.finish(ctx, match)
	return match, nil
}

// attempt 运行单个参赛者；引擎拒绝请求也记为该参赛者失败。
func (a *Arena) attempt(ctx context.Context, p Participant, puzzle Puzzle) Result {
	res := Result{Participant: p}
	outcome, err := a.runner.Run(ctx, agent.RunRequest{
		Goal:          puzzle.Prompt,
		Strategy:      p.Strategy,
		MaxIterations: a.maxIterations,
	})
	if err != nil {
		res.ErrorCode = string(xerrors.CodeOf(err))
		res.Error = xerrors.Describe(err)
		return res
	}
	res.Outcome = outcome
	res.RunID = outcome.RunID
	res.Answer = outcome.Answer
	reasoning := ""
	if outcome.Trace != nil {
		reasoning = outcome.Trace.Reasoning()
	}
	if outcome.Err != nil {
		res.ErrorCode = string(xerrors.CodeOf(outcome.Err))
		res.Error = xerrors.Describe(outcome.Err)
	} else {
		res.Correct = puzzle.Validate(outcome.Answer)
	}
	res.Score = score(res.Correct, reasoning, outcome.Steps())
	return res
}

func (a *Arena) finish(ctx context.Context, m *Match) {
	metrics.ArenaMatches.WithLabelValues(string(m.Puzzle.Family)).Inc()
	logger.Audit().Info("arena match finished",
		"match_id", m.ID,
		"family", m.Puzzle.Family,
		"winner", m.Leaderboard.Winner,
		"margin_percent", m.Leaderboard.MarginPercent,
	)
	if a.records == nil {
		return
	}
	scorecard, err := json.Marshal(m)
	if err != nil {
		a.logger.Error("序列化对局失败", "match_id", m.ID, "error", err)
		return
	}
	record := storage.MatchRecord{
		ID:        m.ID,
		Family:    string(m.Puzzle.Family),
		Puzzle:    m.Puzzle.Prompt,
		Expected:  m.Puzzle.Expected,
		Winner:    m.Leaderboard.Winner,
		Margin:    m.Leaderboard.MarginPercent,
		Scorecard: scorecard,
		CreatedAt: m.FinishedAt.Unix(),
	}
	if err := a.records.AppendMatch(context.WithoutCancel(ctx), record); err != nil {
		a.logger.Error("保存对局记录失败", "match_id", m.ID, "error", err)
	}
}

// History 返回最近的对局记录。
func (a *Arena) History(ctx context.Context, limit int) ([]storage.MatchRecord, error) {
	if a.records == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "record repository is not configured")
	}
	records, err := a.records.ListMatches(ctx, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "list match records")
	}
	return records, nil
}

func serialize(sink ProgressSink) ProgressSink {
	if sink == nil {
		return func(string) {}
	}
	var mu sync.Mutex
	return func(msg string) {
		mu.Lock()
		defer mu.Unlock()
		sink(msg)
	}
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func clip(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
