package arena

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"AgentOS-Bridge/internal/agent"
	"AgentOS-Bridge/internal/llm"
	"AgentOS-Bridge/internal/storage"
	"AgentOS-Bridge/internal/tools"
)

// byStrategy 根据提示内容区分策略：react 的提示包含工具列表。
func byStrategy(react, singlePass string) llm.Client {
	return llm.ClientFunc(func(_ context.Context, req llm.Request) (*llm.Response, error) {
		if strings.Contains(req.Prompt, "## Tools") {
			return &llm.Response{Text: react}, nil
		}
		return &llm.Response{Text: singlePass}, nil
	})
}

type matchRecords struct {
	mu      sync.Mutex
	matches []storage.MatchRecord
}

func (m *matchRecords) AppendRun(context.Context, storage.RunRecord) error { return nil }
func (m *matchRecords) AppendMatch(_ context.Context, r storage.MatchRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matches = append(m.matches, r)
	return nil
}
func (m *matchRecords) ListRuns(context.Context, int) ([]storage.RunRecord, error) { return nil, nil }
func (m *matchRecords) ListMatches(context.Context, int) ([]storage.MatchRecord, error) {
	return m.matches, nil
}
func (m *matchRecords) Close() error { return nil }

func TestSequenceMatchScoresCorrectParticipant(t *testing.T) {
	engine := agent.New(byStrategy(
		"Thought: each term doubles the previous one, so the next is 16.\nFinal Answer: 16",
		"Final Answer: 12",
	), nil)
	records := &matchRecords{}
	a, err := New(engine, []Participant{
		{Name: "Agent A", Strategy: agent.StrategyReAct},
		{Name: "Agent B", Strategy: agent.StrategySinglePass},
	}, WithRecordRepository(records))
	require.NoError(t, err)

	var progress []string
	puzzle := NewSequencePuzzle([]int64{2, 4, 8}, 16, "doubling")
	match, err := a.Play(context.Background(), puzzle, func(msg string) { progress = append(progress, msg) })
	require.NoError(t, err)

	require.Len(t, match.Results, 2)
	first, second := match.Results[0], match.Results[1]
	require.True(t, first.Correct)
	require.Equal(t, Score{Correctness: 100, Reasoning: 50, Total: 150, Steps: 4}, first.Score)
	require.False(t, second.Correct)
	require.Equal(t, 0, second.Score.Total)
	require.Equal(t, 4, second.Score.Steps)

	require.Equal(t, "Agent A", match.Leaderboard.Winner)
	require.Equal(t, 15000.0, match.Leaderboard.MarginPercent)
	require.Equal(t, 1, match.Leaderboard.Rankings[0].Rank)
	require.True(t, match.Leaderboard.Rankings[0].Winner)

	require.Contains(t, match.SWOT["Agent A"].Strengths, "reached the correct answer")
	require.Contains(t, match.SWOT["Agent B"].Weaknesses, "wrong answer (expected 16)")
	require.Contains(t, progress[len(progress)-1], "Winner: Agent A")
	require.Contains(t, match.Summary(), "LEADERBOARD")

	require.Len(t, records.matches, 1)
	require.Equal(t, match.ID, records.matches[0].ID)
	require.Equal(t, "Agent A", records.matches[0].Winner)
}

func TestFailedParticipantDoesNotAbortMatch(t *testing.T) {
	engine := agent.New(byStrategy(
		"Thought: I will keep consulting a tool that does not exist.\nAction: oracle\nAction Input: {}",
		"Thought: doubling gives sixteen here.\nFinal Answer: 16",
	), nil)
	a, err := New(engine, []Participant{
		{Name: "Looper", Strategy: agent.StrategyReAct},
		{Name: "Solver", Strategy: agent.StrategySinglePass},
		{Name: "Ghost", Strategy: "tree_of_thought"},
	}, WithMaxIterations(2))
	require.NoError(t, err)

	match, err := a.Play(context.Background(), NewSequencePuzzle([]int64{2, 4, 8}, 16, "doubling"), nil)
	require.NoError(t, err)

	looper, solver, ghost := match.Results[0], match.Results[1], match.Results[2]
	require.Equal(t, string(agent.CodeBudgetExceeded), looper.ErrorCode)
	require.Equal(t, 50, looper.Score.Total)
	require.Equal(t, 2, looper.Outcome.Trace.Count(agent.StateActing))
	require.True(t, solver.Correct)
	require.Equal(t, 150, solver.Score.Total)
	require.Equal(t, "INVALID_ARGUMENT", ghost.ErrorCode)
	require.Zero(t, ghost.Score.Total)

	require.Equal(t, "Solver", match.Leaderboard.Winner)
	require.Equal(t, 200.0, match.Leaderboard.MarginPercent)
	require.Contains(t, match.SWOT["Looper"].Threats, "does not converge within tight iteration budgets")
}

func TestIdenticalResultsTie(t *testing.T) {
	reply := "Thought: each term doubles the previous one.\nFinal Answer: 16"
	engine := agent.New(byStrategy(reply, reply), nil)
	a, err := New(engine, []Participant{
		{Name: "Left", Strategy: agent.StrategyReAct},
		{Name: "Right", Strategy: agent.StrategyReAct},
	})
	require.NoError(t, err)

	match, err := a.Play(context.Background(), NewSequencePuzzle([]int64{2, 4, 8}, 16, "doubling"), nil)
	require.NoError(t, err)
	require.Equal(t, TieName, match.Leaderboard.Winner)
	require.Zero(t, match.Leaderboard.MarginPercent)
	for _, r := range match.Leaderboard.Rankings {
		require.False(t, r.Winner)
	}
}

func TestNewRejectsInvalidParticipants(t *testing.T) {
	engine := agent.New(llm.NewScripted(""), nil)
	_, err := New(engine, []Participant{{Name: "solo", Strategy: agent.StrategyReAct}})
	require.Error(t, err)
	_, err = New(engine, []Participant{
		{Name: "twin", Strategy: agent.StrategyReAct},
		{Name: "twin", Strategy: agent.StrategySinglePass},
	})
	require.Error(t, err)
}

func TestMargin(t *testing.T) {
	require.Equal(t, 50.0, margin(150, 100))
	require.Equal(t, 4.2, margin(125, 120))
	require.Equal(t, 10000.0, margin(100, 0))
	require.Equal(t, 0.0, margin(80, 80))
}

func TestArenaToolIsHiddenFromAgents(t *testing.T) {
	engine := agent.New(byStrategy("Final Answer: 1", "Final Answer: 1"), nil)
	a, err := New(engine, []Participant{
		{Name: "Agent A", Strategy: agent.StrategyReAct},
		{Name: "Agent B", Strategy: agent.StrategySinglePass},
	})
	require.NoError(t, err)

	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(a.Tool()))
	for _, def := range reg.AgentView().Definitions(false) {
		require.NotEqual(t, ToolName, def.Name)
	}
	_, err = reg.AgentView().Invoke(context.Background(), ToolName, tools.Params{})
	require.ErrorIs(t, err, tools.ErrUnknownTool)

	var streamed []string
	ctx := WithProgress(context.Background(), func(msg string) { streamed = append(streamed, msg) })
	obs, err := reg.Invoke(ctx, ToolName, tools.Params{"family": "strategy", "seed": 7})
	require.NoError(t, err)
	require.Equal(t, "strategy", obs.Value("family"))
	require.NotEmpty(t, obs.Value("winner"))
	require.NotEmpty(t, streamed)
	require.Contains(t, obs.Summary(), "SWOT Agent A")
}
