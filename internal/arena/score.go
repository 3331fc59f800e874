package arena

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"AgentOS-Bridge/internal/agent"
	xerrors "AgentOS-Bridge/internal/errors"
)

const (
	correctPoints   = 100
	reasoningPoints = 50
	maxPoints       = correctPoints + reasoningPoints
	// reasoningMinLen 是获得推理加分所需的最少推理字符数。
	reasoningMinLen = 20
	// TieName 是平局时的胜者名称。
	TieName = "TIE"
)

// Score 是单个参赛者的得分。
type Score struct {
	Correctness int `json:"correctness"`
	Reasoning   int `json:"reasoning"`
	Total       int `json:"total"`
	Steps       int `json:"steps"`
}

func score(correct bool, reasoning string, steps int) Score {
	s := Score{Steps: steps}
	if correct {
		s.Correctness = correctPoints
	}
	if len([]rune(strings.TrimSpace(reasoning))) > reasoningMinLen {
		s.Reasoning = reasoningPoints
	}
	s.Total = min(s.Correctness+s.Reasoning, maxPoints)
	return s
}

// Ranking 是排行榜中的一行。
type Ranking struct {
	Rank     int    `json:"rank"`
	Name     string `json:"name"`
	Strategy string `json:"strategy"`
	Total    int    `json:"total"`
	Steps    int    `json:"steps"`
	Correct  bool   `json:"correct"`
	Winner   bool   `json:"winner"`
}

// Leaderboard 汇总排名、胜者与领先幅度。
type Leaderboard struct {
	Rankings      []Ranking `json:"rankings"`
	Winner        string    `json:"winner"`
	WinnerProfile string    `json:"winner_strategy"`
	MarginPercent float64   `json:"margin_percent"`
}

// leaderboard 按总分降序、步数升序排名；前两名总分与步数都相同则为平局。
func leaderboard(results []Result) Leaderboard {
	order := make([]int, len(results))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := results[order[i]].Score, results[order[j]].Score
		if a.Total != b.Total {
			return a.Total > b.Total
		}
		return a.Steps < b.Steps
	})

	lb := Leaderboard{Winner: TieName, WinnerProfile: "all equal"}
	if len(order) == 0 {
		return lb
	}
	top := results[order[0]]
	tie := false
	if len(order) > 1 {
		second := results[order[1]]
		tie = top.Score.Total == second.Score.Total && top.Score.Steps == second.Score.Steps
		lb.MarginPercent = margin(top.Score.Total, second.Score.Total)
	}
	if !tie {
		lb.Winner = top.Participant.Name
		lb.WinnerProfile = string(top.Participant.Strategy)
	}

	for rank, idx := range order {
		r := results[idx]
		lb.Rankings = append(lb.Rankings, Ranking{
			Rank:     rank + 1,
			Name:     r.Participant.Name,
			Strategy: string(r.Participant.Strategy),
			Total:    r.Score.Total,
			Steps:    r.Score.Steps,
			Correct:  r.Correct,
			Winner:   !tie && rank == 0,
		})
	}
	return lb
}

// margin 返回 (a-b)/max(b,1)*100，保留一位小数。
func margin(a, b int) float64 {
	m := float64(a-b) / float64(max(b, 1)) * 100
	return math.Round(m*10) / 10
}

// SWOT 是根据轨迹推导出的优势、劣势、机会与威胁。
type SWOT struct {
	Strengths     []string `json:"strengths"`
	Weaknesses    []string `json:"weaknesses"`
	Opportunities []string `json:"opportunities"`
	Threats       []string `json:"threats"`
}

// synthesize 只依赖结果与轨迹内容，对相同输入输出相同。
func synthesize(r Result, all []Result, lb Leaderboard, expected string) SWOT {
	var s SWOT
	fewest, best := r.Score.Steps, 0
	for _, other := range all {
		if other.Score.Steps > 0 && other.Score.Steps < fewest {
			fewest = other.Score.Steps
		}
		best = max(best, other.Score.Total)
	}

	if r.Correct {
		s.Strengths = append(s.Strengths, "reached the correct answer")
	}
	if r.Score.Reasoning > 0 {
		s.Strengths = append(s.Strengths, "explained its reasoning")
	}
	if r.Outcome != nil && r.Score.Steps == fewest {
		s.Strengths = append(s.Strengths, fmt.Sprintf("most efficient run (%d steps)", r.Score.Steps))
	}
	if used := r.toolsUsed(); len(used) > 0 {
		s.Strengths = append(s.Strengths, "used tools: "+strings.Join(used, ", "))
	}

	switch {
	case r.ErrorCode != "":
		s.Weaknesses = append(s.Weaknesses, "run failed with "+r.ErrorCode)
	case !r.Correct:
		s.Weaknesses = append(s.Weaknesses, fmt.Sprintf("wrong answer (expected %s)", expected))
	}
	if r.Score.Reasoning == 0 {
		s.Weaknesses = append(s.Weaknesses, "little or no visible reasoning")
	}

	if gap := best - r.Score.Total; gap > 0 && gap <= reasoningPoints {
		s.Opportunities = append(s.Opportunities, fmt.Sprintf("close a %d point gap to the leader", gap))
	}
	if r.Score.Steps > fewest {
		s.Opportunities = append(s.Opportunities, fmt.Sprintf("cut steps from %d toward %d", r.Score.Steps, fewest))
	}
	if !r.Correct && r.Score.Reasoning > 0 {
		s.Opportunities = append(s.Opportunities, "verify the final step of otherwise sound reasoning")
	}

	switch xerrors.Code(r.ErrorCode) {
	case agent.CodeBudgetExceeded:
		s.Threats = append(s.Threats, "does not converge within tight iteration budgets")
	case agent.CodeToolFailure:
		s.Threats = append(s.Threats, "a failing tool ends the run")
	case agent.CodeInferenceUnavailable:
		s.Threats = append(s.Threats, "depends on an available inference engine")
	case agent.CodeCancelled:
		s.Threats = append(s.Threats, "cancelled before finishing")
	}
	if r.Score.Total < correctPoints && lb.Winner != r.Participant.Name {
		s.Threats = append(s.Threats, "unreliable on this puzzle family")
	}

	if len(s.Strengths) == 0 {
		s.Strengths = []string{"none detected"}
	}
	if len(s.Weaknesses) == 0 {
		s.Weaknesses = []string{"none detected"}
	}
	if len(s.Opportunities) == 0 {
		s.Opportunities = []string{"maintain current performance"}
	}
	if len(s.Threats) == 0 {
		s.Threats = []string{"robust performance"}
	}
	return s
}
