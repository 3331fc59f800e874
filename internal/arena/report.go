package arena

import (
	"fmt"
	"strings"
	"text/tabwriter"
)

// Summary 渲染排行榜、各参赛者结果与 SWOT 的文本报告。
func (m *Match) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "AGENT ARENA: %s puzzle\n", m.Puzzle.Family)
	fmt.Fprintf(&b, "Expected answer: %s\n\n", m.Puzzle.Expected)

	b.WriteString("LEADERBOARD\n")
	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Rank\tAgent\tStrategy\tScore\tSteps\tCorrect")
	for _, r := range m.Leaderboard.Rankings {
		fmt.Fprintf(tw, "#%d\t%s\t%s\t%d/%d\t%d\t%t\n", r.Rank, r.Name, r.Strategy, r.Total, maxPoints, r.Steps, r.Correct)
	}
	tw.Flush()

	if m.Leaderboard.Winner == TieName {
		b.WriteString("\nResult: TIE\n")
	} else {
		fmt.Fprintf(&b, "\nWinner: %s (%s) by %.1f%%\n", m.Leaderboard.Winner, m.Leaderboard.WinnerProfile, m.Leaderboard.MarginPercent)
	}

	for _, r := range m.Results {
		s := m.SWOT[r.Participant.Name]
		fmt.Fprintf(&b, "\nSWOT %s\n", r.Participant.Name)
		writeSection(&b, "Strengths", s.Strengths)
		writeSection(&b, "Weaknesses", s.Weaknesses)
		writeSection(&b, "Opportunities", s.Opportunities)
		writeSection(&b, "Threats", s.Threats)
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeSection(b *strings.Builder, title string, items []string) {
	fmt.Fprintf(b, "  %s:\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "    - %s\n", item)
	}
}
