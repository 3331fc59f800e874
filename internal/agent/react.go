package agent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"AgentOS-Bridge/internal/tools"
)

// Parsed 是从模型输出中解析出的 ReAct 片段。
type Parsed struct {
	Thought     string
	Action      string
	ActionInput string
	FinalAnswer string
}

var (
	thoughtPattern     = regexp.MustCompile(`(?is)Thought\s*:\s*(.+?)(?:\n\s*(?:Action|Final\s+Answer)\s*:|$)`)
	actionPattern      = regexp.MustCompile(`(?im)^\s*Action\s*:\s*(\S+)`)
	actionInputPattern = regexp.MustCompile(`(?is)Action\s+Input\s*:\s*(\{.*\})`)
	finalAnswerPattern = regexp.MustCompile(`(?is)Final\s+Answer\s*:\s*(.+)$`)
)

// ParseReAct 解析 Thought/Action/Action Input/Final Answer 格式的输出。
func ParseReAct(text string) Parsed {
	var p Parsed
	if m := thoughtPattern.FindStringSubmatch(text); len(m) > 1 {
		p.Thought = strings.TrimSpace(m[1])
	}
	if m := actionPattern.FindStringSubmatch(text); len(m) > 1 {
		p.Action = strings.Trim(strings.TrimSpace(m[1]), "`\"'")
	}
	if m := actionInputPattern.FindStringSubmatch(text); len(m) > 1 {
		p.ActionInput = strings.TrimSpace(m[1])
	}
	if m := finalAnswerPattern.FindStringSubmatch(text); len(m) > 1 {
		p.FinalAnswer = strings.TrimSpace(m[1])
	}
	return p
}

// HasAction 判断是否解析出工具调用。
func (p Parsed) HasAction() bool { return p.Action != "" }

// HasFinalAnswer 判断是否解析出最终答案。
func (p Parsed) HasFinalAnswer() bool { return p.FinalAnswer != "" }

// Params 将 Action Input 解码为工具参数，缺省为空参数。
func (p Parsed) Params() (tools.Params, error) {
	if strings.TrimSpace(p.ActionInput) == "" {
		return tools.Params{}, nil
	}
	var params tools.Params
	if err := json.Unmarshal([]byte(p.ActionInput), &params); err != nil {
		return nil, fmt.Errorf("action input is not a JSON object: %w", err)
	}
	if params == nil {
		params = tools.Params{}
	}
	return params, nil
}

const reactFormat = `Answer the goal using the tools below when they help.

To use a tool, output exactly:
Thought: <your reasoning>
Action: <tool name>
Action Input: {"param": "value"}

Then stop and wait for the Observation.

When you can answer, output:
Thought: <your reasoning>
Final Answer: <the answer>

Use one action per reply. Action Input must be a JSON object.`

const singlePassFormat = `Think the goal through once and answer directly; no tools will be run.

Output exactly:
Thought: <your reasoning>
Final Answer: <the answer>`

func formatObservation(tool, text string, failed bool) string {
	if failed {
		return "Observation: error from " + tool + ": " + text
	}
	return "Observation: " + text
}
