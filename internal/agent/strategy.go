package agent

import (
	"fmt"
	"sort"
	"strings"

	"AgentOS-Bridge/internal/llm"
	"AgentOS-Bridge/internal/tools"
)

// StrategyID 标识一种推理策略。
type StrategyID string

const (
	StrategyReAct      StrategyID = "react"
	StrategySinglePass StrategyID = "single_pass"
)

// Step 是策略对一次推理输出的判定：给出最终答案，或请求调用一个工具。
type Step struct {
	Thought string
	Final   bool
	Answer  string
	Tool    string
	Params  tools.Params
	// Invalid 非空时表示输出请求了工具但无法解析参数，该错误会作为观察反馈给模型。
	Invalid string
}

// Exchange 是草稿中的一轮推理与观察。
type Exchange struct {
	Output      string
	Observation string
}

// Scratch 是单次运行独占的草稿上下文。
type Scratch struct {
	Goal      string
	Tools     []tools.Definition
	Knowledge []llm.KnowledgeCard
	History   []Exchange
}

// Strategy 是一种推理策略变体。引擎只依赖该接口，新增策略只需注册新的实现。
type Strategy interface {
	ID() StrategyID
	// Prompt 根据草稿构建下一次推理请求。
	Prompt(scratch *Scratch) llm.Request
	// Decide 将模型输出解释为下一步。
	Decide(output string) Step
	// UsesTools 为 false 时引擎不会进入 Acting。
	UsesTools() bool
	// RecoverToolErrors 为 true 时工具执行失败会作为观察反馈，而不是终止运行。
	RecoverToolErrors() bool
}

// Strategies 是按 StrategyID 索引的策略变体集合。
type Strategies map[StrategyID]Strategy

// DefaultStrategies 返回内置的 react 与 single_pass 策略。
func DefaultStrategies(recoverToolErrors bool) Strategies {
	return Strategies{
		StrategyReAct:      &ReAct{Recover: recoverToolErrors},
		StrategySinglePass: SinglePass{},
	}
}

// IDs 返回已注册策略的有序列表。
func (s Strategies) IDs() []StrategyID {
	ids := make([]StrategyID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ReAct 在推理与行动之间交替，直到模型给出最终答案。
type ReAct struct {
	Recover bool
}

func (r *ReAct) ID() StrategyID { return StrategyReAct }
func (r *ReAct) UsesTools() bool { return true }
func (r *ReAct) RecoverToolErrors() bool { return r.Recover }

func (r *ReAct) Prompt(scratch *Scratch) llm.Request {
	var b strings.Builder
	b.WriteString("## Tools\n")
	if len(scratch.Tools) == 0 {
		b.WriteString("(none)\n")
	}
	for _, def := range scratch.Tools {
		b.WriteString("- ")
		b.WriteString(def.Signature())
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "\n## Goal\n%s\n", scratch.Goal)
	for _, ex := range scratch.History {
		b.WriteByte('\n')
		b.WriteString(strings.TrimSpace(ex.Output))
		b.WriteByte('\n')
		b.WriteString(ex.Observation)
		b.WriteByte('\n')
	}
	return llm.Request{
		System:      reactFormat,
		Prompt:      b.String(),
		Knowledge:   scratch.Knowledge,
		Constraints: llm.Constraints{Stop: []string{"\nObservation:"}},
	}
}

func (r *ReAct) Decide(output string) Step {
	parsed := ParseReAct(output)
	step := Step{Thought: parsed.Thought}
	switch {
	case parsed.HasAction():
		params, err := parsed.Params()
		step.Tool = parsed.Action
		step.Params = params
		if err != nil {
			step.Invalid = err.Error()
		}
	case parsed.HasFinalAnswer():
		step.Final = true
		step.Answer = parsed.FinalAnswer
	default:
		// 无法解析的输出直接作为最终答案。
		step.Final = true
		step.Answer = strings.TrimSpace(output)
	}
	if step.Thought == "" && step.Final {
		step.Thought = step.Answer
	}
	return step
}

// SinglePass 推理一次后直接作答。
type SinglePass struct{}

func (SinglePass) ID() StrategyID { return StrategySinglePass }
func (SinglePass) UsesTools() bool { return false }
func (SinglePass) RecoverToolErrors() bool { return false }

func (SinglePass) Prompt(scratch *Scratch) llm.Request {
	return llm.Request{
		System:    singlePassFormat,
		Prompt:    fmt.Sprintf("## Goal\n%s\n", scratch.Goal),
		Knowledge: scratch.Knowledge,
	}
}

func (SinglePass) Decide(output string) Step {
	parsed := ParseReAct(output)
	answer := parsed.FinalAnswer
	if answer == "" {
		answer = strings.TrimSpace(output)
	}
	thought := parsed.Thought
	if thought == "" {
		thought = answer
	}
	return Step{Thought: thought, Final: true, Answer: answer}
}
