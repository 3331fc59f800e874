package builtin

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	starlarkmath "go.starlark.net/lib/math"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

const maxExprSteps = 100000

var exprReplacer = strings.NewReplacer("×", "*", "÷", "/", "−", "-")

// evalNumber 在受限的 Starlark 环境中求值数值表达式，vars 注入额外变量。
func evalNumber(ctx context.Context, expr string, vars map[string]float64) (float64, error) {
	src, err := prepareExpr(expr)
	if err != nil {
		return 0, err
	}
	env := make(starlark.StringDict, len(starlarkmath.Module.Members)+len(vars))
	for name, v := range starlarkmath.Module.Members {
		env[name] = v
	}
	for name, v := range vars {
		env[name] = starlark.Float(v)
	}

	opts := &syntax.FileOptions{}
	tree, err := opts.ParseExpr("expr", src, 0)
	if err != nil {
		return 0, err
	}
	if err := checkArithmetic(tree, env); err != nil {
		return 0, err
	}

	thread := &starlark.Thread{Name: "expr"}
	thread.SetMaxExecutionSteps(maxExprSteps)
	stop := context.AfterFunc(ctx, func() { thread.Cancel("cancelled") })
	defer stop()

	val, err := starlark.EvalExprOptions(opts, thread, tree, env)
	if err != nil {
		return 0, err
	}
	var out float64
	switch v := val.(type) {
	case starlark.Int:
		out = float64(v.Float())
	case starlark.Float:
		out = float64(v)
	case starlark.Bool:
		if v {
			out = 1
		}
	default:
		return 0, fmt.Errorf("expression yields %s, not a number", val.Type())
	}
	return out, nil
}

// checkArithmetic 只放行数值字面量、环境中的标识符、算术运算与函数调用。
// 字符串、列表、推导式等节点可以绕过步数限制分配大量内存，一律拒绝。
func checkArithmetic(tree syntax.Expr, env starlark.StringDict) error {
	var bad error
	syntax.Walk(tree, func(n syntax.Node) bool {
		if bad != nil {
			return false
		}
		switch n := n.(type) {
		case nil:
			// Walk 在访问完子节点后以 nil 回调。
		case *syntax.Literal:
			if n.Token != syntax.INT && n.Token != syntax.FLOAT {
				bad = fmt.Errorf("only numbers are allowed, found %s", n.Raw)
			}
		case *syntax.Ident:
			if _, ok := env[n.Name]; !ok {
				bad = fmt.Errorf("unknown name %q", n.Name)
			}
		case *syntax.UnaryExpr:
			if n.Op != syntax.PLUS && n.Op != syntax.MINUS {
				bad = fmt.Errorf("operator %s is not allowed", n.Op)
			}
		case *syntax.BinaryExpr:
			switch n.Op {
			case syntax.PLUS, syntax.MINUS, syntax.STAR, syntax.SLASH, syntax.SLASHSLASH, syntax.PERCENT:
			default:
				bad = fmt.Errorf("operator %s is not allowed", n.Op)
			}
		case *syntax.CallExpr:
			if _, ok := n.Fn.(*syntax.Ident); !ok {
				bad = fmt.Errorf("only math functions may be called")
			}
		case *syntax.ParenExpr:
		default:
			bad = fmt.Errorf("unsupported expression")
		}
		return bad == nil
	})
	return bad
}

func prepareExpr(expr string) (string, error) {
	s := strings.TrimSpace(exprReplacer.Replace(expr))
	s = strings.TrimRight(s, "?= ")
	if s == "" {
		return "", fmt.Errorf("empty expression")
	}
	return rewritePower(s)
}

// rewritePower 将 a^b 与 a**b 改写为 pow(a, b)，从右向左处理以保持右结合。
func rewritePower(s string) (string, error) {
	s = strings.ReplaceAll(s, "**", "^")
	for {
		op := strings.LastIndexByte(s, '^')
		if op < 0 {
			return s, nil
		}
		start := operandStart(s, op)
		end := operandEnd(s, op+1)
		if start < 0 || end < 0 {
			return "", fmt.Errorf("malformed power expression")
		}
		left := strings.TrimSpace(s[start:op])
		right := strings.TrimSpace(s[op+1 : end])
		s = s[:start] + "pow(" + left + ", " + right + ")" + s[end:]
	}
}

func operandStart(s string, op int) int {
	j := op - 1
	for j >= 0 && s[j] == ' ' {
		j--
	}
	if j < 0 {
		return -1
	}
	end := j
	if s[j] == ')' {
		open := matchBackward(s, j)
		if open < 0 {
			return -1
		}
		j = open - 1
	}
	for j >= 0 && isOperandByte(s[j]) {
		j--
	}
	if j == end {
		return -1
	}
	return j + 1
}

func operandEnd(s string, from int) int {
	j := from
	for j < len(s) && s[j] == ' ' {
		j++
	}
	if j < len(s) && (s[j] == '-' || s[j] == '+') {
		j++
	}
	start := j
	for j < len(s) && isOperandByte(s[j]) {
		j++
	}
	if j < len(s) && s[j] == '(' {
		closing := matchForward(s, j)
		if closing < 0 {
			return -1
		}
		j = closing + 1
	}
	if j == start {
		return -1
	}
	return j
}

func matchBackward(s string, closing int) int {
	depth := 0
	for i := closing; i >= 0; i-- {
		switch s[i] {
		case ')':
			depth++
		case '(':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func matchForward(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func isOperandByte(b byte) bool {
	return b == '_' || b == '.' ||
		(b >= '0' && b <= '9') ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z')
}

// formatNumber 整数值不带小数部分输出。
func formatNumber(v float64) string {
	if math.Abs(v) < 1e15 {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
