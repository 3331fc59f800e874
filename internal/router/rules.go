package router

import (
	"regexp"
	"strings"

	"AgentOS-Bridge/internal/tools"
)

// rule 将匹配的话语映射为工具调用。build 读取 m[0] 时，pattern 需要覆盖整条话语。
type rule struct {
	name    string
	pattern *regexp.Regexp
	build   func(m []string) (string, tools.Params, bool)
	// allowedOnly 要求宿主操作已在工具允许列表中，否则视为未命中。
	allowedOnly bool
}

func fixed(tool string, params tools.Params) func([]string) (string, tools.Params, bool) {
	return func([]string) (string, tools.Params, bool) {
		return tool, params.Clone(), true
	}
}

// re 编译大小写不敏感的规则。
func re(pattern string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + pattern)
}

var (
	chessStart = re(`\b(?:new|start|play|begin)\b`)
	mathExpr   = re(`^[\d\s.+\-*/^()×÷%]+$`)
	mathOp     = re(`[+\-*/^×÷%]|\*\*|\b(?:sqrt|sin|cos|tan|log|exp|pow|floor|ceil|abs)\s*\(`)
	hasDigit   = re(`\d`)
	musicNoun  = `(?:the\s+)?(?:music|song|track|playback|player)`
)

func isExpression(s string) bool {
	return hasDigit.MatchString(s) && mathOp.MatchString(s)
}

// defaultRules 按优先级排列，第一个命中的规则生效。
func defaultRules() []rule {
	return []rule{
		{
			name:    "media.pause",
			pattern: re(`^(?:please\s+)?(?:pause|stop)(?:\s+` + musicNoun + `)?(?:\s+please)?$`),
			build:   fixed("media_control", tools.Params{"action": "pause"}),
		},
		{
			name:    "media.resume",
			pattern: re(`^(?:please\s+)?(?:resume|unpause|play|continue)(?:\s+(?:some\s+)?` + musicNoun + `)?(?:\s+please)?$`),
			build:   fixed("media_control", tools.Params{"action": "play"}),
		},
		{
			name:    "media.next",
			pattern: re(`^(?:next|skip)(?:\s+(?:this\s+)?` + musicNoun + `)?$|^(?:play\s+)?(?:the\s+)?next\s+(?:song|track)$`),
			build:   fixed("media_control", tools.Params{"action": "next"}),
		},
		{
			name:    "media.previous",
			pattern: re(`^(?:previous|go\s+back)(?:\s+` + musicNoun + `)?$|^(?:play\s+)?(?:the\s+)?(?:previous|last)\s+(?:song|track)$`),
			build:   fixed("media_control", tools.Params{"action": "previous"}),
		},
		{
			name:    "media.open",
			pattern: re(`^(?:open|launch|start)\s+(?:the\s+)?(?:music|music\s+app|player)$`),
			build:   fixed("media_control", tools.Params{"action": "open"}),
		},
		{
			name:    "arena",
			pattern: re(`\b(?:agent|psych(?:ology)?)\s+test\b|\barena\b`),
			build:   fixed("agent_arena", tools.Params{}),
		},
		{
			name:    "data_audit",
			pattern: re(`\baudit\b.*\bdata(?:set)?\b|\bdata(?:set)?\s+audit\b`),
			build:   fixed("data_audit", tools.Params{}),
		},
		{
			name:    "model_training",
			pattern: re(`^.*\b(?:train|build)\b.*\bmodels?\b.*$`),
			build: func(m []string) (string, tools.Params, bool) {
				task := "classification"
				if strings.Contains(strings.ToLower(m[0]), "regression") {
					task = "regression"
				}
				return "model_training", tools.Params{"task": task}, true
			},
		},
		{
			name:    "plot",
			pattern: re(`^(?:plot|graph|draw)\s+(?:y\s*=\s*)?(.+?)(?:\s+from\s+(-?[\d.]+)\s+to\s+(-?[\d.]+))?$`),
			build: func(m []string) (string, tools.Params, bool) {
				params := tools.Params{"expression": m[1]}
				if m[2] != "" {
					params["from"] = m[2]
					params["to"] = m[3]
				}
				return "plot", params, true
			},
		},
		{
			name:    "chess.move",
			pattern: re(`^(?:move|play)\s+([a-h][1-8][a-h][1-8][qrbn]?)$`),
			build: func(m []string) (string, tools.Params, bool) {
				return "chess", tools.Params{"action": "move", "move": m[1]}, true
			},
		},
		{
			name:    "chess",
			pattern: re(`^.*(?:\bchess\b|\blegal\s+moves\b).*$`),
			build: func(m []string) (string, tools.Params, bool) {
				text := strings.ToLower(m[0])
				action := "state"
				switch {
				case strings.Contains(text, "legal"):
					action = "legal_moves"
				case strings.Contains(text, "evaluat") || strings.Contains(text, "who is winning"):
					action = "evaluate"
				case chessStart.MatchString(text):
					action = "new"
				}
				return "chess", tools.Params{"action": action}, true
			},
		},
		{
			name:    "media.play_song",
			pattern: re(`^play\s+(.+?)(?:\s+by\s+(.+))?$`),
			build: func(m []string) (string, tools.Params, bool) {
				params := tools.Params{"action": "play", "song": m[1]}
				if m[2] != "" {
					params["artist"] = m[2]
				}
				return "media_control", params, true
			},
		},
		{
			name:    "calculator",
			pattern: re(`^(?:calculate|compute|evaluate|solve|what\s+is|what's)\s+(.+?)\s*\??$`),
			build: func(m []string) (string, tools.Params, bool) {
				if !isExpression(m[1]) {
					return "", nil, false
				}
				return "calculator", tools.Params{"expression": m[1]}, true
			},
		},
		{
			name:    "calculator.bare",
			pattern: mathExpr,
			build: func(m []string) (string, tools.Params, bool) {
				if !isExpression(m[0]) {
					return "", nil, false
				}
				return "calculator", tools.Params{"expression": strings.TrimSpace(m[0])}, true
			},
		},
		{
			name:    "web_search",
			pattern: re(`^(?:search(?:\s+the\s+web)?(?:\s+for)?|look\s+up|google)\s+(.+)$`),
			build: func(m []string) (string, tools.Params, bool) {
				return "web_search", tools.Params{"query": m[1]}, true
			},
		},
		{
			name:    "shell",
			pattern: re(`^(?:\$|run\s+(?:the\s+)?(?:command|shell)|execute)\s*:?\s*(.+)$`),
			build: func(m []string) (string, tools.Params, bool) {
				return "shell", tools.Params{"command": m[1]}, true
			},
		},
		{
			name:        "shell.run",
			pattern:     re(`^run\s+(.+)$`),
			allowedOnly: true,
			build: func(m []string) (string, tools.Params, bool) {
				return "shell", tools.Params{"command": m[1]}, true
			},
		},
		{
			name:    "fs_list",
			pattern: re(`^(?:list|show)\s+(?:the\s+)?(?:files|directory|folder)(?:\s+in\s+(\S+))?$`),
			build: func(m []string) (string, tools.Params, bool) {
				params := tools.Params{}
				if m[1] != "" {
					params["path"] = m[1]
				}
				return "fs_list", params, true
			},
		},
		{
			name:    "fs_read",
			pattern: re(`^(?:read|open|cat)\s+(?:the\s+)?file\s+(\S+)$`),
			build: func(m []string) (string, tools.Params, bool) {
				return "fs_read", tools.Params{"path": m[1]}, true
			},
		},
	}
}
