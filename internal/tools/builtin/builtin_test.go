package builtin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"AgentOS-Bridge/internal/host"
	"AgentOS-Bridge/internal/tools"
)

func newRegistry(t *testing.T, opts Options) *tools.Registry {
	t.Helper()
	if opts.WorkspaceDir == "" {
		opts.WorkspaceDir = t.TempDir()
	}
	reg := tools.NewRegistry(tools.WithPureQueryRetries(0))
	require.NoError(t, Register(reg, opts))
	return reg
}

func invoke(t *testing.T, reg *tools.Registry, name string, params tools.Params) tools.Observation {
	t.Helper()
	obs, err := reg.Invoke(context.Background(), name, params)
	require.NoError(t, err)
	return obs
}

func TestCalculatorIsIdempotent(t *testing.T) {
	reg := newRegistry(t, Options{})
	first := invoke(t, reg, "calculator", tools.Params{"expression": "sqrt(1444)"})
	second := invoke(t, reg, "calculator", tools.Params{"expression": "sqrt(1444)"})
	require.Equal(t, "38", first.Summary())
	require.Equal(t, first.Summary(), second.Summary())
	require.Equal(t, first.Data(), second.Data())
}

func TestCalculatorExpressions(t *testing.T) {
	reg := newRegistry(t, Options{})
	cases := map[string]string{
		"2 + 2":      "4",
		"2^10":       "1024",
		"2^3+1":      "9",
		"(1+1)**3":   "8",
		"2^3^2":      "512",
		"-2^2":       "-4",
		"7 / 2":      "3.5",
		"sqrt(16)^2": "16",
		"floor(pi)":  "3",
		"3 × 4":      "12",
		"5*5 = ?":    "25",
	}
	for expr, want := range cases {
		obs := invoke(t, reg, "calculator", tools.Params{"expression": expr})
		require.Equal(t, want, obs.Summary(), expr)
	}

	for _, bad := range []string{"2 +", "open('x')", "1/0", "^2"} {
		_, err := reg.Invoke(context.Background(), "calculator", tools.Params{"expression": bad})
		require.ErrorIs(t, err, tools.ErrValidation, bad)
	}
}

func TestExpressionsRejectNonArithmeticNodes(t *testing.T) {
	for _, expr := range []string{
		`len("x"*500000000)`,
		`[0]*50000000`,
		`"ab"*3`,
		`[x for x in (1, 2)]`,
		`{1: 2}`,
		`sqrt(*[4])`,
		`1 if 2 else 3`,
		`1 << 70000`,
		`sqrt.__class__`,
	} {
		_, err := evalNumber(context.Background(), expr, nil)
		require.Error(t, err, expr)
	}

	v, err := evalNumber(context.Background(), "-x + sqrt(16) // 3 % 2", map[string]float64{"x": 1})
	require.NoError(t, err)
	require.Equal(t, 0.0, v)

	reg := newRegistry(t, Options{})
	_, err = reg.Invoke(context.Background(), "calculator", tools.Params{"expression": `len("x"*500000000)`})
	require.ErrorIs(t, err, tools.ErrValidation)
}

func TestRewritePower(t *testing.T) {
	got, err := rewritePower("a^b^c + (x+1)**2")
	require.NoError(t, err)
	require.Equal(t, "pow(a, pow(b, c)) + pow((x+1), 2)", got)

	_, err = rewritePower("2^")
	require.Error(t, err)
}

func TestPlotSamplesExpression(t *testing.T) {
	reg := newRegistry(t, Options{})
	obs := invoke(t, reg, "plot", tools.Params{"expression": "y = x^2", "from": -1, "to": 1, "samples": 3})
	require.Equal(t, []float64{-1, 0, 1}, obs.Value("x_values"))
	require.Equal(t, []any{1.0, 0.0, 1.0}, obs.Value("y_values"))
	require.Equal(t, "y = x^2", obs.Value("title"))

	_, err := reg.Invoke(context.Background(), "plot", tools.Params{"expression": "x", "from": 2, "to": 1})
	require.ErrorIs(t, err, tools.ErrValidation)
}

func TestShellHonoursAllowlist(t *testing.T) {
	reg := newRegistry(t, Options{Shell: ShellOptions{Allowlist: []string{"echo"}, OutputLimit: 5}})

	obs := invoke(t, reg, "shell", tools.Params{"command": "echo hi"})
	require.Equal(t, "hi", obs.Summary())

	obs = invoke(t, reg, "shell", tools.Params{"command": "echo abcdefghij"})
	require.Equal(t, true, obs.Value("truncated"))

	for _, cmd := range []string{"rm -rf data", "echo hi | cat", "echo $(whoami)", "echo /etc/passwd"} {
		_, err := reg.Invoke(context.Background(), "shell", tools.Params{"command": cmd})
		require.ErrorIs(t, err, tools.ErrPermissionDenied, cmd)
	}
}

func TestShellUsesDefaultAllowlistWhenUnset(t *testing.T) {
	reg := newRegistry(t, Options{})

	def, ok := reg.Lookup("shell")
	require.True(t, ok)
	require.ElementsMatch(t, DefaultShellAllowlist, def.Allowlist)

	obs := invoke(t, reg, "shell", tools.Params{"command": "echo ready"})
	require.Equal(t, "ready", obs.Summary())

	_, err := reg.Invoke(context.Background(), "shell", tools.Params{"command": "rm -rf data"})
	require.ErrorIs(t, err, tools.ErrPermissionDenied)
}

func TestFilesystemToolsStayInWorkspace(t *testing.T) {
	reg := newRegistry(t, Options{})

	invoke(t, reg, "fs_write", tools.Params{"path": "notes/todo.txt", "content": "buy milk"})
	obs := invoke(t, reg, "fs_read", tools.Params{"path": "notes/todo.txt"})
	require.Equal(t, "buy milk", obs.Summary())

	obs = invoke(t, reg, "fs_list", tools.Params{})
	require.Equal(t, []any{"notes/"}, obs.Value("entries"))

	_, err := reg.Invoke(context.Background(), "fs_read", tools.Params{"path": "../secret"})
	require.ErrorIs(t, err, tools.ErrPermissionDenied)
	_, err = reg.Invoke(context.Background(), "fs_write", tools.Params{"path": "/tmp/x", "content": "x"})
	require.ErrorIs(t, err, tools.ErrPermissionDenied)
	_, err = reg.Invoke(context.Background(), "fs_read", tools.Params{"path": "missing.txt"})
	require.ErrorIs(t, err, tools.ErrValidation)
}

const searchPage = `<html><body>
<div class="result"><h2><a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2F&rut=x">The Go <b>Programming</b> Language</a></h2>
<a class="result__snippet" href="#">Go is an open source   programming language.</a></div>
<div class="result"><h2><a class="result__a" href="https://pkg.go.dev/">Go Packages</a></h2>
<div class="result__snippet">Discover packages.</div></div>
<div class="result"><h2><a class="result__a" href="https://example.com/">Third</a></h2></div>
</body></html>`

func TestWebSearchParsesResults(t *testing.T) {
	var gotQuery, gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotAgent = r.UserAgent()
		_, _ = w.Write([]byte(searchPage))
	}))
	defer srv.Close()

	reg := newRegistry(t, Options{Search: SearchOptions{Endpoint: srv.URL, MaxResults: 2, UserAgent: "agentos-test"}})
	obs := invoke(t, reg, "web_search", tools.Params{"query": "golang"})

	require.Equal(t, "golang", gotQuery)
	require.Equal(t, "agentos-test", gotAgent)
	results := obs.Value("results").([]any)
	require.Len(t, results, 2)
	first := results[0].(map[string]any)
	require.Equal(t, "The Go Programming Language", first["title"])
	require.Equal(t, "https://go.dev/", first["url"])
	require.Equal(t, "Go is an open source programming language.", first["snippet"])
	require.Equal(t, "Discover packages.", results[1].(map[string]any)["snippet"])
}

func TestWebSearchReportsEndpointFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	reg := newRegistry(t, Options{Search: SearchOptions{Endpoint: srv.URL}})
	_, err := reg.Invoke(context.Background(), "web_search", tools.Params{"query": "x"})
	require.ErrorIs(t, err, tools.ErrExecution)
}

func TestMediaControlThroughExecutor(t *testing.T) {
	rec := host.NewRecorder()
	reg := newRegistry(t, Options{Host: rec})

	obs := invoke(t, reg, "media_control", tools.Params{"action": "pause"})
	require.Equal(t, "recorded pause", obs.Summary())

	invoke(t, reg, "media_control", tools.Params{"action": "play", "song": "Blue", "artist": "Joni"})
	records := rec.Records()
	require.Len(t, records, 2)
	require.Equal(t, "Blue", records[1].Action.Target)
	require.Equal(t, "Joni", records[1].Action.Args["artist"])

	_, err := reg.Invoke(context.Background(), "media_control", tools.Params{"action": "shutdown"})
	require.ErrorIs(t, err, tools.ErrPermissionDenied)
	require.Len(t, rec.Records(), 2)
}

func TestMediaControlFailureRunsOnce(t *testing.T) {
	rec := host.NewRecorder()
	rec.Fail = context.DeadlineExceeded
	reg := tools.NewRegistry(tools.WithPureQueryRetries(3))
	require.NoError(t, reg.Register(MediaControl(rec)))

	_, err := reg.Invoke(context.Background(), "media_control", tools.Params{"action": "next"})
	require.ErrorIs(t, err, tools.ErrExecution)
	require.Empty(t, rec.Records())
}

func TestComposeEmailValidatesRecipient(t *testing.T) {
	rec := host.NewRecorder()
	reg := newRegistry(t, Options{Host: rec})

	_, err := reg.Invoke(context.Background(), "compose_email", tools.Params{"recipient": "nobody", "subject": "s", "body": "b"})
	require.ErrorIs(t, err, tools.ErrValidation)

	invoke(t, reg, "compose_email", tools.Params{"recipient": "a@example.com", "subject": "hello", "body": "hi"})
	require.Equal(t, "compose_email", rec.Records()[0].Action.Kind)
}

func TestChessGame(t *testing.T) {
	reg := newRegistry(t, Options{})

	obs := invoke(t, reg, "chess", tools.Params{"action": "new"})
	require.Equal(t, "White", obs.Value("turn"))

	obs = invoke(t, reg, "chess", tools.Params{"action": "legal_moves"})
	require.Len(t, obs.Value("moves"), 20)

	obs = invoke(t, reg, "chess", tools.Params{"action": "move", "move": "e2e4"})
	require.Equal(t, "Black", obs.Value("turn"))
	require.Equal(t, 1, obs.Value("move_count"))
	board := obs.Value("board").([]any)
	require.Equal(t, "P", board[4].([]any)[4])

	_, err := reg.Invoke(context.Background(), "chess", tools.Params{"action": "move", "move": "e2e4"})
	require.ErrorIs(t, err, tools.ErrValidation)

	obs = invoke(t, reg, "chess", tools.Params{"action": "evaluate"})
	require.Equal(t, 0, obs.Value("score"))
}

func TestChessFoolsMate(t *testing.T) {
	reg := newRegistry(t, Options{})
	invoke(t, reg, "chess", tools.Params{"action": "new"})
	var obs tools.Observation
	for _, m := range []string{"f2f3", "e7e5", "g2g4", "d8h4"} {
		obs = invoke(t, reg, "chess", tools.Params{"action": "move", "move": m})
	}
	require.Equal(t, true, obs.Value("game_over"))
	require.Equal(t, "Black wins by checkmate", obs.Value("result"))
}

func TestDataAuditRefinesImbalancedData(t *testing.T) {
	reg := newRegistry(t, Options{})
	obs := invoke(t, reg, "data_audit", tools.Params{"seed": 7})

	before := obs.Value("before").(map[string]any)
	after := obs.Value("after").(map[string]any)
	require.Equal(t, false, before["balanced"])
	require.Equal(t, false, before["scaled"])
	require.Equal(t, true, after["balanced"])
	require.Equal(t, true, after["scaled"])
	require.Equal(t, "REFINED -> QUALIFIED", obs.Value("status"))

	again := invoke(t, reg, "data_audit", tools.Params{"seed": 7})
	require.Equal(t, obs.Summary(), again.Summary())
}

func TestModelTraining(t *testing.T) {
	reg := newRegistry(t, Options{})

	obs := invoke(t, reg, "model_training", tools.Params{})
	require.Equal(t, "LogReg", obs.Value("best_model"))
	chart := obs.Value("chart").(map[string]any)
	test := chart["test"].([]any)
	require.Greater(t, test[1].(float64), test[0].(float64))
	require.Len(t, obs.Value("confusion_matrix"), 2)

	obs = invoke(t, reg, "model_training", tools.Params{"task": "regression"})
	test = obs.Value("chart").(map[string]any)["test"].([]any)
	require.Greater(t, test[1].(float64), 0.9)
}
