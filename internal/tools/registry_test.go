package tools

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	xerrors "AgentOS-Bridge/internal/errors"
)

func echoTool(name string, effect SideEffect) Func {
	def := Definition{
		Name:        name,
		Description: "echo the text",
		SideEffect:  effect,
		Latency:     LatencyFast,
		Params: []Param{
			{Name: "text", Type: TypeString, Required: true, Rules: "min=1,max=32"},
			{Name: "times", Type: TypeInteger, Default: float64(1), Rules: "min=1,max=3"},
		},
	}
	if effect == HostMutation {
		def.Allowlist = []string{"say"}
		def.Operation = func(p Params) string { return p.String("text") }
	}
	return Func{Def: def, Fn: func(_ context.Context, p Params) (Observation, error) {
		return NewObservation(p.String("text"), map[string]any{"times": p.Int("times")}), nil
	}}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool("echo", PureQuery)))
	err := r.Register(echoTool("echo", PureQuery))
	require.ErrorIs(t, err, ErrDuplicateTool)
}

func TestRegisterRejectsHostMutationWithoutAllowlist(t *testing.T) {
	r := NewRegistry()
	tool := echoTool("open", PureQuery)
	tool.Def.SideEffect = HostMutation
	require.ErrorIs(t, r.Register(tool), ErrValidation)
}

func TestRegisterRejectsMalformedRules(t *testing.T) {
	r := NewRegistry()
	tool := echoTool("bad", PureQuery)
	tool.Def.Params[0].Rules = "no_such_rule"
	require.ErrorIs(t, r.Register(tool), ErrValidation)
}

func TestInvokeValidatesParameters(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool("echo", PureQuery)))

	cases := []struct {
		name   string
		params Params
	}{
		{"missing", Params{}},
		{"wrong type", Params{"text": map[string]any{}}},
		{"rule", Params{"text": ""}},
		{"non integral", Params{"text": "hi", "times": 1.5}},
		{"out of range", Params{"text": "hi", "times": 9}},
		{"unexpected", Params{"text": "hi", "volume": 3}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Invoke(context.Background(), "echo", tc.params)
			require.ErrorIs(t, err, ErrValidation)
		})
	}

	obs, err := r.Invoke(context.Background(), "echo", Params{"text": "hi", "times": "2"})
	require.NoError(t, err)
	require.Equal(t, "echo", obs.Tool())
	require.Equal(t, 2, obs.Value("times"))
}

func TestInvokeUnknownTool(t *testing.T) {
	_, err := NewRegistry().Invoke(context.Background(), "nope", nil)
	require.ErrorIs(t, err, ErrUnknownTool)
}

func TestInvokeEnforcesAllowlist(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool("speak", HostMutation)))

	_, err := r.Invoke(context.Background(), "speak", Params{"text": "shout"})
	require.ErrorIs(t, err, ErrPermissionDenied)

	obs, err := r.Invoke(context.Background(), "speak", Params{"text": "say"})
	require.NoError(t, err)
	require.Equal(t, "say", obs.Summary())
}

func TestPureQueryRetriesButHostMutationRunsOnce(t *testing.T) {
	var pureCalls, hostCalls atomic.Int32
	r := NewRegistry(WithPureQueryRetries(2))
	require.NoError(t, r.Register(Func{
		Def: Definition{Name: "flaky", SideEffect: PureQuery, Latency: LatencyFast},
		Fn: func(context.Context, Params) (Observation, error) {
			if pureCalls.Add(1) < 3 {
				return Observation{}, Failuref("temporarily unavailable")
			}
			return NewObservation("ok", nil), nil
		},
	}))
	require.NoError(t, r.Register(Func{
		Def: Definition{
			Name: "launch", SideEffect: HostMutation, Latency: LatencyFast,
			Allowlist: []string{"go"}, Operation: func(Params) string { return "go" },
		},
		Fn: func(context.Context, Params) (Observation, error) {
			hostCalls.Add(1)
			return Observation{}, Failuref("device busy")
		},
	}))

	_, err := r.Invoke(context.Background(), "flaky", nil)
	require.NoError(t, err)
	require.EqualValues(t, 3, pureCalls.Load())

	_, err = r.Invoke(context.Background(), "launch", nil)
	require.ErrorIs(t, err, ErrExecution)
	require.EqualValues(t, 1, hostCalls.Load())
}

func TestInvokeTimesOutUncooperativeTool(t *testing.T) {
	r := NewRegistry(WithBudgets(Budgets{Fast: 50 * time.Millisecond}), WithPureQueryRetries(0))
	release := make(chan struct{})
	defer close(release)
	require.NoError(t, r.Register(Func{
		Def: Definition{Name: "stuck", SideEffect: PureQuery, Latency: LatencyFast},
		Fn: func(context.Context, Params) (Observation, error) {
			<-release
			return NewObservation("late", nil), nil
		},
	}))

	start := time.Now()
	_, err := r.Invoke(context.Background(), "stuck", nil)
	require.ErrorIs(t, err, ErrExecution)
	require.Less(t, time.Since(start), time.Second)
}

func TestRawErrorsAreSanitized(t *testing.T) {
	r := NewRegistry(WithPureQueryRetries(0))
	require.NoError(t, r.Register(Func{
		Def: Definition{Name: "leaky", SideEffect: LocalMutation, Latency: LatencyFast},
		Fn: func(context.Context, Params) (Observation, error) {
			return Observation{}, errors.New("open /etc/secret: permission denied")
		},
	}))

	_, err := r.Invoke(context.Background(), "leaky", nil)
	require.ErrorIs(t, err, ErrExecution)
	require.Equal(t, "TOOL_EXECUTION: leaky failed", xerrors.Describe(err))
}

func TestAgentViewHidesHiddenTools(t *testing.T) {
	r := NewRegistry()
	hidden := echoTool("secret", PureQuery)
	hidden.Def.Hidden = true
	r.MustRegister(echoTool("echo", PureQuery), hidden)

	view := r.AgentView()
	require.Len(t, view.Definitions(true), 1)
	_, err := view.Invoke(context.Background(), "secret", Params{"text": "x"})
	require.ErrorIs(t, err, ErrUnknownTool)

	_, err = r.Invoke(context.Background(), "secret", Params{"text": "x"})
	require.NoError(t, err)
}

func TestObservationIsImmutable(t *testing.T) {
	data := map[string]any{"items": []any{"a"}, "nested": map[string]any{"k": 1}}
	obs := NewObservation("s", data)
	data["items"].([]any)[0] = "mutated"

	clone := obs.Data()
	clone["nested"].(map[string]any)["k"] = 2

	require.Equal(t, "a", obs.Value("items").([]any)[0])
	require.Equal(t, 1, obs.Value("nested").(map[string]any)["k"])
}
