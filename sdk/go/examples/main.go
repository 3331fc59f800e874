package main

import (
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"time"

	"AgentOS-Bridge/internal/agent"
	"AgentOS-Bridge/internal/api"
	"AgentOS-Bridge/internal/bridge"
	"AgentOS-Bridge/internal/host"
	"AgentOS-Bridge/internal/llm"
	"AgentOS-Bridge/internal/router"
	"AgentOS-Bridge/internal/tools"
	"AgentOS-Bridge/internal/tools/builtin"
	"AgentOS-Bridge/sdk/go/agentos"
)

// 在进程内启动一个离线的 HTTP 展示端，再用 SDK 发送几条话语。
func main() {
	workspace, err := os.MkdirTemp("", "agentos-example")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(workspace)

	reg := tools.NewRegistry()
	recorder := host.NewRecorder()
	if err := builtin.Register(reg, builtin.Options{WorkspaceDir: workspace, Host: recorder}); err != nil {
		panic(err)
	}
	engine := agent.New(llm.NewScripted("", "Thought: no tool is needed.\nFinal Answer: Hello from the offline engine."), reg.AgentView())
	handler := bridge.NewHandler(router.New(reg), reg, engine)

	srv := httptest.NewServer(api.NewServer("", "demo-token", api.Dependencies{Utterer: handler, Tools: reg}).Handler())
	defer srv.Close()

	client, err := agentos.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}
	client.SetToken("demo-token")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, utterance := range []string{"Pause the music", "calculate sqrt(1444)", "say hello", "12345"} {
		reply, err := client.Ask(ctx, utterance)
		if err != nil {
			panic(err)
		}
		fmt.Printf("%-22s -> [%s ok=%t] %s\n", utterance, reply.Route, reply.OK, reply.DisplayText)
	}
	fmt.Printf("host actions recorded: %d\n", len(recorder.Records()))
}
