package agent

import (
	"context"
	"fmt"
	"log/slog"

	"myagent/pkg/config"
	"myagent/pkg/llmclient"
	"myagent/pkg/llmclient/geminiprovider"
	"myagent/pkg/llmclient/ollamaprovider"
	"myagent/pkg/llmclient/openaiprovider"
	"myagent/pkg/thread"
	"myagent/pkg/tools"
)

// NewFactory builds the thread.AgentFactory used by the manager: "claude"
// resolves to the subprocess agent, anything else to the native AiAgent
// backed by a FallbackClient chain built from whichever backends cfg
// configures.
func NewFactory(ctx context.Context, cfg *config.AppConfig, workspace string, hasFeishu bool) thread.AgentFactory {
	registry := tools.NewDefaultRegistry()

	return func(agentType string) (thread.Agent, error) {
		if agentType == "claude" {
			return NewClaudeSubprocessAgent(ClaudeEnv(cfg.ClaudeEnv()), workspace, hasFeishu), nil
		}

		client, err := buildLLMClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewAiAgent(client, cfg.MyAgentEnv().Model, workspace, registry, hasFeishu), nil
	}
}

// buildLLMClient composes every configured backend into a FallbackClient,
// with the primary Anthropic-shaped backend first and any configured
// OpenAI/Gemini/Ollama backend appended in that order.
func buildLLMClient(ctx context.Context, cfg *config.AppConfig) (llmclient.LLMClient, error) {
	myagentEnv := cfg.MyAgentEnv()

	var (
		names    []string
		backends []llmclient.LLMClient
	)

	if myagentEnv.APIKey != "" {
		names = append(names, "anthropic")
		backends = append(backends, llmclient.NewAnthropicClient(myagentEnv.APIKey, myagentEnv.BaseURL))
	}

	if openaiEnv := cfg.OpenAIEnv(); openaiEnv.APIKey != "" {
		model := openaiEnv.Model
		if model == "" {
			model = "gpt-4o"
		}
		names = append(names, "openai")
		backends = append(backends, openaiprovider.New(openaiEnv.APIKey, openaiEnv.BaseURL, model))
	}

	if geminiEnv := cfg.GeminiEnv(); geminiEnv.APIKey != "" {
		model := geminiEnv.Model
		if model == "" {
			model = "gemini-2.0-flash"
		}
		client, err := geminiprovider.New(ctx, geminiEnv.APIKey, model)
		if err != nil {
			slog.Warn("gemini backend unavailable, skipping", "error", err)
		} else {
			names = append(names, "gemini")
			backends = append(backends, client)
		}
	}

	if ollamaEnv := cfg.OllamaEnv(); ollamaEnv.BaseURL != "" || ollamaEnv.Model != "" {
		model := ollamaEnv.Model
		if model == "" {
			model = "llama3"
		}
		client, err := ollamaprovider.New(model, ollamaEnv.BaseURL, nil)
		if err != nil {
			slog.Warn("ollama backend unavailable, skipping", "error", err)
		} else {
			names = append(names, "ollama")
			backends = append(backends, client)
		}
	}

	if len(backends) == 0 {
		return nil, fmt.Errorf("no LLM backend configured: set agents.myagent.env.MYAGENT_API_KEY (or an openai/gemini/ollama agent entry)")
	}
	if len(backends) == 1 {
		return backends[0], nil
	}
	return llmclient.NewFallbackClient(names, backends), nil
}
