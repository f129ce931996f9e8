// Command refbackend is a reference implementation of the backend WebSocket
// protocol (spec §6.2): it accepts llm_request frames and answers with
// llm_stream deltas followed by a terminal llm_response, routing the actual
// completion through Ollama, OpenAI, or Anthropic via the openai-agents-go
// SDK. It exists to exercise and test the broker end to end; the broker
// never imports this package.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/openai/openai-go/v2/packages/param"

	"github.com/voxbridge/broker/internal/env"
	"github.com/voxbridge/broker/internal/llmrouter"
	"github.com/voxbridge/broker/internal/prompts"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// llmRequest mirrors the broker's outbound payload (spec §6.2).
type llmRequest struct {
	Type       string `json:"type"`
	RequestID  string `json:"request_id"`
	SessionID  string `json:"session_id"`
	Text       string `json:"text"`
	Emotion    string `json:"emotion"`
	Event      string `json:"event"`
	SystemPrompt string `json:"system_prompt"`
	Engine     string `json:"engine"`
	Model      string `json:"model"`
}

type server struct {
	router     *llmrouter.Router
	engine     string
	maxTokens  int
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	port := env.Str("REFBACKEND_PORT", "8090")
	ollamaURL := env.Str("OLLAMA_URL", "http://localhost:11434")
	ollamaModel := env.Str("OLLAMA_MODEL", "llama3.2:3b")
	openaiAPIKey := env.Str("OPENAI_API_KEY", "")
	openaiURL := env.Str("OPENAI_URL", "https://api.openai.com")
	openaiModel := env.Str("OPENAI_MODEL", "gpt-4.1-nano")
	anthropicAPIKey := env.Str("ANTHROPIC_API_KEY", "")
	anthropicURL := env.Str("ANTHROPIC_URL", "https://api.anthropic.com")
	anthropicModel := env.Str("ANTHROPIC_MODEL", "claude-sonnet-4-5")
	maxTokens := env.Int("REFBACKEND_MAX_TOKENS", 300)

	router := llmrouter.New("ollama", maxTokens)
	router.Register("ollama", agents.NewOpenAIProvider(agents.OpenAIProviderParams{
		BaseURL:      param.NewOpt(ollamaURL + "/v1/"),
		APIKey:       param.NewOpt("ollama"),
		UseResponses: param.NewOpt(false),
	}), ollamaModel)
	if openaiAPIKey != "" {
		router.Register("openai", agents.NewOpenAIProvider(agents.OpenAIProviderParams{
			BaseURL:      param.NewOpt(openaiURL + "/v1/"),
			APIKey:       param.NewOpt(openaiAPIKey),
			UseResponses: param.NewOpt(true),
		}), openaiModel)
	}
	if anthropicAPIKey != "" {
		router.Register("anthropic", agents.NewOpenAIProvider(agents.OpenAIProviderParams{
			BaseURL:      param.NewOpt(anthropicURL + "/v1/"),
			APIKey:       param.NewOpt(anthropicAPIKey),
			UseResponses: param.NewOpt(false),
		}), anthropicModel)
	}

	srv := &server{router: router, engine: "ollama", maxTokens: maxTokens}

	mux := http.NewServeMux()
	mux.HandleFunc("/backend", srv.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	addr := ":" + port
	httpSrv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		httpSrv.Close()
	}()

	slog.Info("refbackend starting", "addr", addr, "engines", router.Engines())
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func (s *server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("refbackend upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(v any) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteJSON(v); err != nil {
			slog.Warn("refbackend write failed", "error", err)
		}
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var req llmRequest
		if err := json.Unmarshal(data, &req); err != nil {
			slog.Warn("refbackend: malformed request", "error", err)
			continue
		}
		if req.Type != "llm_request" || req.RequestID == "" {
			continue
		}

		wg.Add(1)
		go func(req llmRequest) {
			defer wg.Done()
			s.handleRequest(r.Context(), req, write)
		}(req)
	}
}

func (s *server) handleRequest(ctx context.Context, req llmRequest, write func(any)) {
	engine := req.Engine
	if engine == "" {
		engine = s.engine
	}

	result, err := s.router.Chat(ctx, req.Text, prompts.ForRequest(req.SystemPrompt), req.Model, engine, func(delta string) {
		write(map[string]any{
			"type":       "llm_stream",
			"request_id": req.RequestID,
			"delta":      delta,
			"final":      false,
		})
	})
	if err != nil {
		write(map[string]any{
			"type":       "llm_error",
			"request_id": req.RequestID,
			"error":      err.Error(),
			"final":      true,
		})
		return
	}

	write(map[string]any{
		"type":       "llm_response",
		"request_id": req.RequestID,
		"reply":      result.Text,
		"final":      true,
	})
}
