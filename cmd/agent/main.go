package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/vocalrelay/turnloop/pkg/audio"
	"github.com/vocalrelay/turnloop/pkg/orchestrator"
	llmProvider "github.com/vocalrelay/turnloop/pkg/providers/llm"
	sttProvider "github.com/vocalrelay/turnloop/pkg/providers/stt"
	ttsProvider "github.com/vocalrelay/turnloop/pkg/providers/tts"
	"github.com/vocalrelay/turnloop/pkg/telemetry"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, using system environment variables")
	}

	groqKey := os.Getenv("GROQ_API_KEY")
	openaiKey := os.Getenv("OPENAI_API_KEY")
	anthropicKey := os.Getenv("ANTHROPIC_API_KEY")
	googleKey := os.Getenv("GOOGLE_API_KEY")
	deepgramKey := os.Getenv("DEEPGRAM_API_KEY")
	assemblyKey := os.Getenv("ASSEMBLYAI_API_KEY")
	lokutorKey := os.Getenv("LOKUTOR_API_KEY")

	sttProviderName := envOr("STT_PROVIDER", "groq")
	llmProviderName := envOr("LLM_PROVIDER", "groq")

	lang := orchestrator.Language(envOr("AGENT_LANGUAGE", string(orchestrator.LanguageEs)))

	if lokutorKey == "" {
		log.Fatal("Error: LOKUTOR_API_KEY must be set.")
	}

	cfg := orchestrator.DefaultConfig()
	if path := os.Getenv("AGENT_CONFIG"); path != "" {
		loaded, err := orchestrator.LoadConfig(path)
		if err != nil {
			log.Fatalf("Error loading config %s: %v", path, err)
		}
		cfg = loaded
	}
	cfg.Language = lang

	stt := selectSTT(sttProviderName, cfg.SampleRate, groqKey, openaiKey, deepgramKey, assemblyKey)
	llm := selectLLM(llmProviderName, groqKey, openaiKey, anthropicKey, googleKey)
	tts := ttsProvider.NewLokutorTTS(lokutorKey)
	vad := orchestrator.NewRMSVAD(cfg.VADStartThreshold, cfg.VADStopThreshold, cfg.VADMaxGap, cfg.VADMinSpeechDuration)

	zapLogger, err := telemetry.NewDevelopmentZapLogger()
	if err != nil {
		log.Fatalf("Error building logger: %v", err)
	}
	defer zapLogger.Sync()

	telemetryCfg := telemetry.DefaultConfig()
	if os.Getenv("OTEL_EXPORTER") != "" {
		telemetryCfg.Enabled = true
		telemetryCfg.Exporter = os.Getenv("OTEL_EXPORTER")
	}
	provider, err := telemetry.NewProvider(telemetryCfg)
	if err != nil {
		log.Fatalf("Error building telemetry provider: %v", err)
	}
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	defer provider.Shutdown(shutdownCtx)

	metrics := telemetry.NewMetrics("turnloop")

	fmt.Printf("Configured: STT=%s | LLM=%s | TTS=Lokutor\n", sttProviderName, llmProviderName)
	fmt.Printf("Sample Rate: %dHz | Language: %s\n", cfg.SampleRate, lang)
	fmt.Println("Voice Agent Started! Listening to microphone...")
	fmt.Println("Press Ctrl+C to exit")

	orch := orchestrator.NewWithLogger(stt, llm, tts, vad, cfg, zapLogger)

	session := orch.NewSessionWithDefaults(uuid.NewString())

	systemPrompt := "You are a helpful and concise voice assistant. Use short sentences suitable for speech."
	if lang == orchestrator.LanguageEs {
		systemPrompt = "Eres un asistente de voz util y conciso. Usa frases cortas adecuadas para el habla."
	}
	orch.SetSystemPrompt(session, systemPrompt)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	echo := audio.NewEchoSuppressor()

	playbackDevice, err := audio.NewDeviceController(cfg.SampleRate, cfg.Channels, echo)
	if err != nil {
		log.Fatal(err)
	}
	defer playbackDevice.Close()

	rt := orch.NewSessionRuntime(ctx, session, playbackDevice, provider, metrics)
	defer rt.Close()

	mic := audio.NewMicListener(cfg, vad, echo, rt.SubmitAudio, func(evt orchestrator.EventType, data interface{}) {
		// UserSpeaking/UserStopped come only from MicListener; the
		// SessionRuntime event stream does not carry them. Print them
		// immediately for low-latency terminal feedback.
		printEvent(orchestrator.OrchestratorEvent{Type: evt, SessionID: session.ID, Data: data})
	})
	if err := mic.Start(); err != nil {
		log.Fatal(err)
	}
	defer mic.Stop()

	go func() {
		for event := range rt.Events() {
			printEvent(event)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	fmt.Printf("\nShutting down...\n")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func selectSTT(name string, sampleRate int, groqKey, openaiKey, deepgramKey, assemblyKey string) orchestrator.STTProvider {
	var stt orchestrator.STTProvider
	switch name {
	case "openai":
		if openaiKey == "" {
			log.Fatal("Error: OPENAI_API_KEY must be set for openai STT")
		}
		stt = sttProvider.NewOpenAISTT(openaiKey, "whisper-1")
	case "deepgram":
		if deepgramKey == "" {
			log.Fatal("Error: DEEPGRAM_API_KEY must be set for deepgram STT")
		}
		stt = sttProvider.NewDeepgramSTT(deepgramKey)
	case "assemblyai":
		if assemblyKey == "" {
			log.Fatal("Error: ASSEMBLYAI_API_KEY must be set for assemblyai STT")
		}
		stt = sttProvider.NewAssemblyAISTT(assemblyKey)
	case "groq":
		fallthrough
	default:
		if groqKey == "" {
			log.Fatal("Error: GROQ_API_KEY must be set for groq STT")
		}
		groqModel := envOr("GROQ_STT_MODEL", "whisper-large-v3-turbo")
		stt = sttProvider.NewGroqSTT(groqKey, groqModel)
	}

	if s, ok := stt.(interface{ SetSampleRate(int) }); ok {
		s.SetSampleRate(sampleRate)
	}
	return stt
}

func selectLLM(name, groqKey, openaiKey, anthropicKey, googleKey string) orchestrator.LLMProvider {
	switch name {
	case "openai":
		if openaiKey == "" {
			log.Fatal("Error: OPENAI_API_KEY must be set for openai LLM")
		}
		return llmProvider.NewOpenAILLM(openaiKey, "gpt-4o")
	case "anthropic":
		if anthropicKey == "" {
			log.Fatal("Error: ANTHROPIC_API_KEY must be set for anthropic LLM")
		}
		return llmProvider.NewAnthropicLLM(anthropicKey, "claude-3-5-sonnet-20241022")
	case "google":
		if googleKey == "" {
			log.Fatal("Error: GOOGLE_API_KEY must be set for google LLM")
		}
		return llmProvider.NewGoogleLLM(googleKey, "gemini-1.5-flash")
	case "groq":
		fallthrough
	default:
		if groqKey == "" {
			log.Fatal("Error: GROQ_API_KEY must be set for groq LLM")
		}
		return llmProvider.NewGroqLLM(groqKey, "llama-3.3-70b-versatile")
	}
}

func printEvent(event orchestrator.OrchestratorEvent) {
	switch event.Type {
	case orchestrator.UserSpeaking:
		fmt.Printf("\r\033[K[USER] Speaking...\n")
	case orchestrator.UserStopped:
		fmt.Printf("\r\033[K[STT] Processing...\n")
	case orchestrator.TranscriptFinal:
		fmt.Printf("\r\033[K[TRANSCRIPT] %v\n", event.Data)
	case orchestrator.BotThinking:
		fmt.Printf("\r\033[K[LLM] Thinking...\n")
	case orchestrator.BotResponse:
		fmt.Printf("\r\033[K[LLM] %v\n", event.Data)
	case orchestrator.BotSpeaking:
		fmt.Printf("\r\033[K[TTS] Speaking...\n")
	case orchestrator.TurnOpened:
		fmt.Printf("\r\033[K[TURN %d] opened\n", event.TurnID)
	case orchestrator.TurnInvalidated:
		fmt.Printf("\r\033[K[TURN %d] invalidated (barge-in)\n", event.TurnID)
	case orchestrator.TurnClosed:
		fmt.Printf("\r\033[K[TURN %d] closed\n", event.TurnID)
	case orchestrator.Interrupted:
		fmt.Printf("\r\033[K[INTERRUPTED] User started talking.\n")
	case orchestrator.ErrorEvent:
		fmt.Printf("\r\033[K[ERROR] %v\n", event.Data)
	}
}
