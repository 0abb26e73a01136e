package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ora-bot/backend/internal/adapter"
	"ora-bot/backend/internal/discord"
	"ora-bot/backend/internal/store"
	"ora-bot/backend/internal/voice"
	"ora-bot/backend/internal/web"
	"ora-bot/backend/pkg/config"
	"ora-bot/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}

	if err := logger.Init(cfg.Env, cfg.LogLevel); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting ORA bot...")

	// Neo4j
	driver, err := neo4j.NewDriverWithContext(
		cfg.Neo4jURI,
		neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""),
	)
	if err != nil {
		log.Fatal("Failed to create Neo4j driver", zap.Error(err))
	}
	defer driver.Close(context.Background())

	ctx := context.Background()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		log.Fatal("Failed to verify Neo4j connectivity", zap.Error(err))
	}

	repo := store.NewRepository(driver)

	// Collaborator clients
	llmAdapter := adapter.NewLLMAdapter(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel)
	sttClient := adapter.NewWhisperClient(cfg.STTServiceURL)
	ttsClient := adapter.NewVoiceVoxClient(cfg.TTSBaseURL, cfg.TTSSpeakerID)
	searchClient := adapter.NewSearchClient("")
	linkClient := adapter.NewLinkClient(cfg.ORAAPIBaseURL)

	// Discord session
	dg, err := discordgo.New("Bot " + cfg.DiscordBotToken)
	if err != nil {
		log.Fatal("Failed to create Discord session", zap.Error(err))
	}

	// Voice pipeline
	converter := voice.NewAudioConverter(voice.FindFFmpeg())
	platform := voice.NewDiscordPlatform(dg, converter, log)
	voiceManager := voice.NewManager(platform, sttClient, ttsClient, voiceOptions(cfg), log)
	defer voiceManager.DisconnectAll()

	hotword := discord.NewHotwordConsumer(repo, llmAdapter, searchClient, voiceManager)
	voiceManager.SetHotwordCallback(hotword.Handle)

	// Slash commands
	privacyDefault := cfg.PrivacyDefault == "private"
	handler := discord.NewHandler(repo, llmAdapter, searchClient, linkClient, voiceManager,
		cfg.PublicBaseURL, cfg.ORAAPIBaseURL, privacyDefault)
	handler.Latency = dg.HeartbeatLatency
	handler.GuildCount = func() int { return len(dg.State.Guilds) }
	dg.AddHandler(handler.HandleInteraction)

	// Required intents:
	// - IntentsGuilds: guild and channel metadata
	// - IntentsGuildVoiceStates: track who occupies which voice channel
	dg.Identify.Intents = requiredIntents()

	if err := dg.Open(); err != nil {
		log.Fatal("Failed to open Discord connection", zap.Error(err))
	}
	defer dg.Close()

	appID := cfg.DiscordAppID
	if appID == "" && dg.State.User != nil {
		appID = dg.State.User.ID
	}
	if err := discord.RegisterCommands(dg, appID, cfg.DevGuildID); err != nil {
		log.Fatal("Failed to register commands", zap.Error(err))
	}

	// HTTP sidecar
	webServer := web.NewServer(repo, handler.GuildCount)
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: webServer.Router(cfg.IsProduction()),
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		log.Info("HTTP server started", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	log.Info("ORA bot is running. Press CTRL-C to exit.")

	if err := group.Wait(); err != nil {
		log.Error("Shutdown with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("ORA bot stopped")
}

func voiceOptions(cfg *config.Config) voice.Options {
	opts := voice.DefaultOptions()
	opts.WakePhrase = cfg.WakePhrase
	opts.VADThreshold = cfg.VADThreshold
	opts.ChunkDuration = cfg.ChunkDuration
	opts.IdleTimeout = cfg.IdleTimeout
	opts.IdlePoll = cfg.IdlePoll
	return opts
}

func requiredIntents() discordgo.Intent {
	return discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
}
