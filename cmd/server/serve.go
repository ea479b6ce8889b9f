package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/minasoft/hl7-liteboard/internal/agent"
	"github.com/minasoft/hl7-liteboard/internal/cache"
	"github.com/minasoft/hl7-liteboard/internal/config"
	"github.com/minasoft/hl7-liteboard/internal/consumers"
	"github.com/minasoft/hl7-liteboard/internal/hl7"
	"github.com/minasoft/hl7-liteboard/internal/nats"
	"github.com/minasoft/hl7-liteboard/internal/processing"
	"github.com/minasoft/hl7-liteboard/internal/store"
	"github.com/minasoft/hl7-liteboard/internal/store/memory"
	"github.com/minasoft/hl7-liteboard/internal/store/natsstore"
	"github.com/minasoft/hl7-liteboard/internal/store/postgres"
	"github.com/minasoft/hl7-liteboard/internal/web"
	"github.com/nats-io/nats.go/jetstream"
)

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Yapılandırma yüklenemedi", "error", err)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Embedded NATS is needed by the default store and by the durable queue.
	var js jetstream.JetStream
	if cfg.StoreBackend == config.BackendNATS || cfg.DispatchMode == config.DispatchJetStream {
		natsServer, err := nats.NewEmbeddedServer(cfg.DataDir)
		if err != nil {
			slog.Error("NATS sunucu başlatılamadı", "error", err)
			return err
		}
		defer natsServer.Shutdown()
		js = natsServer.JetStream()
	}

	st, err := openStore(ctx, cfg, js)
	if err != nil {
		slog.Error("Depolama açılamadı", "backend", cfg.StoreBackend, "error", err)
		return err
	}
	defer st.Close()

	var converter agent.Converter
	if cfg.AgentMode == config.AgentMock {
		converter = &agent.Mock{}
	} else {
		converter = agent.NewClient(agent.Config{
			Endpoint: cfg.AgentEndpoint,
			Timeout:  cfg.AgentTimeout,
		})
	}

	orchestrator := processing.NewOrchestrator(st, converter, cfg.RequestPDF)
	pool := processing.NewPool(orchestrator, cfg.MaxConcurrentConversions, processing.DefaultQueueSize)

	var dispatcher processing.Dispatcher = pool
	if cfg.DispatchMode == config.DispatchJetStream {
		queue := consumers.NewConversionQueue(js, st, pool)
		if err := queue.Start(ctx); err != nil {
			slog.Error("Dönüşüm kuyruğu başlatılamadı", "error", err)
			pool.Close()
			return err
		}
		dispatcher = queue
	}

	intake := processing.NewCoordinator(st, dispatcher)

	var mllpServer *hl7.MLLPServer
	if cfg.MLLPListenPort > 0 {
		mllpServer = hl7.NewMLLPServer(fmt.Sprintf(":%d", cfg.MLLPListenPort), int(cfg.MaxFileSize), intake)
		if err := mllpServer.Start(ctx); err != nil {
			slog.Error("MLLP sunucu başlatılamadı", "error", err)
			pool.Close()
			return err
		}
	}

	var wg sync.WaitGroup

	webServer := web.NewServer(cfg, web.Deps{
		Store:  st,
		Intake: intake,
		Status: processing.NewStatusTracker(st),
		Agent:  converter,
		JS:     js,
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := webServer.Start(ctx); err != nil {
			slog.Error("Web sunucu hatası", "error", err)
		}
	}()

	slog.Info("HL7 Liteboard başlatıldı",
		"webPort", cfg.WebPort,
		"mllpPort", cfg.MLLPListenPort,
		"storeBackend", cfg.StoreBackend,
		"dispatchMode", cfg.DispatchMode,
		"agent", converter.Name(),
	)

	printStartupInfo(cfg)

	<-sigChan
	slog.Info("Kapatma sinyali alındı, sunucu kapatılıyor...")

	cancel()
	wg.Wait()

	if mllpServer != nil {
		mllpServer.Stop()
	}
	pool.Close()

	slog.Info("HL7 Liteboard kapatıldı")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, js jetstream.JetStream) (store.Store, error) {
	var st store.Store

	switch cfg.StoreBackend {
	case config.BackendMemory:
		st = memory.New()
	case config.BackendPostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		st = postgres.New(pool)
	default:
		ns, err := natsstore.New(ctx, js)
		if err != nil {
			return nil, err
		}
		st = ns
	}

	if cfg.RedisAddr == "" {
		return st, nil
	}

	cached, err := cache.NewStateCache(ctx, &cache.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		CacheTTL: cfg.StateCacheTTL,
	}, st)
	if err != nil {
		st.Close()
		return nil, err
	}
	return cached, nil
}

func printStartupInfo(cfg *config.Config) {
	info := `
╔═══════════════════════════════════════════════════════════════╗
║                    HL7 Liteboard Başlatıldı                   ║
╠═══════════════════════════════════════════════════════════════╣
║ Web API              : http://localhost:%-22d ║
║ MLLP Receiver Port   : %-39d ║
║ Store Backend        : %-39s ║
║ Conversion Agent     : %-39s ║
╚═══════════════════════════════════════════════════════════════╝
`
	agentInfo := cfg.AgentEndpoint
	if cfg.AgentMode == config.AgentMock {
		agentInfo = "mock"
	}

	fmt.Printf(info,
		cfg.WebPort,
		cfg.MLLPListenPort,
		cfg.StoreBackend,
		agentInfo,
	)
}
