package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/telecare/signaling-service/config"
	"github.com/telecare/signaling-service/internal/captionlog"
	"github.com/telecare/signaling-service/internal/memstore"
	"github.com/telecare/signaling-service/internal/postgres"
	"github.com/telecare/signaling-service/internal/relay"
	"github.com/telecare/signaling-service/internal/security"
	"github.com/telecare/signaling-service/internal/service"
	"github.com/telecare/signaling-service/internal/transcription"
	grpcx "github.com/telecare/signaling-service/internal/transport/grpc"
	httpx "github.com/telecare/signaling-service/internal/transport/http"
	"github.com/telecare/signaling-service/internal/transport/ws"
	"github.com/telecare/signaling-service/pkg/logger"

	"github.com/redis/go-redis/v9"
)

func main() {
	// --- config ---
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	lg := logger.Init(logger.Config{
		Env:       logger.ParseEnv(cfg.Logging.Env),
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Backend:   logger.Backend(cfg.Logging.Backend),
		Level:     logger.ParseLevel(cfg.Logging.Level),
		AddSource: cfg.Logging.AddSource,
		Debug:     cfg.Logging.Debug,
	})
	lg.Info("starting signaling-service",
		"env", cfg.Logging.Env, "version", cfg.Logging.Version,
		"storage", cfg.Storage.Driver, "transcription", cfg.Transcription.Provider, "captions", cfg.Captions.Driver)

	ctx := context.Background()

	// --- storage ---
	store, err := openStorage(ctx, cfg)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer store.close()

	// --- security ---
	verifier, err := newVerifier(cfg.Security.JWT)
	if err != nil {
		log.Fatalf("jwt verifier: %v", err)
	}
	cipher, err := security.NewFieldCipher(cfg.Security.Encryption.Key)
	if err != nil {
		log.Fatalf("field cipher: %v", err)
	}

	// --- services ---
	chatSvc := service.NewChatService(store.appointments, store.chats, cipher)
	transcriptSvc := service.NewTranscriptService(store.appointments, store.transcripts, cipher)

	// --- transcription ---
	provider, err := newProvider(cfg.Transcription, lg)
	if err != nil {
		log.Fatalf("transcription provider: %v", err)
	}
	coord := transcription.NewCoordinator(provider, transcription.Options{
		MaxIdleAudio:  cfg.Transcription.MaxIdleAudio,
		CaptionBuffer: cfg.Transcription.CaptionBuffer,
	}, lg)

	captions, err := newCaptionLog(cfg.Captions)
	if err != nil {
		log.Fatalf("caption log: %v", err)
	}
	defer func() { _ = captions.Close() }()

	// --- relay ---
	state := relay.New(relay.Deps{
		Coordinator:    coord,
		Chat:           chatSvc,
		Transcripts:    transcriptSvc,
		Captions:       captions,
		Logger:         lg,
		PersistTimeout: cfg.Relay.PersistTimeout,
		StartTimeout:   cfg.Transcription.StartTimeout,
	})

	// --- WS & HTTP ---
	wsServer := ws.NewServer(verifier, state, ws.Options{
		AllowedOrigins: cfg.WS.AllowedOrigins,
		PingPeriod:     cfg.WS.PingPeriod,
		WriteTimeout:   cfg.WS.WriteTimeout,
		ReadLimit:      cfg.WS.ReadLimit,
		SendBuffer:     cfg.WS.SendBuffer,
	}, lg)

	router := httpx.NewRouter(httpx.RouterDeps{
		Handler:        httpx.NewHandler(state, lg),
		WS:             wsServer.HandleWS,
		Verifier:       verifier,
		AllowedOrigins: cfg.WS.AllowedOrigins,
		Logger:         lg,
	})
	// без Read/WriteTimeout: после апгрейда сокет живёт долго, дедлайны ставит ws
	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// --- gRPC ---
	grpcSrv := grpcx.NewServer(lg, cfg.GRPC.UnaryGuard)

	// --- run both servers ---
	errCh := make(chan error, 2)

	go func() {
		lg.Info("http listen", "addr", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	go func() {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			errCh <- err
			return
		}
		if err := grpcSrv.Serve(lis); err != nil {
			errCh <- err
		}
	}()

	// --- graceful shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		lg.Info("shutdown signal", "sig", sig)
	case err := <-errCh:
		lg.Error("server error", "err", err)
	}

	ctxShutdown, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	grpcSrv.MarkNotServing()
	if err := httpSrv.Shutdown(ctxShutdown); err != nil {
		lg.Warn("http shutdown", "err", err)
	}
	// hijacked-сокеты http.Server не закрывает
	wsServer.Shutdown()
	if err := state.Shutdown(ctxShutdown); err != nil {
		lg.Warn("relay shutdown", "err", err)
	}
	grpcSrv.Stop()
	lg.Info("stopped")
}

type storage struct {
	appointments service.AppointmentFinder
	chats        service.ChatRepository
	transcripts  service.TranscriptRepository
	close        func()
}

func openStorage(ctx context.Context, cfg *config.Config) (*storage, error) {
	if cfg.Storage.Driver == "memory" {
		slog.Warn("memory storage: chat and transcripts are lost on restart")
		m := memstore.New()
		return &storage{appointments: m, chats: m, transcripts: m, close: func() {}}, nil
	}

	pool, err := postgres.NewPool(ctx, postgres.Config{
		DSN:               cfg.Postgres.DSN,
		MaxConns:          cfg.Postgres.MaxConns,
		MinConns:          cfg.Postgres.MinConns,
		MaxConnLifetime:   cfg.Postgres.MaxConnLifetime,
		MaxConnIdleTime:   cfg.Postgres.MaxConnIdleTime,
		HealthCheckPeriod: cfg.Postgres.HealthCheckPeriod,
		ApplicationName:   cfg.Postgres.ApplicationName,
	})
	if err != nil {
		return nil, err
	}
	return &storage{
		appointments: postgres.NewAppointmentRepository(pool),
		chats:        postgres.NewChatRepository(pool),
		transcripts:  postgres.NewTranscriptRepository(pool),
		close:        pool.Close,
	}, nil
}

func newVerifier(j config.JWT) (*security.Verifier, error) {
	vc := security.VerifierConfig{
		Alg:       j.Alg,
		Secret:    []byte(j.Secret),
		Issuer:    j.Issuer,
		Audience:  j.Audience,
		ClockSkew: j.ClockSkew,
	}
	if j.PublicKeyPath != "" {
		pub, err := security.LoadRSAPublicKeyFromPEM(j.PublicKeyPath)
		if err != nil {
			return nil, err
		}
		vc.PublicKey = pub
	}
	return security.NewVerifier(vc)
}

func newProvider(t config.Transcription, lg *slog.Logger) (transcription.Provider, error) {
	if t.Provider != "deepgram" {
		return transcription.Disabled{}, nil
	}

	dc := transcription.DefaultDeepgramConfig(t.Deepgram.APIKey)
	if t.Deepgram.URL != "" {
		dc.URL = t.Deepgram.URL
	}
	if t.Deepgram.Model != "" {
		dc.Model = t.Deepgram.Model
	}
	if t.Deepgram.Language != "" {
		dc.Language = t.Deepgram.Language
	}
	if t.Deepgram.UtteranceEndMs > 0 {
		dc.UtteranceEndMs = t.Deepgram.UtteranceEndMs
	}
	if t.Deepgram.KeepAlive > 0 {
		dc.KeepAlive = t.Deepgram.KeepAlive
	}
	if t.Deepgram.FlushTimeout > 0 {
		dc.FlushTimeout = t.Deepgram.FlushTimeout
	}
	return transcription.NewDeepgram(dc, lg)
}

func newCaptionLog(c config.Captions) (captionlog.Log, error) {
	opts := []captionlog.Option{
		captionlog.WithKeep(c.Keep),
		captionlog.WithTTL(c.TTL),
	}
	if c.KeyPrefix != "" {
		opts = append(opts, captionlog.WithKeyPrefix(c.KeyPrefix))
	}
	if c.Driver == string(captionlog.DriverRedis) {
		opts = append(opts, captionlog.WithRedisClient(redis.NewClient(&redis.Options{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		})))
	}
	return captionlog.New(captionlog.Driver(c.Driver), opts...)
}
