package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jhoicas/nfe-emissor/internal/application/fiscal"
	"github.com/jhoicas/nfe-emissor/internal/application/ports"
	"github.com/jhoicas/nfe-emissor/internal/domain/entity"
	"github.com/jhoicas/nfe-emissor/internal/domain/repository"
	infracache "github.com/jhoicas/nfe-emissor/internal/infrastructure/cache"
	"github.com/jhoicas/nfe-emissor/internal/infrastructure/certificate"
	"github.com/jhoicas/nfe-emissor/internal/infrastructure/gateway"
	"github.com/jhoicas/nfe-emissor/internal/infrastructure/memory"
	infrapdf "github.com/jhoicas/nfe-emissor/internal/infrastructure/pdf"
	"github.com/jhoicas/nfe-emissor/internal/infrastructure/postgres"
	"github.com/jhoicas/nfe-emissor/internal/infrastructure/sefaz"
	"github.com/jhoicas/nfe-emissor/internal/infrastructure/sefaz/signer"
	httpRouter "github.com/jhoicas/nfe-emissor/internal/interfaces/http"
	"github.com/jhoicas/nfe-emissor/pkg/config"
	"github.com/jhoicas/nfe-emissor/pkg/logger"
	"github.com/jhoicas/nfe-emissor/pkg/nfe"
)

// storage repositorios del backend elegido.
type storage struct {
	docs    repository.FiscalDocumentRepository
	letters repository.CorrectionLetterRepository
	certs   repository.CertificateRepository
	pool    *pgxpool.Pool // nil con STORAGE_BACKEND=memory
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:   cfg.App.Env,
		Level: cfg.App.LogLevel,
		App:   cfg.App.Name,
	})
	log.Info().
		Str("env", cfg.App.Env).
		Str("nfe_environment", cfg.NFe.Environment).
		Str("uf", cfg.NFe.UF).
		Str("transport_mode", cfg.NFe.TransportMode).
		Str("storage", cfg.Storage.Backend).
		Str("guard", cfg.Guard.Backend).
		Msg("iniciando aplicación")

	ctx := context.Background()

	store, err := openStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("inicializar almacenamiento")
	}
	if store.pool != nil {
		defer store.pool.Close()
	}

	guard, closeGuard, err := openGuard(cfg, store)
	if err != nil {
		log.Fatal().Err(err).Msg("inicializar marca de envío en curso")
	}
	defer closeGuard()

	// ── SEFAZ ────────────────────────────────────────────────────────────────
	ufCode, ok := nfe.UFCodes[cfg.NFe.UF]
	if !ok {
		log.Fatal().Str("uf", cfg.NFe.UF).Msg("NFE_UF desconocida")
	}
	overrides := make(map[sefaz.Operation]string, len(cfg.NFe.EndpointOverrides))
	for name, url := range cfg.NFe.EndpointOverrides {
		op, found := sefaz.ParseOperation(name)
		if !found {
			log.Fatal().Str("operation", name).Msg("override de endpoint para operación desconocida")
		}
		overrides[op] = url
	}
	endpoints, err := sefaz.DefaultEndpoints(cfg.NFe.Environment, overrides)
	if err != nil {
		log.Fatal().Err(err).Msg("endpoints de la SEFAZ")
	}
	transport := sefaz.NewSOAPClient(log.Component("sefaz_transport"),
		sefaz.WithMutualTLS(cfg.NFe.MutualTLS),
		sefaz.WithDefaultTimeout(cfg.NFe.Timeout),
	)

	credentials := fiscal.NewCredentialProvider(store.certs, certificate.NewCache(cfg.NFe.CertCacheTTL), log.Zerolog())

	var events ports.EventSubmitter
	switch cfg.NFe.TransportMode {
	case config.TransportGateway:
		events = gateway.NewClient(cfg.Gateway.URL, cfg.Gateway.Token, cfg.NFe.Timeout, log.Zerolog())
	default:
		events = fiscal.NewDirectEventSubmitter(credentials, signer.NewEventSigner(), transport, endpoints, cfg.NFe.Timeout, log.Zerolog())
	}

	// ── Motor de emisión ────────────────────────────────────────────────────
	manager := fiscal.NewManager(fiscal.Deps{
		Documents:   store.docs,
		Corrections: store.letters,
		Guard:       guard,
		Credentials: credentials,
		Transport:   transport,
		Events:      events,
		DANFE:       infrapdf.NewDANFEGenerator(),
	}, fiscal.Config{
		Environment:           cfg.NFe.Environment,
		UFCode:                ufCode,
		Endpoints:             endpoints,
		Timeout:               cfg.NFe.Timeout,
		GuardTTL:              cfg.Guard.TTL,
		GuardWait:             cfg.Guard.Wait,
		CancelWindow:          cfg.NFe.CancelWindow,
		AlreadyProcessedCodes: cfg.NFe.AlreadyProcessedCodes,
		PublicBaseURL:         cfg.NFe.PublicBaseURL,
	}, log.Zerolog())

	pollCfg := fiscal.DefaultPollerConfig()
	pollCfg.InitialInterval = cfg.Poll.InitialInterval
	pollCfg.Multiplier = cfg.Poll.Multiplier
	pollCfg.MaxInterval = cfg.Poll.MaxInterval
	pollCfg.MaxElapsedTime = cfg.Poll.MaxElapsed
	poller := fiscal.NewBackoffPoller(manager, pollCfg, log.Zerolog())
	manager.SetPollScheduler(poller)

	// Documentos que quedaron pending antes de un reinicio.
	pending, err := store.docs.ListByStatus(ctx, entity.StatusPending, cfg.Poll.StartupLimit)
	if err != nil {
		log.Error().Err(err).Msg("listar documentos pending al arrancar")
	}
	for _, doc := range pending {
		poller.Schedule(doc.TenantID, doc.ID)
	}
	if len(pending) > 0 {
		log.Info().Int("count", len(pending)).Msg("consultas reprogramadas para documentos pending")
	}

	// ── HTTP ─────────────────────────────────────────────────────────────────
	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  time.Second * 10,
		WriteTimeout: cfg.NFe.Timeout + 30*time.Second, // submit espera a la SEFAZ
		IdleTimeout:  time.Second * 60,
	})
	app.Use(recover.New())

	// Swagger UI en local: http://localhost:<port>/docs
	app.Use(swagger.New(swagger.Config{
		BasePath: "/",
		FilePath: "./docs/swagger.json",
		Path:     "docs",
		Title:    "NF-e Emissor API",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "service": cfg.App.Name, "polls_active": poller.Active()})
	})

	httpRouter.Router(app, httpRouter.RouterDeps{
		Documents:    manager,
		Certificates: credentials,
		JWTSecret:    cfg.JWT.Secret,
		Log:          log.Zerolog(),
	})

	go func() {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("servidor HTTP finalizado")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("señal de apagado recibida, cerrando servidor...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("apagado del servidor")
	}
	// Las consultas en curso se cortan; al arrancar se reprograman.
	poller.Stop()

	log.Info().Msg("aplicación detenida")
}

func openStorage(ctx context.Context, cfg *config.Config, log *logger.Logger) (*storage, error) {
	if cfg.Storage.Backend == "memory" {
		log.Warn().Msg("STORAGE_BACKEND=memory: los documentos se pierden al reiniciar")
		return &storage{
			docs:    memory.NewDocumentStore(),
			letters: memory.NewCorrectionStore(),
			certs:   memory.NewCertificateStore(),
		}, nil
	}

	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("conexión a PostgreSQL: %w", err)
	}
	if err := postgres.Migrate(pool, log.Component("migrations")); err != nil {
		pool.Close()
		return nil, err
	}
	return &storage{
		docs:    postgres.NewFiscalDocumentRepository(pool),
		letters: postgres.NewCorrectionLetterRepository(pool),
		certs:   postgres.NewCertificateRepository(pool),
		pool:    pool,
	}, nil
}

func openGuard(cfg *config.Config, store *storage) (ports.SubmissionGuard, func(), error) {
	switch cfg.Guard.Backend {
	case "redis":
		g, err := infracache.NewRedisGuard(infracache.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, nil, err
		}
		return g, func() { _ = g.Close() }, nil
	case "postgres":
		if store.pool == nil {
			return nil, nil, fmt.Errorf("GUARD_BACKEND=postgres requiere STORAGE_BACKEND=postgres")
		}
		return postgres.NewSubmissionGuard(store.pool), func() {}, nil
	default:
		return memory.NewGuard(), func() {}, nil
	}
}
