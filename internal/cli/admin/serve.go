package admin

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/claimguard-jp/claimguard/internal/api/handlers"
	"github.com/claimguard-jp/claimguard/internal/cache"
	"github.com/claimguard-jp/claimguard/internal/config"
	"github.com/claimguard-jp/claimguard/internal/database"
	"github.com/claimguard-jp/claimguard/internal/domain"
	"github.com/claimguard-jp/claimguard/internal/jobs"
	"github.com/claimguard-jp/claimguard/internal/openai"
	"github.com/claimguard-jp/claimguard/internal/queue"
	"github.com/claimguard-jp/claimguard/internal/repository"
	"github.com/claimguard-jp/claimguard/internal/server"
	"github.com/claimguard-jp/claimguard/internal/service"
	"github.com/claimguard-jp/claimguard/internal/storage"
	"github.com/claimguard-jp/claimguard/internal/stream"
	"github.com/claimguard-jp/claimguard/internal/telemetry"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the claimguard API server on the specified port",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.HasSentry() {
		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              cfg.SentryDSN,
			Environment:      cfg.SentryEnvironment,
			TracesSampleRate: cfg.SentrySampleRate,
		})
		if err != nil {
			log.Printf("telemetry init failed (continuing without tracing): %v", err)
		} else {
			defer shutdownTelemetry()
		}
	}

	portFlag, _ := cmd.Flags().GetString("port")
	if portFlag != "" && portFlag != "8080" {
		cfg.Port = portFlag
	}

	pool, err := database.NewPool(ctx, cfg.DatabaseURL, database.PoolLimits{
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	log.Println("connected to database")

	// Run migrations unless --no-migrate flag is set
	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	if !noMigrate {
		if err := runMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	checkRepo := repository.NewCheckRepository(pool)
	violationRepo := repository.NewViolationRepository(pool)
	dictionaryRepo := repository.NewDictionaryRepository(pool)
	orgRepo := repository.NewOrgRepository(pool)
	userRepo := repository.NewUserRepository(pool)
	tokenRepo := repository.NewTokenRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	uuidGen := &service.DefaultUUIDGenerator{}
	authSvc := service.NewAuthService(orgRepo, userRepo, tokenRepo, uuidGen)

	if cfg.InitOrgName != "" {
		if err := bootstrapInitialOrg(ctx, cfg, orgRepo, authSvc); err != nil {
			return fmt.Errorf("failed to bootstrap initial org: %w", err)
		}
	}

	var archive service.ImageArchive
	if cfg.HasS3() {
		s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
		})
		if err != nil {
			return fmt.Errorf("failed to create S3 client: %w", err)
		}
		if err := s3Client.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to ensure S3 bucket: %w", err)
		}
		log.Printf("S3 bucket '%s' ready", cfg.S3Bucket)
		archive = s3Client
	}

	var embeddingClient service.EmbeddingClient
	var detector service.ViolationDetector = &unavailableDetector{}
	var jobQueue handlers.EmbeddingJobQueue = &noOpEmbeddingJobQueue{}
	var embeddingQueue *jobs.EmbeddingQueue
	if cfg.HasOpenAI() {
		client := openai.NewClient(cfg.OpenAIAPIKey)
		embeddingClient = client
		detector = client
		embeddingQueue = jobs.NewEmbeddingQueue(dictionaryRepo, client, uuidGen)
		embeddingQueue.Start(ctx)
		jobQueue = embeddingQueue
	} else {
		log.Println("OPENAI_API_KEY not set: checks will fail at detection, embeddings disabled")
	}

	notifier := repository.NewCheckNotifier(pool)
	go notifier.Start(ctx)

	resolver := service.NewResolver(dictionaryRepo, embeddingClient)
	candidateCache := cache.New[[]*domain.RankedCandidate](service.CandidateCacheTTL)
	processor := service.NewCheckProcessor(checkRepo, orgRepo, resolver, detector, txRunner, candidateCache, uuidGen)

	admission := queue.NewAdmissionQueue(cfg.MaxConcurrentChecks, processor)
	admission.Start(ctx)

	broker := stream.NewBroker(checkRepo, violationRepo, userRepo, notifier, stream.Timeouts{
		TextProgress:             cfg.StreamTextProgressTimeout,
		ImageProgress:            cfg.StreamImageProgressTimeout,
		TextConnection:           cfg.StreamTextConnectionTimeout,
		ImageConnection:          cfg.StreamImageConnectionTimeout,
		HeartbeatInterval:        cfg.StreamHeartbeatInterval,
		StalledHeartbeatInterval: stream.DefaultTimeouts().StalledHeartbeatInterval,
		MaxHeartbeats:            stream.DefaultTimeouts().MaxHeartbeats,
	})

	checkSvc := service.NewCheckService(checkRepo, checkRepo, admission, archive, uuidGen)
	dictionarySvc := service.NewDictionaryService(dictionaryRepo, embeddingClient, uuidGen)

	routerCfg := server.RouterConfig{
		TokenValidator:    authSvc,
		CheckHandler:      handlers.NewCheckHandler(checkSvc, violationRepo),
		StreamHandler:     handlers.NewStreamHandler(broker),
		DictionaryHandler: handlers.NewDictionaryHandler(dictionarySvc, jobQueue),
	}

	router := server.NewRouter(routerCfg)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	// Let in-flight checks and embedding batches finish before the pool
	// closes under them.
	admission.Wait()
	if embeddingQueue != nil {
		embeddingQueue.Wait()
	}
	cancel()

	log.Println("server exited")
	return nil
}

// unavailableDetector stands in when no OpenAI key is configured; every
// check fails with a capability error instead of a nil dereference.
type unavailableDetector struct{}

func (d *unavailableDetector) DetectViolations(ctx context.Context, text string, candidates []*domain.RankedCandidate) (*domain.DetectionResult, error) {
	return nil, domain.ErrDetectorUnavailable
}

type noOpEmbeddingJobQueue struct{}

func (q *noOpEmbeddingJobQueue) EnqueueOrganization(ctx context.Context, orgID string, entryIDs []string) (*domain.EmbeddingJob, error) {
	return nil, domain.ErrEmbedderUnavailable
}

func (q *noOpEmbeddingJobQueue) GetJob(id string) (*domain.EmbeddingJob, error) {
	return nil, domain.ErrEmbedderUnavailable
}

func bootstrapInitialOrg(ctx context.Context, cfg *config.Config, orgRepo *repository.OrgRepository, authSvc *service.AuthService) error {
	org, err := orgRepo.GetByName(ctx, cfg.InitOrgName)
	if err != nil && err != domain.ErrOrganizationNotFound {
		return fmt.Errorf("failed to check existing org: %w", err)
	}

	if org != nil {
		log.Printf("bootstrap: organization '%s' already exists (id: %s)", org.Name, org.ID)
		return nil
	}

	org, err = authSvc.CreateOrg(ctx, cfg.InitOrgName)
	if err != nil {
		return fmt.Errorf("failed to create org: %w", err)
	}
	log.Printf("bootstrap: created organization '%s' (id: %s)", org.Name, org.ID)

	admin, err := authSvc.CreateUser(ctx, org.ID, domain.UserRoleAdmin)
	if err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	plaintext, err := authSvc.IssueToken(ctx, admin.ID, "bootstrap")
	if err != nil {
		return fmt.Errorf("failed to issue bootstrap token: %w", err)
	}
	log.Printf("bootstrap: created admin user %s with token %s (shown once)", admin.ID, plaintext)

	return nil
}

func runMigrations(databaseURL string) error {
	// Create a sql.DB connection for golang-migrate
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		"file://migrations",
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if err == migrate.ErrNilVersion {
		log.Println("migrations: database is up to date (no migrations applied)")
	} else if dirty {
		return fmt.Errorf("migration version %d is dirty - manual intervention required", version)
	} else if err == migrate.ErrNoChange {
		log.Printf("migrations: database is up to date (version %d)", version)
	} else {
		log.Printf("migrations: applied successfully (version %d)", version)
	}

	return nil
}
