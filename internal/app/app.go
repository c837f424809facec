// Package app はコマンドの解析と依存関係のワイヤリングを行い、各起動モードを実行する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/clinicman/internal/appointment"
	"github.com/hitoshi/clinicman/internal/auth"
	"github.com/hitoshi/clinicman/internal/clientstate"
	"github.com/hitoshi/clinicman/internal/config"
	"github.com/hitoshi/clinicman/internal/database"
	"github.com/hitoshi/clinicman/internal/docstore"
	"github.com/hitoshi/clinicman/internal/guard"
	"github.com/hitoshi/clinicman/internal/handler"
	"github.com/hitoshi/clinicman/internal/live"
	"github.com/hitoshi/clinicman/internal/logger"
	"github.com/hitoshi/clinicman/internal/metrics"
	"github.com/hitoshi/clinicman/internal/middleware"
	"github.com/hitoshi/clinicman/internal/patient"
	"github.com/hitoshi/clinicman/internal/prescription"
	"github.com/hitoshi/clinicman/internal/repository"
	"github.com/hitoshi/clinicman/internal/security"
	"github.com/hitoshi/clinicman/internal/user"
	"github.com/hitoshi/clinicman/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// services はHTTPサーバーが使うリポジトリと業務サービス一式。
type services struct {
	profiles     *repository.DocProfileRepo
	appointments *repository.DocAppointmentRepo

	auth            *auth.Service
	users           *user.Service
	patientSvc      *patient.Service
	appointmentSvc  *appointment.Service
	prescriptionSvc *prescription.Service
}

// newServices はドキュメントストアとアカウント用リポジトリから業務サービスを構築する。
func newServices(store docstore.Store, accounts repository.AccountRepository, sessions repository.SessionRepository, cfg *config.Config) *services {
	profiles := repository.NewDocProfileRepo(store)
	patients := repository.NewDocPatientRepo(store)
	appointments := repository.NewDocAppointmentRepo(store)
	prescriptions := repository.NewDocPrescriptionRepo(store)
	sanitizer := security.NewTextSanitizer()

	patientSvc := patient.NewService(patients, appointments, prescriptions, profiles, sanitizer)
	return &services{
		profiles:     profiles,
		appointments: appointments,
		auth: auth.NewService(
			accounts, sessions, auth.NewBcryptHasher(cfg.BcryptCost),
			auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
		),
		users:           user.NewService(profiles, sanitizer),
		patientSvc:      patientSvc,
		appointmentSvc:  appointment.NewService(appointments, patients, profiles, sanitizer),
		prescriptionSvc: prescription.NewService(prescriptions, patients, patientSvc, sanitizer),
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL, database.WithMaxOpenConns(cfg.DBMaxOpenConns))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 3. ドキュメントストアと変更通知
	listener := database.NewListener(cfg.DatabaseURL, cfg.ListenerMinReconnect, cfg.ListenerMaxReconnect)
	defer listener.Close()
	store := docstore.NewPostgresStore(db, listener, collector, slog.Default())
	go func() {
		if err := store.Listen(ctx); err != nil {
			slog.Error("document change listener failed", slog.String("error", err.Error()))
		}
	}()

	// 4. サービスの初期化
	svc := newServices(
		store,
		repository.NewPostgresAccountRepo(db),
		repository.NewPostgresSessionRepo(db),
		cfg,
	)

	// 5. セッションガードとクライアント状態
	cookie := middleware.SessionCookieConfig{
		CookieDomain:  cfg.CookieDomain,
		CookieSecure:  cfg.CookieSecure,
		SessionMaxAge: cfg.SessionMaxAge,
	}
	state := clientstate.NewStore(clientstate.Config{
		Secret:       cfg.SessionSecret,
		MaxAge:       cfg.ClientStateMaxAge,
		CookieSecure: cfg.CookieSecure,
		CookieDomain: cfg.CookieDomain,
	})
	g := guard.New(svc.profiles, svc.auth, state, collector, guard.Config{
		DefaultPath: cfg.DefaultPath,
		Cookie:      cookie,
	})

	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitLogin))
	defer limiter.Stop()

	// 6. ルーターの構築
	deps := &handler.RouterDeps{
		SessionLoader:      svc.auth,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        limiter,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		Logger: slog.Default(),

		Metrics:         collector,
		MetricsGatherer: registry,
		HealthChecker:   db,

		Guard:     g,
		State:     state,
		LoginPath: cfg.LoginPath,

		AuthService:    svc.auth,
		ProfileService: svc.users,
		AuthConfig: handler.AuthHandlerConfig{
			LoginPath: cfg.LoginPath,
			Cookie:    cookie,
		},

		AppointmentService:  svc.appointmentSvc,
		PatientService:      svc.patientSvc,
		PrescriptionService: svc.prescriptionSvc,
		DirectoryService:    svc.users,

		Live: live.NewHandler(g, svc.appointments, collector, live.Config{
			LoginPath:      cfg.LoginPath,
			AllowedOrigins: cfg.CORSAllowedOrigins,
		}),
	}

	router := handler.NewRouter(deps)

	// 7. HTTPサーバーの起動
	// WriteTimeoutはライブビューのハイジャック後の接続には適用されない
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、期限切れセッションの定期削除を実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続 (ワーカーは2接続まで)
	db, err := database.Open(cfg.DatabaseURL, database.WithMaxOpenConns(2))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. クリーンアップジョブの初期化
	// ワーカーはHTTPを公開しないため、メトリクスは自前のレジストリに記録するだけになる
	collector := metrics.NewCollector(prometheus.NewRegistry())
	cleanupJob := cleanup.NewCleanupJob(repository.NewPostgresSessionRepo(db), collector, slog.Default())

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.SessionCleanupInterval),
	)

	// クリーンアップをメインgoroutineで実行（ブロッキング）
	cleanupJob.Start(ctx, cfg.SessionCleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
