package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/clinicman/internal/guard"
	"github.com/hitoshi/clinicman/internal/live"
	"github.com/hitoshi/clinicman/internal/metrics"
	"github.com/hitoshi/clinicman/internal/middleware"
	"github.com/hitoshi/clinicman/internal/model"
)

// ページごとの許可ロール。空集合は認証済みの全ロールを許可する。
var (
	anyRole         = model.NewRoleSet()
	bookingRoles    = model.NewRoleSet(model.RolePatient, model.RoleReceptionist, model.RoleAdmin)
	staffRoles      = model.NewRoleSet(model.RoleAdmin, model.RoleDoctor, model.RoleReceptionist)
	registerRoles   = model.NewRoleSet(model.RoleAdmin, model.RoleReceptionist, model.RolePatient)
	prescriberRoles = model.NewRoleSet(model.RoleDoctor)
)

// patientDeniedMessage は職員専用ページに患者がアクセスした際の案内。
const patientDeniedMessage = "このページは職員専用です。ご自身の予約は予約一覧からご確認ください。"

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionLoader      middleware.SessionLoader
	CORSAllowedOrigins []string
	RateLimiter        *middleware.RateLimiter
	CSRFConfig         middleware.CSRFConfig
	Logger             *slog.Logger

	// 監視
	Metrics         metrics.MetricsCollector
	MetricsGatherer prometheus.Gatherer
	HealthChecker   HealthChecker

	// セッションガード
	Guard     *guard.Guard
	State     ClientState
	LoginPath string

	// 認証
	AuthService    AuthServiceInterface
	ProfileService ProfileServiceInterface
	AuthConfig     AuthHandlerConfig

	// 業務
	AppointmentService  AppointmentServiceInterface
	PatientService      PatientServiceInterface
	PrescriptionService PrescriptionServiceInterface
	DirectoryService    DirectoryServiceInterface

	// ライブビュー
	Live *live.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	CORS → SecurityHeaders → Recovery → Session → Logging → Metrics → RateLimit(General)
//
// 状態変更を伴うルートにはCSRF検証を、各ページにはセッションガードを適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.NopCollector{}
	}

	r := chi.NewRouter()

	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSessionMiddleware(deps.SessionLoader))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(metrics.Middleware(m))

	// --- 監視 ---
	if deps.HealthChecker != nil {
		r.Get("/health", NewHealthHandler(deps.HealthChecker))
	}
	if deps.MetricsGatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.ProfileService, deps.Guard, deps.State, m, deps.AuthConfig)
	appointmentHandler := NewAppointmentHandler(deps.AppointmentService, deps.State)
	patientHandler := NewPatientHandler(deps.PatientService, deps.State)
	prescriptionHandler := NewPrescriptionHandler(deps.PrescriptionService, deps.State)
	directoryHandler := NewDirectoryHandler(deps.DirectoryService, deps.PatientService)

	protect := func(allowed model.RoleSet, opts ...guard.Option) func(http.Handler) http.Handler {
		return deps.Guard.Protect(allowed, deps.LoginPath, opts...)
	}
	staffOnly := guard.WithDeniedMessage(model.RolePatient, patientDeniedMessage)

	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// --- 認証 ---
		r.Route("/auth", func(r chi.Router) {
			r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

			r.With(deps.RateLimiter.LoginMiddleware()).Post("/signup", authHandler.Signup)
			r.With(deps.RateLimiter.LoginMiddleware()).Post("/login", authHandler.Login)
			r.Post("/logout", authHandler.Logout)
			r.Get("/me", authHandler.Me)
			r.Get("/flash", authHandler.Flash)
		})

		// --- ガード付きページ ---
		r.Route("/api", func(r chi.Router) {
			r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

			r.Handle("/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))
			r.With(protect(anyRole)).Get("/profile", authHandler.Profile)

			// 予約一覧
			r.Route("/appointments", func(r chi.Router) {
				r.With(protect(anyRole)).Get("/", appointmentHandler.List)
				r.With(protect(bookingRoles)).Post("/", appointmentHandler.Book)
				r.With(protect(anyRole)).Post("/{id}/{action}", appointmentHandler.Act)
			})

			// 受付キュー
			r.Route("/queue", func(r chi.Router) {
				r.Use(protect(staffRoles, staffOnly))

				r.Get("/", appointmentHandler.Queue)
				r.Post("/{id}/select/{target}", appointmentHandler.Select)
				r.Post("/{id}/{action}", appointmentHandler.QueueAct)
			})

			// 患者
			r.Route("/patients", func(r chi.Router) {
				r.With(protect(registerRoles)).Post("/", patientHandler.Register)
				r.With(protect(staffRoles, staffOnly)).Get("/", patientHandler.List)
				r.With(protect(staffRoles, staffOnly)).Get("/selected", patientHandler.Selected)
				r.With(protect(anyRole)).Get("/{id}/history", patientHandler.History)

				r.Group(func(r chi.Router) {
					r.Use(protect(staffRoles, staffOnly))

					r.Get("/{id}", patientHandler.Get)
					r.Post("/{id}/view-prescriptions", patientHandler.ViewPrescriptions)
				})
			})

			// 処方
			r.Route("/prescriptions", func(r chi.Router) {
				r.With(protect(anyRole)).Get("/", prescriptionHandler.List)
				r.With(protect(prescriberRoles)).Post("/", prescriptionHandler.Issue)
			})

			// ディレクトリ
			r.Route("/directory", func(r chi.Router) {
				r.Use(protect(staffRoles, staffOnly))

				r.Get("/doctors", directoryHandler.Doctors)
				r.Get("/patients", directoryHandler.Patients)
			})

			// ライブビュー
			if deps.Live != nil {
				r.With(protect(anyRole)).Get("/live/appointments", deps.Live.Serve(live.ViewAppointments, anyRole))
				r.With(protect(staffRoles, staffOnly)).Get("/live/queue", deps.Live.Serve(live.ViewQueue, staffRoles))
			}
		})
	})

	return r
}
