package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	"github.com/tapsakay/backend/internal/config"
	"github.com/tapsakay/backend/internal/database"
	"github.com/tapsakay/backend/internal/handlers"
	mW "github.com/tapsakay/backend/internal/middleware"
	"github.com/tapsakay/backend/internal/notify"
	"github.com/tapsakay/backend/internal/services"
)

func main() {
	// Initialize config
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	viper.ReadInConfig()

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("settlement.currency", "SETTLEMENT_CURRENCY")

	// Initialize infrastructure
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	settlementCfg := config.LoadSettlementConfig()

	// Wire the core: stores, policy and fan-out are injected into the
	// engine; nothing reaches for globals.
	accountStore := services.NewSQLAccountStore(db)
	ledgerStore := services.NewSQLLedgerStore(db)
	tapStore := services.NewSQLTapStore(db)
	cardResolver := services.NewSQLCardResolver(db)
	farePolicy := services.NewFarePolicyFromConfig(settlementCfg)

	hub := notify.NewHub(redisClient)
	defer hub.Close()

	engine := services.NewSettlementEngine(accountStore, ledgerStore, tapStore,
		cardResolver, farePolicy, hub, settlementCfg)
	voucherService := services.NewTopupVoucherService(redisClient, accountStore, engine, settlementCfg)
	payoutService := services.NewPayoutService(ledgerStore, accountStore, viper.GetString("settlement.currency"))

	settlementHandler := handlers.NewSettlementHandler(engine, accountStore, ledgerStore, tapStore)
	voucherHandler := handlers.NewVoucherHandler(voucherService)
	payoutHandler := handlers.NewPayoutHandler(payoutService)
	eventsHandler := handlers.NewEventsHandler(hub)

	// Setup router
	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)
			r.Use(middleware.Timeout(60 * time.Second))

			r.Post("/settle/topup", settlementHandler.SettleTopup)
			r.Post("/settle/tap", settlementHandler.SettleTap)
			r.Get("/ledger/{ownerId}", settlementHandler.ListLedger)
			r.Get("/taps/recent", settlementHandler.RecentTaps)
			r.Get("/wallets/balance", settlementHandler.WalletBalance)

			r.Post("/topup/voucher", voucherHandler.GenerateVoucher)
			r.Post("/topup/voucher/redeem", voucherHandler.RedeemVoucher)

			r.Post("/payouts/export", payoutHandler.ExportPayout)
		})

		// The event stream stays open for the life of the client; no
		// request timeout here.
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)
			r.Get("/events", eventsHandler.Stream)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
