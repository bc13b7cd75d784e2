package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"sync"
	"time"

	"github.com/xtrntr/brokerage/internal/api"
	"github.com/xtrntr/brokerage/internal/auth"
	"github.com/xtrntr/brokerage/internal/config"
	"github.com/xtrntr/brokerage/internal/db"
	"github.com/xtrntr/brokerage/internal/engine"
	"github.com/xtrntr/brokerage/internal/market"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

type WSClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

var (
	clients   = make(map[*WSClient]bool)
	clientsMu sync.RWMutex
)

// priceTick is the message pushed to websocket clients whenever an
// instrument's price changes.
type priceTick struct {
	Ticker string    `json:"ticker"`
	Price  float64   `json:"price"`
	At     time.Time `json:"at"`
}

func broadcastTick(log *zap.Logger, ticker string, price float64) {
	data, err := json.Marshal(priceTick{Ticker: ticker, Price: price, At: time.Now().UTC()})
	if err != nil {
		log.Error("failed to marshal price tick", zap.Error(err))
		return
	}

	clientsMu.RLock()
	stale := []*WSClient{}
	for client := range clients {
		client.mu.Lock()
		err := client.conn.WriteMessage(websocket.TextMessage, data)
		client.mu.Unlock()
		if err != nil {
			stale = append(stale, client)
		}
	}
	clientsMu.RUnlock()

	if len(stale) > 0 {
		clientsMu.Lock()
		for _, client := range stale {
			delete(clients, client)
		}
		clientsMu.Unlock()
	}
}

func handleWebSocket(log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("failed to upgrade connection", zap.Error(err))
			return
		}

		client := &WSClient{conn: conn}
		clientsMu.Lock()
		clients[client] = true
		clientsMu.Unlock()

		// Keep connection alive and handle disconnection
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				clientsMu.Lock()
				delete(clients, client)
				clientsMu.Unlock()
				break
			}
		}
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// Main entry point: sets up database, engine, and HTTP server
func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	log, err := newLogger(cfg.Logging.Level)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx := context.Background()

	database, err := db.NewDB(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close(ctx)

	clock := market.NewClock(database)
	eng := engine.NewEngine(database, clock, log)
	eng.OnPriceUpdate = func(ticker string, price float64) {
		broadcastTick(log, ticker, price)
	}

	authService := auth.NewAuthService(database, cfg.Auth.JWTSecret)

	handler := api.NewHandler(database, eng, clock, authService, log)
	handler.PolygonKey = cfg.Polygon.APIKey
	handler.PolygonBaseURL = cfg.Polygon.BaseURL

	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.Server.CORSOrigin},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// WebSocket price ticker
	r.Get("/ws", handleWebSocket(log))

	// Public endpoints
	r.Get("/health", handler.Health)
	r.Post("/auth/register", handler.Register)
	r.Post("/auth/login", handler.Login)
	r.Get("/stocks", handler.ListStocks)
	r.Get("/stocks/{ticker}", handler.GetStock)
	r.Get("/market/status", handler.MarketStatus)
	r.Get("/market/prev", handler.PrevDayQuote)

	// Admin endpoints
	r.Post("/stocks", handler.CreateStock)
	r.Post("/stocks/sim-price", handler.SimulatePrice)
	r.Put("/market/hours", handler.SetMarketHours)
	r.Put("/market/holidays", handler.SetHolidays)
	r.Post("/market/trigger", handler.TriggerPending)
	r.Get("/admin/transactions", handler.ListAllTransactions)

	// Protected endpoints (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(handler.JWTAuthMiddleware)
		r.Get("/cash", handler.GetCash)
		r.Post("/cash/deposit", handler.Deposit)
		r.Post("/cash/withdraw", handler.Withdraw)
		r.Post("/orders", handler.PlaceOrder)
		r.Get("/orders", handler.GetUserOrders)
		r.Delete("/orders/{id}", handler.CancelOrder)
		r.Get("/portfolio", handler.GetPortfolio)
		r.Get("/transactions", handler.GetTransactions)
	})

	log.Info("starting server", zap.String("addr", cfg.Server.Addr))
	if err := http.ListenAndServe(cfg.Server.Addr, r); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}
