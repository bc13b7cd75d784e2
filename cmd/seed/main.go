package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/xtrntr/brokerage/internal/config"
	"github.com/xtrntr/brokerage/internal/db"
	"github.com/xtrntr/brokerage/internal/engine"
	"github.com/xtrntr/brokerage/internal/market"
	"github.com/xtrntr/brokerage/internal/models"
)

// bcrypt hash of "password123"
const demoPasswordHash = "$2a$10$XLhV7TU4dIvHO1d9UKgoT.Kt1XCYIbLV4LkQqmXGtN6VBnsmgS.G."

// Seed the database with demo data
func main() {
	ctx := context.Background()

	cfg, err := config.Load(os.Getenv("BROKERAGE_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	database, err := db.NewDB(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(ctx)

	// Skip if already seeded
	stocks, err := database.ListStocks(ctx)
	if err != nil {
		log.Fatalf("Failed to check stocks: %v", err)
	}
	if len(stocks) > 0 {
		fmt.Printf("Database already has %d stocks. No need to seed.\n", len(stocks))
		os.Exit(0)
	}

	clock := market.NewClock(database)
	eng := engine.NewEngine(database, clock, nil)

	alice, err := database.CreateUser(ctx, "Alice Chen", "alice", "alice@example.com", demoPasswordHash)
	if err != nil {
		log.Fatalf("Failed to create alice: %v", err)
	}
	bob, err := database.CreateUser(ctx, "Bob Tan", "bob", "bob@example.com", demoPasswordHash)
	if err != nil {
		log.Fatalf("Failed to create bob: %v", err)
	}

	for _, s := range []struct {
		company string
		ticker  string
		shares  float64
		price   float64
	}{
		{"Acme Corp", "ACME", 10000, 25.00},
		{"Globex Industries", "GLBX", 5000, 112.50},
		{"Initech Software", "INIT", 20000, 8.75},
	} {
		if _, err := database.CreateStock(ctx, s.company, s.ticker, s.shares, s.price); err != nil {
			log.Fatalf("Failed to create stock %s: %v", s.ticker, err)
		}
	}

	if _, err := database.Deposit(ctx, alice.ID, 50000); err != nil {
		log.Fatalf("Failed to fund alice: %v", err)
	}
	if _, err := database.Deposit(ctx, bob.ID, 25000); err != nil {
		log.Fatalf("Failed to fund bob: %v", err)
	}

	// Orders execute immediately if the market happens to be open;
	// otherwise they sit pending until the next trigger.
	limit := 20.0
	orders := []struct {
		userID int
		ticker string
		qty    float64
		side   models.OrderSide
		typ    models.OrderType
		price  *float64
	}{
		{alice.ID, "ACME", 100, models.SideBuy, models.TypeMarket, nil},
		{alice.ID, "GLBX", 10, models.SideBuy, models.TypeMarket, nil},
		{bob.ID, "ACME", 50, models.SideBuy, models.TypeLimit, &limit},
	}
	for _, o := range orders {
		placed, err := eng.PlaceOrder(ctx, o.userID, o.ticker, o.qty, o.side, o.typ, o.price)
		if err != nil {
			log.Fatalf("Failed to place order: %v", err)
		}
		fmt.Printf("Placed order %d (%s %s %.0f %s): %s\n",
			placed.ID, placed.Side, placed.Type, placed.Quantity, placed.Ticker, placed.Status)
	}

	fmt.Println("Database seeded successfully!")
	fmt.Println("Demo users: alice / bob (password: password123)")
}
