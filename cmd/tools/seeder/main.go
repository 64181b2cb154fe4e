package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/budget-api/internal/auth"
	"github.com/noah-isme/budget-api/internal/db"
	"github.com/noah-isme/budget-api/internal/obs"
)

type priced struct {
	Name  string
	Price string
}

var (
	products = []priced{
		{"Laptop 14\"", "1299.00"},
		{"Docking station", "189.90"},
		{"USB-C cable", "12.50"},
		{"27\" monitor", "349.99"},
	}
	services = []priced{
		{"On-site installation", "150.00"},
		{"Extended warranty (1y)", "99.00"},
		{"Data migration", "220.00"},
	}
	customers = []struct {
		Name  string
		Email string
	}{
		{"Acme Corp", "purchasing@acme.test"},
		{"Globex", "it@globex.test"},
	}
)

func main() {
	_ = godotenv.Load()
	logger := obs.NewLogger(obs.LoggerConfig{Format: "console", Level: "info", Service: "budget-seeder"})

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := db.Connect(ctx, dbURL, "budget-seeder", nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	var userID uuid.UUID
	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		var err error
		if userID, err = seedUser(ctx, tx); err != nil {
			return err
		}
		if err := seedCustomers(ctx, tx, logger); err != nil {
			return err
		}
		if err := seedPriced(ctx, tx, "products", products, logger); err != nil {
			return err
		}
		return seedPriced(ctx, tx, "services", services, logger)
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("seed failed")
	}

	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		tokens, err := auth.NewTokens(secret, valueOr(os.Getenv("JWT_ISSUER"), "budget-api"),
			valueOr(os.Getenv("JWT_AUDIENCE"), "budget-api"), 24*time.Hour)
		if err != nil {
			logger.Fatal().Err(err).Msg("init tokens")
		}
		token, exp, err := tokens.Issue(userID.String())
		if err != nil {
			logger.Fatal().Err(err).Msg("issue token")
		}
		fmt.Printf("dev token (expires %s):\n%s\n", exp.Format(time.RFC3339), token)
	}
	logger.Info().Str("user_id", userID.String()).Msg("seeding completed")
}

func seedUser(ctx context.Context, tx pgx.Tx) (uuid.UUID, error) {
	password := valueOr(os.Getenv("SEED_USER_PASSWORD"), "change-me-please")
	hash, err := argon2id.CreateHash(password, argon2id.DefaultParams)
	if err != nil {
		return uuid.Nil, fmt.Errorf("hash password: %w", err)
	}
	var id uuid.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO users (id, email, name, password_hash)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`,
		uuid.New(), "sales@budget.test", "Sales Rep", hash,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("seed user: %w", err)
	}
	return id, nil
}

func seedCustomers(ctx context.Context, tx pgx.Tx, logger zerolog.Logger) error {
	for _, c := range customers {
		tag, err := tx.Exec(ctx, `
			INSERT INTO customers (id, name, email)
			SELECT $1, $2, $3
			WHERE NOT EXISTS (SELECT 1 FROM customers WHERE email = $3)`,
			uuid.New(), c.Name, c.Email)
		if err != nil {
			return fmt.Errorf("seed customer %s: %w", c.Name, err)
		}
		logger.Info().Str("customer", c.Name).Int64("inserted", tag.RowsAffected()).Msg("customer")
	}
	return nil
}

// seedPriced inserts rows into products or services keyed by name.
func seedPriced(ctx context.Context, tx pgx.Tx, table string, rows []priced, logger zerolog.Logger) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, name, price)
		SELECT $1, $2, $3
		WHERE NOT EXISTS (SELECT 1 FROM %s WHERE name = $2)`,
		pgx.Identifier{table}.Sanitize(), pgx.Identifier{table}.Sanitize())
	for _, row := range rows {
		price, err := decimal.NewFromString(row.Price)
		if err != nil {
			return fmt.Errorf("parse price %q: %w", row.Price, err)
		}
		if _, err := tx.Exec(ctx, query, uuid.New(), row.Name, db.Numeric(price)); err != nil {
			return fmt.Errorf("seed %s %s: %w", table, row.Name, err)
		}
		logger.Info().Str("table", table).Str("name", row.Name).Str("price", price.StringFixed(2)).Msg("seeded")
	}
	return nil
}

func valueOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
