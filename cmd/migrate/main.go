package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/noah-isme/budget-api/internal/migrations"
	"github.com/noah-isme/budget-api/internal/obs"
)

const usage = `usage: migrate [-database URL] <up|down|version|force N>`

func main() {
	_ = godotenv.Load()

	databaseURL := flag.String("database", os.Getenv("DATABASE_URL"), "postgres connection string")
	flag.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	flag.Parse()

	logger := obs.NewLogger(obs.LoggerConfig{
		Format:  valueOr(os.Getenv("LOG_FORMAT"), "console"),
		Level:   valueOr(os.Getenv("LOG_LEVEL"), "info"),
		Service: "budget-migrate",
	})

	if strings.TrimSpace(*databaseURL) == "" {
		logger.Fatal().Msg("DATABASE_URL is not set")
	}
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	m, err := migrations.New(*databaseURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open migrator")
	}
	defer func() {
		if err := m.Close(); err != nil {
			logger.Error().Err(err).Msg("close migrator")
		}
	}()

	switch cmd := flag.Arg(0); cmd {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "version":
		var (
			version uint
			dirty   bool
		)
		version, dirty, err = m.Version()
		if err == nil {
			fmt.Printf("version=%d dirty=%t\n", version, dirty)
		}
	case "force":
		if flag.NArg() < 2 {
			flag.Usage()
			os.Exit(2)
		}
		version, convErr := strconv.Atoi(flag.Arg(1))
		if convErr != nil {
			logger.Fatal().Err(convErr).Msg("invalid version")
		}
		err = m.Force(version)
	default:
		logger.Error().Str("command", cmd).Msg("unknown command")
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("migration failed")
	}
}

func valueOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
