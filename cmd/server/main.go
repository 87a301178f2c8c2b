package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aeolun/ninechess/pkg/accounts"
	"github.com/aeolun/ninechess/pkg/database"
	"github.com/aeolun/ninechess/pkg/logging"
	"github.com/aeolun/ninechess/pkg/mailer"
	"github.com/aeolun/ninechess/pkg/server"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"
)

func main() {
	// Command line flags
	configPath := flag.String("config", "~/.ninechess/config.toml", "Path to config file")
	port := flag.Int("port", 0, "TCP port to listen on (overrides config)")
	httpPort := flag.Int("http-port", 0, "HTTP port for /health, /metrics and /ws (overrides config)")
	dbPath := flag.String("db", "", "Path to SQLite database (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	pprofAddr := flag.String("pprof", "", "Serve pprof on this address, e.g. localhost:6060")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	// Handle --version flag
	if *version {
		fmt.Printf("ninechess server %s\n", Version)
		os.Exit(0)
	}

	// Load configuration (creates default if not found)
	config, err := server.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Command-line flags override config file
	if *port != 0 {
		config.Server.TCPPort = *port
	}
	if *httpPort != 0 {
		config.Server.HTTPPort = *httpPort
	}
	if *dbPath != "" {
		config.Server.DatabasePath = *dbPath
	}
	if *debug {
		config.Logging.Level = "debug"
	}

	logCfg, err := config.LoggingConfig()
	if err != nil {
		log.Fatalf("Failed to resolve log file path: %v", err)
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logger.Sync()

	if err := run(config, logger, *pprofAddr); err != nil {
		logger.Errorw("Server failed", "error", err)
		logger.Sync()
		os.Exit(1)
	}
}

func run(config server.TOMLConfig, logger *zap.SugaredLogger, pprofAddr string) error {
	// Get database path with ~ expansion
	finalDBPath, err := config.GetDatabasePath()
	if err != nil {
		return fmt.Errorf("failed to resolve database path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(finalDBPath), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := database.Open(finalDBPath, logger)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	codes, closeCodes, err := newCodeStore(config, logger)
	if err != nil {
		return err
	}
	defer closeCodes()

	accountsCfg := config.AccountsConfig()
	if accountsCfg.ResetCodeTTL == 0 {
		accountsCfg.ResetCodeTTL = accounts.DefaultResetCodeTTL
	}
	var mail accounts.Mailer
	if smtpCfg, ok := config.SMTPConfig(); ok {
		mail = mailer.NewSMTP(smtpCfg, accountsCfg.ResetCodeTTL)
		logger.Infow("Reset codes sent by email", "smtp", smtpCfg.Host)
	} else {
		mail = mailer.NewLog(logger)
		logger.Warn("No SMTP host configured, reset codes are written to the log")
	}

	svc := accounts.NewService(db, codes, mail, accountsCfg, logger)

	serverConfig := config.ToServerConfig()
	srv := server.NewServer(serverConfig, svc, db.WriteBuffer, logger)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	logger.Infow("ninechess server started", "version", Version, "database", finalDBPath)
	logger.Infow("Listening", "transport", "tcp", "addr", srv.Addr().String())
	if addr := srv.HTTPAddr(); addr != nil {
		logger.Infow("Listening", "transport", "http", "addr", addr.String(), "websocket", fmt.Sprintf("ws://%s/ws", addr))
	}

	if pprofAddr != "" {
		go func() {
			logger.Infow("Starting pprof server", "addr", pprofAddr)
			if err := http.ListenAndServe(pprofAddr, nil); err != nil {
				logger.Warnw("pprof server error", "error", err)
			}
		}()
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	logger.Infow("Shutting down server", "signal", sig.String())
	if err := srv.Stop(); err != nil {
		logger.Warnw("Error during shutdown", "error", err)
	}
	if err := db.WriteBuffer.Flush(); err != nil {
		logger.Errorw("Failed to flush game archive", "error", err)
	}
	logger.Info("Server stopped")
	return nil
}

// newCodeStore picks the reset code backend. The returned func releases it.
func newCodeStore(config server.TOMLConfig, logger *zap.SugaredLogger) (accounts.CodeStore, func(), error) {
	if config.ResetCodes.Backend != "redis" {
		return accounts.NewMemoryCodeStore(), func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: config.ResetCodes.RedisAddr,
		DB:   config.ResetCodes.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("failed to reach redis at %s: %w", config.ResetCodes.RedisAddr, err)
	}

	logger.Infow("Reset codes stored in redis", "addr", config.ResetCodes.RedisAddr, "db", config.ResetCodes.RedisDB)
	return accounts.NewRedisCodeStore(rdb, config.ResetCodes.KeyPrefix), func() { rdb.Close() }, nil
}
