package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/erazemk/makhzan/internal/api"
	"github.com/erazemk/makhzan/internal/auth"
	"github.com/erazemk/makhzan/internal/config"
	"github.com/erazemk/makhzan/internal/custody"
	"github.com/erazemk/makhzan/internal/db"
	"github.com/erazemk/makhzan/internal/imaging"
	"github.com/erazemk/makhzan/internal/metrics"
	"github.com/erazemk/makhzan/internal/photos"
	"github.com/erazemk/makhzan/internal/store"
)

// purgeInterval is how often expired token revocations are dropped.
const purgeInterval = time.Hour

type flags struct {
	config  string
	db      string
	addr    string
	user    string
	logPath string
}

func parseFlags(args []string) (*flags, map[string]bool, error) {
	fs := flag.NewFlagSet("makhzan", flag.ContinueOnError)

	f := &flags{}
	fs.StringVar(&f.config, "config", "makhzan.yaml", "")
	fs.StringVar(&f.config, "c", "makhzan.yaml", "")
	fs.StringVar(&f.db, "db", "", "")
	fs.StringVar(&f.db, "d", "", "")
	fs.StringVar(&f.addr, "addr", "", "")
	fs.StringVar(&f.addr, "a", "", "")
	fs.StringVar(&f.user, "user", "", "")
	fs.StringVar(&f.user, "u", "", "")
	fs.StringVar(&f.logPath, "log", "", "")
	fs.StringVar(&f.logPath, "l", "", "")

	fs.Usage = func() {
		fmt.Fprint(os.Stdout, `Usage: makhzan [flags]

Flags:
  -c, -config <path>      YAML config file (default: makhzan.yaml, optional)
  -d, -db <path>          SQLite database path (default: makhzan.sqlite3)
  -a, -addr <host:port>   listen address (default: :8080)
  -u, -user <name>        admin name on first run (default: Admin)
  -l, -log <path>         log file path (default: no file, stdout/stderr only)
  -h, -help               show this help and exit

Settings are read from the config file, then .env, then MAKHZAN_*
environment variables. Flags override all of them.
`)
	}

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if fs.NArg() > 0 {
		fs.Usage()
		return nil, nil, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	set := map[string]bool{}
	fs.Visit(func(fl *flag.Flag) { set[fl.Name] = true })
	return f, set, nil
}

// apply copies the flags that were given on the command line into cfg.
func (f *flags) apply(cfg *config.Config, set map[string]bool) {
	if set["db"] || set["d"] {
		cfg.Database = f.db
	}
	if set["addr"] || set["a"] {
		cfg.Addr = f.addr
	}
	if set["user"] || set["u"] {
		cfg.AdminUser = f.user
	}
	if set["log"] || set["l"] {
		cfg.LogFile = f.logPath
	}
}

func main() {
	f, set, err := parseFlags(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(f.config, ".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	f.apply(cfg, set)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger, closeLog, err := newLogger(os.Stdout, os.Stderr, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()
	slog.SetDefault(logger)

	if err := run(cfg); err != nil {
		slog.Error("server error", "error", err)
		closeLog()
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer database.Close()

	if err := db.Migrate(database); err != nil {
		return err
	}
	if err := bootstrap(ctx, database, cfg, os.Stdout); err != nil {
		return err
	}
	slog.Info("database ready", "path", cfg.Database)

	jwtSecret, err := store.GetJWTSecret(ctx, database)
	if err != nil {
		return fmt.Errorf("getting JWT secret: %w", err)
	}

	tag, err := cfg.Tag()
	if err != nil {
		return err
	}
	photoStore, err := openPhotos(ctx, cfg, database)
	if err != nil {
		return err
	}

	m := metrics.New()
	ledger := store.NewLedger(database)
	svc := custody.New(ledger, ledger,
		custody.WithRecorder(m),
		custody.WithCollation(tag),
		custody.WithLogger(slog.Default()),
	)

	handler := api.NewRouter(api.Deps{
		DB:              database,
		JWTSecret:       jwtSecret,
		TokenTTL:        cfg.Login.TokenTTL,
		Custody:         svc,
		Photos:          photoStore,
		Images:          imaging.NewProcessor(cfg.MaxImageDimension),
		Lockout:         auth.NewLockout(cfg.Login.MaxAttempts, cfg.Login.Lockout),
		Metrics:         m,
		DefaultPassword: cfg.DefaultInstructorPassword,
	})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go purgeRevocations(ctx, database)

	// Graceful shutdown on SIGINT/SIGTERM.
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}
	}()

	slog.Info("server started", "addr", cfg.Addr, "photos", cfg.Photos.Driver, "locale", tag.String())
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	slog.Info("server stopped, closing database")
	return nil
}

func openPhotos(ctx context.Context, cfg *config.Config, database *sql.DB) (photos.Store, error) {
	if cfg.Photos.Driver != config.PhotosS3 {
		return photos.NewDB(database), nil
	}
	s3cfg := cfg.Photos.S3
	s, err := photos.NewS3(ctx, photos.S3Config{
		Bucket:    s3cfg.Bucket,
		Region:    s3cfg.Region,
		Endpoint:  s3cfg.Endpoint,
		PathStyle: s3cfg.PathStyle,
		Prefix:    s3cfg.Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("opening photo bucket: %w", err)
	}
	return s, nil
}

// purgeRevocations periodically drops revocations of tokens that have
// expired anyway, until ctx is done.
func purgeRevocations(ctx context.Context, database *sql.DB) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := store.PurgeExpiredTokens(ctx, database, now)
			if err != nil {
				slog.Error("failed to purge revoked tokens", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("purged revoked tokens", "count", n)
			}
		}
	}
}
