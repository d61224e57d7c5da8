// Command she-server runs a standalone SHE dispatcher behind the shenet
// length-prefixed transport. Flags, environment variables (SHE_ prefix) and
// an optional config file are all bound through viper.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/barnettlynn/she-hsm/internal/buildinfo"
	"github.com/barnettlynn/she-hsm/internal/config"
	"github.com/barnettlynn/she-hsm/internal/memstore"
	"github.com/barnettlynn/she-hsm/internal/nvmstore"
	"github.com/barnettlynn/she-hsm/internal/shenet"
	"github.com/barnettlynn/she-hsm/pkg/she"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"
	"hermannm.dev/devlog"
)

var v = viper.New()

var rootCmd = &cobra.Command{
	Use:   "she-server",
	Short: "Serve the SHE command protocol over TCP",
	RunE:  run,
}

func init() {
	flags := rootCmd.Flags()
	flags.String("listen-addr", "", "address to listen on (default 127.0.0.1:9321)")
	flags.String("store", "", "key store backend: memory or sql")
	flags.String("store-dsn", "", "DSN for the sql store (sqlite path or postgres:// URL)")
	flags.String("log-format", "", "log output format: text or json")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.Float64("rate-limit-per-second", 0, "accepted connections per second (0 disables limiting)")
	flags.Int("rate-limit-burst", 0, "burst size for the connection rate limiter")

	_ = v.BindPFlag("listen_addr", flags.Lookup("listen-addr"))
	_ = v.BindPFlag("store", flags.Lookup("store"))
	_ = v.BindPFlag("store_dsn", flags.Lookup("store-dsn"))
	_ = v.BindPFlag("log_format", flags.Lookup("log-format"))
	_ = v.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = v.BindPFlag("rate_limit_per_second", flags.Lookup("rate-limit-per-second"))
	_ = v.BindPFlag("rate_limit_burst", flags.Lookup("rate-limit-burst"))

	// Unset bound flags would otherwise hand viper their zero values, which
	// take the place of config.Defaults() in Unmarshal.
	d := config.Defaults()
	v.SetDefault("listen_addr", d.ListenAddr)
	v.SetDefault("store", string(d.Store))
	v.SetDefault("store_dsn", d.StoreDSN)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("rate_limit_per_second", d.RateLimitPerSecond)
	v.SetDefault("rate_limit_burst", d.RateLimitBurst)

	v.SetEnvPrefix("SHE")
	v.AutomaticEnv()
	v.SetConfigName("she-server")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/she")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "she-server: config file error: %v\n", err)
		}
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the she-server version",
		Run: func(*cobra.Command, []string) {
			fmt.Println(buildinfo.String())
		},
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	var levelVar slog.LevelVar
	if err := levelVar.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return fmt.Errorf("she-server: bad log level %q: %w", cfg.LogLevel, err)
	}

	var log *slog.Logger
	switch cfg.LogFormat {
	case "json":
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: &levelVar}))
	default:
		log = slog.New(devlog.NewHandler(os.Stdout, &devlog.Options{Level: &levelVar}))
	}
	slog.SetDefault(log)

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	dispatcher := she.NewDispatcher(store, log)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("she-server: listen: %w", err)
	}
	log.Info("listening", "addr", cfg.ListenAddr, "store", cfg.Store)

	var limiter *rate.Limiter
	if cfg.RateLimitPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), cfg.RateLimitBurst)
	}

	srv := &shenet.Server{Dispatcher: dispatcher, Log: log, Limiter: limiter}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.Serve(ctx, ln)
}

func openStore(cfg config.Config) (she.KeyStore, func(), error) {
	switch cfg.Store {
	case config.StoreSQL:
		st, err := nvmstore.Open(cfg.StoreDSN)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { _ = st.Close() }, nil
	default:
		st := memstore.New()
		return st, func() {}, nil
	}
}
