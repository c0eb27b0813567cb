// Command authlab serves the authentication lab over HTTP.
package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MrEthical07/authlab"
	"github.com/MrEthical07/authlab/oauthclient"
	"github.com/MrEthical07/authlab/password"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	envFile    string
	listenAddr string
	baseURL    string
)

var rootCmd = &cobra.Command{
	Use:   "authlab",
	Short: "Sessions, rotating tokens, TOTP and a mock OAuth provider",
	Long: `authlab runs a teaching authentication server: password login with
server-side sessions or HS256 token pairs, refresh rotation with reuse
detection, TOTP second factor and a mock OAuth 2.0 authorization server.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServe,
}

var hashCmd = &cobra.Command{
	Use:   "hash-password [password]",
	Short: "Print a password hash in the configured scheme",
	Long:  `Hashes the argument, or one line from stdin when no argument is given.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHashPassword,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading AUTHLAB_* variables")

	serveCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "override AUTHLAB_ADDR")
	serveCmd.Flags().StringVar(&baseURL, "base-url", "http://localhost:8080", "public URL the OAuth demo client calls back into")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(hashCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(envFile)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Addr = listenAddr
	}

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if len(cfg.Engine.Token.Secret) == 0 {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return fmt.Errorf("generate token secret: %w", err)
		}
		cfg.Engine.Token.Secret = secret
		logger.Warn("AUTHLAB_TOKEN_SECRET not set; using an ephemeral secret")
	}
	for _, w := range cfg.Engine.Lint() {
		logger.Warn("config lint", zap.String("code", w.Code), zap.String("severity", w.Severity.String()), zap.String("message", w.Message))
	}

	rdb, cleanup, err := openRedis(cfg.RedisAddr, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	engine, err := authlab.New().
		WithConfig(cfg.Engine).
		WithRedis(rdb).
		WithLogger(logger).
		WithAuditSink(authlab.NewZapSink(logger.Named("audit"))).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	client, err := oauthclient.New(oauthclient.Config{
		BaseURL:      strings.TrimRight(baseURL, "/") + "/oauth",
		ClientID:     cfg.Engine.OAuth.ClientID,
		ClientSecret: cfg.Engine.OAuth.ClientSecret,
		RedirectURL:  cfg.Engine.OAuth.RedirectURI,
		Scopes:       strings.Fields(cfg.Engine.OAuth.Scope),
	})
	if err != nil {
		return fmt.Errorf("oauth client: %w", err)
	}

	router := newServer(engine, client, logger).routes()
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           c.Handler(router),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openRedis dials addr, or starts an in-process miniredis when addr is empty.
func openRedis(addr string, logger *zap.Logger) (redis.UniversalClient, func(), error) {
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis %s: %w", addr, err)
		}
		logger.Info("using redis", zap.String("addr", addr))
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	logger.Info("AUTHLAB_REDIS_ADDR not set; using in-process miniredis", zap.String("addr", mr.Addr()))
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

func runHashPassword(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(envFile)
	if err != nil {
		return err
	}

	var plaintext string
	if len(args) == 1 {
		plaintext = args[0]
	} else {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read password: %w", err)
		}
		plaintext = strings.TrimRight(line, "\r\n")
	}

	var h password.Hasher
	pc := cfg.Engine.Password
	if pc.Scheme == "bcrypt" {
		h, err = password.NewBcrypt(pc.BcryptCost)
	} else {
		h, err = password.NewArgon2(password.Config{
			Memory:      pc.Memory,
			Time:        pc.Time,
			Parallelism: pc.Parallelism,
			SaltLength:  pc.SaltLength,
			KeyLength:   pc.KeyLength,
		})
	}
	if err != nil {
		return err
	}

	hash, err := h.Hash(plaintext)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), hash)
	return nil
}
