package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/grantforge/go-grant-server/auth"
	"github.com/grantforge/go-grant-server/authenticator"
	"github.com/grantforge/go-grant-server/ciba"
	"github.com/grantforge/go-grant-server/clients"
	fakeclientrepo "github.com/grantforge/go-grant-server/clients/fakerepo"
	"github.com/grantforge/go-grant-server/grants"
	"github.com/grantforge/go-grant-server/internal/config"
	"github.com/grantforge/go-grant-server/server"
	"github.com/grantforge/go-grant-server/token"
	"github.com/pkg/errors"
)

func main() {
	for {
		if err := run(); err != nil {
			log.Fatalf("Error running server: %s\n", err)
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Printf("Server stopped\n")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic: %v\n", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	displayAppname(c.GetAppName())

	store, closeStore, err := newGrantStore(c)
	if err != nil {
		return errors.Wrap(err, "[run] grant store")
	}
	defer closeStore()

	httpServer, err := buildServer(c, store)
	if err != nil {
		return errors.Wrap(err, "[run] build server")
	}

	go listenAndServe(httpServer)
	waitForStopSignal()
	returnError = shutdown(httpServer)
	return returnError
}

func buildServer(c config.Config, store grants.Store) (*http.Server, error) {
	signer, keySet, algorithm, err := newSigner(c)
	if err != nil {
		return nil, errors.Wrap(err, "[buildServer] signer")
	}

	tokens, err := token.New(signer, c.GetIssuer(),
		token.WithTokenExpiry(c.GetDefaultAccessTokenExpiry(), c.GetDefaultIDTokenExpiry(), c.GetDefaultRefreshTokenExpiry()))
	if err != nil {
		return nil, errors.Wrap(err, "[buildServer] token manager")
	}

	clientRepo := fakeclientrepo.NewFakeClientRepo()
	if err := loadClients(clientRepo, c.GetClientsFile()); err != nil {
		return nil, errors.Wrap(err, "[buildServer] load clients")
	}
	users := authenticator.NewPasswordAuthenticator()

	authService, err := auth.NewAuthorizationService(clientRepo, store, tokens, users,
		auth.WithCodeTTL(c.GetAuthCodeTimeout()))
	if err != nil {
		return nil, errors.Wrap(err, "[buildServer] authorization service")
	}

	notifier := ciba.NewNotifier(
		ciba.WithNotifyTimeout(c.GetNotifyTimeout()),
		ciba.WithMaxPushAttempts(c.GetMaxPushAttempts()),
	)
	coordinator, err := ciba.NewCoordinator(store, clientRepo, tokens, notifier,
		ciba.WithRequestExpiry(c.GetBackchannelRequestExpiry()),
		ciba.WithPollInterval(c.GetPollInterval()),
	)
	if err != nil {
		return nil, errors.Wrap(err, "[buildServer] backchannel coordinator")
	}

	var options []server.ServerOption
	if keySet != nil {
		options = append(options, server.WithKeySet(keySet))
	}
	handler, err := server.New(c, clientRepo, authService, coordinator, algorithm, options...)
	if err != nil {
		return nil, errors.Wrap(err, "[buildServer] server")
	}

	return &http.Server{Addr: c.GetPort(), Handler: handler}, nil
}

// newSigner builds the token signer: HMAC when a shared secret is configured,
// otherwise a generated RSA key pair published at the JWKS endpoint.
func newSigner(c config.Config) (token.Signer, *token.KeySet, string, error) {
	if secret := c.GetSigningKey(); secret != "" {
		signer, err := token.NewHMACSigner(secret, "HS256")
		if err != nil {
			return nil, nil, "", err
		}
		return signer, nil, "HS256", nil
	}

	pair, err := token.GenerateRSAKeyPair("RS256", 2048)
	if err != nil {
		return nil, nil, "", err
	}
	return token.NewKeyPairSigner(pair), token.NewKeySet(pair), "RS256", nil
}

func newGrantStore(c config.Config) (grants.Store, func(), error) {
	switch c.GetStorageBackend() {
	case config.StorageRedis:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		store, err := grants.NewRedisStore(ctx, grants.RedisConfig{
			Addr:     c.GetRedisAddr(),
			Password: c.GetRedisPassword(),
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case config.StorageSQLite:
		store, err := grants.NewSQLiteStore(c.GetSQLitePath())
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		store := grants.NewMemoryStore()
		return store, store.Close, nil
	}
}

// loadClients seeds the client registry from the configured JSON file. No
// file configured means the server starts with an empty registry.
func loadClients(repo clients.Repo, path string) error {
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "[loadClients] read clients file")
	}
	var registered []*clients.Client
	if err := json.Unmarshal(raw, &registered); err != nil {
		return errors.Wrap(err, "[loadClients] parse clients file")
	}
	for _, client := range registered {
		if err := repo.Upsert(client); err != nil {
			return errors.Wrapf(err, "[loadClients] register client %q", client.ID)
		}
	}
	log.Printf("Registered %d clients\n", len(registered))
	return nil
}

func listenAndServe(server *http.Server) error {
	log.Printf("Server listening on %s\n", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
