// Command marketclient wires the client core together against a live
// backend: it restores or establishes a session, keeps it alive through
// the lifecycle manager, and logs auth-state transitions until stopped.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/common-nighthawk/go-figure"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/curiobid/go-marketplace-client/authstate"
	"github.com/curiobid/go-marketplace-client/backend/rest"
	"github.com/curiobid/go-marketplace-client/internal/config"
	"github.com/curiobid/go-marketplace-client/session"
	"github.com/curiobid/go-marketplace-client/session/securestore"
	"github.com/curiobid/go-marketplace-client/session/sqlitestore"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error running client: %s\n", err)
	}
	log.Printf("Client stopped\n")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic: %v\n", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	_ = godotenv.Load()
	c := config.New()
	displayAppname(c.GetAppName())

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if c.GetBackendURL() == "" || c.GetBackendAPIKey() == "" {
		return errors.New("BACKEND_URL and BACKEND_API_KEY must be set")
	}

	client, err := rest.New(c.GetBackendURL(), c.GetBackendAPIKey(), rest.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("create backend client: %w", err)
	}

	store, closeStore, err := newSnapshotStore(c)
	if err != nil {
		return fmt.Errorf("create snapshot store: %w", err)
	}
	defer closeStore()

	var lifecycle *session.Manager
	lifecycle, err = session.NewManager(client, store, session.Callbacks{
		OnWarning: func(minutesLeft int) {
			logger.Warn().Int("minutes_left", minutesLeft).Msg("session expiring soon")
		},
		OnRefreshed: func(s *session.Session) {
			logger.Info().Int64("expires_at", s.ExpiresAt).Msg("session refreshed")
			lifecycle.Adopt(s)
		},
		OnExpired: func() {
			logger.Warn().Msg("session expired, sign in again")
		},
	},
		session.WithLogger(logger),
		session.WithRefreshThreshold(c.GetRefreshThreshold()),
		session.WithWarningThreshold(c.GetWarningThreshold()),
		session.WithAutoRefresh(c.GetAutoRefresh()),
	)
	if err != nil {
		return fmt.Errorf("create session manager: %w", err)
	}
	defer lifecycle.Destroy()

	broadcast, err := authstate.NewManager(client, authstate.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("create auth state manager: %w", err)
	}
	unsubscribe := broadcast.Subscribe(func(st authstate.State) {
		evt := logger.Info().
			Bool("authenticated", st.IsAuthenticated).
			Bool("initialized", st.Initialized)
		if st.User != nil {
			evt = evt.Str("username", st.User.Username).Str("profile_source", string(st.User.Source))
		}
		evt.Msg("auth state")
	})
	defer unsubscribe()

	if err := establishSession(context.Background(), c, client, lifecycle, logger); err != nil {
		logger.Warn().Err(err).Msg("no session established, running signed out")
	}

	waitForStopSignal()
	return nil
}

// establishSession restores the persisted snapshot when one is still
// valid, otherwise signs in with the configured credentials.
func establishSession(ctx context.Context, c config.Config, client *rest.Client, lifecycle *session.Manager, logger zerolog.Logger) error {
	if sess, err := lifecycle.RestoreSnapshot(); err == nil {
		logger.Info().Msg("restored session from snapshot")
		client.AdoptSession(sess)
		lifecycle.Adopt(sess)
		return nil
	} else if !errors.Is(err, session.ErrSnapshotNotFound) {
		logger.Warn().Err(err).Msg("snapshot restore failed")
	}

	email, password := c.GetSignInEmail(), c.GetSignInPassword()
	if email == "" || password == "" {
		return errors.New("no snapshot and no SIGN_IN_EMAIL/SIGN_IN_PASSWORD configured")
	}

	sess, err := client.SignInWithPassword(ctx, email, password)
	if err != nil {
		return fmt.Errorf("password sign-in: %w", err)
	}
	lifecycle.Adopt(sess)
	return nil
}

// newSnapshotStore picks the encrypted file store when a snapshot secret
// is configured, falling back to the SQLite store.
func newSnapshotStore(c config.Config) (session.Store, func(), error) {
	if secret := c.GetSnapshotSecret(); secret != "" {
		store, err := securestore.New(c.GetSnapshotDir(), []byte(secret))
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}

	store, err := sqlitestore.New(c.GetSnapshotDBPath())
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
