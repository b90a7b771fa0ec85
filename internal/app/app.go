// Package app opens the stores and wires the services both front ends share.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/text/message"

	"github.com/matt-davison/agent-quest/internal/characters"
	"github.com/matt-davison/agent-quest/internal/cursor"
	"github.com/matt-davison/agent-quest/internal/identity"
	"github.com/matt-davison/agent-quest/internal/mailbox"
	notifydomain "github.com/matt-davison/agent-quest/internal/notifications/domain"
	"github.com/matt-davison/agent-quest/internal/objectstore"
	githubstore "github.com/matt-davison/agent-quest/internal/objectstore/github"
	"github.com/matt-davison/agent-quest/internal/objectstore/memory"
	redisstore "github.com/matt-davison/agent-quest/internal/objectstore/redis"
	sqlitestore "github.com/matt-davison/agent-quest/internal/objectstore/sqlite"
	apperrors "github.com/matt-davison/agent-quest/internal/platform/errors"
	"github.com/matt-davison/agent-quest/internal/platform/i18n/catalog"
	"github.com/matt-davison/agent-quest/internal/session/marker"
	"github.com/matt-davison/agent-quest/internal/session/relay"
	"github.com/matt-davison/agent-quest/internal/session/service"
)

// Options override collaborators, mostly for tests.
type Options struct {
	Logger *log.Logger
	Clock  func() time.Time
	// Store replaces the configured backend when set.
	Store objectstore.Store
	// Lookup replaces the GitHub identity lookup when set.
	Lookup identity.Lookup
}

// App is one process's view of the session, relay and inbox services.
type App struct {
	Config        Config
	Dir           marker.Dir
	Store         objectstore.Store
	Mailbox       *mailbox.Client
	Cursors       *cursor.Store
	Sessions      *service.Manager
	Relay         *relay.Relay
	Notifications *notifydomain.Dispatcher
	Printer       *message.Printer

	lookup identity.Lookup
	logger *log.Logger
}

// Open builds an App from cfg. The caller must Close it.
func Open(ctx context.Context, cfg Config, opts Options) (*App, error) {
	cfg = cfg.normalized()
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	policy, err := mailbox.ParseConflictPolicy(cfg.ConflictPolicy)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidArgument, err.Error(), err)
	}
	dir, err := marker.New(cfg.StateDir)
	if err != nil {
		return nil, err
	}

	lookup := opts.Lookup
	store := opts.Store
	if store == nil {
		store, lookup, err = openStore(ctx, cfg, lookup)
		if err != nil {
			return nil, err
		}
	}
	if lookup == nil && strings.TrimSpace(cfg.Token) != "" {
		client, err := githubstore.NewClient(githubstore.Config{Token: cfg.Token, BaseURL: cfg.GitHubAPIURL})
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		lookup = identity.GitHub{Client: client}
	}

	cursors, err := cursor.Open(ctx, dir.CursorDBPath())
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open cursor store: %w", err)
	}

	client := mailbox.New(store, mailbox.Options{
		BaseRef: cfg.BaseRef,
		Timeout: cfg.RemoteTimeout,
		Policy:  policy,
		Logger:  opts.Logger,
	})
	sessions := service.NewManager(dir, service.Options{
		Remote:     client,
		Characters: characters.NewResolver(cfg.WorldsDir),
		Cursors:    cursors,
		Logger:     opts.Logger,
		Clock:      opts.Clock,
	})
	return &App{
		Config:   cfg,
		Dir:      dir,
		Store:    store,
		Mailbox:  client,
		Cursors:  cursors,
		Sessions: sessions,
		Relay: relay.New(relay.Options{
			Remote:         client,
			Cursors:        cursors,
			Sessions:       sessions,
			Dir:            dir,
			Clock:          opts.Clock,
			SessionTimeout: cfg.SessionTimeout,
			Logger:         opts.Logger,
		}),
		Notifications: notifydomain.NewDispatcher(client, cfg.BaseRef, opts.Clock),
		Printer:       catalog.Default().Printer(cfg.Locale),
		lookup:        lookup,
		logger:        opts.Logger,
	}, nil
}

func openStore(ctx context.Context, cfg Config, lookup identity.Lookup) (objectstore.Store, identity.Lookup, error) {
	switch cfg.Backend {
	case BackendMemory:
		return memory.New(), lookup, nil
	case BackendSQLite, "":
		store, err := sqlitestore.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite mailbox: %w", err)
		}
		return store, lookup, nil
	case BackendRedis:
		store, err := redisstore.Open(ctx, redisstore.Config{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			Namespace: cfg.RedisNamespace,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open redis mailbox: %w", err)
		}
		return store, lookup, nil
	case BackendGitHub:
		owner, repo, err := githubstore.SplitRepo(cfg.Repo)
		if err != nil {
			return nil, nil, apperrors.Wrap(apperrors.CodeInvalidArgument, err.Error(), err)
		}
		client, err := githubstore.NewClient(githubstore.Config{Token: cfg.Token, BaseURL: cfg.GitHubAPIURL})
		if err != nil {
			return nil, nil, err
		}
		store, err := githubstore.New(client, owner, repo)
		if err != nil {
			return nil, nil, err
		}
		if lookup == nil {
			lookup = identity.GitHub{Client: client}
		}
		return store, lookup, nil
	default:
		return nil, nil, apperrors.New(apperrors.CodeInvalidArgument, fmt.Sprintf("unknown backend %q", cfg.Backend))
	}
}

// Identity resolves the player this process speaks for: explicit, then the
// configured identity, then the authenticated GitHub login.
func (a *App) Identity(ctx context.Context, explicit string) (string, error) {
	if strings.TrimSpace(explicit) == "" {
		explicit = a.Config.Identity
	}
	who, err := identity.Resolve(ctx, explicit, a.lookup)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeInvalidArgument, err.Error(), err)
	}
	return who, nil
}

// SessionID returns explicit or, when blank, the id of the local mirror.
func (a *App) SessionID(ctx context.Context, explicit string) (string, error) {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return explicit, nil
	}
	return a.Sessions.ActiveSessionID(ctx)
}

// Close releases the stores.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	if a.Cursors != nil {
		errs = append(errs, a.Cursors.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}
