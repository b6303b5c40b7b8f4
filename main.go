package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"postbox/blacklist"
	"postbox/config"
	"postbox/handlers/api"
	"postbox/middleware"
	"postbox/models"
	"postbox/services"
	"postbox/spam"
	"postbox/storage"
	"postbox/urlnorm"
	"postbox/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
)

const shutdownTimeout = 10 * time.Second

func main() {
	app := &cli.App{
		Name:  "postbox",
		Usage: "webmail backend with label propagation",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.toml",
				Usage:   "path to the TOML configuration file",
				EnvVars: []string{"POSTBOX_CONFIG"},
			},
		},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API",
				Action: serve,
			},
			{
				Name:  "blacklist",
				Usage: "query or edit the URL blacklist service",
				Subcommands: []*cli.Command{
					{
						Name:      "check",
						Usage:     "report whether URLs are blacklisted",
						ArgsUsage: "URL...",
						Action:    blacklistCheck,
					},
					{
						Name:      "add",
						Usage:     "blacklist URLs",
						ArgsUsage: "URL...",
						Action: func(c *cli.Context) error {
							return blacklistEdit(c, "added", (*blacklist.Client).AddURLs)
						},
					},
					{
						Name:      "remove",
						Usage:     "remove URLs from the blacklist",
						ArgsUsage: "URL...",
						Action: func(c *cli.Context) error {
							return blacklistEdit(c, "removed", (*blacklist.Client).RemoveURLs)
						},
					},
				},
			},
			{
				Name:  "user",
				Usage: "manage accounts",
				Subcommands: []*cli.Command{
					{
						Name:      "add",
						Usage:     "create an account and its default labels",
						ArgsUsage: "USERNAME",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "password", Usage: "password, generated when empty"},
							&cli.StringFlag{Name: "display-name"},
						},
						Action: userAdd,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		utils.Log.Error("%v", err)
		_ = utils.Log.Sync()
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	utils.Log.SetLevel(utils.ParseLogLevel(cfg.Log.Level))
	return cfg, nil
}

func newBlacklistClient(cfg *config.Config) *blacklist.Client {
	return blacklist.NewClient(blacklist.Options{
		Address:     cfg.Blacklist.Address,
		Timeout:     cfg.Blacklist.Timeout,
		IdleTimeout: cfg.Blacklist.IdleTimeout,
		Concurrency: cfg.Blacklist.Concurrency,
	})
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	db, err := storage.InitDB(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer db.Close()

	users := storage.NewUserStorage(db)
	mailStore := storage.NewMailStorage(db)
	labels := services.NewLabelService(storage.NewLabelStorage(db), mailStore)

	policy := spam.FailOpen
	if !cfg.Blacklist.FailsOpen() {
		policy = spam.FailClosed
	}
	scanner := spam.NewScanner(newBlacklistClient(cfg), policy)

	mails := services.NewMailService(mailStore, labels, users, scanner, services.Addressing{
		Domain:          cfg.Server.Domain,
		UsernameIsEmail: cfg.Server.UsernameIsEmail,
	})
	notifications := api.NewNotificationHandler()
	mails.SetNotifier(notifications)

	tokens := middleware.NewTokenIssuer(cfg.JWT.Secret, cfg.JWT.TTL)

	app := fiber.New(fiber.Config{
		AppName:      "postbox",
		ErrorHandler: api.ErrorHandler,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(middleware.LocaleMiddleware())
	app.Use(middleware.RateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window))

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api.SetupRoutes(app, &api.Handlers{
		Auth:          api.NewAuthHandler(users, labels, tokens, cfg.Server.UsernameIsEmail),
		Mails:         api.NewMailHandler(mails),
		Labels:        api.NewLabelHandler(labels),
		Notifications: notifications,
		I18n:          &api.I18nHandler{},

		RequestTimeout: cfg.Server.RequestTimeout,
	}, middleware.JWTAuth(tokens))

	app.Use(api.NotFound)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		utils.Log.Info("Shutting down...")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			utils.Log.Error("Shutdown failed: %v", err)
		}
	}()

	utils.Log.Info("Starting server on port %d (blacklist %s, fail %s)...",
		cfg.Server.Port, cfg.Blacklist.Address, policy)
	return app.Listen(fmt.Sprintf(":%d", cfg.Server.Port))
}

func urlArgs(c *cli.Context) ([]string, error) {
	urls := urlnorm.NormalizeAll(c.Args().Slice())
	if len(urls) == 0 {
		return nil, cli.Exit("at least one URL is required", 2)
	}
	return urls, nil
}

func blacklistCheck(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	urls, err := urlArgs(c)
	if err != nil {
		return err
	}

	client := newBlacklistClient(cfg)
	for _, u := range urls {
		hit, err := client.CheckURL(c.Context, u)
		if err != nil {
			return fmt.Errorf("check %s: %w", u, err)
		}
		fmt.Printf("%s\t%t\n", u, hit)
	}
	return nil
}

func blacklistEdit(c *cli.Context, verb string, op func(*blacklist.Client, context.Context, []string) (int, error)) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	urls, err := urlArgs(c)
	if err != nil {
		return err
	}

	n, err := op(newBlacklistClient(cfg), c.Context, urls)
	if err != nil {
		return err
	}
	fmt.Printf("%d of %d URLs %s\n", n, len(urls), verb)
	return nil
}

func userAdd(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.NArg() != 1 {
		return cli.Exit("usage: postbox user add USERNAME", 2)
	}
	username, err := api.ValidateUsername(c.Args().First(), cfg.Server.UsernameIsEmail)
	if err != nil {
		return err
	}

	password := c.String("password")
	generated := password == ""
	if generated {
		if password, err = storage.GenerateSecureToken(12); err != nil {
			return err
		}
	}

	db, err := storage.InitDB(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer db.Close()

	user := &models.User{Username: username, DisplayName: c.String("display-name")}
	if err := storage.NewUserStorage(db).CreateUser(user, password); err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			return cli.Exit(fmt.Sprintf("user %s already exists", username), 1)
		}
		return err
	}
	if _, err := storage.NewLabelStorage(db).EnsureDefaultLabels(username); err != nil {
		return err
	}

	fmt.Printf("created %s\n", username)
	if generated {
		fmt.Printf("password: %s\n", password)
	}
	return nil
}
