package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fcinq/genchat/internal/config"
	"github.com/fcinq/genchat/internal/image"
	"github.com/fcinq/genchat/internal/provider"
	"github.com/fcinq/genchat/internal/provider/webhook"
	"github.com/fcinq/genchat/internal/session"
)

var (
	version = "dev"
	commit  = "none"
)

type App struct {
	In            io.Reader
	Out           io.Writer
	Err           io.Writer
	GetEnv        func(string) string
	NewDispatcher func(cfg *provider.Config, log logrus.FieldLogger) (provider.Dispatcher, error)
	OpenStore     func(ctx context.Context, opts session.Options) (session.Store, error)
	NewSaver      func() *image.Saver

	viper      *viper.Viper
	configPath string
	cfg        *config.Config
}

func DefaultApp() *App {
	return &App{
		In:     os.Stdin,
		Out:    os.Stdout,
		Err:    os.Stderr,
		GetEnv: os.Getenv,
		NewDispatcher: func(cfg *provider.Config, log logrus.FieldLogger) (provider.Dispatcher, error) {
			return webhook.New(cfg, log)
		},
		OpenStore: session.Open,
		NewSaver:  image.NewSaver,
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app := DefaultApp()
	rootCmd := newRootCmd(app)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCmd(app *App) *cobra.Command {
	app.viper = config.New()

	cmd := &cobra.Command{
		Use:   "genchat",
		Short: "Chat-style product display generator backed by an n8n workflow",
		Long: `genchat sends prompts to an n8n generation workflow and shows the results.

Plain prompts produce four product images. Attach images to edit them, or
switch to video mode to animate them.

Examples:
  genchat
  genchat generate "white sneakers on a marble plinth"
  genchat generate --image bottle.png "the bottle on a beach at sunset"
  genchat generate --video --model veo3 "slow orbit around the watch"
  genchat batch prompts.txt --output out/
  genchat serve --addr 127.0.0.1:8080`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.loadConfig()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context(), app)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&app.configPath, "config", "", "config file (default is the platform config dir)")
	flags.String("webhook-url", "", "n8n workflow webhook URL (overrides GENCHAT_WEBHOOK_URL)")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("store", "", "session store driver (sqlite, redis, memory)")

	mustBind(app.viper, "webhook_url", flags.Lookup("webhook-url"))
	mustBind(app.viper, "log.level", flags.Lookup("log-level"))
	mustBind(app.viper, "store.driver", flags.Lookup("store"))

	cmd.AddCommand(
		newChatCmd(app),
		newGenerateCmd(app),
		newBatchCmd(app),
		newServeCmd(app),
		newModelsCmd(app),
		newSessionCmd(app),
		newConfigCmd(app),
	)

	return cmd
}

func (a *App) loadConfig() error {
	cfg, err := config.Load(a.viper, a.configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg
	return nil
}
