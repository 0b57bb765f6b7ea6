package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/webitel/im-forum-delivery/config"
)

const (
	ServiceName      = "im-forum-delivery"
	ServiceNamespace = "webitel"
)

var (
	version        = "0.0.0"
	commit         = "hash"
	commitDate     = time.Now().String()
	branch         = "branch"
	buildTimestamp = ""
)

func Run() error {
	app := &cli.App{
		Name:    ServiceName,
		Usage:   "Realtime event fan-out for forum clients",
		Version: version + " (" + commit + "@" + branch + ")",
		Commands: []*cli.Command{
			serverCmd(),
			monitorCmd(),
		},
	}

	return app.Run(os.Args)
}

var configFileFlag = &cli.StringFlag{
	Name:    "config_file",
	Usage:   "Path to the configuration file",
	EnvVars: []string{"IM_FORUM_CONFIG_FILE"},
}

// loadConfig hands the arguments after "--" to pflag so keys like
// --http.addr override the file and environment.
func loadConfig(c *cli.Context) (*config.Config, error) {
	return config.LoadConfig(c.String(configFileFlag.Name), c.Args().Slice())
}

func serverCmd() *cli.Command {
	return &cli.Command{
		Name:      "server",
		Aliases:   []string{"s"},
		Usage:     "Run the stream and collaborator servers",
		ArgsUsage: "[-- --http.addr=:8080 --store.driver=redis ...]",
		Flags:     []cli.Flag{configFileFlag},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			app := NewApp(cfg)

			if err := app.Start(c.Context); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			slog.Info("Shutting down...",
				"build", buildTimestamp,
				"commit_date", commitDate)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return app.Stop(ctx)
		},
	}
}
