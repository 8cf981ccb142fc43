// Package cli holds the roomchat command tree: the server, the terminal
// client and the interactive menu that picks between them.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Tyrowin/roomchat/internal/logging"
	"github.com/Tyrowin/roomchat/internal/server"
)

const (
	envPrefix    = "ROOMCHAT"
	keyLogLevel  = "log.level"
	keyLogFormat = "log.format"
	keyClientURL = "client.url"
)

// App carries the state shared by every command.
type App struct {
	v        *viper.Viper
	cfgFile  string
	in       io.Reader
	out      io.Writer
	errOut   io.Writer
	prompter Prompter
}

// Option customizes an App.
type Option func(*App)

// WithIO replaces stdin, stdout and stderr.
func WithIO(in io.Reader, out, errOut io.Writer) Option {
	return func(a *App) {
		a.in, a.out, a.errOut = in, out, errOut
	}
}

// WithPrompter replaces the terminal prompter.
func WithPrompter(p Prompter) Option {
	return func(a *App) { a.prompter = p }
}

// NewApp creates an App with its own viper instance.
func NewApp(opts ...Option) *App {
	a := &App{
		v:        viper.New(),
		in:       os.Stdin,
		out:      os.Stdout,
		errOut:   os.Stderr,
		prompter: terminalPrompter{},
	}
	for _, opt := range opts {
		opt(a)
	}

	server.SetDefaults(a.v)
	a.v.SetDefault(keyLogLevel, "info")
	a.v.SetDefault(keyLogFormat, "console")
	a.v.SetDefault(keyClientURL, "ws://"+server.DefaultAddr+"/ws")
	return a
}

// RootCommand builds the command tree. Running it without a subcommand
// opens the interactive menu.
func (a *App) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "roomchat",
		Short:         "Real-time room chat over WebSockets",
		Long:          "roomchat runs a room-based chat server or connects to one as a terminal client.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.initConfig()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runMenu(cmd)
		},
	}
	root.SetIn(a.in)
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (yaml, json or toml)")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-format", "console", "log format: console or json")
	_ = a.v.BindPFlag(keyLogLevel, flags.Lookup("log-level"))
	_ = a.v.BindPFlag(keyLogFormat, flags.Lookup("log-format"))

	root.AddCommand(a.serveCommand(), a.clientCommand())
	return root
}

// initConfig merges the config file and environment into viper. Flags are
// already bound.
func (a *App) initConfig() error {
	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	a.v.AutomaticEnv()

	if a.cfgFile == "" {
		return nil
	}
	a.v.SetConfigFile(a.cfgFile)
	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", a.cfgFile, err)
	}
	return nil
}

func (a *App) logger() zerolog.Logger {
	return logging.New(logging.Config{
		Level:  a.v.GetString(keyLogLevel),
		Format: a.v.GetString(keyLogFormat),
		Out:    a.errOut,
	})
}

// Execute runs the CLI with os.Args.
func Execute() {
	app := NewApp()
	if err := app.RootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
