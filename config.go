package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	server            string
	name              string
	maxPlayers        int
	reconnectAttempts int
	reconnectDelay    time.Duration
	timeout           time.Duration
	countdown         time.Duration
	answerDeadline    time.Duration
	identityFile      string
	qr                bool
	profile           bool
	profilePort       int
	verbose           bool
}

func (c *Config) validate() error {
	u, err := url.Parse(c.server)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid server URL (must be http(s)://host[:port]): %q", c.server)
	}
	if c.reconnectAttempts < 1 {
		return fmt.Errorf("invalid reconnect attempt count (must be at least 1): %d", c.reconnectAttempts)
	}
	if c.reconnectDelay <= 0 {
		return fmt.Errorf("invalid reconnect delay (must be positive): %s", c.reconnectDelay)
	}
	if c.countdown <= 0 {
		return fmt.Errorf("invalid countdown duration (must be positive): %s", c.countdown)
	}
	if c.answerDeadline <= 0 {
		return fmt.Errorf("invalid answer deadline (must be positive): %s", c.answerDeadline)
	}
	if c.maxPlayers < 2 || c.maxPlayers > 8 {
		return fmt.Errorf("invalid max player count (must be between 2-8 inclusive): %d", c.maxPlayers)
	}
	if c.profile && (c.profilePort < 1 || c.profilePort > 65535) {
		return fmt.Errorf("invalid profile port (must be between 1-65535 inclusive): %d", c.profilePort)
	}
	return nil
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("TFADHLOON")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "tfadhloon",
		Short:         "Terminal client for the TFADHLOON party game.",
		SilenceErrors: true,
		Version:       releaseVersion,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cfg.identityFile == "" {
				cfg.identityFile = defaultIdentityPath()
			}
			return cfg.validate()
		},
	}

	fs := cmd.PersistentFlags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.server, "server", "s", "https://backend.tfadhloon.com", "game server base URL (env: TFADHLOON_SERVER)")
	fs.StringVarP(&cfg.name, "name", "n", "", "display name, 1-20 characters (env: TFADHLOON_NAME)")
	fs.IntVar(&cfg.maxPlayers, "max-players", 4, "room capacity when creating a game (env: TFADHLOON_MAX_PLAYERS)")
	fs.IntVar(&cfg.reconnectAttempts, "reconnect-attempts", 10, "max consecutive reconnect attempts (env: TFADHLOON_RECONNECT_ATTEMPTS)")
	fs.DurationVar(&cfg.reconnectDelay, "reconnect-delay", time.Second, "delay between reconnect attempts (env: TFADHLOON_RECONNECT_DELAY)")
	fs.DurationVar(&cfg.timeout, "timeout", 10*time.Second, "HTTP and handshake timeout (env: TFADHLOON_TIMEOUT)")
	fs.DurationVar(&cfg.countdown, "countdown", 5*time.Second, "turn announcement auto-advance countdown (env: TFADHLOON_COUNTDOWN)")
	fs.DurationVar(&cfg.answerDeadline, "answer-deadline", 30*time.Second, "answering phase local deadline (env: TFADHLOON_ANSWER_DEADLINE)")
	fs.StringVar(&cfg.identityFile, "identity-file", "", "path to the persisted identity file (env: TFADHLOON_IDENTITY_FILE)")
	fs.BoolVar(&cfg.qr, "qr", false, "show a join QR code in the lobby (env: TFADHLOON_QR)")
	fs.BoolVar(&cfg.profile, "profile", false, "serve net/http/pprof handlers on localhost (env: TFADHLOON_PROFILE)")
	fs.IntVar(&cfg.profilePort, "profile-port", 6060, "port for the pprof listener (env: TFADHLOON_PROFILE_PORT)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: TFADHLOON_VERBOSE)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.AddCommand(newCreateCmd(cfg))
	cmd.AddCommand(newJoinCmd(cfg))
	cmd.AddCommand(newResumeCmd(cfg))
	cmd.AddCommand(newLeaveCmd(cfg))
	cmd.AddCommand(newPingCmd(cfg))

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("tfadhloon v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}

func newCreateCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create a new game room and wait for players.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			startProfiler(cfg)

			c := newController(cfg)
			if err := c.Create(ctx, cfg.name, cfg.maxPlayers); err != nil {
				return err
			}
			fmt.Printf("Room created. Share the code: %s\n", c.gameCode)
			return runScreens(ctx, cfg, c)
		},
	}
}

func newJoinCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "join CODE",
		Short: "Join an existing game room by code.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			startProfiler(cfg)

			c := newController(cfg)
			if err := c.Join(ctx, strings.ToUpper(args[0]), cfg.name); err != nil {
				return err
			}
			return runScreens(ctx, cfg, c)
		},
	}
}

func newResumeCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Rejoin the game stored in the identity file.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			startProfiler(cfg)

			c := newController(cfg)
			if err := c.Resume(ctx); err != nil {
				return err
			}
			return runScreens(ctx, cfg, c)
		},
	}
}

func newLeaveCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "leave",
		Short: "Leave the current game and forget the stored identity.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			c := newController(cfg)
			if err := c.identity.Hydrate(); err != nil {
				return err
			}
			id, _ := c.identity.Value()
			c.playerID = id.PlayerID
			c.playerName = id.PlayerName
			c.gameCode = id.GameCode
			return c.Leave(ctx)
		},
	}
}

func newPingCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the game server is reachable.",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.timeout)
			defer cancel()

			if err := newAPIClient(cfg).TestConnection(ctx); err != nil {
				return err
			}
			fmt.Println("Ok")
			return nil
		},
	}
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
