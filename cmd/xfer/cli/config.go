package cli

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/adamwoolhether/xfer/manager"
	"github.com/adamwoolhether/xfer/session"
)

const envPrefix = "XFER"

// Config is the CLI configuration resolved from flags, XFER_* environment
// variables and an optional YAML file, in that order of precedence.
type Config struct {
	Timeout                time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxConnectionsPerHost  int           `mapstructure:"max-connections-per-host" yaml:"max-connections-per-host"`
	MaxDownloadConcurrency int           `mapstructure:"max-downloads" yaml:"max-downloads"`
	MaxUploadConcurrency   int           `mapstructure:"max-uploads" yaml:"max-uploads"`
	AllowsMeteredAccess    bool          `mapstructure:"allow-metered" yaml:"allow-metered"`
	CachePolicy            string        `mapstructure:"cache-policy" yaml:"cache-policy"`
	CacheDir               string        `mapstructure:"cache-dir" yaml:"cache-dir"`
	JournalDir             string        `mapstructure:"journal-dir" yaml:"journal-dir"`
	UserAgent              string        `mapstructure:"user-agent" yaml:"user-agent"`
	RPS                    int           `mapstructure:"rps" yaml:"rps"`
	Burst                  int           `mapstructure:"burst" yaml:"burst"`
	LogLevel               string        `mapstructure:"log-level" yaml:"log-level"`
}

func bindFlags(flags *pflag.FlagSet) {
	def := manager.DefaultConfig()

	flags.String("config", "", "path to a YAML configuration file (env XFER_CONFIG)")
	flags.Duration("timeout", def.TimeoutInterval, "request timeout")
	flags.Int("max-connections-per-host", def.MaxConnectionsPerHost, "connections per host")
	flags.Int("max-downloads", def.MaxDownloadConcurrency, "concurrent downloads")
	flags.Int("max-uploads", def.MaxUploadConcurrency, "concurrent uploads")
	flags.Bool("allow-metered", def.AllowsMeteredAccess, "allow transfers on metered networks")
	flags.String("cache-policy", def.CachePolicy.String(), "request cache policy: protocol, reload, return-else-load, return-dont-load")
	flags.String("cache-dir", "", "download cache directory (default: user cache dir)")
	flags.String("journal-dir", "", "persist download tasks in this directory")
	flags.String("user-agent", "xfer", "User-Agent header")
	flags.Int("rps", 0, "requests per second, 0 disables throttling")
	flags.Int("burst", 1, "throttle burst size")
	flags.String("log-level", "warn", "log level: debug, info, warn, error")
}

// loadConfig resolves the configuration of cmd into a fresh viper instance.
func loadConfig(cmd *cobra.Command) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return Config{}, fmt.Errorf("binding flags: %w", err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}

	return cfg, nil
}

// managerConfig converts c into a validated manager configuration.
func (c Config) managerConfig() (manager.Config, error) {
	policy, err := session.ParseCachePolicy(c.CachePolicy)
	if err != nil {
		return manager.Config{}, err
	}

	mc := manager.Config{
		TimeoutInterval:        c.Timeout,
		MaxConnectionsPerHost:  c.MaxConnectionsPerHost,
		MaxDownloadConcurrency: c.MaxDownloadConcurrency,
		MaxUploadConcurrency:   c.MaxUploadConcurrency,
		AllowsMeteredAccess:    c.AllowsMeteredAccess,
		CachePolicy:            policy,
	}
	if err := mc.Validate(); err != nil {
		return manager.Config{}, err
	}

	return mc, nil
}

func (c Config) logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// options returns the manager options described by c.
func (c Config) options(logger *slog.Logger) ([]manager.Option, error) {
	mc, err := c.managerConfig()
	if err != nil {
		return nil, err
	}

	httpOpts := []session.Option{session.WithUserAgent(c.UserAgent)}
	if c.RPS > 0 {
		httpOpts = append(httpOpts, session.WithThrottle(c.RPS, c.Burst))
	}

	opts := []manager.Option{
		manager.WithConfig(mc),
		manager.WithLogger(logger),
		manager.WithHTTPOptions(httpOpts...),
	}
	if c.CacheDir != "" {
		opts = append(opts, manager.WithCacheDir(c.CacheDir))
	}
	if c.JournalDir != "" {
		opts = append(opts, manager.WithJournalPath(c.JournalDir))
	}

	return opts, nil
}

// NewConfigCmd groups the configuration commands.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the xfer configuration",
	}

	cmd.AddCommand(NewPrintConfigCmd())
	return cmd
}

// NewPrintConfigCmd prints the resolved configuration as YAML.
func NewPrintConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "print",
		Short: "Print the resolved configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			b, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshaling config: %w", err)
			}

			_, err = cmd.OutOrStdout().Write(b)
			return err
		},
	}
}

// parseHeaders turns "Name: value" pairs into a header.
func parseHeaders(pairs []string) (http.Header, error) {
	h := make(http.Header, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("malformed header %q", p)
		}
		h.Add(name, strings.TrimSpace(value))
	}
	return h, nil
}
