package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/cycletime/pkg/reporter"
)

// Version is set at build time
var Version = "dev"

var cfgFile string

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "cycletime",
	Short: "Measure cycletimes and report them to CloudWatch",
	Long: `cycletime times named operations and reports each measurement, or a
rolling average per pulse interval, to AWS CloudWatch under the namespace
Cycletime/<namespace>. Prometheus and no-op reporters are available for local use.`,
	SilenceUsage: true,
	Version:      Version,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.cycletime/config.yaml)")
	flags.String("region", reporter.DefaultRegion, "CloudWatch region")
	flags.String("namespace", "default", "metrics namespace, reported as Cycletime/<namespace>")
	flags.String("access-key", "", "AWS access key id (default chain when empty)")
	flags.String("secret-key", "", "AWS secret access key")
	flags.StringSlice("reporter", []string{"cloudwatch"}, "reporters: cloudwatch, prometheus, none (repeatable)")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9464")
	flags.String("otlp-endpoint", "", "OTLP HTTP collector (host:port); enables tracing of reports")
	flags.Float64("max-reports-per-second", 0, "drop reports above this rate per metric (0 = unlimited)")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-format", "text", "log format: text or json")
	flags.Bool("log-file", false, "also write logs to <log-dir>/cycletime/<command>.log")
	flags.String("log-dir", "", "log directory (default /var/log/cycletime, ./logs when not writable)")

	for _, key := range []string{
		"region", "namespace", "access-key", "secret-key", "reporter", "metrics-addr",
		"otlp-endpoint", "max-reports-per-second", "log-level", "log-format", "log-file", "log-dir",
	} {
		_ = viper.BindPFlag(strings.ReplaceAll(key, "-", "_"), flags.Lookup(key))
	}
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".cycletime"))
		}
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("CYCLETIME")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	// Standard AWS variables are honoured as well
	_ = viper.BindEnv("region", "CYCLETIME_REGION", "AWS_REGION")
	_ = viper.BindEnv("access_key", "CYCLETIME_ACCESS_KEY", "AWS_ACCESS_KEY_ID")
	_ = viper.BindEnv("secret_key", "CYCLETIME_SECRET_KEY", "AWS_SECRET_ACCESS_KEY")

	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && cfgFile != "" {
			fmt.Fprintf(os.Stderr, "Error reading config file %s: %v\n", cfgFile, err)
			os.Exit(1)
		}
	}
}

// Settings is the effective configuration after flags, env and file are merged
type Settings struct {
	Region              string   `json:"region" yaml:"region"`
	Namespace           string   `json:"namespace" yaml:"namespace"`
	AccessKey           string   `json:"access_key" yaml:"access_key"`
	SecretKey           string   `json:"secret_key" yaml:"secret_key"`
	Reporters           []string `json:"reporters" yaml:"reporters"`
	MetricsAddr         string   `json:"metrics_addr" yaml:"metrics_addr"`
	OTLPEndpoint        string   `json:"otlp_endpoint" yaml:"otlp_endpoint"`
	MaxReportsPerSecond float64  `json:"max_reports_per_second" yaml:"max_reports_per_second"`
	LogLevel            string   `json:"log_level" yaml:"log_level"`
	LogFormat           string   `json:"log_format" yaml:"log_format"`
	LogFile             bool     `json:"log_file" yaml:"log_file"`
	LogDir              string   `json:"log_dir,omitempty" yaml:"log_dir,omitempty"`
}

// loadSettings snapshots viper into Settings
func loadSettings(v *viper.Viper) Settings {
	s := Settings{
		Region:              v.GetString("region"),
		Namespace:           v.GetString("namespace"),
		AccessKey:           v.GetString("access_key"),
		SecretKey:           v.GetString("secret_key"),
		Reporters:           v.GetStringSlice("reporter"),
		MetricsAddr:         v.GetString("metrics_addr"),
		OTLPEndpoint:        v.GetString("otlp_endpoint"),
		MaxReportsPerSecond: v.GetFloat64("max_reports_per_second"),
		LogLevel:            v.GetString("log_level"),
		LogFormat:           v.GetString("log_format"),
		LogFile:             v.GetBool("log_file"),
		LogDir:              v.GetString("log_dir"),
	}
	if s.Region == "" {
		s.Region = reporter.DefaultRegion
	}
	if len(s.Reporters) == 0 {
		s.Reporters = []string{"cloudwatch"}
	}
	return s
}

// Masked returns a copy safe to print
func (s Settings) Masked() Settings {
	s.AccessKey = mask(s.AccessKey)
	s.SecretKey = mask(s.SecretKey)
	return s
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 4 {
		return "****"
	}
	return secret[:4] + strings.Repeat("*", len(secret)-4)
}
