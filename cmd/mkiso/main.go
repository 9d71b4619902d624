package main

import (
	"fmt"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
	"io"
	"os"
)

func main() {
	if err := newCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newCmd() *cobra.Command {
	var (
		logLevel  string
		logFile   string
		logFormat string
	)

	cmd := &cobra.Command{
		Use:           "mkiso",
		Short:         "Create and inspect ISO9660 images",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(cmd.ErrOrStderr(), logLevel, logFormat, logFile)
		},
	}

	cmd.AddCommand(createCmd())
	cmd.AddCommand(lsCmd())
	cmd.AddCommand(catCmd())
	cmd.AddCommand(infoCmd())

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: panic, fatal, error, warn, info, debug or trace")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")
	cmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write logs to this file, rotating it when it grows large")

	return cmd
}

func setupLogging(stderr io.Writer, level, format, file string) error {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logrus.SetLevel(parsed)

	switch format {
	case "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("invalid log format '%s'", format)
	}

	output := stderr
	if file != "" {
		output = io.MultiWriter(stderr, &lumberjack.Logger{
			Filename:   file,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		})
	}
	logrus.SetOutput(output)

	return nil
}
