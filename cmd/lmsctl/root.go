package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mind-engage/mindengage-progress/internal/app"
	"github.com/mind-engage/mindengage-progress/internal/config"
	"github.com/mind-engage/mindengage-progress/internal/logging"
)

// lms is built by the root pre-run hook for every subcommand.
var lms *app.App

var rootCmd = &cobra.Command{
	Use:           "lmsctl",
	Short:         "Operate learner progress, quiz resolution and grading",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromEnv()
		if v, _ := cmd.Flags().GetString("db-driver"); v != "" {
			cfg.DBDriver = v
		}
		if v, _ := cmd.Flags().GetString("dsn"); v != "" {
			cfg.DBDSN = v
		}
		log := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
		a, err := app.New(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		lms = a
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if lms == nil {
			return nil
		}
		return lms.Close()
	},
}

func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if lms != nil {
			_ = lms.Close()
		}
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().String("db-driver", "", "Database driver, sqlite or postgres (overrides LMS_DB_DRIVER)")
	rootCmd.PersistentFlags().String("dsn", "", "Database DSN (overrides LMS_DB_DSN)")

	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(lessonCmd)
	rootCmd.AddCommand(courseCmd)
	rootCmd.AddCommand(quizCmd)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ids parses positional integer ids named by names.
func ids(args []string, names ...string) ([]int64, error) {
	out := make([]int64, len(names))
	for i, name := range names {
		n, err := strconv.ParseInt(args[i], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q", name, args[i])
		}
		out[i] = n
	}
	return out, nil
}
