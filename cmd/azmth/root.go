package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zhouzirui/azmth/internal/config"
	"github.com/zhouzirui/azmth/internal/logging"
)

var (
	verbose     bool
	backendFlag string
	urlFlag     string
	voiceFlag   bool
	historyFlag string
	timeoutFlag time.Duration
	retriesFlag uint64

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "azmth",
	Short: "Chat with Azmth from the terminal, by text or by voice",
	Long: `A terminal chat client for Azmth.

Type a message and press enter to send it. Lines starting with / are commands;
type /help to list them. Voice input records from the microphone through ffmpeg,
live transcription needs AZMTH_ASR_URL, and spoken replies need AZMTH_TTS_COMMAND.

Quick Start:
  azmth                          # chat against the local endpoint
  azmth --backend remote --url https://api.example.com
  azmth sessions                 # list saved chats
  azmth export 3 --format md     # export chat 3 as Markdown`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		loaded, err := config.Load()
		if err != nil {
			return err
		}
		applyFlags(cmd, loaded)
		cfg = loaded

		level := cfg.Log.Level
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(level, true)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runChat,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	flags.StringVar(&backendFlag, "backend", "", "Conversation backend: local or remote (overrides AZMTH_BACKEND)")
	flags.StringVar(&urlFlag, "url", "", "Base url of the selected backend")
	flags.BoolVar(&voiceFlag, "voice", false, "Start in voice-priority mode")
	flags.StringVar(&historyFlag, "history", "", "Path of the SQLite chat history (overrides AZMTH_HISTORY_DB)")
	flags.DurationVar(&timeoutFlag, "timeout", 0, "Per-request timeout (overrides AZMTH_REQUEST_TIMEOUT)")
	flags.Uint64Var(&retriesFlag, "retries", 0, "Retries for remote 5xx/transport failures (overrides AZMTH_RETRIES)")

	rootCmd.AddCommand(sessionsCmd, exportCmd)
}

func applyFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("backend") {
		c.Client.Backend = config.Backend(backendFlag)
	}
	if flags.Changed("url") {
		if c.Client.Backend == config.BackendRemote {
			c.Client.RemoteURL = urlFlag
		} else {
			c.Client.LocalURL = urlFlag
		}
	}
	if flags.Changed("voice") {
		c.Client.VoicePriority = voiceFlag
	}
	if flags.Changed("history") {
		c.History.Path = historyFlag
	}
	if flags.Changed("timeout") {
		c.Client.RequestTimeout = timeoutFlag
	}
	if flags.Changed("retries") {
		c.Client.Retries = retriesFlag
	}
}
