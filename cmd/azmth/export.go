package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/azmth/internal/export"
	"github.com/zhouzirui/azmth/internal/model/chat"
	"github.com/zhouzirui/azmth/internal/store"
)

var (
	exportFormat string
	exportOutput string
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List chats saved in the history database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sessions, err := loadHistory(cmd.Context())
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no saved chats")
			return nil
		}
		newRenderer(cmd.OutOrStdout()).sessions(sessions, -1, -1)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export CHAT",
	Short: "Export a saved chat as json, yaml or markdown",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid chat number %q", args[0])
		}
		sessions, err := loadHistory(cmd.Context())
		if err != nil {
			return err
		}
		for _, s := range sessions {
			if s.ID != id {
				continue
			}
			if exportOutput == "" {
				exporter, err := export.NewExporter(exportFormat)
				if err != nil {
					return err
				}
				return exporter.Export(s, cmd.OutOrStdout())
			}
			path, err := exportSession(s, exportFormat, exportOutput)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported chat %d to %s\n", id, path)
			return nil
		}
		return fmt.Errorf("chat %d not found in history", id)
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "md", "Export format: json, yaml, md")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file or directory (default stdout)")
}

func loadHistory(ctx context.Context) ([]chat.Session, error) {
	if cfg.History.Path == "" {
		return nil, errors.New("no history database configured, set AZMTH_HISTORY_DB or --history")
	}
	history, err := store.Open(ctx, cfg.History.Path, logger)
	if err != nil {
		return nil, err
	}
	defer history.Close()
	return history.Load(ctx)
}

// exportSession writes session to path. A directory path gets a chat-N file
// named after the format's extension.
func exportSession(session chat.Session, format, path string) (string, error) {
	exporter, err := export.NewExporter(format)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, fmt.Sprintf("chat-%d.%s", session.ID, exporter.Extension()))
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create export file: %w", err)
	}
	if err := exporter.Export(session, f); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to export chat %d: %w", session.ID, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close export file: %w", err)
	}
	return path, nil
}
