package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dharsanguruparan/notely/internal/app"
	"github.com/dharsanguruparan/notely/internal/model"
	"github.com/dharsanguruparan/notely/internal/upload"
)

func newSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Read or change the service settings of the current user",
	}
	cmd.AddCommand(newSettingsGetCmd(), newSettingsSetCmd())
	return cmd
}

func newSettingsGetCmd() *cobra.Command {
	var reveal bool
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Print settings as YAML",
		Args:  cobra.NoArgs,
		RunE: runWithApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			st, err := a.Dashboard.Settings(cmd.Context(), a.Config.UserID)
			if err != nil {
				return a.Notifier.Failure("load settings", err)
			}
			if !reveal {
				st = maskKeys(st)
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(st); err != nil {
				return err
			}
			return enc.Close()
		}),
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "Print API keys in full")
	return cmd
}

func newSettingsSetCmd() *cobra.Command {
	var (
		file       string
		gemini     string
		whisper    string
		notion     string
		screenshot int
		embedding  string
		llm        string
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update settings from flags or a YAML file",
		Args:  cobra.NoArgs,
		RunE: runWithApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			ctx := cmd.Context()
			st, err := a.Dashboard.Settings(ctx, a.Config.UserID)
			if err != nil {
				return a.Notifier.Failure("load settings", err)
			}
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("read settings file: %w", err)
				}
				if err := yaml.Unmarshal(data, &st); err != nil {
					return fmt.Errorf("parse settings file: %w", err)
				}
			}
			flags := cmd.Flags()
			if flags.Changed("gemini-key") {
				st.GeminiAPIKey = gemini
			}
			if flags.Changed("whisper-key") {
				st.WhisperAPIKey = whisper
			}
			if flags.Changed("notion-key") {
				st.NotionAPIKey = notion
			}
			if flags.Changed("screenshot-interval") {
				st.ScreenshotInterval = screenshot
			}
			if flags.Changed("embedding") {
				st.EmbeddingType = embedding
			}
			if flags.Changed("llm") {
				st.LLMPreference = llm
			}
			if st.ScreenshotInterval < upload.MinScreenshotInterval || st.ScreenshotInterval > upload.MaxScreenshotInterval {
				return fmt.Errorf("screenshot interval must be between %d and %d seconds",
					upload.MinScreenshotInterval, upload.MaxScreenshotInterval)
			}
			st.UserID = a.Config.UserID

			if _, err := a.Dashboard.SaveSettings(ctx, a.Config.UserID, st); err != nil {
				return a.Notifier.Failure("save settings", err)
			}
			a.Notifier.Success("save settings", "settings updated for %s", a.Config.UserID)
			return nil
		}),
	}
	cmd.Flags().StringVar(&file, "from-file", "", "YAML file with settings to apply")
	cmd.Flags().StringVar(&gemini, "gemini-key", "", "Gemini API key")
	cmd.Flags().StringVar(&whisper, "whisper-key", "", "Whisper API key")
	cmd.Flags().StringVar(&notion, "notion-key", "", "Notion API key")
	cmd.Flags().IntVar(&screenshot, "screenshot-interval", upload.DefaultScreenshotInterval, "Default seconds between screenshots")
	cmd.Flags().StringVar(&embedding, "embedding", "", "Embedding model")
	cmd.Flags().StringVar(&llm, "llm", "", "Preferred language model")
	return cmd
}

func newDashboardCmd() *cobra.Command {
	var fresh bool
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Show totals and recent uploads",
		Args:  cobra.NoArgs,
		RunE: runWithApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			if fresh {
				a.Dashboard.Invalidate()
			}
			sum, err := a.Dashboard.Stats(cmd.Context())
			if err != nil {
				return a.Notifier.Failure("load dashboard", err)
			}
			out := cmd.OutOrStdout()
			s := sum.Stats
			fmt.Fprintf(out, "videos: %d  documents: %d  active jobs: %d\n", s.TotalVideos, s.TotalDocuments, s.ActiveJobs)
			if len(s.RecentUploads) == 0 {
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "\nRECENT\tKIND\tCREATED")
			for _, u := range s.RecentUploads {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", u.Name, u.Type, formatTime(u.CreatedAt))
			}
			return tw.Flush()
		}),
	}
	cmd.Flags().BoolVar(&fresh, "fresh", false, "Bypass the local cache")
	return cmd
}

func maskKeys(st model.UserSettings) model.UserSettings {
	st.GeminiAPIKey = mask(st.GeminiAPIKey)
	st.WhisperAPIKey = mask(st.WhisperAPIKey)
	st.NotionAPIKey = mask(st.NotionAPIKey)
	return st
}

func mask(key string) string {
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}
