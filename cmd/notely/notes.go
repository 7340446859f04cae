package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/notely/internal/app"
	"github.com/dharsanguruparan/notely/internal/archive"
	"github.com/dharsanguruparan/notely/internal/catalog"
	"github.com/dharsanguruparan/notely/internal/model"
	pdfutil "github.com/dharsanguruparan/notely/internal/pdf"
)

func newNotesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notes",
		Short: "List, download, export and generate notes",
	}
	cmd.AddCommand(
		newNotesListCmd(),
		newNotesDownloadCmd(),
		newNotesExportCmd(),
		newNotesGenerateCmd(),
	)
	return cmd
}

func newNotesListCmd() *cobra.Command {
	var (
		query string
		kind  string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List generated notes",
		Args:  cobra.NoArgs,
		RunE: runWithApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			filter, err := catalog.ParseKindFilter(kind)
			if err != nil {
				return err
			}
			if _, err := a.Catalog.Refresh(cmd.Context()); err != nil {
				return a.Notifier.Failure("list notes", err)
			}
			records := a.Catalog.Filter(query, filter)
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no notes found")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTITLE\tSOURCE\tKIND\tCREATED\tMODEL")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.ID, r.Title, r.SourceName, r.SourceKind, formatTime(r.CreatedAt), r.ModelUsed)
			}
			return tw.Flush()
		}),
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "Case-insensitive search over title and source")
	cmd.Flags().StringVarP(&kind, "kind", "k", string(catalog.KindAll), "Filter by kind: all, video or document")
	return cmd
}

func newNotesDownloadCmd() *cobra.Command {
	var (
		format    string
		out       string
		toArchive bool
	)
	cmd := &cobra.Command{
		Use:   "download <note-id>",
		Short: "Download a note as PDF or Markdown",
		Args:  cobra.ExactArgs(1),
		RunE: runWithApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			noteID := args[0]
			f, err := model.ParseArtifactFormat(format)
			if err != nil {
				return err
			}
			action := fmt.Sprintf("download %s notes", f)
			data, err := a.Catalog.Download(cmd.Context(), noteID, f)
			if err != nil {
				return a.Notifier.Failure(action, err)
			}

			if toArchive {
				if !a.Config.Archive.Enabled() {
					return fmt.Errorf("archive is not configured (set NOTELY_S3_ENDPOINT and NOTELY_S3_BUCKET)")
				}
				arc, err := archive.New(a.Config.Archive)
				if err != nil {
					return err
				}
				if err := arc.EnsureBucket(cmd.Context()); err != nil {
					return a.Notifier.Failure("prepare archive", err)
				}
				stored, err := arc.Store(cmd.Context(), noteID, f, data)
				if err != nil {
					return a.Notifier.Failure("archive notes", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "archived %s (%d bytes)\n%s\n", stored.Key, stored.Size, stored.URL)
				return nil
			}

			if out == "" {
				out = noteID + f.Extension()
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return a.Notifier.Failure(action, err)
			}
			summary := fmt.Sprintf("saved %s (%d bytes)", filepath.Clean(out), len(data))
			if f == model.FormatPDF {
				if info, err := pdfutil.Inspect(data, pdfutil.DefaultPreviewLen); err == nil {
					summary += fmt.Sprintf(", %d pages", info.Pages)
				} else {
					a.Log.Warn("notes.download.inspect_failed", "note_id", noteID, "error", err)
				}
			}
			a.Notifier.Success(action, "%s", summary)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&format, "format", "f", string(model.FormatPDF), "Artifact format: pdf or md")
	cmd.Flags().StringVarP(&out, "output", "o", "", "Destination file (defaults to <note-id>.<ext>)")
	cmd.Flags().BoolVar(&toArchive, "archive", false, "Store the artifact in the configured S3 bucket instead of a local file")
	return cmd
}

func newNotesExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <note-id>",
		Short: "Export a note to Notion",
		Args:  cobra.ExactArgs(1),
		RunE: runWithApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			ok, err := a.Catalog.Export(cmd.Context(), args[0])
			if err != nil {
				return a.Notifier.Failure("export to Notion", err)
			}
			if !ok {
				return a.Notifier.Failure("export to Notion", fmt.Errorf("the service did not confirm the export"))
			}
			a.Notifier.Success("export to Notion", "note %s exported", args[0])
			return nil
		}),
	}
}

func newNotesGenerateCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "generate <source-id>",
		Short: "Generate notes for a processed video or document",
		Args:  cobra.ExactArgs(1),
		RunE: runWithApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			k, err := model.ParseSourceKind(kind)
			if err != nil {
				return err
			}
			noteID, err := a.Catalog.Generate(cmd.Context(), args[0], k)
			if err != nil {
				return a.Notifier.Failure("generate notes", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), noteID)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", string(model.SourceVideo), "Source kind: video or document")
	return cmd
}

func newDocumentsCmd() *cobra.Command {
	list := &cobra.Command{
		Use:   "list",
		Short: "List uploaded documents",
		Args:  cobra.NoArgs,
		RunE: runWithApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			docs, err := a.Catalog.Documents(cmd.Context())
			if err != nil {
				return a.Notifier.Failure("list documents", err)
			}
			if len(docs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no documents uploaded")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tTYPE\tSIZE\tUPLOADED\tSTATUS")
			for _, d := range docs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", d.ID, d.Name, d.Type, d.Size, formatTime(d.UploadedAt), d.Status)
			}
			return tw.Flush()
		}),
	}
	cmd := &cobra.Command{
		Use:   "documents",
		Short: "Inspect uploaded documents",
	}
	cmd.AddCommand(list)
	return cmd
}

func formatTime(ts model.Timestamp) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.Local().Format("2006-01-02 15:04")
}
