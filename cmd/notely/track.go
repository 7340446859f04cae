package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/notely/internal/app"
	"github.com/dharsanguruparan/notely/internal/model"
	"github.com/dharsanguruparan/notely/internal/tracker"
	"github.com/dharsanguruparan/notely/internal/upload"
)

func newSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a video or document for note generation",
	}
	cmd.AddCommand(newSubmitVideoCmd(), newSubmitDocumentCmd())
	return cmd
}

func newSubmitVideoCmd() *cobra.Command {
	var (
		videoURL string
		file     string
		interval int
		smart    bool
		noWait   bool
	)
	cmd := &cobra.Command{
		Use:   "video",
		Short: "Submit a video by URL or local file",
		Args:  cobra.NoArgs,
		RunE: runWithApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			in := upload.VideoInput{URL: videoURL, FilePath: file}
			if cmd.Flags().Changed("interval") {
				in.ScreenshotInterval = &interval
			}
			if cmd.Flags().Changed("smart") {
				in.SmartMode = &smart
			}
			if !noWait {
				a.Poller.Subscribe(progressPrinter(cmd.OutOrStdout()))
			}
			unit, err := a.Uploads.SubmitVideo(cmd.Context(), in)
			if err != nil {
				return a.Notifier.Failure("submit video", err)
			}
			return finish(cmd, a, unit, noWait)
		}),
	}
	cmd.Flags().StringVar(&videoURL, "url", "", "Video URL")
	cmd.Flags().StringVar(&file, "file", "", "Local video file")
	cmd.Flags().IntVar(&interval, "interval", upload.DefaultScreenshotInterval, "Seconds between screenshots")
	cmd.Flags().BoolVar(&smart, "smart", true, "Let the service pick screenshot moments")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Print the job id and exit without tracking")
	cmd.MarkFlagsMutuallyExclusive("url", "file")
	return cmd
}

func newSubmitDocumentCmd() *cobra.Command {
	var noWait bool
	cmd := &cobra.Command{
		Use:   "document <file>",
		Short: "Upload a .pdf or .docx document",
		Args:  cobra.ExactArgs(1),
		RunE: runWithApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			if !noWait {
				a.Poller.Subscribe(progressPrinter(cmd.OutOrStdout()))
			}
			unit, err := a.Uploads.SubmitDocument(cmd.Context(), upload.DocumentInput{FilePath: args[0]})
			if err != nil {
				return a.Notifier.Failure("upload document", err)
			}
			return finish(cmd, a, unit, noWait)
		}),
	}
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Print the document id and exit without tracking")
	return cmd
}

func newWatchCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "watch <id>",
		Short: "Follow the processing of a submitted unit until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: runWithApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			k, err := model.ParseSourceKind(kind)
			if err != nil {
				return err
			}
			a.Poller.Subscribe(progressPrinter(cmd.OutOrStdout()))
			if err := a.Watch(cmd.Context(), k, args[0]); err != nil {
				return err
			}
			return wait(cmd, a, args[0])
		}),
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", string(model.SourceVideo), "Unit kind: video or document")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var (
		kind   string
		legacy bool
	)
	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Print the current progress of a unit once",
		Args:  cobra.ExactArgs(1),
		RunE: runWithApp(func(cmd *cobra.Command, a *app.App, args []string) error {
			out := cmd.OutOrStdout()
			if legacy {
				st, err := a.Gateway.JobStatus(cmd.Context(), args[0])
				if err != nil {
					return a.Notifier.Failure("fetch job status", err)
				}
				progress := "-"
				if st.Progress != nil {
					progress = fmt.Sprintf("%d%%", *st.Progress)
				}
				fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", st.JobID, st.Status, progress, st.Message)
				return nil
			}
			k, err := model.ParseSourceKind(kind)
			if err != nil {
				return err
			}
			rep, err := a.Gateway.Progress(cmd.Context(), k, args[0])
			if err != nil {
				return a.Notifier.Failure("fetch progress", err)
			}
			fmt.Fprintf(out, "%s\t%d%%\t%s\t%s\n", args[0], rep.Progress, rep.Stage, rep.Message)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", string(model.SourceVideo), "Unit kind: video or document")
	cmd.Flags().BoolVar(&legacy, "legacy", false, "Query the discrete job status endpoint (videos only)")
	return cmd
}

func finish(cmd *cobra.Command, a *app.App, unit model.UnitOfWork, noWait bool) error {
	if noWait {
		a.Poller.Stop(unit.ID)
		fmt.Fprintln(cmd.OutOrStdout(), unit.ID)
		return nil
	}
	return wait(cmd, a, unit.ID)
}

func wait(cmd *cobra.Command, a *app.App, id string) error {
	st, err := a.Poller.Wait(cmd.Context(), id)
	var tf *tracker.TerminalFailure
	switch {
	case err == nil:
		fmt.Fprintf(cmd.OutOrStdout(), "%s completed, %d notes available (notely notes list)\n", id, len(a.Catalog.Records()))
		return nil
	case errors.As(err, &tf):
		// The failure notification was already printed by the observer.
		return &exitError{err: err}
	case cmd.Context().Err() != nil:
		a.Poller.Stop(id)
		return fmt.Errorf("stopped tracking %s at %d%% (%s); resume with: notely watch %s --kind %s",
			id, st.Progress, st.Stage, id, st.Kind)
	}
	return err
}

func progressPrinter(w io.Writer) tracker.Observer {
	return func(ev tracker.Event) {
		st := ev.Status
		switch {
		case ev.To == model.StatePending:
			fmt.Fprintf(w, "%s %s submitted, waiting for progress\n", st.Kind, st.UnitID)
		case ev.To == model.StateFailed:
			fmt.Fprintf(w, "%s failed: %s\n", st.UnitID, st.Message)
		default:
			fmt.Fprintf(w, "%s %3d%% %s\n", st.UnitID, st.Progress, st.Stage)
		}
	}
}
