package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"genqueue/internal/domain"
)

var (
	prompt     string
	width      int
	height     int
	count      int
	seed       int64
	mode       string
	references []string

	waitForJob   bool
	pollInterval time.Duration
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a new generation job",
	Long:  `Submit an image generation job. Reference images switch the job to the edit endpoint.`,
	RunE:  runSubmit,
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs in creation order",
	Args:  cobra.NoArgs,
	RunE:  runJobsList,
}

var jobsGetCmd = &cobra.Command{
	Use:   "get <job-id>",
	Short: "Show one job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsGet,
}

var jobsDismissCmd = &cobra.Command{
	Use:   "dismiss <job-id>",
	Short: "Remove a completed or failed job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsDelete,
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a job that has not started",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsDelete,
}

var jobsRetryCmd = &cobra.Command{
	Use:   "retry <job-id>",
	Short: "Submit a finished job's request again",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsRetry,
}

var jobsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all completed and failed jobs",
	Args:  cobra.NoArgs,
	RunE:  runJobsClear,
}

func init() {
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd, jobsGetCmd, jobsDismissCmd, jobsCancelCmd, jobsRetryCmd, jobsClearCmd)

	submitCmd.Flags().StringVar(&prompt, "prompt", "", "prompt text (required)")
	submitCmd.Flags().IntVar(&width, "width", 1024, "image width in pixels")
	submitCmd.Flags().IntVar(&height, "height", 1024, "image height in pixels")
	submitCmd.Flags().IntVar(&count, "count", 1, "number of images")
	submitCmd.Flags().Int64Var(&seed, "seed", -1, "seed (negative lets the provider choose)")
	submitCmd.Flags().StringVar(&mode, "mode", "standard", "generation mode (standard, turbo)")
	submitCmd.Flags().StringSliceVar(&references, "ref", nil, "reference image URL, in priority order (repeatable)")
	submitCmd.Flags().BoolVar(&waitForJob, "wait", false, "poll until the job finishes")
	submitCmd.Flags().DurationVar(&pollInterval, "poll", 2*time.Second, "poll interval used with --wait")
	_ = submitCmd.MarkFlagRequired("prompt")
}

func buildSubmitRequest() domain.GenerationRequest {
	req := domain.GenerationRequest{
		Prompt: prompt,
		Width:  width,
		Height: height,
		Count:  count,
		Mode:   domain.Mode(mode),
	}
	if seed >= 0 {
		s := seed
		req.Seed = &s
	}
	for i, ref := range references {
		req.References = append(req.References, domain.ReferenceImage{URL: ref, Priority: i})
	}
	return req
}

func runSubmit(cmd *cobra.Command, args []string) error {
	client := newClient()
	resp, err := client.Submit(cmd.Context(), buildSubmitRequest())
	if err != nil {
		if IsQueueFull(err) {
			return fmt.Errorf("%w; wait for running jobs or dismiss finished ones", err)
		}
		return err
	}
	out := cmd.OutOrStdout()
	if !waitForJob {
		if isJSONOutput() {
			return writeJSON(out, resp)
		}
		fmt.Fprintf(out, "Job %s %s\n", resp.JobID, resp.Status)
		return nil
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		job, err := client.Get(cmd.Context(), resp.JobID)
		if err != nil {
			return err
		}
		if job.Status.IsTerminal() {
			return printJob(out, job)
		}
		if !isJSONOutput() {
			fmt.Fprintf(out, "%s %s %.0f%%\n", job.ID, job.Status, job.Progress)
		}
		select {
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		case <-ticker.C:
		}
	}
}

func runJobsList(cmd *cobra.Command, args []string) error {
	list, err := newClient().List(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if isJSONOutput() {
		return writeJSON(out, list)
	}
	if len(list.Jobs) == 0 {
		fmt.Fprintln(out, "No jobs")
		return nil
	}

	table := tablewriter.NewWriter(out)
	table.Header("ID", "Status", "Progress", "Mode", "Size", "Images", "Prompt", "Error")
	for _, job := range list.Jobs {
		_ = table.Append([]string{
			job.ID,
			string(job.Status),
			fmt.Sprintf("%.0f%%", job.Progress),
			string(job.Request.Mode),
			fmt.Sprintf("%dx%d", job.Request.Width, job.Request.Height),
			fmt.Sprintf("%d/%d", len(job.Results), job.Request.Count),
			truncate(job.Request.Prompt, 40),
			jobError(job),
		})
	}
	if err := table.Render(); err != nil {
		return err
	}
	if list.Capacity > 0 {
		active := list.Counts[domain.JobStatusQueued] + list.Counts[domain.JobStatusProcessing]
		fmt.Fprintf(out, "%d/%d queue slots in use\n", active, list.Capacity)
	}
	return nil
}

func runJobsGet(cmd *cobra.Command, args []string) error {
	job, err := newClient().Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printJob(cmd.OutOrStdout(), job)
}

func runJobsDelete(cmd *cobra.Command, args []string) error {
	if err := newClient().Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Job %s removed\n", args[0])
	return nil
}

func runJobsRetry(cmd *cobra.Command, args []string) error {
	resp, err := newClient().Retry(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if isJSONOutput() {
		return writeJSON(cmd.OutOrStdout(), resp)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Job %s queued as %s\n", args[0], resp.JobID)
	return nil
}

func runJobsClear(cmd *cobra.Command, args []string) error {
	removed, err := newClient().Clear(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d finished jobs\n", removed)
	return nil
}

func printJob(out io.Writer, job domain.JobRecord) error {
	if isJSONOutput() {
		return writeJSON(out, job)
	}
	table := tablewriter.NewWriter(out)
	table.Header("Property", "Value")
	_ = table.Append([]string{"ID", job.ID})
	_ = table.Append([]string{"Status", string(job.Status)})
	_ = table.Append([]string{"Progress", fmt.Sprintf("%.0f%%", job.Progress)})
	_ = table.Append([]string{"Prompt", job.Request.Prompt})
	_ = table.Append([]string{"Size", fmt.Sprintf("%dx%d", job.Request.Width, job.Request.Height)})
	_ = table.Append([]string{"Created", job.CreatedAt.Format(time.RFC3339)})
	if job.CompletedAt != nil {
		_ = table.Append([]string{"Completed", job.CompletedAt.Format(time.RFC3339)})
	}
	if e := jobError(job); e != "" {
		_ = table.Append([]string{"Error", e})
	}
	if job.Notice != "" {
		_ = table.Append([]string{"Notice", job.Notice})
	}
	for i, res := range job.Results {
		_ = table.Append([]string{fmt.Sprintf("Image %d", i+1), res.URL})
	}
	return table.Render()
}

func jobError(job domain.JobRecord) string {
	if job.Error == "" {
		return ""
	}
	if job.ErrorKind != "" {
		return string(job.ErrorKind) + ": " + job.Error
	}
	return job.Error
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

