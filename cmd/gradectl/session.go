package main

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"

	"gradeflow/internal/client"
	"gradeflow/internal/model"
)

func newTokenCmd(flags *globalFlags) *cobra.Command {
	var caller string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Exchange the API key for a bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := flags.client().Token(cmd.Context(), flags.credential, caller)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", tok.Token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", tok.ExpiresAt.Format("2006-01-02 15:04:05 MST"))
			return nil
		},
	}
	cmd.Flags().StringVar(&caller, "caller", "gradectl", "caller name recorded in the token")
	return cmd
}

func newCreateCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Open a new grading session",
		RunE: func(cmd *cobra.Command, args []string) error {
			created, err := flags.client().CreateSession(cmd.Context(), sessionRequest())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\texpires %s\n", created.SessionID, created.Status, created.ExpiresAt.Format("15:04:05 MST"))
			return nil
		},
	}
}

func newUploadCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <session-id> <subject|reference> <image-file>",
		Short: "Upload a screenshot and print its extracted text",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := upload(cmd, flags.client(), args[0], model.AnswerRole(args[1]), args[2])
			if err != nil {
				return err
			}
			printUpload(cmd.OutOrStdout(), model.AnswerRole(args[1]), res)
			return nil
		},
	}
}

func newGradeCmd(flags *globalFlags) *cobra.Command {
	var (
		subjectText   string
		referenceText string
		wait          bool
	)
	cmd := &cobra.Command{
		Use:   "grade <session-id>",
		Short: "Start grading a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := flags.client()
			accepted, err := c.TriggerGrading(cmd.Context(), client.TriggerRequest{
				SessionID:             args[0],
				SubjectTextOverride:   subjectText,
				ReferenceTextOverride: referenceText,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "grading %s accepted, estimated %dms\n", accepted.GradingID, accepted.EstimatedCompletionTimeMs)
			if !wait {
				return nil
			}
			return waitAndPrint(cmd, c, accepted.GradingID)
		},
	}
	cmd.Flags().StringVar(&subjectText, "subject-text", "", "use this text instead of the subject OCR result")
	cmd.Flags().StringVar(&referenceText, "reference-text", "", "use this text instead of the reference OCR result")
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until grading finishes")
	return cmd
}

func newStatusCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status <grading-id>",
		Short: "Show the current processing status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := flags.client().Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), status)
			return nil
		},
	}
}

func newResultsCmd(flags *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "results <session-id>",
		Short: "Print the grading result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := flags.client().Results(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}
			printResults(cmd.OutOrStdout(), results)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw result as JSON")
	return cmd
}

func newDeleteCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.client().Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

// newRunCmd drives the whole flow: create, upload both answers, grade, wait.
func newRunCmd(flags *globalFlags) *cobra.Command {
	var keep bool
	cmd := &cobra.Command{
		Use:   "run <subject-image> <reference-image>",
		Short: "Grade a subject screenshot against a reference screenshot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := flags.client()
			out := cmd.OutOrStdout()

			created, err := c.CreateSession(cmd.Context(), sessionRequest())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "session %s\n", created.SessionID)
			if !keep {
				defer func() {
					if err := c.Delete(cmd.Context(), created.SessionID); err != nil && !client.IsCode(err, "SESSION_NOT_FOUND") {
						fmt.Fprintf(cmd.ErrOrStderr(), "delete session failed: %v\n", err)
					}
				}()
			}

			roles := []model.AnswerRole{model.RoleSubject, model.RoleReference}
			var ready bool
			for i, role := range roles {
				res, err := upload(cmd, c, created.SessionID, role, args[i])
				if err != nil {
					return err
				}
				printUpload(out, role, res)
				ready = res.ReadyForGrading
			}
			if !ready {
				return fmt.Errorf("session %s is not ready for grading", created.SessionID)
			}

			accepted, err := c.TriggerGrading(cmd.Context(), client.TriggerRequest{SessionID: created.SessionID})
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "grading, estimated %dms\n", accepted.EstimatedCompletionTimeMs)
			if err := waitAndPrint(cmd, c, accepted.GradingID); err != nil {
				return err
			}

			results, err := c.Results(cmd.Context(), created.SessionID)
			if err != nil {
				return err
			}
			printResults(out, results)
			return nil
		},
	}
	cmd.Flags().BoolVar(&keep, "keep", false, "keep the session after printing the result")
	return cmd
}

func sessionRequest() client.CreateSessionRequest {
	return client.CreateSessionRequest{
		UserAgent:     "gradectl/" + Version,
		ClientVersion: Version,
		Platform:      runtime.GOOS,
	}
}

func upload(cmd *cobra.Command, c *client.Client, sessionID string, role model.AnswerRole, path string) (*client.UploadResult, error) {
	imageData, err := client.ReadImageFile(path)
	if err != nil {
		return nil, err
	}
	return c.UploadScreenshot(cmd.Context(), sessionID, role, imageData)
}

func waitAndPrint(cmd *cobra.Command, c *client.Client, gradingID string) error {
	status, err := c.WaitForGrading(cmd.Context(), gradingID)
	if status != nil {
		printStatus(cmd.OutOrStdout(), status)
	}
	return err
}

func printUpload(w io.Writer, role model.AnswerRole, res *client.UploadResult) {
	fmt.Fprintf(w, "%s screenshot %s -> %s (ready: %t)\n", role, res.ScreenshotID, res.SessionStatus, res.ReadyForGrading)
	if res.OCRResult != nil {
		fmt.Fprintf(w, "  text: %s\n", res.OCRResult.ExtractedText)
	}
}

func printStatus(w io.Writer, status *client.Status) {
	fmt.Fprintf(w, "%s\t%s", status.SessionID, status.Status)
	if status.LastStep != nil {
		fmt.Fprintf(w, "\t%s/%s", status.LastStep.Name, status.LastStep.PhaseStatus)
	}
	fmt.Fprintln(w)
	if reason := status.FailureReason(); reason != "" && status.Status == model.StatusError {
		fmt.Fprintf(w, "  error: %s\n", reason)
	}
}

func printResults(w io.Writer, results *client.Results) {
	if results.GradingResult == nil {
		fmt.Fprintf(w, "%s\t%s\tno grading result\n", results.SessionID, results.Status)
		return
	}
	r := results.GradingResult
	fmt.Fprintf(w, "score %.1f / %.1f (confidence %.2f)\n", r.Score, r.MaxScore, r.Confidence)
	if r.FeedbackSummary != "" {
		fmt.Fprintf(w, "feedback: %s\n", r.FeedbackSummary)
	}
	if r.SuggestedMessage != "" {
		fmt.Fprintf(w, "message:  %s\n", r.SuggestedMessage)
	}
	for _, item := range r.RubricBreakdown {
		fmt.Fprintf(w, "  - %s: %.1f/%.1f\n", item.Criterion, item.PointsAwarded, item.PointsPossible)
	}
}
