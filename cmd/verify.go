package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/resolve-cli/internal/model"
)

var (
	verifyReviewer  string
	verifyNote      string
	verifyLeadID    string
	verifyOutput    string
	verifyOverdueH  int
	verifyThreshold float64
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Review and resolve pending verification requests",
}

var verifyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending verification requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		pending, err := env.Workflow.ListPending(cmd.Context(), verifyReviewer)
		if err != nil {
			return err
		}
		return printRequests(pending)
	},
}

var verifyOverdueCmd = &cobra.Command{
	Use:   "overdue",
	Short: "List pending requests older than the overdue window",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		hours := verifyOverdueH
		if hours <= 0 {
			hours = cfg.Verify.OverdueHours
		}
		overdue, err := env.Workflow.ListOverdue(cmd.Context(), time.Duration(hours)*time.Hour)
		if err != nil {
			return err
		}
		return printRequests(overdue)
	},
}

var verifyApproveMatchCmd = &cobra.Command{
	Use:   "approve-match <request-id>",
	Short: "Approve a request as a match against a lead",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		leadID := verifyLeadID
		if leadID == "" {
			req, err := env.Store.GetVerification(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if req.CandidateLeadID == "" {
				return eris.New("request has no candidate lead, pass --lead")
			}
			leadID = req.CandidateLeadID
		}

		updated, err := env.Workflow.ApproveMatch(cmd.Context(), args[0], leadID, verifyReviewer, verifyNote)
		if err != nil {
			return err
		}
		fmt.Printf("approved %s as match to lead %s\n", updated.ID, updated.ResolvedLeadID)
		return nil
	},
}

var verifyApproveNewLeadCmd = &cobra.Command{
	Use:   "approve-new-lead <request-id>",
	Short: "Approve a request by creating a new lead from its participant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		updated, lead, err := env.Workflow.ApproveNewLead(cmd.Context(), args[0], verifyReviewer, verifyNote)
		if err != nil {
			return err
		}
		fmt.Printf("approved %s, created lead %s (%s)\n", updated.ID, lead.ID, lead.Email)
		return nil
	},
}

var verifyRejectCmd = &cobra.Command{
	Use:   "reject <request-id>",
	Short: "Reject a request, leaving the participant unresolved",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		updated, err := env.Workflow.Reject(cmd.Context(), args[0], verifyReviewer, verifyNote)
		if err != nil {
			return err
		}
		fmt.Printf("rejected %s\n", updated.ID)
		return nil
	},
}

var verifyBulkApproveCmd = &cobra.Command{
	Use:   "bulk-approve",
	Short: "Approve all pending requests at or above a confidence threshold",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		threshold := verifyThreshold
		if threshold <= 0 {
			threshold = cfg.Verify.BulkThreshold
		}

		result, err := env.Workflow.BulkApproveAbove(cmd.Context(), threshold, verifyReviewer)
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

// printRequests renders verification requests in the selected format.
func printRequests(reqs []model.VerificationRequest) error {
	switch verifyOutput {
	case "json":
		return printJSON(reqs)
	case "yaml":
		out, err := yaml.Marshal(reqs)
		if err != nil {
			return eris.Wrap(err, "marshal yaml")
		}
		fmt.Print(string(out))
		return nil
	default:
		if len(reqs) == 0 {
			fmt.Println("no pending requests")
			return nil
		}
		fmt.Printf("%-36s  %-24s  %-12s  %10s  %s\n", "ID", "PARTICIPANT", "METHOD", "CONFIDENCE", "AGE")
		now := time.Now()
		for _, r := range reqs {
			who := r.Participant.Email
			if who == "" {
				who = r.Participant.Name
			}
			fmt.Printf("%-36s  %-24s  %-12s  %10.2f  %s\n",
				r.ID, who, r.Method, r.Confidence, now.Sub(r.CreatedAt).Round(time.Minute))
		}
		return nil
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "encode json")
}

func init() {
	verifyCmd.PersistentFlags().StringVar(&verifyReviewer, "reviewer", "", "reviewer identity recorded on resolution")
	verifyCmd.PersistentFlags().StringVarP(&verifyOutput, "output", "o", "table", "output format: table, json, or yaml")

	verifyOverdueCmd.Flags().IntVar(&verifyOverdueH, "hours", 0, "overdue window in hours (default from config)")
	verifyApproveMatchCmd.Flags().StringVar(&verifyLeadID, "lead", "", "lead to match (default: the request's candidate)")
	verifyApproveMatchCmd.Flags().StringVar(&verifyNote, "note", "", "resolution note")
	verifyApproveNewLeadCmd.Flags().StringVar(&verifyNote, "note", "", "resolution note")
	verifyRejectCmd.Flags().StringVar(&verifyNote, "note", "", "resolution note")
	verifyBulkApproveCmd.Flags().Float64Var(&verifyThreshold, "threshold", 0, "confidence floor (default from config)")

	verifyCmd.AddCommand(verifyListCmd, verifyOverdueCmd, verifyApproveMatchCmd,
		verifyApproveNewLeadCmd, verifyRejectCmd, verifyBulkApproveCmd)
	rootCmd.AddCommand(verifyCmd)
}
