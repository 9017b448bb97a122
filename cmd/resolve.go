package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/resolve-cli/internal/batch"
	"github.com/sells-group/resolve-cli/internal/model"
)

var (
	resolveMeetingID   string
	resolveInput       string
	resolveEnrich      bool
	resolveBacklog     bool
	resolveConcurrency int
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve meeting participants against CRM leads",
	Long:  "Reads a participant list (JSON array) from a file or stdin, runs the matching cascade for each, provisions leads for unknowns, and queues uncertain matches for verification. With --backlog the input is a JSON array of {meeting_id, participants} objects resolved in sequence.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if resolveBacklog && resolveMeetingID != "" {
			return eris.New("--meeting and --backlog are mutually exclusive; backlog input carries its own meeting ids")
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		orch := env.Orchestrator
		if resolveConcurrency > 0 {
			orch = batch.NewOrchestrator(env.Pipeline, env.Provisioner, env.Store, resolveConcurrency).
				WithNewLeadReview(cfg.Verify.RequireNewLeadReview)
		}
		opts := batch.Options{UseEnrichment: resolveEnrich}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if resolveBacklog {
			meetings, err := readBacklog(resolveInput)
			if err != nil {
				return err
			}
			if len(meetings) == 0 {
				return eris.New("no meetings in backlog input")
			}

			result, err := orch.ResolveBacklog(ctx, meetings, opts)
			if err != nil {
				return eris.Wrap(err, "resolve backlog")
			}

			zap.L().Info("backlog resolution complete",
				zap.Int("meetings", len(result.Meetings)),
				zap.Int("failed", len(result.Failed)),
			)
			return eris.Wrap(enc.Encode(result), "encode result")
		}

		participants, err := readParticipants(resolveInput)
		if err != nil {
			return err
		}
		if len(participants) == 0 {
			return eris.New("no participants in input")
		}

		result, err := orch.Resolve(ctx, resolveMeetingID, participants, opts)
		if err != nil {
			return eris.Wrap(err, "resolve meeting")
		}

		zap.L().Info("resolution complete",
			zap.String("meeting_id", resolveMeetingID),
			zap.Int("matched", len(result.Matched)),
			zap.Int("new_leads", len(result.NewLeads)),
			zap.Int("pending_verification", len(result.PendingVerification)),
			zap.Int("skipped", len(result.Skipped)),
		)
		return eris.Wrap(enc.Encode(result), "encode result")
	},
}

// readParticipants loads the participant list from a JSON file, or from
// stdin when path is "-" or empty.
func readParticipants(path string) ([]model.ParticipantRecord, error) {
	r, closeFn, err := openInput(path)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	var participants []model.ParticipantRecord
	if err := json.NewDecoder(r).Decode(&participants); err != nil {
		return nil, eris.Wrap(err, "decode participants")
	}
	return participants, nil
}

// readBacklog loads a meeting list for backlog runs.
func readBacklog(path string) ([]batch.MeetingBatch, error) {
	r, closeFn, err := openInput(path)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	var meetings []batch.MeetingBatch
	if err := json.NewDecoder(r).Decode(&meetings); err != nil {
		return nil, eris.Wrap(err, "decode backlog")
	}
	return meetings, nil
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "open input %s", path)
	}
	return f, func() { _ = f.Close() }, nil
}

func init() {
	resolveCmd.Flags().StringVar(&resolveMeetingID, "meeting", "", "meeting identifier attached to verification requests")
	resolveCmd.Flags().StringVarP(&resolveInput, "input", "i", "-", "participant JSON file (- for stdin)")
	resolveCmd.Flags().BoolVar(&resolveEnrich, "enrich", false, "corroborate uncertain matches with profile enrichment")
	resolveCmd.Flags().BoolVar(&resolveBacklog, "backlog", false, "treat input as a backlog of meetings with their participants")
	resolveCmd.Flags().IntVar(&resolveConcurrency, "concurrency", 0, "parallel participant matches (default from config)")
	rootCmd.AddCommand(resolveCmd)
}
