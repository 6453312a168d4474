package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/webfabrica/leadgen-cli/internal/lifecycle"
	"github.com/webfabrica/leadgen-cli/internal/model"
)

var (
	stageID       string
	stageName     string
	stageResult   string
	stageArtifact string
	stageActor    string
)

var stageCmd = &cobra.Command{
	Use:   "stage",
	Short: "Report a stage event for a business",
	Long: `Reports a collaborator stage event. --result started moves the
business into the stage's working status, success advances it and
records any artifact, failure counts a retry and flags the business
after the limit is exhausted.

Examples:
  leadgen stage --id <uuid> --stage generation --result started
  leadgen stage --id <uuid> --stage deployment --result success --artifact https://site.example.py
  leadgen stage --id <uuid> --stage outreach --result failure`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		stage := model.Stage(stageName)
		if !stage.Valid() {
			return eris.Errorf("stage: unknown stage %q", stageName)
		}
		result := lifecycle.StageResult(stageResult)
		if !result.Valid() {
			return eris.Errorf("stage: unknown result %q", stageResult)
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := newLifecycle(st).ReportStage(ctx, stageID, stage, result, stageArtifact, stageActor); err != nil {
			return err
		}
		zap.L().Info("stage event recorded",
			zap.String("business_id", stageID),
			zap.String("stage", stageName),
			zap.String("result", stageResult),
		)
		return nil
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject",
	Short: "Reject a business out of the pipeline",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		return newLifecycle(st).Reject(ctx, stageID, stageActor)
	},
}

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Archive a business out of the pipeline",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		return newLifecycle(st).Archive(ctx, stageID, stageActor)
	},
}

var resetStageCmd = &cobra.Command{
	Use:   "reset-stage",
	Short: "Clear retry bookkeeping so a failed stage can be retried",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		stage := model.Stage(stageName)
		if !stage.Valid() {
			return eris.Errorf("reset-stage: unknown stage %q", stageName)
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		return newLifecycle(st).ResetStage(ctx, stageID, stage)
	},
}

func init() {
	stageCmd.Flags().StringVar(&stageID, "id", "", "business id (required)")
	stageCmd.Flags().StringVar(&stageName, "stage", "", "stage name (required)")
	stageCmd.Flags().StringVar(&stageResult, "result", "", "started, success, or failure (required)")
	stageCmd.Flags().StringVar(&stageArtifact, "artifact", "", "artifact URL for deployment success")
	stageCmd.Flags().StringVar(&stageActor, "actor", "system", "actor recorded in the status history")
	_ = stageCmd.MarkFlagRequired("id")
	_ = stageCmd.MarkFlagRequired("stage")
	_ = stageCmd.MarkFlagRequired("result")

	for _, c := range []*cobra.Command{rejectCmd, archiveCmd, resetStageCmd} {
		c.Flags().StringVar(&stageID, "id", "", "business id (required)")
		c.Flags().StringVar(&stageActor, "actor", "operator", "actor recorded in the status history")
		_ = c.MarkFlagRequired("id")
	}
	resetStageCmd.Flags().StringVar(&stageName, "stage", "", "stage name (required)")
	_ = resetStageCmd.MarkFlagRequired("stage")

	rootCmd.AddCommand(stageCmd, rejectCmd, archiveCmd, resetStageCmd)
}
