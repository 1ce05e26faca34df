package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/git-stunts/git-warp/internal/verifier"
)

var verifySince string

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect and verify the tamper-evident audit chain",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Walk every writer's audit chain and report its integrity verdict",
	RunE:  runAuditVerify,
}

func init() {
	auditVerifyCmd.Flags().StringVar(&verifySince, "since", "", "stop the walk at this commit instead of genesis")
	auditCmd.AddCommand(auditVerifyCmd)
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	facade, closer, err := openFacade(ctx)
	if err != nil {
		return err
	}
	defer closer()

	if verifySince != "" {
		result := facade.VerifyWriterAudit(ctx, writerID(), verifySince)
		printChainResult(result)
		if result.Status != verifier.StatusValid && result.Status != verifier.StatusPartial {
			return fmt.Errorf("warp: audit chain for %s is %s", writerID(), result.Status)
		}
		return nil
	}

	all, err := facade.VerifyAudit(ctx)
	if err != nil {
		return fmt.Errorf("warp: audit verify: %w", err)
	}

	fmt.Printf("graph: %s\n", all.Graph)
	fmt.Printf("overall verdict: %s\n", all.IntegrityVerdict)
	fmt.Printf("%s\n", all.Summary)
	for writer, chain := range all.Chains {
		fmt.Printf("\nwriter %s:\n", writer)
		printChainResult(chain)
	}

	if all.IntegrityVerdict != verifier.StatusValid {
		return fmt.Errorf("warp: audit verification found integrity issues")
	}
	return nil
}

func printChainResult(result verifier.ChainResult) {
	fmt.Printf("  status: %s\n", result.Status)
	fmt.Printf("  receipts walked: %d\n", result.ReceiptsWalked)
	if result.StoppedAt != "" {
		fmt.Printf("  stopped at: %s\n", result.StoppedAt)
	}
	for _, issue := range result.Errors {
		fmt.Printf("  error: %s at %s: %s\n", issue.Code, issue.Commit, issue.Detail)
	}
	for _, issue := range result.Warnings {
		fmt.Printf("  warning: %s at %s: %s\n", issue.Code, issue.Commit, issue.Detail)
	}
}
