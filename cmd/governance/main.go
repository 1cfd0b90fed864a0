// Command governance is the thin CLI runner for the governance workflow
// engine: one subcommand per stage (issue, lld, impl), each wiring the C1-C10
// primitives into a graph.Graph and driving it to completion or to a
// cooperative pause. Grounded on the gh-aw reference CLI's cobra.Command
// structure (root command with per-verb subcommands, persistent flags for
// cross-cutting concerns), since the teacher itself is a Mattermost plugin
// with no CLI entrypoint to imitate directly.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nickmisasi/governance-engine/audit"
	"github.com/nickmisasi/governance-engine/checkpoint"
	"github.com/nickmisasi/governance-engine/config"
	"github.com/nickmisasi/governance-engine/editor"
	"github.com/nickmisasi/governance-engine/gate"
	"github.com/nickmisasi/governance-engine/govlog"
	"github.com/nickmisasi/governance-engine/llm"
	"github.com/nickmisasi/governance-engine/logging"
	"github.com/nickmisasi/governance-engine/node"
	"github.com/nickmisasi/governance-engine/revision"
	"github.com/nickmisasi/governance-engine/stage"
	"github.com/nickmisasi/governance-engine/tracker"
)

// runFlags are the flags common to every stage subcommand, per spec §6's
// CLI surface: "--brief <path> or --issue <id>; --resume; --auto; --mock;
// --repo <owner/repo>".
type runFlags struct {
	brief      string
	issue      string
	resume     bool
	auto       bool
	mock       bool
	repo       string
	configPath string
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.brief, "brief", "", "path to a brief file (issue stage only)")
	cmd.Flags().StringVar(&f.issue, "issue", "", "external tracker id to operate on, or to resume")
	cmd.Flags().BoolVar(&f.resume, "resume", false, "resume a paused instance instead of starting fresh")
	cmd.Flags().BoolVar(&f.auto, "auto", false, "decide every gate from state without opening an editor")
	cmd.Flags().BoolVar(&f.mock, "mock", false, "run against deterministic fixtures, no network calls")
	cmd.Flags().StringVar(&f.repo, "repo", "", "owner/repo the tracker and checkpoint store resolve against")
	cmd.Flags().StringVar(&f.configPath, "config", "", "path to a governance config.yaml (default: none, env+defaults only)")
}

func (f *runFlags) repoOwnerName() (owner, name string) {
	parts := strings.SplitN(f.repo, "/", 2)
	if len(parts) != 2 {
		return "", ""
	}
	return parts[0], parts[1]
}

func main() {
	root := &cobra.Command{
		Use:           "governance",
		Short:         "Drive the governance workflow engine's Issue, LLD, and Implementation stages",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().Bool("debug", false, "enable debug logging")

	root.AddCommand(
		newStageCommand("issue", "Draft and file an issue from a brief", runIssueStage),
		newStageCommand("lld", "Draft a low-level design for an issue", runLLDStage),
		newStageCommand("impl", "Draft and test-first implement an approved design", runImplStage),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "governance:", err)
		os.Exit(exitCodeFor(err))
	}
}

func newStageCommand(use, short string, run func(cmd *cobra.Command, flags *runFlags) error) *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, flags)
		},
	}
	flags.register(cmd)
	return cmd
}

// exitCodeFor returns 0 for a nil error and 1 for any error. Routed terminal
// errors are not told apart by their taxonomy prefix; every one of them, and
// every other error, exits with the same nonzero code.
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	return 1
}

// newLogger, loadConfig, newDeps and newCheckpointStore wire the ambient
// stack the same way for every stage subcommand.

func newLogger(cmd *cobra.Command, cfg config.Config) logging.Logger {
	debug, _ := cmd.Flags().GetBool("debug")
	return logging.NewStderr(debug || cfg.EnableDebugLogging)
}

func loadConfig(flags *runFlags) (config.Config, error) {
	return config.Load(flags.configPath)
}

func newDeps(cmd *cobra.Command, flags *runFlags, cfg config.Config, st node.Stage) (stage.Deps, error) {
	log := newLogger(cmd, cfg)
	owner, repoName := flags.repoOwnerName()

	auditStore := audit.New(log)

	var gl *govlog.Logger
	if !flags.mock {
		logPath := filepath.Join(".governance", "log", string(st)+".jsonl")
		gl = govlog.Open(govlog.Options{
			Path:       logPath,
			MaxSizeMB:  cfg.GovernanceLogMaxSizeMB,
			MaxBackups: cfg.GovernanceLogMaxBackups,
			MaxAgeDays: cfg.GovernanceLogMaxAgeDays,
		})
	}

	deps := stage.Deps{
		Audit:         auditStore,
		GovLog:        gl,
		Log:           log,
		Revision:      revision.New(cfg.MaxIterations),
		LineageRoot:   filepath.Join(".", "docs", "lineage"),
		RepoRoot:      ".",
		EditorTimeout: cfg.EditorTimeout(),
		Decider:       editor.NewStdinDecider(),
		Editor:        editor.New(editor.DefaultCommand(), log),
	}

	if flags.mock {
		deps.Tests = stage.MockTestRunner{ExitCode: 0}
		return deps, nil
	}

	deps.Drafter = llm.NewClient(cfg.DrafterAPIKey, "", llm.WithLogger(log))
	deps.Reviewer = llm.NewClient(cfg.ReviewerAPIKey, "", llm.WithLogger(log), llm.WithZeroRetention())
	if owner != "" && repoName != "" {
		deps.Tracker = tracker.NewClient(cfg.TrackerToken, owner, repoName)
	}
	deps.Tests = stage.ExecTestRunner{Program: "go", Args: []string{"test", "./..."}}
	return deps, nil
}

func newCheckpointStore(st node.Stage, repoRoot string, cfg config.Config, log logging.Logger) (*checkpoint.BoltStore, error) {
	path, err := checkpoint.ResolvePath(st, repoRoot, cfg.CheckpointStoreOverride)
	if err != nil {
		return nil, err
	}
	return checkpoint.Open(path, log)
}

func runIssueStage(cmd *cobra.Command, flags *runFlags) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	deps, err := newDeps(cmd, flags, cfg, node.StageIssue)
	if err != nil {
		return err
	}

	store, err := newCheckpointStore(node.StageIssue, deps.RepoRoot, cfg, deps.Log)
	if err != nil {
		return err
	}
	defer store.Close()

	g := stage.BuildIssueGraph(deps, store)

	initial := node.State{
		Stage:    node.StageIssue,
		AutoMode: flags.auto,
		MockMode: flags.mock,
	}
	if flags.resume {
		initial.ExternalID = flags.issue
		initial.Slug = slugFromBriefFlag(flags.brief)
	} else {
		if flags.brief == "" {
			return fmt.Errorf("issue stage requires --brief <path> unless --resume is set")
		}
		initial.SourcePath = flags.brief
	}

	return runAndReport(cmd, g, initial)
}

func runLLDStage(cmd *cobra.Command, flags *runFlags) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	deps, err := newDeps(cmd, flags, cfg, node.StageLLD)
	if err != nil {
		return err
	}

	store, err := newCheckpointStore(node.StageLLD, deps.RepoRoot, cfg, deps.Log)
	if err != nil {
		return err
	}
	defer store.Close()

	lldRoot := filepath.Join(deps.RepoRoot, "docs", "lld")
	g := stage.BuildLLDGraph(deps, store, lldRoot)

	if flags.issue == "" {
		return fmt.Errorf("lld stage requires --issue <id>")
	}
	initial := node.State{
		Stage:      node.StageLLD,
		ExternalID: flags.issue,
		AutoMode:   flags.auto,
		MockMode:   flags.mock,
	}

	return runAndReport(cmd, g, initial)
}

func runImplStage(cmd *cobra.Command, flags *runFlags) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	deps, err := newDeps(cmd, flags, cfg, node.StageImpl)
	if err != nil {
		return err
	}

	store, err := newCheckpointStore(node.StageImpl, deps.RepoRoot, cfg, deps.Log)
	if err != nil {
		return err
	}
	defer store.Close()

	g := stage.BuildImplGraph(deps, store)

	if flags.issue == "" {
		return fmt.Errorf("impl stage requires --issue <id>")
	}
	initial := node.State{
		Stage:      node.StageImpl,
		ExternalID: flags.issue,
		RepoRoot:   deps.RepoRoot,
		AutoMode:   flags.auto,
		MockMode:   flags.mock,
	}
	if !flags.resume {
		approvedPath := filepath.Join(deps.RepoRoot, "docs", "lld", "active", "LLD-"+flags.issue+".md")
		if _, err := os.Stat(approvedPath); err == nil {
			initial.SourcePath = approvedPath
		}
	}

	return runAndReport(cmd, g, initial)
}

// runAndReport drives the graph to completion (or a clean pause) and prints
// the final instance's outcome, matching the exit-code contract of spec §6.
func runAndReport(cmd *cobra.Command, g interface {
	Run(ctx context.Context, initial node.State) (node.State, error)
}, initial node.State) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	final, err := g.Run(ctx, initial)
	if err != nil {
		// A cooperative pause is not a failure: the instance is parked at a
		// human gate, resumable with --resume.
		if gate.IsPause(err) {
			fmt.Fprintln(cmd.OutOrStdout(), "paused for human review; re-run with --resume to continue")
			return nil
		}
		return err
	}

	if final.ErrorMessage != "" {
		fmt.Fprintln(cmd.ErrOrStderr(), "terminated:", final.ErrorMessage)
		return fmt.Errorf("%s", final.ErrorMessage)
	}

	if final.Finalized {
		fmt.Fprintf(cmd.OutOrStdout(), "finalized: external_id=%s artifact=%s\n", final.FinalExternalID, final.FinalArtifactPath)
	}
	return nil
}

func slugFromBriefFlag(brief string) string {
	if brief == "" {
		return ""
	}
	base := filepath.Base(brief)
	if idx := strings.LastIndex(base, "."); idx > 0 {
		base = base[:idx]
	}
	return base
}
