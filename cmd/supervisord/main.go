package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pfin/nova-mcp/internal/config"
	"github.com/pfin/nova-mcp/internal/hooks"
	"github.com/pfin/nova-mcp/internal/host"
	"github.com/pfin/nova-mcp/internal/ids"
	"github.com/pfin/nova-mcp/internal/ledger"
	"github.com/pfin/nova-mcp/internal/logging"
	"github.com/pfin/nova-mcp/internal/orchestrator"
	"github.com/pfin/nova-mcp/internal/ptyexec"
	"github.com/pfin/nova-mcp/internal/workspace"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "supervisord",
	Short: "Drive the task supervisor's Host operations from the command line",
	Long: `supervisord is a thin CLI over the Host interface: spawn, send,
interrupt, status, output, decompose, execute, merge, and abort, each a
single operation against the ledger and workspace state on disk.`,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to a TOML config file")
	rootCmd.PersistentFlags().String("ledger", "./ledger.db", "path to the event ledger database")
	rootCmd.PersistentFlags().String("shell", "bash", "shell binary used to run a spawned task's prompt")

	rootCmd.AddCommand(spawnCmd, sendCmd, interruptCmd, statusCmd, outputCmd, decomposeCmd, executeCmd, mergeCmd, abortCmd)

	sendCmd.Flags().String("task-id", "", "task to send input to")
	sendCmd.MarkFlagRequired("task-id")

	interruptCmd.Flags().String("task-id", "", "task to interrupt")
	interruptCmd.Flags().String("follow-up", "", "optional input to inject after interrupting")
	interruptCmd.MarkFlagRequired("task-id")

	statusCmd.Flags().String("task-id", "", "task to report status for (all tasks if omitted)")

	outputCmd.Flags().String("task-id", "", "task to read output from")
	outputCmd.Flags().Int("tail", 0, "only return the last N lines")
	outputCmd.MarkFlagRequired("task-id")

	decomposeCmd.Flags().String("parent-task-id", "", "task_id this decomposition is split from")
	decomposeCmd.Flags().String("units-file", "", "path to a JSON file describing []orchestrator.Unit")
	decomposeCmd.MarkFlagRequired("parent-task-id")
	decomposeCmd.MarkFlagRequired("units-file")

	executeCmd.Flags().String("decomposition-file", "", "path to a JSON Decomposition, as printed by decompose")
	executeCmd.Flags().String("policy", string(orchestrator.PolicyAllRequired), "all_required or best_effort")
	executeCmd.MarkFlagRequired("decomposition-file")

	mergeCmd.Flags().String("orchestration-id", "", "orchestration to merge")
	mergeCmd.MarkFlagRequired("orchestration-id")

	abortCmd.Flags().String("task-id", "", "task to abort (mutually exclusive with --orchestration-id)")
	abortCmd.Flags().String("orchestration-id", "", "orchestration to abort (mutually exclusive with --task-id)")
	abortCmd.Flags().String("reason", "aborted via CLI", "reason recorded against the abort")
}

// openHost builds a Host wired to the on-disk ledger named by the --ledger
// flag and the workspace root named by the loaded config's WorkspaceBase.
// Each CLI invocation is a fresh process;
// task and orchestration state therefore only round-trips for operations
// that persist their handles (status/output read back via the ledger in a
// longer-lived deployment; this CLI's spawn/send/etc. operate within a
// single process's lifetime, matching spec.md's explicit protocol-glue
// Non-goal).
func openHost(cmd *cobra.Command) (*host.Host, *ledger.Ledger, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}

	shell, _ := cmd.Flags().GetString("shell")
	ledgerPath, _ := cmd.Flags().GetString("ledger")

	log := logging.New(os.Stderr)
	ledg, err := ledger.Open(ledgerPath, cfg.LedgerRetentionCap, log)
	if err != nil {
		return nil, nil, fmt.Errorf("open ledger: %w", err)
	}

	hk := hooks.New(log)
	hk.Register(hooks.PhaseValidate, "validation", 100, hooks.NewValidationHandler(cfg))
	ws := workspace.New(log)

	cmdFactory := func(prompt string) ptyexec.Options {
		return ptyexec.Options{
			Command:      shell,
			Args:         []string{"-lc", prompt},
			MinByteDelay: cfg.InterByteDelay.Min,
			MaxByteDelay: cfg.InterByteDelay.Max,
		}
	}

	return host.New(cfg, log, ledg, hk, ws, cmdFactory), ledg, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var spawnCmd = &cobra.Command{
	Use:   "spawn PROMPT",
	Short: "Spawn a new task from a prompt",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, ledg, err := openHost(cmd)
		if err != nil {
			return err
		}
		defer ledg.Close()

		taskID, state, err := h.Spawn(context.Background(), args[0])
		if err != nil {
			return err
		}
		return printJSON(map[string]string{"task_id": string(taskID), "state": state.String()})
	},
}

var sendCmd = &cobra.Command{
	Use:   "send INPUT",
	Short: "Send input to a running task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, ledg, err := openHost(cmd)
		if err != nil {
			return err
		}
		defer ledg.Close()

		taskID, _ := cmd.Flags().GetString("task-id")
		return h.Send(ids.TaskID(taskID), []byte(args[0]))
	},
}

var interruptCmd = &cobra.Command{
	Use:   "interrupt",
	Short: "Interrupt a running task, optionally with follow-up input",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, ledg, err := openHost(cmd)
		if err != nil {
			return err
		}
		defer ledg.Close()

		taskID, _ := cmd.Flags().GetString("task-id")
		followUp, _ := cmd.Flags().GetString("follow-up")
		return h.Interrupt(ids.TaskID(taskID), []byte(followUp))
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report task status, one task or every known task",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, ledg, err := openHost(cmd)
		if err != nil {
			return err
		}
		defer ledg.Close()

		taskID, _ := cmd.Flags().GetString("task-id")
		snaps, err := h.Status(ids.TaskID(taskID))
		if err != nil {
			return err
		}
		return printJSON(snaps)
	},
}

var outputCmd = &cobra.Command{
	Use:   "output",
	Short: "Print a task's accumulated output",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, ledg, err := openHost(cmd)
		if err != nil {
			return err
		}
		defer ledg.Close()

		taskID, _ := cmd.Flags().GetString("task-id")
		tail, _ := cmd.Flags().GetInt("tail")
		out, err := h.Output(ids.TaskID(taskID), tail)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(out)
		return err
	},
}

var decomposeCmd = &cobra.Command{
	Use:   "decompose",
	Short: "Validate a set of orthogonal units and print the resulting Decomposition",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, ledg, err := openHost(cmd)
		if err != nil {
			return err
		}
		defer ledg.Close()

		parentTaskID, _ := cmd.Flags().GetString("parent-task-id")
		unitsFile, _ := cmd.Flags().GetString("units-file")

		raw, err := os.ReadFile(unitsFile)
		if err != nil {
			return fmt.Errorf("read units file: %w", err)
		}
		var units []orchestrator.Unit
		if err := json.Unmarshal(raw, &units); err != nil {
			return fmt.Errorf("parse units file: %w", err)
		}

		d, err := h.Decompose(ids.TaskID(parentTaskID), units)
		if err != nil {
			return err
		}
		return printJSON(d)
	},
}

var executeCmd = &cobra.Command{
	Use:   "execute",
	Short: "Execute a Decomposition under the configured concurrency cap",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, ledg, err := openHost(cmd)
		if err != nil {
			return err
		}
		defer ledg.Close()

		decompositionFile, _ := cmd.Flags().GetString("decomposition-file")
		policy, _ := cmd.Flags().GetString("policy")

		raw, err := os.ReadFile(decompositionFile)
		if err != nil {
			return fmt.Errorf("read decomposition file: %w", err)
		}
		var d orchestrator.Decomposition
		if err := json.Unmarshal(raw, &d); err != nil {
			return fmt.Errorf("parse decomposition file: %w", err)
		}

		orchID, err := h.Execute(context.Background(), d, orchestrator.FailurePolicy(policy))
		if err != nil {
			return err
		}
		return printJSON(map[string]string{"orchestration_id": string(orchID)})
	},
}

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge a completed orchestration's units into its parent workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, ledg, err := openHost(cmd)
		if err != nil {
			return err
		}
		defer ledg.Close()

		orchID, _ := cmd.Flags().GetString("orchestration-id")
		if err := h.Merge(context.Background(), ids.OrchestrationID(orchID)); err != nil {
			return err
		}

		agg, err := h.OrchestrationStatus(ids.OrchestrationID(orchID))
		if err != nil {
			return err
		}
		return printJSON(agg)
	},
}

var abortCmd = &cobra.Command{
	Use:   "abort",
	Short: "Abort a single task or every unit of an orchestration",
	RunE: func(cmd *cobra.Command, args []string) error {
		h, ledg, err := openHost(cmd)
		if err != nil {
			return err
		}
		defer ledg.Close()

		taskID, _ := cmd.Flags().GetString("task-id")
		orchID, _ := cmd.Flags().GetString("orchestration-id")
		reason, _ := cmd.Flags().GetString("reason")

		switch {
		case taskID != "" && orchID != "":
			return fmt.Errorf("specify exactly one of --task-id or --orchestration-id")
		case taskID != "":
			return h.AbortTask(ids.TaskID(taskID), reason)
		case orchID != "":
			return h.AbortOrchestration(context.Background(), ids.OrchestrationID(orchID), reason)
		default:
			return fmt.Errorf("specify one of --task-id or --orchestration-id")
		}
	},
}
