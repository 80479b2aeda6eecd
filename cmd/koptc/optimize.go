package main

import (
	"fmt"

	"github.com/example/go-kernelopt/internal/kernelopt"
	"github.com/example/go-kernelopt/internal/renderer"
	"github.com/example/go-kernelopt/internal/replay"
	"github.com/example/go-kernelopt/internal/samples"
	"github.com/example/go-kernelopt/internal/uop"
	"github.com/spf13/cobra"
)

func newOptimizeCmd() *cobra.Command {
	var (
		sample     string
		m, n, cin  int64
		name       string
		useTCForce bool
	)

	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Run the hand-coded optimizer heuristic against a sample kernel and print the result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var ast *uop.UOp
			switch sample {
			case "matvec":
				ast = samples.Matvec(m, n)
			case "add":
				ast = samples.ElementwiseAdd(n)
			case "conv":
				ast = samples.Conv1x1Reduce(n, cin, m)
			case "empty-reduce":
				ast = samples.EmptyReduce(n)
			default:
				return fmt.Errorf("unknown sample %q (want matvec|add|conv|empty-reduce)", sample)
			}

			k, err := kernelopt.New(ast, samples.GPURenderer())
			if err != nil {
				return fmt.Errorf("construct kernel: %w", err)
			}

			if useTCForce {
				k.ApplyTensorCores(activeCfg.Debug.UseTC)
			}
			if err := k.HandCodedOptimizations(activeCfg.Heuristic); err != nil {
				return fmt.Errorf("hand-coded optimizations: %w", err)
			}

			prog, err := k.ToProgram(name)
			if err != nil {
				return fmt.Errorf("lower to program: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "kernel %s (device=%s)\n", prog.Name, prog.Device)
			fmt.Fprintf(cmd.OutOrStdout(), "  applied opts: %d\n", len(prog.AppliedOpts))
			for _, opt := range prog.AppliedOpts {
				fmt.Fprintf(cmd.OutOrStdout(), "    %s axis=%v arg=%v\n", opt.Op, opt.Axis, opt.Arg)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "  global_size=%v local_size=%v mem_bytes=%d uops=%d\n",
				prog.GlobalSize, prog.LocalSize, prog.MemBytes, len(prog.UOps))

			if activeCfg.Debug.CaptureProcessReplay {
				if err := captureReplay(prog, cmd); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sample, "sample", "matvec", "Sample kernel to optimize (matvec|add|conv|empty-reduce)")
	cmd.Flags().Int64Var(&m, "m", 1024, "Matvec/conv output rows (or cout for conv)")
	cmd.Flags().Int64Var(&n, "n", 1024, "Matvec reduce dimension, conv row count (N), or element count for add/empty-reduce")
	cmd.Flags().Int64Var(&cin, "cin", 64, "Conv input channel count")
	cmd.Flags().StringVar(&name, "name", "", "Override the generated kernel name")
	cmd.Flags().BoolVar(&useTCForce, "tc", false, "Attempt a tensor-core match in the --use-tc mode before the hand-coded heuristic runs (no attempt when --use-tc is 0)")

	return cmd
}

func captureReplay(prog *renderer.ProgramSpec, cmd *cobra.Command) error {
	store, err := replay.Open("process_replay.db")
	if err != nil {
		return fmt.Errorf("open process replay store: %w", err)
	}
	defer store.Close()

	rec := replay.Record{
		AST:         prog.Name,
		AppliedOpts: prog.AppliedOpts,
		Name:        prog.Name,
		CallerLoc:   "koptc optimize",
	}
	if err := store.Put(prog.Name, rec); err != nil {
		return fmt.Errorf("write process replay record: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "  recorded to process_replay.db under key %q\n", prog.Name)
	return nil
}
