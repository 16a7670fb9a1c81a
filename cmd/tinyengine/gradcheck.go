package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sbl8/tinyengine/gradcheck"
	"github.com/sbl8/tinyengine/kernels"
)

func newGradcheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gradcheck [OP...]",
		Short: "Compare kernel gradients with numeric differences",
		Long:  "Compare the backward function of each kernel with a central difference\napproximation. Without arguments every registered kernel is checked.",
		RunE:  gradcheckHandler,
	}

	defaults := gradcheck.DefaultConfig()
	cmd.Flags().Float64("eps", defaults.Epsilon, "Finite difference step")
	cmd.Flags().Float64("rtol", defaults.RTol, "Relative tolerance")
	cmd.Flags().Float64("atol", defaults.ATol, "Absolute tolerance")
	cmd.Flags().Uint64("seed", defaults.Seed, "Random seed")
	return cmd
}

func gradcheckHandler(cmd *cobra.Command, args []string) error {
	cfg := gradcheck.DefaultConfig()
	cfg.Epsilon, _ = cmd.Flags().GetFloat64("eps")
	cfg.RTol, _ = cmd.Flags().GetFloat64("rtol")
	cfg.ATol, _ = cmd.Flags().GetFloat64("atol")
	cfg.Seed, _ = cmd.Flags().GetUint64("seed")

	var results []gradcheck.Result
	if len(args) == 0 {
		results = gradcheck.CheckAll(cfg)
	} else {
		for _, name := range args {
			k := kernelByName(name)
			if k == nil {
				return fmt.Errorf("unknown kernel %q", name)
			}
			results = append(results, gradcheck.Check(k.Op, gradcheck.DefaultShapes(k), cfg)...)
		}
	}

	var failed int
	table := newTable(cmd, []string{"KERNEL", "INPUT", "SHAPE", "MAX ABS ERR", "MAX REL ERR", "STATUS"})
	for _, res := range results {
		status := "ok"
		if !res.Passed {
			status = "FAIL"
			failed++
			slog.Warn("gradient mismatch", "kernel", res.Op, "input", res.Input, "max_abs_err", res.MaxAbsErr)
		}
		table.Append([]string{
			res.Op.String(),
			fmt.Sprint(res.Input),
			fmt.Sprint(res.Shape),
			fmt.Sprintf("%.3e", res.MaxAbsErr),
			fmt.Sprintf("%.3e", res.MaxRelErr),
			status,
		})
	}
	table.Render()

	if failed > 0 {
		return fmt.Errorf("%d of %d gradient checks failed", failed, len(results))
	}
	return nil
}

func kernelByName(name string) *kernels.Kernel {
	for _, k := range kernels.Kernels() {
		if k.Name == name {
			return k
		}
	}
	return nil
}
