package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	goruntime "runtime"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/cpu"

	"github.com/sbl8/tinyengine/core"
	"github.com/sbl8/tinyengine/envconfig"
	"github.com/sbl8/tinyengine/runtime"
)

func newBenchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Train a synthetic classifier and report engine statistics",
		Args:  cobra.NoArgs,
		RunE:  benchHandler,
	}

	cmd.Flags().Int("steps", 100, "Number of training steps")
	cmd.Flags().Int64("batch", 32, "Rows per step")
	cmd.Flags().Int64("features", 16, "Input features")
	cmd.Flags().Int64("hidden", 64, "Hidden layer width")
	cmd.Flags().Int64("classes", 4, "Output classes")
	cmd.Flags().Int("layers", 2, "Number of weight layers")
	cmd.Flags().String("init", "he-normal", "Hidden layer weight init (xavier-uniform, xavier-normal, he-uniform, he-normal)")
	cmd.Flags().String("output-init", "xavier-normal", "Output layer weight init")
	cmd.Flags().Float64("lr", 0.5, "Learning rate")
	cmd.Flags().Uint64("seed", 1, "Random seed")
	cmd.Flags().Bool("parallel", envconfig.Parallel(), "Use the concurrent forward executor")
	cmd.Flags().Int("workers", int(envconfig.NumWorkers()), "Forward worker count")
	cmd.Flags().String("load", "", "Restore parameters from a checkpoint before training")
	cmd.Flags().String("save", "", "Write parameters to a checkpoint after training")
	return cmd
}

func benchHandler(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	steps, _ := flags.GetInt("steps")
	lr, _ := flags.GetFloat64("lr")
	parallel, _ := flags.GetBool("parallel")
	workers, _ := flags.GetInt("workers")

	var cfg mlpConfig
	cfg.Batch, _ = flags.GetInt64("batch")
	cfg.In, _ = flags.GetInt64("features")
	cfg.Hidden, _ = flags.GetInt64("hidden")
	cfg.Classes, _ = flags.GetInt64("classes")
	cfg.Layers, _ = flags.GetInt("layers")
	cfg.Seed, _ = flags.GetUint64("seed")

	var err error
	hiddenInit, _ := flags.GetString("init")
	if cfg.HiddenInit, err = parseInitScheme(hiddenInit); err != nil {
		return err
	}
	outputInit, _ := flags.GetString("output-init")
	if cfg.OutputInit, err = parseInitScheme(outputInit); err != nil {
		return err
	}

	if steps < 1 {
		return fmt.Errorf("steps must be positive, got %d", steps)
	}
	if cfg.Batch < 1 || cfg.In < 1 || cfg.Hidden < 1 || cfg.Classes < 1 {
		return fmt.Errorf("batch, features, hidden and classes must be positive")
	}

	engine := runtime.NewEngine(&runtime.Options{
		Workers:     workers,
		Parallel:    parallel,
		EnableStats: true,
	})
	m := newMLP(engine, cfg)

	if path, _ := flags.GetString("load"); path != "" {
		if err := loadParams(path, m); err != nil {
			return err
		}
		slog.Info("restored parameters", "path", path)
	}

	slog.Info("starting benchmark", "steps", steps, "batch", cfg.Batch, "layers", cfg.Layers, "init", cfg.HiddenInit, "output_init", cfg.OutputInit, "parallel", parallel, "workers", engine.Options().Workers)

	var firstLoss, lastLoss, accuracy float64
	start := time.Now()
	for step := range steps {
		probs, err := engine.Step(cmd.Context(), m.build, m.seed)
		if err != nil {
			return fmt.Errorf("step %d: %w", step, err)
		}

		lastLoss = m.loss(probs)
		accuracy = m.accuracy(probs)
		if step == 0 {
			firstLoss = lastLoss
		}
		m.sgd(lr)
		slog.Debug("step", "step", step, "loss", lastLoss, "accuracy", accuracy)
	}
	elapsed := time.Since(start)

	if path, _ := flags.GetString("save"); path != "" {
		if err := saveParams(path, m); err != nil {
			return err
		}
		slog.Info("saved parameters", "path", path)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s/%s  cpu: %s\n\n", goruntime.GOOS, goruntime.GOARCH, strings.Join(cpuFeatures(), " "))

	stats := engine.Stats()
	table := newTable(cmd, []string{"METRIC", "VALUE"})
	table.AppendBulk([][]string{
		{"steps", fmt.Sprint(stats.TotalSteps)},
		{"total time", elapsed.Round(time.Microsecond).String()},
		{"avg step latency", stats.AverageLatency.String()},
		{"initial loss", fmt.Sprintf("%.6f", firstLoss)},
		{"final loss", fmt.Sprintf("%.6f", lastLoss)},
		{"accuracy", fmt.Sprintf("%.2f%%", accuracy*100)},
		{"peak scratch", fmt.Sprintf("%d B", stats.PeakArenaBytes)},
		{"scratch utilization", fmt.Sprintf("%.4f%%", stats.ArenaUtilization*100)},
	})
	table.Render()
	fmt.Fprintln(cmd.OutOrStdout())

	names := make([]string, 0, len(stats.KernelExecutions))
	for name := range stats.KernelExecutions {
		names = append(names, name)
	}
	sort.Strings(names)

	table = newTable(cmd, []string{"KERNEL", "EXECUTIONS"})
	for _, name := range names {
		table.Append([]string{name, fmt.Sprint(stats.KernelExecutions[name])})
	}
	table.Render()
	return nil
}

func loadParams(path string, m *mlp) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := core.RestoreCheckpoint(bufio.NewReader(f), m.params()...); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func saveParams(path string, m *mlp) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(f)
	if err := core.WriteCheckpoint(w, m.params()...); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func cpuFeatures() []string {
	var features []string
	add := func(name string, ok bool) {
		if ok {
			features = append(features, name)
		}
	}

	switch goruntime.GOARCH {
	case "amd64", "386":
		add("sse4.1", cpu.X86.HasSSE41)
		add("avx", cpu.X86.HasAVX)
		add("avx2", cpu.X86.HasAVX2)
		add("fma", cpu.X86.HasFMA)
		add("avx512f", cpu.X86.HasAVX512F)
	case "arm64":
		add("asimd", cpu.ARM64.HasASIMD)
		add("fp", cpu.ARM64.HasFP)
		add("sve", cpu.ARM64.HasSVE)
	}
	if len(features) == 0 {
		features = append(features, "generic")
	}
	return features
}
