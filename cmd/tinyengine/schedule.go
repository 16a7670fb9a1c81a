package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sbl8/tinyengine/model"
	"github.com/sbl8/tinyengine/runtime"
)

func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Print the execution order of a sample classifier graph",
		Args:  cobra.NoArgs,
		RunE:  scheduleHandler,
	}

	cmd.Flags().Int("layers", 2, "Number of weight layers")
	cmd.Flags().Int64("batch", 4, "Rows per step")
	cmd.Flags().Int64("hidden", 8, "Hidden layer width")
	return cmd
}

func scheduleHandler(cmd *cobra.Command, args []string) error {
	cfg := mlpConfig{In: 4, Classes: 3, Seed: 1}
	cfg.Layers, _ = cmd.Flags().GetInt("layers")
	cfg.Batch, _ = cmd.Flags().GetInt64("batch")
	cfg.Hidden, _ = cmd.Flags().GetInt64("hidden")
	if cfg.Batch < 1 || cfg.Hidden < 1 {
		return fmt.Errorf("batch and hidden must be positive")
	}

	engine := runtime.NewEngine(&runtime.Options{ArenaSize: 1 << 20, ParamArenaSize: 1 << 20})
	m := newMLP(engine, cfg)

	g := model.NewGraph(engine.Scratch())
	m.build(g)
	if err := g.Validate(); err != nil {
		return err
	}
	o := model.Schedule(g)

	table := newTable(cmd, []string{"POS", "NODE", "OP", "SHAPE", "INPUTS", "CONSUMERS"})
	for pos, n := range o.Nodes() {
		table.Append([]string{
			fmt.Sprint(pos),
			fmt.Sprintf("%%%d", n.ID),
			n.Op.String(),
			fmt.Sprint(n.Out.Dims()),
			refs(n.Inputs),
			refs(o.Consumers(n.ID)),
		})
	}
	table.Render()
	return nil
}

func refs(nodes []*model.Node) string {
	if len(nodes) == 0 {
		return "-"
	}
	s := make([]string, len(nodes))
	for i, n := range nodes {
		s[i] = fmt.Sprintf("%%%d", n.ID)
	}
	return strings.Join(s, ",")
}
