package main

import (
	"encoding/json"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"ssrelay/internal/common/fsutil"
	"ssrelay/internal/engine"
	"ssrelay/internal/metrics"
	"ssrelay/internal/renderer"
)

// renderFailure carries a render result code out of the render command.
type renderFailure struct{ code string }

func (e *renderFailure) Error() string { return "render failed: " + e.code }

func newRenderCmd() *cobra.Command {
	var (
		rendererPath string
		block        string
		propsJSON    string
		minify       bool
	)
	cmd := &cobra.Command{
		Use:     "render",
		Short:   "Render one block locally through the engine, without the HTTP layer",
		Example: `  ssrelay render --renderer ./blocks.yaml --block hero --props '{"heading":"Hi"}'`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var props map[string]any
			if err := json.Unmarshal([]byte(propsJSON), &props); err != nil || props == nil {
				return fmt.Errorf("--props must be a JSON object")
			}
			path, err := fsutil.ResolvePath(rendererPath)
			if err != nil {
				return err
			}
			m := metrics.New(prometheus.NewRegistry(), nil)
			loader := renderer.NewLoader(renderer.LoaderConfig{Path: path, Metrics: m, Logger: zerolog.Nop()})
			defer loader.Close()
			eng := engine.New(engine.Config{Source: loader, Metrics: m, Logger: zerolog.Nop(), Minify: minify})

			res := eng.RenderBlock(cmd.Context(), block, props)
			if !res.OK {
				return &renderFailure{code: res.Error}
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), res.HTML)
			return err
		},
	}
	cmd.Flags().StringVar(&rendererPath, "renderer", "./renderer.yaml", "Renderer artifact path")
	cmd.Flags().StringVar(&block, "block", "", "Block name")
	cmd.Flags().StringVar(&propsJSON, "props", "{}", "Block props as a JSON object")
	cmd.Flags().BoolVar(&minify, "minify", false, "Minify the rendered HTML")
	_ = cmd.MarkFlagRequired("block")
	return cmd
}
