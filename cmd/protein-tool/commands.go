package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/docker/protein-runner/pkg/config"
	"github.com/docker/protein-runner/pkg/inference"
	"github.com/docker/protein-runner/pkg/inference/adapters"
	"github.com/docker/protein-runner/pkg/inference/models"
	"github.com/docker/protein-runner/pkg/inference/scheduling"
	"github.com/docker/protein-runner/pkg/logging"
	"github.com/docker/protein-runner/pkg/metrics"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const version = "0.1.0"

// output is the --output flag value.
var output string

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "protein-tool",
		Short:        "Analyse, mutate and generate protein sequences",
		Version:      version,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "json", "Output format: json or yaml")
	rootCmd.AddCommand(
		newValidateCmd(),
		newAnalyzeCmd(),
		newMutateCmd(),
		newCompareCmd(),
		newGenerateCmd(),
	)
	return rootCmd
}

// render writes v to w in the selected output format. YAML output keeps the
// JSON field names.
func render(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	switch strings.ToLower(output) {
	case "json":
		var buf bytes.Buffer
		if err := json.Indent(&buf, data, "", "  "); err != nil {
			return err
		}
		buf.WriteByte('\n')
		_, err := buf.WriteTo(w)
		return err
	case "yaml":
		// JSON is YAML; decoding into a node keeps object key order.
		var doc yaml.Node
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return err
		}
		blockStyle(&doc)
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(&doc); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown output format %q", output)
}

// blockStyle drops the flow and quoting styles n was parsed with.
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}

// newDispatcher runs the built-in catalog in process.
func newDispatcher() (*scheduling.Dispatcher, func(), error) {
	log := logging.Discard()
	backends, err := adapters.Build(log, models.DefaultCatalog())
	if err != nil {
		return nil, nil, err
	}
	registry, err := models.NewRegistry(log, models.Config{Budget: config.DefaultMemoryBudget}, backends, metrics.New())
	if err != nil {
		return nil, nil, err
	}
	d := scheduling.NewDispatcher(log, registry, nil, nil, scheduling.Config{})
	return d, registry.Close, nil
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate SEQUENCE",
		Short: "Score a sequence's validity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, closeFn, err := newDispatcher()
			if err != nil {
				return err
			}
			defer closeFn()
			v, err := d.Validate(cmd.Context(), scheduling.SequenceRequest{Sequence: args[0]})
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), v)
		},
	}
}

func newAnalyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze SEQUENCE",
		Short: "Compute the physicochemical properties of a sequence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, closeFn, err := newDispatcher()
			if err != nil {
				return err
			}
			defer closeFn()
			report, err := d.AnalyzeProperties(cmd.Context(), scheduling.SequenceRequest{Sequence: args[0]})
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), report)
		},
	}
}

func newMutateCmd() *cobra.Command {
	var req scheduling.MutateRequest
	c := &cobra.Command{
		Use:   "mutate SEQUENCE",
		Short: "Generate mutated variants of a sequence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, closeFn, err := newDispatcher()
			if err != nil {
				return err
			}
			defer closeFn()
			req.Sequence = args[0]
			res, err := d.Mutate(cmd.Context(), req)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), res)
		},
	}
	c.Flags().StringVar(&req.MutationType, "type", "random", "Mutation type: random, conservative, insertion or deletion")
	c.Flags().IntVarP(&req.NumMutations, "mutations", "n", 1, "Mutations per variant")
	c.Flags().IntVar(&req.NumVariants, "variants", 1, "Number of variants")
	return c
}

func newCompareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compare SEQUENCE SEQUENCE...",
		Short: "Compare sequences pairwise",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, closeFn, err := newDispatcher()
			if err != nil {
				return err
			}
			defer closeFn()
			m, err := d.Compare(cmd.Context(), scheduling.CompareRequest{Sequences: args})
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), m)
		},
	}
}

func newGenerateCmd() *cobra.Command {
	req := inference.GenerationRequest{}
	c := &cobra.Command{
		Use:   "generate",
		Short: "Generate sequences with a built-in model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, closeFn, err := newDispatcher()
			if err != nil {
				return err
			}
			defer closeFn()
			res, err := d.Generate(cmd.Context(), req)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), res)
		},
	}
	c.Flags().StringVarP(&req.Model, "model", "m", "", "Model name; the default generation model when empty")
	c.Flags().IntVarP(&req.Length, "length", "l", 100, "Sequence length")
	c.Flags().Float64VarP(&req.Temperature, "temperature", "t", 0.8, "Sampling temperature")
	c.Flags().IntVarP(&req.NumSequences, "num", "n", 1, "Number of sequences")
	c.Flags().BoolVar(&req.Strict, "strict", false, "Fail instead of falling back when the model is unavailable")
	return c
}
