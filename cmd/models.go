package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	iface "CropDetServer/interface"
	"CropDetServer/registry"
)

func newModelsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Inspect and select detection models",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the model catalog, marking the active entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := registry.New("model", opts.cfg.Models, opts.cfg.ModelStateFile)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, e := range reg.List() {
				fmt.Fprintf(w, "%s %s\n", activeMarker(e.Active), describe(e.Descriptor))
			}
			return w.Flush()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "switch <model-id>",
		Short: "Select the model loaded on the next start",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := registry.New("model", opts.cfg.Models, opts.cfg.ModelStateFile)
			if err != nil {
				return err
			}
			if !reg.SetActive(args[0]) {
				return fmt.Errorf("%w: %q is unknown or disabled", registry.ErrNotFound, args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "active model: %s\n", args[0])
			return nil
		},
	})
	return cmd
}

func activeMarker(active bool) string {
	if active {
		return "*"
	}
	return " "
}

func describe(d iface.ModelDescriptor) string {
	state := ""
	if !d.Enabled {
		state = " (disabled)"
	}
	return fmt.Sprintf("%s\t%s\t%s\t%s%s", d.ID, d.Kind, d.Runtime, d.Name, state)
}
