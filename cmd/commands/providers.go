package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v3"
)

// NewProvidersCommand returns the providers subcommand.
func NewProvidersCommand() *cli.Command {
	return &cli.Command{
		Name:  "providers",
		Usage: "Inspect reasoning backends",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "Show each provider and whether it is reachable",
				Action: runProvidersList,
			},
			{
				Name:      "models",
				Usage:     "List the models a provider offers",
				ArgsUsage: "<provider>",
				Action:    runProvidersModels,
			},
		},
		DefaultCommand: "list",
	}
}

func runProvidersList(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	sel := a.ctrl.Context().Selection
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tSTATUS\tDEFAULT MODEL\tSELECTED")
	for _, st := range a.registry.Probe(ctx) {
		p, _ := a.registry.Get(st.Name)
		status := "unavailable"
		if st.Available {
			status = "available"
		}
		selected := ""
		if st.Name == sel.Provider {
			selected = "* " + sel.Model
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", st.Name, status, p.DefaultModel(), selected)
	}
	return w.Flush()
}

func runProvidersModels(ctx context.Context, cmd *cli.Command) error {
	name := cmd.Args().First()
	if name == "" {
		return fmt.Errorf("usage: fintellix providers models <provider>")
	}

	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.registry.Get(name)
	if err != nil {
		return err
	}
	models := p.ListModels(ctx)
	if len(models) == 0 {
		fmt.Printf("No models reported by %s (default: %s).\n", name, p.DefaultModel())
		return nil
	}
	for _, m := range models {
		fmt.Println(m)
	}
	return nil
}
