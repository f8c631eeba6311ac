package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

func templatesCommand(ctx context.Context, args []string, out io.Writer) error {
	if len(args) != 1 || (args[0] != "list" && args[0] != "seed") {
		return fmt.Errorf("usage: bulkmail templates list|seed")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	if args[0] == "seed" {
		if a.repo == nil {
			return fmt.Errorf("templates are built in with STORE=%s", cfg.StoreProvider)
		}
		n, err := a.repo.SeedDefaults(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%d templates seeded\n", n)
		return nil
	}

	list, err := a.templates.List(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tVARIABLES")
	for _, t := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\n", t.ID, t.Name, strings.Join(t.Variables, ", "))
	}
	return w.Flush()
}
