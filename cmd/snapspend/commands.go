package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"snapspend/internal/alert"
	"snapspend/internal/core"
)

var errUsage = errors.New("missing required flag")

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

func runAdd(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("add")
	collection := fs.String("collection", "", "collection name")
	amount := fs.String("amount", "", "amount, e.g. 12.50")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *collection == "" || *amount == "" {
		return errUsage
	}

	value, err := core.ParseAmount(*amount)
	if err != nil {
		return err
	}
	e, err := a.expenses.AddExpense(ctx, *collection, value)
	if err != nil {
		return err
	}
	fmt.Printf("Added expense %d: %s in %s\n", e.ID, core.FormatAmount(e.Amount), e.CollectionName)
	return nil
}

func runEdit(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("edit")
	id := fs.Int64("id", 0, "expense id")
	amount := fs.String("amount", "", "new amount")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id <= 0 || *amount == "" {
		return errUsage
	}

	value, err := core.ParseAmount(*amount)
	if err != nil {
		return err
	}
	e, err := a.expenses.EditAmount(ctx, *id, value)
	if err != nil {
		return err
	}
	fmt.Printf("Expense %d is now %s\n", e.ID, core.FormatAmount(e.Amount))
	return nil
}

func runDelete(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("delete")
	id := fs.Int64("id", 0, "expense id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id <= 0 {
		return errUsage
	}
	if err := a.expenses.DeleteExpense(ctx, *id); err != nil {
		return err
	}
	fmt.Printf("Deleted expense %d\n", *id)
	return nil
}

func runCollectionAdd(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("collection-add")
	name := fs.String("name", "", "collection name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	c, err := a.collections.AddCollection(ctx, *name)
	if err != nil {
		return err
	}
	fmt.Printf("Created collection %s\n", c.Name)
	return nil
}

func runCollectionUpdate(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("collection-update")
	name := fs.String("name", "", "collection name")
	budget := fs.String("budget", "", "monthly budget, 0 for unlimited")
	icon := fs.String("icon", "", "icon name")
	color := fs.String("color", "", "color as #AARRGGBB")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return errUsage
	}

	c, err := a.repo.GetCollection(ctx, *name)
	if err != nil {
		return err
	}
	if *budget != "" {
		if c.Budget, err = core.ParseBudget(*budget); err != nil {
			return err
		}
	}
	if *icon != "" {
		c.IconName = *icon
	}
	if *color != "" {
		c.ColorHex = *color
	}
	if err := a.collections.UpdateCollection(ctx, c); err != nil {
		return err
	}
	fmt.Printf("Updated collection %s\n", c.Name)
	return nil
}

func runCollectionDelete(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("collection-delete")
	name := fs.String("name", "", "collection name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return errUsage
	}
	if err := a.collections.DeleteCollection(ctx, *name); err != nil {
		return err
	}
	fmt.Printf("Deleted collection %s\n", *name)
	return nil
}

func runShare(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("share")
	name := fs.String("name", "", "collection name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return errUsage
	}
	pin, err := a.collections.ShareCollection(ctx, *name)
	if err != nil {
		return err
	}
	fmt.Printf("Shared %s with pin %s\n", *name, pin)
	return nil
}

func runJoin(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("join")
	pin := fs.String("pin", "", "share pin")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *pin == "" {
		return errUsage
	}
	c, err := a.collections.JoinCollection(ctx, *pin)
	if errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("no shared collection with pin %s", *pin)
	}
	if err != nil {
		return err
	}
	fmt.Printf("Joined %s\n", c.Name)
	return nil
}

func runAlerts(ctx context.Context, a *app, args []string) error {
	alerts, err := a.evaluator.Evaluate(ctx, time.Now())
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Println("No collection is near its budget.")
		return nil
	}
	for _, al := range alerts {
		fmt.Println(alert.Message(al))
	}
	return nil
}

func runList(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("list")
	name := fs.String("collection", "", "collection name, all when empty")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var names []string
	if *name != "" {
		names = []string{*name}
	} else {
		collections, err := a.repo.ListCollections(ctx)
		if err != nil {
			return err
		}
		for _, c := range collections {
			names = append(names, c.Name)
		}
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCOLLECTION\tAMOUNT\tWHEN\tCATEGORY")
	for _, n := range names {
		expenses, err := a.repo.ListExpensesByCollection(ctx, n)
		if err != nil {
			return err
		}
		for _, e := range expenses {
			category := core.StringValue(e.LocationCategory)
			if e.PendingLocation {
				category = "(pending)"
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
				e.ID,
				e.CollectionName,
				core.FormatAmount(e.Amount),
				time.UnixMilli(e.Timestamp).Format("2006-01-02 15:04"),
				category)
		}
	}
	return w.Flush()
}
