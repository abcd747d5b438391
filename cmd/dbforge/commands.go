package main

import (
	"context"
	"flag"
	"fmt"
	"sort"
	"strings"

	"github.com/dbforge/dbforge/internal/container"
	"github.com/dbforge/dbforge/internal/engine"
)

func progressPrinter(label string) func(float64, string) {
	return func(fraction float64, message string) {
		fmt.Printf("\r%s: %3.0f%% %s", label, fraction*100, message)
		if fraction >= 1 {
			fmt.Println()
		}
	}
}

func cmdCreate(a *app, args []string) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	version := fs.String("version", "", "engine version (defaults to the engine's current default)")
	database := fs.String("database", "", "primary database name (defaults to the container name)")
	if len(args) < 2 {
		return fmt.Errorf("usage: dbforge create <engine> <name> [-version v] [-database db]")
	}
	engineName, name := args[0], args[1]
	if err := fs.Parse(args[2:]); err != nil {
		return err
	}

	desc, ok := engine.Lookup(engineName)
	if !ok {
		return fmt.Errorf("unknown engine %q", engineName)
	}
	ver := *version
	if ver == "" {
		ver = desc.DefaultVersion
	}

	ad, err := a.adapterFor(engineName)
	if err != nil {
		return err
	}

	ctx := context.Background()
	c, err := a.containers.Create(engineName, name, ver, container.CreateOptions{Database: *database})
	if err != nil {
		return err
	}

	binDir, err := ad.EnsureBinaries(ctx, ver, progressPrinter("fetch"))
	if err != nil {
		return err
	}
	if _, err := ad.InitDataDir(ctx, c, ver, nil); err != nil {
		return err
	}
	if err := a.containers.SetBinaryPath(c, binDir); err != nil {
		return err
	}

	fmt.Printf("Created %s container %q (version %s, port %d)\n", engineName, name, ver, c.Manifest.Port)
	return nil
}

func requireContainer(a *app, args []string, usage string) (engine.Adapter, *container.Container, []string, error) {
	if len(args) < 2 {
		return nil, nil, nil, fmt.Errorf("usage: %s", usage)
	}
	engineName, name := args[0], args[1]
	ad, err := a.adapterFor(engineName)
	if err != nil {
		return nil, nil, nil, err
	}
	c, err := a.containers.Load(engineName, name)
	if err != nil {
		return nil, nil, nil, err
	}
	return ad, c, args[2:], nil
}

func cmdStart(a *app, args []string) error {
	ad, c, _, err := requireContainer(a, args, "dbforge start <engine> <name>")
	if err != nil {
		return err
	}
	ctx := context.Background()

	if _, err := ad.EnsureBinaries(ctx, c.Manifest.Version, progressPrinter("fetch")); err != nil {
		return err
	}
	result, err := ad.Start(ctx, c, progressPrinter("start"))
	if err != nil {
		return err
	}
	if err := a.containers.UpdateStatus(c, container.StatusRunning); err != nil {
		return err
	}
	if a.metrics != nil {
		a.metrics.RecordStart(c.Manifest.Engine, "success")
	}
	fmt.Printf("Started %s on port %d (%s)\n", c.Manifest.Name, result.Port, result.URL)
	return nil
}

func cmdStop(a *app, args []string) error {
	ad, c, _, err := requireContainer(a, args, "dbforge stop <engine> <name>")
	if err != nil {
		return err
	}
	ctx := context.Background()
	if err := ad.Stop(ctx, c); err != nil {
		if a.metrics != nil {
			a.metrics.RecordStop(c.Manifest.Engine, "failure")
		}
		return err
	}
	if err := a.containers.UpdateStatus(c, container.StatusStopped); err != nil {
		return err
	}
	if a.metrics != nil {
		a.metrics.RecordStop(c.Manifest.Engine, "success")
	}
	fmt.Printf("Stopped %s\n", c.Manifest.Name)
	return nil
}

func cmdStatus(a *app, args []string) error {
	ad, c, _, err := requireContainer(a, args, "dbforge status <engine> <name>")
	if err != nil {
		return err
	}
	result, err := ad.Status(context.Background(), c)
	if err != nil {
		return err
	}
	state := "stopped"
	if result.Running {
		state = "running"
	}
	fmt.Printf("%s: %s (%s)\n", c.Manifest.Name, state, result.Message)
	return nil
}

func cmdList(a *app, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: dbforge list <engine>")
	}
	engineName := args[0]

	if err := a.housekeeper.Reconcile(context.Background()); err != nil && a.log != nil {
		a.log.WithField("error", err).Warn("housekeeping reconciliation failed during list")
	}

	containers, err := a.containers.List(engineName)
	if err != nil {
		return err
	}
	if len(containers) == 0 {
		fmt.Println("No containers found")
		return nil
	}
	fmt.Printf("%-20s %-10s %-8s %-8s %s\n", "NAME", "VERSION", "PORT", "STATUS", "DATABASE")
	for _, c := range containers {
		fmt.Printf("%-20s %-10s %-8d %-8s %s\n", c.Manifest.Name, c.Manifest.Version, c.Manifest.Port, c.Manifest.Status, c.Manifest.Database)
	}
	return nil
}

func cmdClone(a *app, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: dbforge clone <engine> <source> <new-name>")
	}
	c, err := a.containers.Clone(args[0], args[1], args[2])
	if err != nil {
		return err
	}
	fmt.Printf("Cloned %s into %q (port %d)\n", args[1], c.Manifest.Name, c.Manifest.Port)
	return nil
}

func cmdRename(a *app, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: dbforge rename <engine> <old-name> <new-name>")
	}
	c, err := a.containers.Rename(args[0], args[1], args[2])
	if err != nil {
		return err
	}
	fmt.Printf("Renamed %s to %s\n", args[1], c.Manifest.Name)
	return nil
}

func cmdDelete(a *app, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: dbforge delete <engine> <name>")
	}
	if err := a.containers.Delete(args[0], args[1]); err != nil {
		return err
	}
	fmt.Printf("Deleted %s\n", args[1])
	return nil
}

func cmdBackup(a *app, args []string) error {
	fs := flag.NewFlagSet("backup", flag.ContinueOnError)
	format := fs.String("format", "", "backup format (engine-specific; empty for the default)")
	ad, c, rest, err := requireContainer(a, args, "dbforge backup <engine> <name> <out-path> [-format f]")
	if err != nil {
		return err
	}
	if len(rest) < 1 {
		return fmt.Errorf("usage: dbforge backup <engine> <name> <out-path> [-format f]")
	}
	outPath := rest[0]
	if err := fs.Parse(rest[1:]); err != nil {
		return err
	}

	result, err := ad.Backup(context.Background(), c, outPath, engine.BackupOptions{Database: c.Manifest.Database, Format: *format})
	if a.metrics != nil {
		status := "success"
		if err != nil {
			status = "failure"
		}
		a.metrics.RecordBackup(c.Manifest.Engine, status)
	}
	if err != nil {
		return err
	}
	fmt.Printf("Backed up %s to %s (%s, %d bytes)\n", c.Manifest.Name, result.Path, result.Format, result.Size)
	return nil
}

func cmdRestore(a *app, args []string) error {
	ad, c, rest, err := requireContainer(a, args, "dbforge restore <engine> <name> <backup-path>")
	if err != nil {
		return err
	}
	if len(rest) < 1 {
		return fmt.Errorf("usage: dbforge restore <engine> <name> <backup-path>")
	}
	backupPath := rest[0]

	result, err := ad.Restore(context.Background(), c, backupPath, engine.RestoreOptions{Database: c.Manifest.Database})
	if a.metrics != nil {
		status := "success"
		if err != nil {
			status = "failure"
		}
		a.metrics.RecordRestore(c.Manifest.Engine, status)
	}
	if err != nil {
		return err
	}
	fmt.Printf("Restored %s (%s, exit %d)\n", c.Manifest.Name, result.Format, result.Code)
	if result.Stderr != "" {
		fmt.Println(strings.TrimSpace(result.Stderr))
	}
	return nil
}

func cmdExec(a *app, args []string) error {
	ad, c, rest, err := requireContainer(a, args, `dbforge exec <engine> <name> <query>`)
	if err != nil {
		return err
	}
	if len(rest) < 1 {
		return fmt.Errorf("usage: dbforge exec <engine> <name> <query>")
	}
	query := strings.Join(rest, " ")

	result, err := ad.ExecuteQuery(context.Background(), c, query, engine.ExecuteQueryOptions{Database: c.Manifest.Database})
	if err != nil {
		return err
	}
	if len(result.Columns) > 0 {
		fmt.Println(strings.Join(result.Columns, "\t"))
	}
	for _, row := range result.Rows {
		fmt.Println(strings.Join(row, "\t"))
	}
	return nil
}

func cmdEngines(a *app, args []string) error {
	names := engine.Names()
	sort.Strings(names)

	fmt.Printf("%-14s %-14s %-8s\n", "ENGINE", "FAMILY", "PORT")
	for _, name := range names {
		desc, _ := engine.Lookup(name)
		fmt.Printf("%-14s %-14s %-8d\n", desc.Name, desc.Family, desc.DefaultPort)
	}
	return nil
}
