// Command dbforge provisions, starts, stops, backs up, and restores
// local single-node database engine instances.
//
// Usage:
//
//	dbforge create <engine> <name> [-version v] [-database db]
//	dbforge start <engine> <name>
//	dbforge stop <engine> <name>
//	dbforge status <engine> <name>
//	dbforge list <engine>
//	dbforge clone <engine> <source> <new-name>
//	dbforge rename <engine> <old-name> <new-name>
//	dbforge delete <engine> <name>
//	dbforge backup <engine> <name> <out-path> [-format f]
//	dbforge restore <engine> <name> <backup-path>
//	dbforge exec <engine> <name> <sql>
//	dbforge engines
//	dbforge version
package main

import (
	"fmt"
	"os"

	"github.com/dbforge/dbforge/pkg/version"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	if cmd := os.Args[1]; cmd == "version" || cmd == "-v" || cmd == "--version" {
		fmt.Println(version.FullVersion())
		return
	}

	app, err := newApp()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer app.close()

	cmd := os.Args[1]
	args := os.Args[2:]

	var runErr error
	switch cmd {
	case "create":
		runErr = cmdCreate(app, args)
	case "start":
		runErr = cmdStart(app, args)
	case "stop":
		runErr = cmdStop(app, args)
	case "status":
		runErr = cmdStatus(app, args)
	case "list":
		runErr = cmdList(app, args)
	case "clone":
		runErr = cmdClone(app, args)
	case "rename":
		runErr = cmdRename(app, args)
	case "delete":
		runErr = cmdDelete(app, args)
	case "backup":
		runErr = cmdBackup(app, args)
	case "restore":
		runErr = cmdRestore(app, args)
	case "exec":
		runErr = cmdExec(app, args)
	case "engines":
		runErr = cmdEngines(app, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`dbforge - local database engine lifecycle manager

Usage:
  dbforge <command> [arguments]

Commands:
  create <engine> <name> [-version v] [-database db]   Provision a new container
  start <engine> <name>                                Start an engine instance
  stop <engine> <name>                                  Stop an engine instance
  status <engine> <name>                                Report whether an instance is running
  list <engine>                                         List containers for an engine
  clone <engine> <source> <new-name>                    Clone a container's data
  rename <engine> <old-name> <new-name>                 Rename a container
  delete <engine> <name>                                Delete a container
  backup <engine> <name> <out-path> [-format f]         Back up a container
  restore <engine> <name> <backup-path>                 Restore a container from a backup
  exec <engine> <name> <sql>                            Run a query against a running instance
  engines                                               List supported engines
  version                                               Print dbforge's build version

Environment Variables:
  DBFORGE_ROOT          Root directory for binaries, containers, and config (default ~/.dbforge)
  DBFORGE_CONFIG_FILE   Path to an optional YAML config overlay (default dbforge.yaml)

Examples:
  dbforge create redis cache1 -version 7.2
  dbforge start redis cache1
  dbforge stop redis cache1
  dbforge backup redis cache1 /tmp/cache1.rdb`)
}
