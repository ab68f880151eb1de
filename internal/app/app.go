package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "ingest":
		return runIngest(args[1:])
	case "match":
		return runMatch(args[1:])
	case "alerts":
		return runAlerts(args[1:])
	case "dispatch":
		return runDispatch(args[1:])
	case "rollup":
		return runRollup(args[1:])
	case "enrich":
		return runEnrich(args[1:])
	case "process", "run-once":
		return runProcess(args[1:])
	case "worker":
		return runWorker(args[1:])
	case "serve":
		return runServe(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "pulsewatch CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  pulsewatch <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health    Verify database connectivity")
	fmt.Fprintln(os.Stderr, "  ingest    Validate and ingest one mention payload")
	fmt.Fprintln(os.Stderr, "  match     Match unmatched mentions against active monitors")
	fmt.Fprintln(os.Stderr, "  alerts    Evaluate alert rules for unevaluated matches")
	fmt.Fprintln(os.Stderr, "  dispatch  Deliver due notifications from the queue")
	fmt.Fprintln(os.Stderr, "  rollup    Fold matched mentions into analytics buckets")
	fmt.Fprintln(os.Stderr, "  enrich    Score and embed pending mentions")
	fmt.Fprintln(os.Stderr, "  process   Run match + alerts + rollup + dispatch + enrich once")
	fmt.Fprintln(os.Stderr, "  run-once  Alias for process")
	fmt.Fprintln(os.Stderr, "  worker    Run all sweeps continuously on cron schedules")
	fmt.Fprintln(os.Stderr, "  serve     Start the HTTP API server")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"pulsewatch <command> -h\" for command-specific flags.")
}
