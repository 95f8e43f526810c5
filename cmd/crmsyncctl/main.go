package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matheus3301/crmsync/internal/api"
	"github.com/matheus3301/crmsync/internal/bus"
	"github.com/matheus3301/crmsync/internal/profile"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	timeoutFlag := flag.Duration("timeout", 5*time.Minute, "how long to wait for the daemon")
	flag.Usage = printUsage
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fatalf("%v", err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeoutFlag)
	defer cancel()

	// Device commands edit the local device database and need no daemon.
	if args[0] == "device" {
		cmdDevice(ctx, profileName, args[1:])
		return
	}

	c, err := api.NewClient(profile.SocketPath(profileName))
	if err != nil {
		fatalf("cannot connect to daemon for profile %q: %v", profileName, err)
	}
	defer func() { _ = c.Close() }()

	switch args[0] {
	case "status":
		cmdStatus(ctx, c, *jsonFlag)
	case "sync":
		cmdSync(ctx, c, args[1:], *jsonFlag)
	case "schedule":
		cmdSchedule(ctx, c, args[1:], *jsonFlag)
	case "runs":
		cmdRuns(ctx, c, args[1:], *jsonFlag)
	case "watch":
		// Watch runs until interrupted, not for the request timeout.
		cancel()
		cmdWatch(c, args[1:], *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: crmsyncctl [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                          Show run state, watermarks and jobs")
	fmt.Fprintln(os.Stderr, "  sync [--no-calls]               Sync now")
	fmt.Fprintln(os.Stderr, "  schedule [flags]                Register the periodic job")
	fmt.Fprintln(os.Stderr, "  runs [--limit N]                List recent stream outcomes")
	fmt.Fprintln(os.Stderr, "  watch [--namespace P]           Stream daemon events")
	fmt.Fprintln(os.Stderr, "  device add-contact NAME [PHONE] [EMAIL]")
	fmt.Fprintln(os.Stderr, "  device delete-contact NAME")
	fmt.Fprintln(os.Stderr, "  device add-call PHONE TYPE [DURATION]")
}

func cmdStatus(ctx context.Context, c *api.Client, jsonOut bool) {
	resp, err := c.GetStatus(ctx)
	if err != nil {
		fatalf("%v", err)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	fmt.Printf("Profile:   %v\n", resp["profile"])
	fmt.Printf("State:     %v\n", resp["state"])
	fmt.Printf("CRM:       %s\n", configured(resp["crm_configured"]))
	fmt.Printf("Last sync: %s\n", formatMillis(resp["last_sync_ms"]))
	fmt.Printf("Contacts:  %v in snapshot\n", resp["snapshot_contacts"])
	if last, ok := resp["last_run"].(map[string]any); ok {
		fmt.Printf("Last run:  %v (%v)\n", last["message"], last["trigger"])
	}
	jobs, _ := resp["jobs"].([]any)
	for _, j := range jobs {
		job, _ := j.(map[string]any)
		fmt.Printf("Job:       %v every %v, next %s", job["job"], job["interval"], formatMillis(job["next_run_ms"]))
		if reason := deferredReason(job); reason != "" {
			fmt.Printf(" (deferred: %s)", reason)
		}
		fmt.Println()
	}
}

func cmdSync(ctx context.Context, c *api.Client, args []string, jsonOut bool) {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	noCalls := fs.Bool("no-calls", false, "sync contacts only")
	_ = fs.Parse(args)

	var includeCalls *bool
	if *noCalls {
		f := false
		includeCalls = &f
	}
	resp, err := c.SyncNow(ctx, includeCalls)
	if err != nil {
		fatalf("%v", err)
	}
	if jsonOut {
		outputJSON(resp)
	} else {
		fmt.Printf("%v contacts: %v, calls: %v\n", resp["message"], resp["contacts"], resp["calls"])
		streams, _ := resp["streams"].([]any)
		for _, s := range streams {
			st, _ := s.(map[string]any)
			if e, _ := st["error"].(string); e != "" {
				fmt.Printf("  %v: %s\n", st["stream"], e)
			}
		}
	}
	if resp["success"] != true {
		os.Exit(2)
	}
}

func cmdSchedule(ctx context.Context, c *api.Client, args []string, jsonOut bool) {
	fs := flag.NewFlagSet("schedule", flag.ExitOnError)
	job := fs.String("job", "", "job name (default crm-sync)")
	interval := fs.String("interval", "", "repeat interval, e.g. 2h")
	policy := fs.String("policy", "", "KEEP or UPDATE (default UPDATE)")
	unmetered := fs.Bool("unmetered", true, "run only on an unmetered network")
	charging := fs.Bool("charging", true, "run only while charging")
	_ = fs.Parse(args)

	resp, err := c.Schedule(ctx, api.ScheduleRequest{
		Job:              *job,
		Interval:         *interval,
		Policy:           *policy,
		RequireUnmetered: *unmetered,
		RequireCharging:  *charging,
	})
	if err != nil {
		fatalf("%v", err)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	verb := "kept"
	if resp["changed"] == true {
		verb = "registered"
	}
	fmt.Printf("Job %v %s: every %v, unmetered=%v charging=%v\n",
		resp["job"], verb, resp["interval"], resp["require_unmetered"], resp["require_charging"])
}

func cmdRuns(ctx context.Context, c *api.Client, args []string, jsonOut bool) {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	limit := fs.Int("limit", 20, "number of rows")
	_ = fs.Parse(args)

	runs, err := c.ListRuns(ctx, *limit)
	if err != nil {
		fatalf("%v", err)
	}
	if jsonOut {
		outputJSON(runs)
		return
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return
	}
	for _, r := range runs {
		outcome := "ok"
		switch {
		case r["skipped"] == true:
			outcome = "skipped"
		case r["success"] != true:
			outcome = "failed"
		}
		fmt.Printf("%-20s %-8s %-8s %-7s %4v %v\n",
			formatMillis(r["finished_at_ms"]), r["trigger"], r["stream"], outcome, r["count"], r["error"])
	}
}

func cmdWatch(c *api.Client, args []string, jsonOut bool) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	namespace := fs.String("namespace", "", "event kind prefix, e.g. sync.")
	_ = fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events, err := c.WatchEvents(ctx, *namespace)
	if err != nil {
		fatalf("%v", err)
	}
	for {
		env, err := events.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			fatalf("%v", err)
		}
		if jsonOut {
			outputJSON(env)
			continue
		}
		if line := describeEvent(env); line != "" {
			fmt.Printf("%s %s\n", formatMillis(env["occurred_at_ms"]), line)
		}
	}
}

// describeEvent renders one event envelope as a progress line.
func describeEvent(env map[string]any) string {
	p, _ := env["payload"].(map[string]any)
	switch env["kind"] {
	case api.KindWatchSubscribed:
		return fmt.Sprintf("watching profile %v", env["profile"])
	case bus.KindRunStarted:
		return fmt.Sprintf("run %v started (%v)", p["run_id"], p["trigger"])
	case bus.KindStreamCompleted:
		switch {
		case p["skipped"] == true:
			return fmt.Sprintf("  %v skipped: %v", p["stream"], p["error"])
		case p["success"] == true:
			return fmt.Sprintf("  %v: %v sent", p["stream"], p["count"])
		default:
			return fmt.Sprintf("  %v failed (%v): %v", p["stream"], p["class"], p["error"])
		}
	case bus.KindRunFinished:
		return fmt.Sprintf("run %v finished: %v", p["run_id"], p["message"])
	case bus.KindRunDeferred:
		return fmt.Sprintf("job %v deferred: %v", p["job"], p["reason"])
	case bus.KindJobRegistered:
		return fmt.Sprintf("job %v registered every %v", p["job"], p["interval"])
	case bus.KindStatusChanged:
		return fmt.Sprintf("state %v -> %v", p["from"], p["to"])
	default:
		return fmt.Sprintf("%v", env["kind"])
	}
}

func deferredReason(job map[string]any) string {
	reason, _ := job["deferred"].(string)
	return reason
}

func configured(v any) string {
	if v == true {
		return "configured"
	}
	return "not configured"
}

func formatMillis(v any) string {
	ms, _ := v.(float64)
	if ms <= 0 {
		return "never"
	}
	return time.UnixMilli(int64(ms)).Format(time.DateTime)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
