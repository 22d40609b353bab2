// Command labelpool is the Labelpool CLI client.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/labelpool/labelpool/internal/version"
)

const defaultServer = "http://localhost:9090"

func main() {
	var (
		serverURL = flag.String("server", defaultServer, "labelpool server URL")
		token     = flag.String("token", os.Getenv("LABELPOOL_TOKEN"), "JWT auth token")
	)
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	cli := &Client{
		BaseURL:    strings.TrimRight(*serverURL, "/"),
		Token:      *token,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}

	cmd := args[0]
	rest := args[1:]

	var err error
	switch cmd {
	case "version":
		err = cmdVersion(rest)
	case "status":
		err = cli.cmdStatus(rest)
	case "login":
		err = cli.cmdLogin(rest)
	case "projects":
		err = cli.cmdProjects(rest)
	case "project":
		err = cli.cmdProject(rest)
	case "tasks":
		err = cli.cmdTasks(rest)
	case "task":
		err = cli.cmdTask(rest)
	case "serve":
		fmt.Fprintln(os.Stderr, "use labelpoold to run the server")
		os.Exit(1)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `labelpool — Labelpool CLI

Usage:
  labelpool [flags] <command> [args]

Flags:
  --server  <url>    server URL (default: http://localhost:9090)
  --token   <token>  JWT auth token (or $LABELPOOL_TOKEN)

Commands:
  version                         print version
  status                          show server status
  login <user>                    log in, print a token
  projects                        list projects
  project tasks <id>              list a project's tasks
  project sweep <id>              reclaim expired tasks in a project
  tasks                           list tasks
  task show <id>                  show a task
  task claim <id>                 claim a pending task
  task progress <id> <seconds>    report total working time
  task submit <id> <seconds> <labels-json>
                                  submit annotations
  task review <id>                start reviewing a task
  task approve <id> <seconds> <rating> [feedback]
                                  approve a submitted task
  task reject <id> <feedback>     reject and requeue a task
  task audit <id>                 show a task's audit trail
`)
}

// --- version ---

func cmdVersion(_ []string) error {
	fmt.Printf("labelpool %s (commit %s, built %s)\n",
		version.Version, version.Commit, version.BuildDate)
	return nil
}

// Client holds HTTP client state for CLI commands.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// get performs a GET and decodes JSON into v.
func (c *Client) get(path string, v any) error {
	req, err := http.NewRequest(http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// post performs a POST and decodes JSON response into v (may be nil).
func (c *Client) post(path string, body io.Reader, v any) error {
	req, err := http.NewRequest(http.MethodPost, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if v != nil && resp.ContentLength != 0 {
		return json.NewDecoder(resp.Body).Decode(v)
	}
	return nil
}

// --- status ---

func (c *Client) cmdStatus(_ []string) error {
	var result map[string]string
	if err := c.get("/api/status", &result); err != nil {
		return err
	}
	fmt.Printf("status:  %s\n", result["status"])
	fmt.Printf("version: %s\n", result["version"])
	return nil
}

// --- login ---

func (c *Client) cmdLogin(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: labelpool login <user>")
	}
	fmt.Fprint(os.Stderr, "password: ")
	var password string
	if _, err := fmt.Scanln(&password); err != nil {
		return fmt.Errorf("read password: %w", err)
	}
	body := fmt.Sprintf(`{"user_id":%q,"password":%q}`, args[0], password)
	var result map[string]string
	if err := c.post("/api/auth/login", strings.NewReader(body), &result); err != nil {
		return err
	}
	fmt.Printf("export LABELPOOL_TOKEN=%s\n", result["token"])
	return nil
}

// --- projects ---

func (c *Client) cmdProjects(_ []string) error {
	var projects []map[string]any
	if err := c.get("/api/projects", &projects); err != nil {
		return err
	}
	if len(projects) == 0 {
		fmt.Println("no projects")
		return nil
	}
	fmt.Printf("%-36s %-24s %-14s\n", "ID", "NAME", "PAY RATE")
	fmt.Println(strings.Repeat("-", 76))
	for _, p := range projects {
		fmt.Printf("%-36s %-24s %-14s\n",
			strVal(p["id"]),
			truncate(strVal(p["name"]), 23),
			strVal(p["pay_rate"]),
		)
	}
	return nil
}

// --- project subcommands ---

func (c *Client) cmdProject(args []string) error {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: labelpool project <tasks|sweep> <id>")
		os.Exit(1)
	}
	sub, id := args[0], args[1]
	switch sub {
	case "tasks":
		var tasks []map[string]any
		if err := c.get("/api/projects/"+id+"/tasks", &tasks); err != nil {
			return err
		}
		if len(tasks) == 0 {
			fmt.Println("no tasks")
			return nil
		}
		fmt.Printf("%-36s %-18s %-14s %-12s %-10s\n", "ID", "STATUS", "ASSIGNED TO", "STALENESS", "PAY")
		fmt.Println(strings.Repeat("-", 94))
		for _, t := range tasks {
			fmt.Printf("%-36s %-18s %-14s %-12s %-10s\n",
				strVal(t["id"]),
				strVal(t["status"]),
				truncate(strVal(t["assigned_to"]), 13),
				strVal(t["staleness"]),
				strVal(t["annotator_pay"]),
			)
		}
	case "sweep":
		var result map[string]int
		if err := c.post("/api/projects/"+id+"/sweep", nil, &result); err != nil {
			return err
		}
		fmt.Printf("reclaimed %d task(s)\n", result["reclaimed"])
	default:
		return fmt.Errorf("unknown project subcommand: %s", sub)
	}
	return nil
}

// --- tasks ---

func (c *Client) cmdTasks(_ []string) error {
	var tasks []map[string]any
	if err := c.get("/api/tasks", &tasks); err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("no tasks")
		return nil
	}
	fmt.Printf("%-36s %-18s %-14s\n", "ID", "STATUS", "ASSIGNED TO")
	fmt.Println(strings.Repeat("-", 70))
	for _, t := range tasks {
		fmt.Printf("%-36s %-18s %-14s\n",
			strVal(t["id"]),
			strVal(t["status"]),
			truncate(strVal(t["assigned_to"]), 13),
		)
	}
	return nil
}

// --- task subcommands ---

func (c *Client) cmdTask(args []string) error {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: labelpool task <show|claim|progress|submit|review|approve|reject|audit> <id> [args]")
		os.Exit(1)
	}
	sub, id := args[0], args[1]
	rest := args[2:]
	switch sub {
	case "show":
		var t map[string]any
		if err := c.get("/api/tasks/"+id, &t); err != nil {
			return err
		}
		return printJSON(t)
	case "claim":
		var t map[string]any
		if err := c.post("/api/tasks/"+id+"/claim", nil, &t); err != nil {
			return err
		}
		fmt.Printf("claimed task %s\n", strVal(t["id"]))
	case "progress":
		if len(rest) < 1 {
			return fmt.Errorf("usage: labelpool task progress <id> <seconds>")
		}
		seconds, err := strconv.ParseInt(rest[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid seconds %q", rest[0])
		}
		body := fmt.Sprintf(`{"seconds":%d}`, seconds)
		if err := c.post("/api/tasks/"+id+"/progress", strings.NewReader(body), nil); err != nil {
			return err
		}
		fmt.Printf("recorded %ds on task %s\n", seconds, id)
	case "submit":
		if len(rest) < 2 {
			return fmt.Errorf("usage: labelpool task submit <id> <seconds> <labels-json>")
		}
		seconds, err := strconv.ParseInt(rest[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid seconds %q", rest[0])
		}
		labels := rest[1]
		if !json.Valid([]byte(labels)) {
			return fmt.Errorf("labels must be valid JSON")
		}
		body := fmt.Sprintf(`{"seconds":%d,"labels":%s}`, seconds, labels)
		if err := c.post("/api/tasks/"+id+"/submit", strings.NewReader(body), nil); err != nil {
			return err
		}
		fmt.Printf("submitted task %s\n", id)
	case "review":
		if err := c.post("/api/tasks/"+id+"/review/start", nil, nil); err != nil {
			return err
		}
		fmt.Printf("reviewing task %s\n", id)
	case "approve":
		if len(rest) < 2 {
			return fmt.Errorf("usage: labelpool task approve <id> <seconds> <rating> [feedback]")
		}
		seconds, err := strconv.ParseInt(rest[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid seconds %q", rest[0])
		}
		rating, err := strconv.Atoi(rest[1])
		if err != nil {
			return fmt.Errorf("invalid rating %q", rest[1])
		}
		feedback := strings.Join(rest[2:], " ")
		body := fmt.Sprintf(`{"seconds":%d,"rating":%d,"feedback":%q}`, seconds, rating, feedback)
		if err := c.post("/api/tasks/"+id+"/approve", strings.NewReader(body), nil); err != nil {
			return err
		}
		fmt.Printf("approved task %s\n", id)
	case "reject":
		if len(rest) < 1 {
			return fmt.Errorf("usage: labelpool task reject <id> <feedback>")
		}
		body := fmt.Sprintf(`{"feedback":%q}`, strings.Join(rest, " "))
		var result map[string]map[string]any
		if err := c.post("/api/tasks/"+id+"/reject", strings.NewReader(body), &result); err != nil {
			return err
		}
		fmt.Printf("rejected task %s, requeued as %s\n", id, strVal(result["requeued"]["id"]))
	case "audit":
		var entries []map[string]any
		if err := c.get("/api/tasks/"+id+"/audit", &entries); err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%-24s %-14s %-14s %s\n",
				strVal(e["created_at"]),
				strVal(e["action"]),
				strVal(e["actor"]),
				strVal(e["detail"]),
			)
		}
	default:
		return fmt.Errorf("unknown task subcommand: %s", sub)
	}
	return nil
}

// --- helpers ---

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func strVal(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
