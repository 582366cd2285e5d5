package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/wippyai/scriptbridge/bridge"
	"github.com/wippyai/scriptbridge/server"
)

func main() {
	var (
		addr        = flag.String("addr", "http://127.0.0.1:11116", "Bridge server URL")
		script      = flag.String("script", "", "Script to run")
		file        = flag.String("file", "", "Read the script from a file (- for stdin)")
		timeout     = flag.Duration("timeout", 30*time.Second, "Request timeout (0 waits forever)")
		historyN    = flag.Int("history", 0, "Print the last N recorded requests and exit")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	client := server.NewClient(*addr, nil)

	if *historyN > 0 {
		if err := printHistory(ctx, client, *historyN); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *interactive || (*script == "" && *file == "" && term.IsTerminal(int(os.Stdin.Fd()))) {
		if err := runInteractive(client, *addr, *timeout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	text, err := readScript(*script, *file, os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := run(ctx, client, text, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var se *bridge.ScriptError
		if errors.As(err, &se) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func readScript(script, file string, stdin io.Reader) (string, error) {
	switch {
	case script != "":
		return script, nil
	case file == "" || file == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	default:
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read file: %w", err)
		}
		return string(data), nil
	}
}

func run(ctx context.Context, client *server.Client, script string, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	result, err := client.RunScript(ctx, script)
	if err != nil {
		return err
	}
	fmt.Println(result)
	return nil
}

func printHistory(ctx context.Context, client *server.Client, n int) error {
	entries, err := client.History(ctx, n)
	if err != nil {
		return err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		outcome := "=> " + e.Result
		if e.Message != "" {
			outcome = fmt.Sprintf("!! [%d] %s", e.Code, e.Message)
		}
		fmt.Printf("%s  %-40s %s (%.1fms)\n", e.Time.Format(time.TimeOnly), oneLine(e.Script), outcome, e.DurationMS)
	}
	return nil
}

func oneLine(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > 40 {
		return s[:37] + "..."
	}
	return s
}
