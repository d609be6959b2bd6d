package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Renator13/botnode-public/pkg/config"
)

const version = "0.1.0"

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable to allow mocking in tests
var startServer = runServer

// Run is the entrypoint for testing
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return startServer(modeAll, stdout, stderr)
	}

	switch args[1] {
	case "serve", "server":
		return startServer(modeAll, stdout, stderr)
	case "gateway":
		return startServer(modeGateway, stdout, stderr)
	case "lawv", "law-v":
		return startServer(modeLawV, stdout, stderr)
	case "cri":
		return startServer(modeCRI, stdout, stderr)
	case "health":
		return runHealthCmd(args[2:], stdout, stderr)
	case "version", "--version":
		_, _ = fmt.Fprintf(stdout, "botnode %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

// ANSI Colors
const (
	ColorReset = "\033[0m"
	ColorBold  = "\033[1m"
	ColorGreen = "\033[32m"
	ColorBlue  = "\033[34m"
	ColorCyan  = "\033[36m"
	ColorGray  = "\033[37m"
)

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sBotNode Trust Layer %s%s\n", ColorBold+ColorBlue, "v"+version, ColorReset)
	fmt.Fprintf(w, "%sSchemas say what. Reputation says who.%s\n", ColorGray, ColorReset)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sUSAGE:%s\n", ColorBold, ColorReset)
	fmt.Fprintln(w, "  botnode <command>")
	fmt.Fprintln(w, "")

	printSection(w, "SERVICES")
	printCommand(w, "serve", "Run gateway, Law V and CRI in one process (default, :8100)")
	printCommand(w, "gateway", "Run the hybrid gateway against remote trust services (:8100)")
	printCommand(w, "lawv", "Run the Law V schema service (:8110)")
	printCommand(w, "cri", "Run the CRI reputation service (:8111)")

	printSection(w, "UTILITIES")
	printCommand(w, "health", "Check a running service (health [url])")
	printCommand(w, "version", "Show version information")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "%s%s:%s\n", ColorBold+ColorCyan, title, ColorReset)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %s%-12s%s %s\n", ColorGreen, name, ColorReset, desc)
}

// runHealthCmd probes /health of a running service. Without an argument it
// targets the local gateway port.
func runHealthCmd(args []string, out, errOut io.Writer) int {
	target := "http://localhost" + config.Load().ListenAddr(defaultPorts[modeAll]) + "/health"
	if len(args) > 0 {
		target = args[0]
		if !strings.HasSuffix(target, "/health") {
			target = strings.TrimRight(target, "/") + "/health"
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		_, _ = fmt.Fprintf(errOut, "Health check failed: %v\n", err)
		return 1
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		_, _ = fmt.Fprintf(errOut, "Health check failed: %v\n", err)
		return 1
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = fmt.Fprintf(errOut, "Health check failed: status %d\n", resp.StatusCode)
		return 1
	}

	_, _ = fmt.Fprintln(out, "OK")
	return 0
}
