package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

var (
	apiEndpoint = defaultAPIEndpoint()
	apiToken    = os.Getenv("FUNDD_TOKEN")
	apiAccount  = os.Getenv("FUNDD_ACCOUNT")
	apiCall     = callAPI
	httpClient  = &http.Client{Timeout: 30 * time.Second}
)

type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("fundd returned %d: %s", e.Status, e.Message)
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	args, err := applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if len(args) < 1 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	switch args[0] {
	case "fund":
		return runFundCommand(args[1:], stdout, stderr)
	case "admin":
		return runAdminCommand(args[1:], stdout, stderr)
	case "token":
		return runTokenCommand(args[1:], stdout, stderr)
	case "events":
		return runEventsCommand(args[1:], stdout, stderr)
	case "assets":
		return printCall(stdout, stderr, http.MethodGet, "/v1/assets", nil)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func usage() string {
	return strings.TrimSpace(`
Usage: trc-cli [--api URL] [--token JWT] [--account ADDR] <command> [args]

Commands:
  assets                          list supported assets and base currencies
  fund <subcommand>               create, inspect and trade funds
  admin <subcommand>              credit accounts, seed pools, pause modules
  token --subject ADDR --scope S  mint a development bearer token
  events [--fund ID]              tail committed fund events

Environment:
  FUNDD_URL, FUNDD_TOKEN, FUNDD_ACCOUNT, FUNDD_JWT_SECRET`)
}

func defaultAPIEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("FUNDD_URL")); v != "" {
		return v
	}
	return "http://localhost:7081"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	targets := map[string]*string{"--api": &apiEndpoint, "--token": &apiToken, "--account": &apiAccount}
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if target, ok := targets[arg]; ok {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for %s", arg)
			}
			*target = args[i+1]
			i++
			continue
		}
		matched := false
		for name, target := range targets {
			if strings.HasPrefix(arg, name+"=") {
				*target = strings.TrimPrefix(arg, name+"=")
				matched = true
				break
			}
		}
		if !matched {
			out = append(out, arg)
		}
	}
	return out, nil
}

func callAPI(method, path string, body interface{}) (json.RawMessage, error) {
	var payload io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		payload = bytes.NewReader(encoded)
	}
	ctx, cancel := context.WithTimeout(context.Background(), httpClient.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(apiEndpoint, "/")+path, payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token := strings.TrimSpace(apiToken); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if account := strings.TrimSpace(apiAccount); account != "" {
		req.Header.Set("X-Account", account)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var failure struct {
			Error string `json:"error"`
		}
		message := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &failure) == nil && failure.Error != "" {
			message = failure.Error
		}
		return nil, &apiError{Status: resp.StatusCode, Message: message}
	}
	return json.RawMessage(data), nil
}

func printCall(stdout, stderr io.Writer, method, path string, body interface{}) int {
	result, err := apiCall(method, path, body)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, result, "", "  "); err != nil {
		fmt.Fprintln(stdout, string(result))
		return 0
	}
	fmt.Fprintln(stdout, pretty.String())
	return 0
}

func printError(stderr io.Writer, message string) int {
	fmt.Fprintf(stderr, "Error: %s\n", message)
	return 1
}
