package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os/signal"
	"strings"
	"syscall"

	"nhooyr.io/websocket"
)

func runEventsCommand(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("events", stderr)
	var fundID string
	fs.StringVar(&fundID, "fund", "", "only stream events for this fund")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	target, err := eventsURL(apiEndpoint, fundID)
	if err != nil {
		return printError(stderr, err.Error())
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	header := http.Header{}
	if token := strings.TrimSpace(apiToken); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := websocket.Dial(ctx, target, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return printError(stderr, fmt.Sprintf("connect %s: %v", target, err))
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return 0
			}
			return printError(stderr, err.Error())
		}
		fmt.Fprintln(stdout, string(data))
	}
}

// eventsURL rewrites the HTTP API endpoint into the websocket stream URL.
func eventsURL(endpoint, fundID string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return "", fmt.Errorf("invalid api endpoint: %w", err)
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported api scheme %q", parsed.Scheme)
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/v1/events"
	if fundID = strings.TrimSpace(fundID); fundID != "" {
		parsed.RawQuery = url.Values{"fund": {fundID}}.Encode()
	}
	return parsed.String(), nil
}
