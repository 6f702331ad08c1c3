// Command labfeed replays a JSONL file of normalized feed events into a
// wardwatch server's ingestion endpoint. One JSON event per line; blank
// lines and lines starting with '#' are skipped. Delivery is at-least-once:
// a failed batch is retried with backoff, and the server's idempotent event
// handling absorbs re-sends.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2
	sendTimeout       = 10 * time.Second
)

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "wardwatch server base URL")
	file := flag.String("file", "", "JSONL event file to replay (required)")
	source := flag.String("source", "", "value for the event source field when the line has none")
	batchSize := flag.Int("batch", 50, "events per request")
	interval := flag.Duration("interval", 0, "pause between batches (0 = none)")
	apiKey := flag.String("api-key", os.Getenv("WARDWATCH_API_KEY"), "API key sent in the x-api-key header")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if *file == "" {
		slog.Error("missing required -file flag")
		os.Exit(2)
	}

	f, err := os.Open(*file)
	if err != nil {
		slog.Error("open event file", "err", err)
		os.Exit(1)
	}
	defer f.Close()

	client := &http.Client{Timeout: sendTimeout}
	endpoint := *serverURL + "/api/v1/events"

	var (
		batch   []json.RawMessage
		sent    int
		skipped int
		lineNo  int
	)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		send(client, endpoint, *apiKey, batch)
		sent += len(batch)
		batch = nil
		if *interval > 0 {
			time.Sleep(*interval)
		}
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}

		ev, err := prepare(line, *source)
		if err != nil {
			slog.Warn("skipping malformed line", "line", lineNo, "err", err)
			skipped++
			continue
		}

		batch = append(batch, ev)
		if len(batch) >= *batchSize {
			flush()
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Error("read event file", "err", err)
		os.Exit(1)
	}
	flush()

	slog.Info("replay complete", "sent", sent, "skipped", skipped)
}

// prepare validates that the line is a JSON object and stamps the source
// field when the caller supplied one and the line has none.
func prepare(line []byte, source string) (json.RawMessage, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal(line, &obj); err != nil {
		return nil, err
	}
	if source != "" {
		if _, ok := obj["source"]; !ok {
			obj["source"] = source
			return json.Marshal(obj)
		}
	}
	return json.RawMessage(append([]byte(nil), line...)), nil
}

// send posts one batch, retrying with exponential backoff until the server
// accepts it.
func send(client *http.Client, endpoint, apiKey string, batch []json.RawMessage) {
	body, err := json.Marshal(batch)
	if err != nil {
		slog.Error("marshal batch", "err", err)
		return
	}

	backoff := backoffInitial
	for {
		err := post(client, endpoint, apiKey, body)
		if err == nil {
			return
		}
		slog.Warn("batch delivery failed — retrying",
			"events", len(batch),
			"backoff", backoff,
			"err", err,
		)
		time.Sleep(backoff)
		backoff *= backoffMultiplier
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}
}

func post(client *http.Client, endpoint, apiKey string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("x-api-key", apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned HTTP %d", resp.StatusCode)
	}
	return nil
}
