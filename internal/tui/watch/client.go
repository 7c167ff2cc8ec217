package watch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/tasklog/internal/events"
)

type eventMsg events.Event

type healthMsg struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

type tickMsg time.Time

type errMsg error

type streamClosedMsg struct{ err error }
type reconnectMsg struct{}

// subscribe streams /v1/events into ch, resuming after lastID, until the
// connection drops.
func subscribe(client *http.Client, apiURL, apiKey string, lastID int64, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, apiURL+"/v1/events", nil)
		if err != nil {
			return errMsg(err)
		}
		req.Header.Set("Authorization", "Bearer "+apiKey)
		req.Header.Set("Accept", "text/event-stream")
		if lastID > 0 {
			req.Header.Set("Last-Event-ID", strconv.FormatInt(lastID, 10))
		}

		resp, err := client.Do(req)
		if err != nil {
			return streamClosedMsg{err: err}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return streamClosedMsg{err: fmt.Errorf("events: %s", resp.Status)}
		}

		err = readSSE(resp.Body, func(ev events.Event) { ch <- ev })
		return streamClosedMsg{err: err}
	}
}

// readSSE parses an event stream, calling fn once per complete event.
// Comment lines (keep-alives) are skipped.
func readSSE(r io.Reader, fn func(events.Event)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var cur events.Event
	var data strings.Builder
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				cur.Data = json.RawMessage(data.String())
				cur.At = time.Now()
				fn(cur)
			}
			cur = events.Event{}
			data.Reset()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "id: "):
			if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
				cur.ID = id
			}
		case strings.HasPrefix(line, "event: "):
			cur.Type = line[7:]
		case strings.HasPrefix(line, "data: "):
			data.WriteString(line[6:])
		}
	}
	return sc.Err()
}

func receiveNext(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

func fetchHealth(apiURL string) tea.Cmd {
	return func() tea.Msg {
		client := &http.Client{Timeout: 2 * time.Second}
		resp, err := client.Get(apiURL + "/healthz")
		if err != nil {
			return errMsg(err)
		}
		defer resp.Body.Close()

		var h healthMsg
		if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
			return errMsg(fmt.Errorf("healthz: %w", err))
		}
		return h
	}
}
