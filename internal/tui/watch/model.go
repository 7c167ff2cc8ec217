package watch

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/tasklog/internal/events"
)

const (
	maxEventLog    = 50
	healthInterval = 5 * time.Second
	reconnectDelay = 3 * time.Second
)

// Model is the BubbleTea model for the watch dashboard.
type Model struct {
	apiURL string
	apiKey string
	http   *http.Client

	width  int
	height int

	health   HealthState
	stats    map[string]*TypeStats
	served   int
	failed   int
	eventLog []events.Event
	lastID   int64
	act      activity

	table table.Model
	theme Theme

	incoming chan events.Event

	lastError string
	now       func() time.Time
}

// New returns a dashboard for the API at apiURL (e.g. http://127.0.0.1:8080).
func New(apiURL, apiKey string) Model {
	theme := NewDefaultTheme()
	return Model{
		apiURL:   strings.TrimRight(apiURL, "/"),
		apiKey:   apiKey,
		http:     &http.Client{},
		stats:    make(map[string]*TypeStats),
		table:    newCommandTable(theme),
		theme:    theme,
		incoming: make(chan events.Event, 100),
		now:      time.Now,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribe(m.http, m.apiURL, m.apiKey, 0, m.incoming),
		receiveNext(m.incoming),
		fetchHealth(m.apiURL),
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "c":
			m.stats = make(map[string]*TypeStats)
			m.served, m.failed = 0, 0
			m.eventLog = nil
			m.table.SetRows(nil)
			return m, nil
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetWidth(msg.Width - 8)

	case tickMsg:
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		e := events.Event(msg)
		if e.ID > m.lastID {
			m.lastID = e.ID
		}
		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > maxEventLog {
			m.eventLog = m.eventLog[:maxEventLog]
		}
		if entry, ok := decodeEntry(e); ok {
			updateStats(m.stats, entry)
			m.served++
			if !entry.OK {
				m.failed++
			}
			m.table.SetRows(commandRows(m.stats))
		}
		m.act.hit(m.now())
		m.health.Connected = true
		m.lastError = ""
		return m, receiveNext(m.incoming)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		m.health.Connected = true
		m.health.LastCheck = m.now()
		m.lastError = ""
		return m, tea.Tick(healthInterval, func(time.Time) tea.Msg { return fetchHealth(m.apiURL)() })

	case streamClosedMsg:
		m.health.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		if msg.err != nil {
			m.lastError = fmt.Sprintf("event stream: %v, reconnecting...", msg.err)
		}
		// The pending receiveNext keeps reading m.incoming across reconnects.
		return m, tea.Tick(reconnectDelay, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, subscribe(m.http, m.apiURL, m.apiKey, m.lastID, m.incoming)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(healthInterval, func(time.Time) tea.Msg { return fetchHealth(m.apiURL)() })
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to " + m.apiURL + "..."
	}
	now := m.now()

	parts := []string{
		renderHeader(m.health, m.served, m.failed, m.act, m.theme, m.width, now),
		renderCommands(m.table, m.theme, m.width),
		renderEventStream(m.eventLog, m.theme, m.width),
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(fmt.Sprintf(" ! %s", m.lastError)))
	}
	parts = append(parts, m.theme.Dim.Render(" [q] quit  [c] clear  [up/down] select type"))

	return lipgloss.NewStyle().Margin(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}
