// Package tui provides the live terminal view for dispatchd: a tabbed
// watch screen fed by the server's websocket event stream.
package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"dispatchd/internal/taskmgr"
	"dispatchd/pkg/models"
)

// Tab index constants.
const (
	TabIndexTasks = iota
	TabIndexAgents
	TabIndexEvents
)

var watchTabs = []string{"Tasks", "Agents", "Events"}

// How many recent events the Events tab retains.
const eventLogLimit = 200

// EventMsg delivers one lifecycle event from the websocket reader.
type EventMsg taskmgr.Event

// StatsMsg delivers a manager stats snapshot.
type StatsMsg taskmgr.Stats

// AgentsMsg delivers the current agent roster.
type AgentsMsg []models.AgentDescriptor

// StreamClosedMsg signals that the event stream ended.
type StreamClosedMsg struct{ Err error }

// taskRow is the watch screen's view of one task, folded together from
// the events seen so far.
type taskRow struct {
	id       string
	state    models.TaskState
	priority models.Priority
	agent    string
	retries  int
	lastErr  string
	updated  time.Time
}

// App is the bubbletea model for the watch screen.
type App struct {
	tabs   TabBar
	spin   spinner.Model
	stats  taskmgr.Stats
	agents []models.AgentDescriptor

	tasks  map[string]*taskRow
	events []taskmgr.Event

	width  int
	height int

	connected bool
	streamErr error
	quitting  bool

	titleStyle  lipgloss.Style
	dimStyle    lipgloss.Style
	headerStyle lipgloss.Style
	stateStyles map[models.TaskState]lipgloss.Style
}

// NewApp creates the watch model.
func NewApp() *App {
	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return &App{
		tabs:  NewTabBar(),
		spin:  spin,
		tasks: make(map[string]*taskRow),

		titleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")),

		dimStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		headerStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("252")),

		stateStyles: map[models.TaskState]lipgloss.Style{
			models.TaskQueued:    lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
			models.TaskBlocked:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
			models.TaskRunning:   lipgloss.NewStyle().Foreground(lipgloss.Color("34")),
			models.TaskCompleted: lipgloss.NewStyle().Foreground(lipgloss.Color("28")),
			models.TaskFailed:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
			models.TaskCancelled: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		},
	}
}

// Init starts the connecting spinner.
func (a *App) Init() tea.Cmd {
	return a.spin.Tick
}

// Update handles messages.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			a.quitting = true
			return a, tea.Quit
		}
		var cmd tea.Cmd
		a.tabs, cmd = a.tabs.Update(msg)
		return a, cmd

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		return a, nil

	case EventMsg:
		a.connected = true
		a.applyEvent(taskmgr.Event(msg))
		return a, nil

	case StatsMsg:
		a.connected = true
		a.stats = taskmgr.Stats(msg)
		return a, nil

	case AgentsMsg:
		a.agents = msg
		return a, nil

	case StreamClosedMsg:
		a.connected = false
		a.streamErr = msg.Err
		return a, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spin, cmd = a.spin.Update(msg)
		return a, cmd
	}

	return a, nil
}

func (a *App) applyEvent(ev taskmgr.Event) {
	a.events = append(a.events, ev)
	if len(a.events) > eventLogLimit {
		a.events = a.events[len(a.events)-eventLogLimit:]
	}

	row, ok := a.tasks[ev.TaskID]
	if !ok {
		row = &taskRow{id: ev.TaskID}
		a.tasks[ev.TaskID] = row
	}
	row.state = ev.State
	row.priority = ev.Priority
	row.retries = ev.RetryCount
	row.updated = ev.Timestamp
	if ev.AgentID != "" {
		row.agent = ev.AgentID
	}
	if ev.Error != "" {
		row.lastErr = ev.Error
	}
}

// View renders the watch screen.
func (a *App) View() string {
	if a.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(a.headerLine())
	b.WriteString("\n")
	b.WriteString(a.tabs.View())
	b.WriteString("\n")

	switch a.tabs.Active() {
	case TabIndexTasks:
		b.WriteString(a.tasksView())
	case TabIndexAgents:
		b.WriteString(a.agentsView())
	case TabIndexEvents:
		b.WriteString(a.eventsView())
	}

	b.WriteString("\n")
	b.WriteString(a.dimStyle.Render("tab switch · q quit"))
	return b.String()
}

func (a *App) headerLine() string {
	title := a.titleStyle.Render("dispatchd")
	status := a.spin.View() + " connecting"
	if a.connected {
		status = fmt.Sprintf("running %d · created %d · dropped %d",
			a.stats.Running, a.stats.TotalCreated, a.stats.EventsDropped)
	}
	return title + "  " + a.dimStyle.Render(status)
}

func (a *App) tasksView() string {
	rows := make([]*taskRow, 0, len(a.tasks))
	for _, r := range a.tasks {
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].updated.After(rows[j].updated)
	})

	var b strings.Builder
	b.WriteString(a.headerStyle.Render(fmt.Sprintf("%-36s %-10s %-8s %-14s %-3s %s",
		"TASK", "STATE", "PRIO", "AGENT", "TRY", "ERROR")))
	b.WriteString("\n")

	if len(rows) == 0 {
		b.WriteString(a.dimStyle.Render("no tasks yet"))
		return b.String()
	}

	limit := a.contentHeight()
	for i, r := range rows {
		if i >= limit {
			b.WriteString(a.dimStyle.Render(fmt.Sprintf("… %d more", len(rows)-limit)))
			break
		}
		state := string(r.state)
		if style, ok := a.stateStyles[r.state]; ok {
			state = style.Render(fmt.Sprintf("%-10s", state))
		} else {
			state = fmt.Sprintf("%-10s", state)
		}
		b.WriteString(fmt.Sprintf("%-36s %s %-8s %-14s %-3d %s\n",
			r.id, state, r.priority, truncate(r.agent, 14), r.retries, truncate(r.lastErr, 40)))
	}
	return b.String()
}

func (a *App) agentsView() string {
	var b strings.Builder
	b.WriteString(a.headerStyle.Render(fmt.Sprintf("%-16s %-12s %-10s %s",
		"AGENT", "HEALTH", "LATENCY", "CAPABILITIES")))
	b.WriteString("\n")

	if len(a.agents) == 0 {
		b.WriteString(a.dimStyle.Render("no agents registered"))
		return b.String()
	}

	for _, agent := range a.agents {
		caps := make([]string, 0, len(agent.Capabilities))
		for _, g := range agent.Capabilities {
			caps = append(caps, g.Capability)
		}
		latency := "-"
		if agent.AvgLatency > 0 {
			latency = agent.AvgLatency.Round(time.Millisecond).String()
		}
		b.WriteString(fmt.Sprintf("%-16s %-12s %-10s %s\n",
			truncate(agent.ID, 16), agent.Health, latency, truncate(strings.Join(caps, ", "), 50)))
	}
	return b.String()
}

func (a *App) eventsView() string {
	if len(a.events) == 0 {
		return a.dimStyle.Render("waiting for events")
	}

	var b strings.Builder
	limit := a.contentHeight()
	start := len(a.events) - limit
	if start < 0 {
		start = 0
	}
	for _, ev := range a.events[start:] {
		line := fmt.Sprintf("%s  %-14s %-36s", ev.Timestamp.Format("15:04:05"), ev.Type, ev.TaskID)
		if ev.Error != "" {
			line += "  " + truncate(ev.Error, 40)
		}
		if style, ok := a.stateStyles[ev.State]; ok && ev.State.Terminal() {
			line = style.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func (a *App) contentHeight() int {
	// Header, tab bar, column header, and hint line take ~5 rows.
	h := a.height - 5
	if h < 5 {
		return 20
	}
	return h
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 1 {
		return s[:max]
	}
	return s[:max-1] + "…"
}
