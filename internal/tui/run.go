package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Run connects to a dispatchd server and drives the watch screen until
// the user quits or the event stream drops.
func Run(ctx context.Context, baseURL string) error {
	client, err := Dial(baseURL)
	if err != nil {
		return err
	}
	defer client.Close()

	p := tea.NewProgram(NewApp(), tea.WithAltScreen())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Websocket reader. A read error ends the program.
	go func() {
		for {
			ev, err := client.Next()
			if err != nil {
				p.Send(StreamClosedMsg{Err: err})
				return
			}
			p.Send(EventMsg(ev))
		}
	}()

	// Stats and agent roster poller.
	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			if stats, err := client.Stats(); err == nil {
				p.Send(StatsMsg(stats))
			}
			if agents, err := client.Agents(); err == nil {
				p.Send(AgentsMsg(agents))
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	_, err = p.Run()
	return err
}
