// Package tui is the terminal dashboard: a single-page Bubble Tea
// model that polls the running server over the socket RPC client and
// renders worker health, batch progress, and run history.
package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/quarrytools/quarry/internal/model"
)

// Client is the server surface the dashboard polls. Satisfied by
// *socketrpc.Client.
type Client interface {
	PoolStats() (model.PoolStats, error)
	BatchStatus() (model.BatchStatus, error)
	RecentRuns(limit int) ([]model.RunRecord, error)
	CancelBatch() (bool, error)
}

// snapshotMsg carries one polling round's results.
type snapshotMsg struct {
	pool  model.PoolStats
	batch model.BatchStatus
	runs  []model.RunRecord
	err   error
}

type tickMsg time.Time

// Model is the dashboard's Bubble Tea model.
type Model struct {
	client   Client
	interval time.Duration

	pool    model.PoolStats
	batch   model.BatchStatus
	runs    []model.RunRecord
	lastErr error
	fetched bool

	keys KeyMap

	width  int
	height int
}

// NewModel builds a dashboard polling the client at the given interval.
func NewModel(client Client, interval time.Duration) *Model {
	if interval <= 0 {
		interval = model.DefaultUpdateInterval
	}
	return &Model{client: client, interval: interval, keys: DefaultKeyMap()}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.fetch(), m.tick())
}

func (m *Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// fetch polls the server once off the update loop.
func (m *Model) fetch() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		var msg snapshotMsg
		var err error
		if msg.pool, err = client.PoolStats(); err != nil {
			msg.err = err
			return msg
		}
		if msg.batch, err = client.BatchStatus(); err != nil {
			msg.err = err
			return msg
		}
		// Run history is optional; the registry may be disabled.
		msg.runs, _ = client.RecentRuns(recentRunRows)
		return msg
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		return m, tea.Batch(m.fetch(), m.tick())

	case snapshotMsg:
		m.lastErr = msg.err
		if msg.err == nil {
			m.pool = msg.pool
			m.batch = msg.batch
			m.runs = msg.runs
			m.fetched = true
		}
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit), key.Matches(msg, m.keys.ForceQuit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Refresh):
			return m, m.fetch()
		case key.Matches(msg, m.keys.Cancel):
			client := m.client
			return m, func() tea.Msg {
				if _, err := client.CancelBatch(); err != nil {
					return snapshotMsg{err: err}
				}
				return nil
			}
		}
	}
	return m, nil
}
