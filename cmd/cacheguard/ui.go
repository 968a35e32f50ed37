package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			MarginLeft(2).
			Foreground(lipgloss.Color("#3B82F6")).
			Bold(true).
			Render

	docStyle = lipgloss.NewStyle().Margin(1, 2)

	failStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F87171")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981")).
			Bold(true)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#64748B")).
			Italic(true)
)

type item struct {
	title, desc string
	failed      bool
}

func (i item) Title() string       { return i.title }
func (i item) Description() string { return i.desc }
func (i item) FilterValue() string { return i.title + i.desc }

type model struct {
	list       list.Model
	outcomes   []runOutcome
	lastUpdate time.Time
}

type updateMsg struct {
	outcomes   []runOutcome
	lastUpdate time.Time
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		h, v := docStyle.GetFrameSize()
		m.list.SetSize(msg.Width-h, msg.Height-v-4)
	case updateMsg:
		m.outcomes = msg.outcomes
		m.lastUpdate = msg.lastUpdate

		items := []list.Item{}
		for _, o := range m.outcomes {
			if o.OK {
				items = append(items, item{
					title: o.Project,
					desc: fmt.Sprintf("pass | %d resolutions | %d dir watches | %d file watches | %v",
						o.Stats.LiveResolutions, o.Stats.DirectoryWatches, o.Stats.FileWatches, o.Duration),
				})
				continue
			}
			items = append(items, item{
				title:  fmt.Sprintf("%s [%s]", o.Project, o.FailureCode),
				desc:   o.Message,
				failed: true,
			})
		}
		m.list.SetItems(items)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m model) View() string {
	status := statusStyle.Render(fmt.Sprintf("Last update: %v | %d projects",
		m.lastUpdate.Format("15:04:05"), len(m.outcomes)))

	failures := 0
	for _, o := range m.outcomes {
		if !o.OK {
			failures++
		}
	}

	var summary string
	if failures == 0 {
		summary = successStyle.Render("✅ Caches Consistent")
	} else {
		summary = fmt.Sprintf("⚠️  %s", failStyle.Render(fmt.Sprintf("%d Failing Projects", failures)))
	}

	header := fmt.Sprintf("%s\n%s | %s\n", titleStyle("Resolution Cache Monitor"), status, summary)
	return docStyle.Render(header + "\n" + m.list.View())
}

func initialModel() model {
	l := list.New([]list.Item{}, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Verification Results"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)

	return model{
		list:       l,
		lastUpdate: time.Now(),
	}
}
