package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	orchestration "github.com/koscakluka/ema-realtime/core"
	"github.com/koscakluka/ema-realtime/core/config"
	"github.com/koscakluka/ema-realtime/core/events"
)

const actionTimeout = 15 * time.Second

var (
	titleStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	labelStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	stateStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	failedStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	speakingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	statusStyle     = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("244"))
	transcriptStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)
)

type keyMap struct {
	Connect    key.Binding
	Start      key.Binding
	Stop       key.Binding
	Interrupts key.Binding
	Commit     key.Binding
	Reconnect  key.Binding
	Disconnect key.Binding
	Quit       key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		Connect:    key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "connect")),
		Start:      key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "start")),
		Stop:       key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "stop")),
		Interrupts: key.NewBinding(key.WithKeys("i"), key.WithHelp("i", "toggle interruptions")),
		Commit:     key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "commit turn")),
		Reconnect:  key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reconnect")),
		Disconnect: key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "disconnect")),
		Quit:       key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Connect, k.Start, k.Stop, k.Interrupts, k.Commit, k.Reconnect, k.Disconnect, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding { return [][]key.Binding{k.ShortHelp()} }

type sessionEventMsg struct{ event events.Event }

type sessionClosedMsg struct{}

type actionDoneMsg struct {
	action string
	err    error
}

type model struct {
	controller *orchestration.Controller
	events     <-chan events.Event
	manual     bool

	keys    keyMap
	help    help.Model
	spinner spinner.Model

	state        orchestration.SessionState
	allow        bool
	userSpeaking bool
	userSaid     string
	transcript   string
	status       string
	width        int
}

func newModel(controller *orchestration.Controller, sub <-chan events.Event, cfg config.Config) model {
	return model{
		controller: controller,
		events:     sub,
		manual:     cfg.Session.Turn.Mode == config.TurnModeManual,
		keys:       newKeyMap(),
		help:       help.New(),
		spinner:    spinner.New(spinner.WithSpinner(spinner.Dot)),
		state:      controller.State(),
		allow:      controller.AllowInterruptions(),
		width:      80,
	}
}

func runTUI(ctx context.Context, controller *orchestration.Controller, cfg config.Config) error {
	sub, unsubscribe := controller.Subscribe(128)
	defer unsubscribe()

	program := tea.NewProgram(newModel(controller, sub, cfg), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-sub
		if !ok {
			return sessionClosedMsg{}
		}
		return sessionEventMsg{event: ev}
	}
}

func runAction(action string, fn func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		return actionDoneMsg{action: action, err: fn(ctx)}
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForEvent(m.events))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case actionDoneMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("%s failed: %v", msg.action, msg.err)
		} else {
			m.status = ""
		}
		return m, nil

	case sessionEventMsg:
		m.apply(msg.event)
		return m, waitForEvent(m.events)

	case sessionClosedMsg:
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Connect):
		m.status = "connecting"
		return m, runAction("connect", m.controller.Connect)
	case key.Matches(msg, m.keys.Start):
		return m, runAction("start", m.controller.StartConversation)
	case key.Matches(msg, m.keys.Stop):
		return m, runAction("stop", m.controller.StopConversation)
	case key.Matches(msg, m.keys.Commit):
		return m, runAction("commit", m.controller.Commit)
	case key.Matches(msg, m.keys.Reconnect):
		m.status = "reconnecting"
		return m, runAction("reconnect", m.controller.Reconnect)
	case key.Matches(msg, m.keys.Disconnect):
		return m, runAction("disconnect", m.controller.Disconnect)
	case key.Matches(msg, m.keys.Interrupts):
		m.allow = !m.allow
		m.controller.SetAllowInterruptions(m.allow)
	}
	return m, nil
}

func (m *model) apply(ev events.Event) {
	switch ev := ev.(type) {
	case events.SessionStateChanged:
		if state, ok := orchestration.ParseSessionState(ev.To); ok {
			m.state = state
		}
		if ev.Reason != "" {
			m.status = ev.Reason
		}
		if m.state == orchestration.StateDisconnected {
			m.userSpeaking = false
		}
	case events.UserSpeechStarted:
		m.userSpeaking = true
	case events.UserSpeechEnded:
		m.userSpeaking = false
	case events.UserTranscriptFinal:
		m.userSaid = ev.Transcript
	case events.AssistantTranscriptUpdated:
		m.transcript = ev.Transcript
	case events.AssistantPlaybackInterrupted:
		m.status = fmt.Sprintf("interrupted after %dms", ev.PlayedMS)
	case events.SessionError:
		m.status = ev.Code + ": " + ev.Message
	case events.ConnectionStatus:
		m.status = fmt.Sprintf("connection %s (attempt %d)", ev.Status, ev.Attempt)
	}
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("ema-realtime"))
	b.WriteString("\n\n")

	state := stateStyle.Render(m.state.String())
	switch m.state {
	case orchestration.StateFailed:
		state = failedStyle.Render(m.state.String())
	case orchestration.StateConnecting, orchestration.StateClosing:
		state = m.spinner.View() + " " + state
	}
	b.WriteString(labelStyle.Render("state         ") + state + "\n")

	interruptions := "off"
	if m.allow {
		interruptions = "on"
	}
	b.WriteString(labelStyle.Render("interruptions ") + interruptions + "\n")
	if m.manual {
		b.WriteString(labelStyle.Render("turns         ") + "manual, press enter to commit\n")
	}
	if m.userSpeaking {
		b.WriteString(speakingStyle.Render("listening...") + "\n")
	} else {
		b.WriteString("\n")
	}

	wrap := max(m.width-4, 20)
	if m.userSaid != "" {
		b.WriteString("\n" + labelStyle.Render("you") + "\n")
		b.WriteString(wordwrap.String(m.userSaid, wrap) + "\n")
	}
	b.WriteString("\n" + labelStyle.Render("assistant") + "\n")
	b.WriteString(transcriptStyle.Width(wrap).Render(wordwrap.String(m.transcript, wrap-2)))
	b.WriteString("\n")

	if m.status != "" {
		b.WriteString("\n" + statusStyle.Render(m.status) + "\n")
	}
	b.WriteString("\n" + m.help.View(m.keys))
	return b.String()
}
