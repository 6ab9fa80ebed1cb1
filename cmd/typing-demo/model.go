package main

import (
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/lipgloss/v2"

	"github.com/omochice/typing-indicator/internal/config"
	"github.com/omochice/typing-indicator/internal/typing"
	"github.com/omochice/typing-indicator/pkg/protocol"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginBottom(1)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	inputStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1)

	sentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

const maxSent = 10

// composer is the text being typed. The keystroke adapter reads it from its
// timer goroutine.
type composer struct {
	mu   sync.Mutex
	text string
}

func (c *composer) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text
}

func (c *composer) insert(s string) {
	c.mu.Lock()
	c.text += s
	c.mu.Unlock()
}

func (c *composer) deleteLast() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.text == "" {
		return
	}
	_, size := utf8.DecodeLastRuneInString(c.text)
	c.text = c.text[:len(c.text)-size]
}

func (c *composer) deleteWord() {
	c.mu.Lock()
	defer c.mu.Unlock()
	trimmed := strings.TrimRightFunc(c.text, unicode.IsSpace)
	i := strings.LastIndexFunc(trimmed, unicode.IsSpace)
	c.text = trimmed[:i+1]
}

func (c *composer) take() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.text
	c.text = ""
	return s
}

type summaryMsg typing.Summary

type model struct {
	userID         string
	conversationID string
	composer       *composer
	session        *typing.Session
	changes        <-chan typing.Summary
	summary        typing.Summary
	sent           []string
	width          int
}

func newModel(cfg config.Client, c *composer, s *typing.Session, changes <-chan typing.Summary) model {
	return model{
		userID:         cfg.UserID,
		conversationID: cfg.ConversationID,
		composer:       c,
		session:        s,
		changes:        changes,
	}
}

func (m model) waitForSummary() tea.Cmd {
	return func() tea.Msg {
		s, ok := <-m.changes
		if !ok {
			return nil
		}
		return summaryMsg(s)
	}
}

func (m model) Init() tea.Cmd {
	return m.waitForSummary()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		key := msg.String()
		switch key {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			// Sending a message ends the typing session.
			if text := m.composer.take(); strings.TrimSpace(text) != "" {
				m.sent = append(m.sent, text)
				if len(m.sent) > maxSent {
					m.sent = m.sent[len(m.sent)-maxSent:]
				}
			}
			m.session.Keys().Reset()
			m.session.Publisher().SetState(protocol.StateFinished)
			return m, nil
		}

		kind, text := classifyKey(key)
		switch kind {
		case typing.KeyCharacter:
			m.composer.insert(text)
		case typing.KeyDeletion:
			switch key {
			case "backspace":
				m.composer.deleteLast()
			case "ctrl+w":
				m.composer.deleteWord()
			case "ctrl+u":
				m.composer.take()
			}
		}
		m.session.Keys().HandleKey(kind)

	case summaryMsg:
		m.summary = typing.Summary(msg)
		return m, m.waitForSummary()

	case tea.WindowSizeMsg:
		m.width = msg.Width
	}

	return m, nil
}

func (m model) View() tea.View {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Typing indicators: " + m.conversationID + " as " + m.userID))
	b.WriteString("\n")
	for _, s := range m.sent {
		b.WriteString(sentStyle.Render(m.userID+": "+s) + "\n")
	}
	b.WriteString("\n")
	b.WriteString(statusStyle.Render("STATE: "+statusLine(m.summary)) + "\n")

	style := inputStyle
	if m.width > 4 {
		style = style.Width(m.width - 4)
	}
	b.WriteString(style.Render(m.composer.Text()+"█") + "\n")
	b.WriteString(helpStyle.Render("enter: send • esc/ctrl+c: quit"))

	return tea.NewView(b.String())
}

// classifyKey maps a key name to the kind of edit it makes and, for
// characters, the text it inserts.
func classifyKey(key string) (typing.KeyKind, string) {
	switch key {
	case "space":
		return typing.KeyCharacter, " "
	// The cursor always sits at the end, so forward delete edits nothing.
	case "backspace", "ctrl+w", "ctrl+u":
		return typing.KeyDeletion, ""
	}
	if r, size := utf8.DecodeRuneInString(key); size == len(key) && r != utf8.RuneError && unicode.IsPrint(r) {
		return typing.KeyCharacter, key
	}
	return typing.KeyMeta, ""
}

// statusLine renders a summary as "a is typing and b, c are paused".
func statusLine(s typing.Summary) string {
	typingStr := describe(s.Typing, "typing")
	pausedStr := describe(s.Paused, "paused")
	switch {
	case typingStr != "" && pausedStr != "":
		return typingStr + " and " + pausedStr
	case typingStr != "":
		return typingStr
	default:
		return pausedStr
	}
}

func describe(users []string, what string) string {
	switch len(users) {
	case 0:
		return ""
	case 1:
		return users[0] + " is " + what
	default:
		return strings.Join(users, ", ") + " are " + what
	}
}
