package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"gita-chat/internal/auth"
)

const (
	loginStepEmail = iota
	loginStepPassword
	loginStepName
	loginStepBusy
)

const (
	flowSignIn = iota
	flowSignUp
	flowReset
)

type authDoneMsg struct {
	session *auth.Session
	err     error
}

type resetDoneMsg struct {
	err error
}

// LoginModel walks the user through sign-in, sign-up or a password reset
// before the chat screen takes over.
type LoginModel struct {
	gate      *auth.Gate
	theme     Theme
	flow      int
	step      int
	email     textinput.Model
	password  textinput.Model
	name      textinput.Model
	statusMsg string
	session   *auth.Session
	done      bool
	width     int
	height    int
}

func NewLoginModel(gate *auth.Gate, theme Theme) *LoginModel {
	email := textinput.New()
	email.Placeholder = "you@example.com"
	email.CharLimit = 254
	email.Focus()

	password := textinput.New()
	password.Placeholder = "password"
	password.EchoMode = textinput.EchoPassword
	password.EchoCharacter = '•'
	password.CharLimit = 128

	name := textinput.New()
	name.Placeholder = "display name (optional)"
	name.CharLimit = 60

	return &LoginModel{
		gate:     gate,
		theme:    theme,
		flow:     flowSignIn,
		step:     loginStepEmail,
		email:    email,
		password: password,
		name:     name,
	}
}

func (m *LoginModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *LoginModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case authDoneMsg:
		if msg.err != nil {
			m.statusMsg = friendlyAuthError(msg.err)
			m.step = loginStepPassword
			m.password.SetValue("")
			m.password.Focus()
			return m, textinput.Blink
		}
		m.session = msg.session
		m.done = true
		return m, tea.Quit

	case resetDoneMsg:
		if msg.err != nil {
			m.statusMsg = friendlyAuthError(msg.err)
		} else {
			m.statusMsg = "Reset email sent. Check your inbox, then sign in."
			m.flow = flowSignIn
		}
		m.step = loginStepEmail
		m.email.Focus()
		return m, textinput.Blink

	case tea.KeyMsg:
		if m.step == loginStepBusy {
			if msg.String() == "ctrl+c" {
				m.done = true
				return m, tea.Quit
			}
			return m, nil
		}
		switch msg.String() {
		case "ctrl+c", "esc":
			m.done = true
			return m, tea.Quit

		case "tab":
			m.statusMsg = ""
			m.flow = (m.flow + 1) % 3
			m.step = loginStepEmail
			m.password.SetValue("")
			m.name.SetValue("")
			m.focusStep()
			return m, textinput.Blink

		case "enter":
			return m.advance()
		}
	}

	switch m.step {
	case loginStepEmail:
		m.email, cmd = m.email.Update(msg)
	case loginStepPassword:
		m.password, cmd = m.password.Update(msg)
	case loginStepName:
		m.name, cmd = m.name.Update(msg)
	}
	return m, cmd
}

func (m *LoginModel) advance() (tea.Model, tea.Cmd) {
	m.statusMsg = ""
	switch m.step {
	case loginStepEmail:
		email := strings.TrimSpace(m.email.Value())
		if email == "" || !strings.Contains(email, "@") {
			m.statusMsg = "Please enter a valid email address."
			return m, nil
		}
		if m.flow == flowReset {
			m.step = loginStepBusy
			return m, m.sendReset(email)
		}
		m.step = loginStepPassword
		m.focusStep()
		return m, textinput.Blink

	case loginStepPassword:
		if m.password.Value() == "" {
			m.statusMsg = "Please enter a password."
			return m, nil
		}
		if m.flow == flowSignUp {
			m.step = loginStepName
			m.focusStep()
			return m, textinput.Blink
		}
		m.step = loginStepBusy
		return m, m.signIn()

	case loginStepName:
		m.step = loginStepBusy
		return m, m.signUp()
	}
	return m, nil
}

func (m *LoginModel) focusStep() {
	m.email.Blur()
	m.password.Blur()
	m.name.Blur()
	switch m.step {
	case loginStepEmail:
		m.email.Focus()
	case loginStepPassword:
		m.password.Focus()
	case loginStepName:
		m.name.Focus()
	}
}

func (m *LoginModel) signIn() tea.Cmd {
	email := strings.TrimSpace(m.email.Value())
	password := m.password.Value()
	gate := m.gate
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		session, err := gate.SignIn(ctx, email, password)
		return authDoneMsg{session: session, err: err}
	}
}

func (m *LoginModel) signUp() tea.Cmd {
	email := strings.TrimSpace(m.email.Value())
	password := m.password.Value()
	name := strings.TrimSpace(m.name.Value())
	gate := m.gate
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		session, err := gate.SignUp(ctx, email, password, name)
		return authDoneMsg{session: session, err: err}
	}
}

func (m *LoginModel) sendReset(email string) tea.Cmd {
	gate := m.gate
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return resetDoneMsg{err: gate.SendReset(ctx, email)}
	}
}

func (m *LoginModel) View() string {
	if m.done {
		return ""
	}

	title := m.theme.TopBarTitle.Render("  Gita Chat  ")
	flowName := map[int]string{
		flowSignIn: "Sign in",
		flowSignUp: "Create account",
		flowReset:  "Reset password",
	}[m.flow]

	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n\n")
	b.WriteString(m.theme.PaneTitleF.Render(flowName))
	b.WriteString("\n\n")

	b.WriteString(fmt.Sprintf("Email:    %s\n", m.email.View()))
	if m.flow != flowReset {
		b.WriteString(fmt.Sprintf("Password: %s\n", m.password.View()))
	}
	if m.flow == flowSignUp {
		b.WriteString(fmt.Sprintf("Name:     %s\n", m.name.View()))
	}

	if m.step == loginStepBusy {
		b.WriteString("\n")
		b.WriteString(m.theme.Spinner.Render("Contacting the identity service..."))
	}
	if m.statusMsg != "" {
		b.WriteString("\n")
		b.WriteString(m.theme.RoleErr.Render(m.statusMsg))
	}

	b.WriteString("\n\n")
	b.WriteString(m.theme.Footer.Render("enter continue | tab switch to " + nextFlowLabel(m.flow) + " | esc quit"))

	content := b.String()
	paddingTop := max(0, (m.height-lipgloss.Height(content))/2)
	paddingLeft := max(0, (m.width-lipgloss.Width(content))/2)

	out := strings.Repeat("\n", paddingTop)
	pad := strings.Repeat(" ", paddingLeft)
	for _, line := range strings.Split(content, "\n") {
		out += pad + line + "\n"
	}
	return out
}

func (m *LoginModel) Done() bool {
	return m.done
}

// Session reports the signed-in session, nil when the user quit instead.
func (m *LoginModel) Session() *auth.Session {
	return m.session
}

func nextFlowLabel(flow int) string {
	switch flow {
	case flowSignIn:
		return "sign up"
	case flowSignUp:
		return "password reset"
	default:
		return "sign in"
	}
}

func friendlyAuthError(err error) string {
	var authErr *auth.AuthError
	if errors.As(err, &authErr) {
		return authErr.Friendly()
	}
	if errors.Is(err, auth.ErrNotConfigured) {
		return "No auth key configured. Set GITA_AUTH_KEY or run gita with --mock."
	}
	return "Could not reach the identity service. Check your connection and try again."
}
