package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"gita-chat/internal/app"
	"gita-chat/internal/store"
)

type focusArea int

const (
	focusInput focusArea = iota
	focusList
	focusChat
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

type convSnapshotMsg struct{ conversations []store.Conversation }
type msgSnapshotMsg struct{ messages []store.Message }
type effectFailedMsg struct{ err app.EffectError }
type turnDoneMsg struct {
	result *app.TurnResult
	err    error
}
type selectDoneMsg struct{ err error }
type deleteDoneMsg struct {
	summary store.DeleteSummary
	err     error
}
type examplesMsg struct{ examples []string }
type spinMsg struct{}

// notice is transcript text that only lives in the UI, never in the store.
// Backend failures and effect errors surface this way.
type notice struct {
	role string // system|error
	text string
}

// ChatModel is the main screen: conversation list on the left, transcript and
// input on the right, all fed by coordinator snapshot channels.
type ChatModel struct {
	coord    *app.Coordinator
	renderer *AnswerRenderer
	theme    Theme
	help     helpModel
	showHelp bool

	width  int
	height int
	ready  bool

	focus focusArea

	conversations []store.Conversation
	selected      int
	transcript    []store.Message
	notices       []notice
	examples      []string

	input  textarea.Model
	chatVP viewport.Model

	running     bool
	pendingAsk  string
	pendingAnsw string
	statusText  string
	spinnerPos  int

	confirmDelete string

	displayName string
}

func NewChatModel(coord *app.Coordinator, displayName string) *ChatModel {
	ta := textarea.New()
	ta.Placeholder = "Ask about the Gita, then press Enter. Tab switches focus."
	ta.Focus()
	ta.CharLimit = 4000
	ta.SetHeight(1)
	ta.Prompt = " "
	ta.ShowLineNumbers = false
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.BlurredStyle.CursorLine = lipgloss.NewStyle()
	ta.FocusedStyle.Base = lipgloss.NewStyle()
	ta.BlurredStyle.Base = lipgloss.NewStyle()

	t := NewTheme()
	return &ChatModel{
		coord:       coord,
		renderer:    NewAnswerRenderer(t),
		theme:       t,
		help:        newHelpModel(t),
		width:       100,
		height:      30,
		focus:       focusInput,
		input:       ta,
		statusText:  "Ready",
		displayName: displayName,
	}
}

func (m *ChatModel) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		m.waitConversations(),
		m.waitMessages(),
		m.waitEffectErrors(),
		m.fetchExamples(),
	)
}

func (m *ChatModel) waitConversations() tea.Cmd {
	ch := m.coord.ConversationUpdates()
	return func() tea.Msg {
		snap, ok := <-ch
		if !ok {
			return nil
		}
		return convSnapshotMsg{conversations: snap}
	}
}

func (m *ChatModel) waitMessages() tea.Cmd {
	ch := m.coord.MessageUpdates()
	return func() tea.Msg {
		snap, ok := <-ch
		if !ok {
			return nil
		}
		return msgSnapshotMsg{messages: snap}
	}
}

func (m *ChatModel) waitEffectErrors() tea.Cmd {
	ch := m.coord.EffectErrors()
	return func() tea.Msg {
		ee, ok := <-ch
		if !ok {
			return nil
		}
		return effectFailedMsg{err: ee}
	}
}

func (m *ChatModel) fetchExamples() tea.Cmd {
	coord := m.coord
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return examplesMsg{examples: coord.Examples(ctx)}
	}
}

func (m *ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.SetWidth(m.width)
		layout := m.computeLayout()
		if !m.ready {
			m.chatVP = viewport.New(layout.ChatW, layout.ChatH)
			m.chatVP.Style = lipgloss.NewStyle()
			m.ready = true
		} else {
			m.chatVP.Width = layout.ChatW
			m.chatVP.Height = layout.ChatH
		}
		m.input.SetWidth(max(10, layout.InputW))
		m.refreshTranscript()
		return m, nil

	case convSnapshotMsg:
		m.conversations = msg.conversations
		if m.selected >= len(m.conversations) {
			m.selected = max(0, len(m.conversations)-1)
		}
		return m, m.waitConversations()

	case msgSnapshotMsg:
		m.transcript = msg.messages
		m.reconcilePending()
		m.refreshTranscript()
		m.chatVP.GotoBottom()
		return m, m.waitMessages()

	case effectFailedMsg:
		m.notices = append(m.notices, notice{
			role: "system",
			text: fmt.Sprintf("A background save failed (%s). Your answer is still on screen.", msg.err.Op),
		})
		m.refreshTranscript()
		return m, m.waitEffectErrors()

	case examplesMsg:
		m.examples = msg.examples
		return m, nil

	case turnDoneMsg:
		m.running = false
		m.statusText = "Ready"
		if msg.err != nil {
			m.pendingAsk = ""
			m.notices = append(m.notices, notice{role: "error", text: msg.err.Error()})
		} else if msg.result.ErrorText != "" {
			m.notices = append(m.notices, notice{role: "error", text: msg.result.ErrorText})
		} else if msg.result.Reply != nil {
			m.pendingAnsw = msg.result.Reply.Response
		}
		m.refreshTranscript()
		m.chatVP.GotoBottom()
		return m, nil

	case selectDoneMsg:
		if msg.err != nil {
			m.notices = append(m.notices, notice{role: "error", text: "Could not open that conversation."})
			m.refreshTranscript()
		}
		return m, nil

	case deleteDoneMsg:
		if msg.err != nil {
			m.notices = append(m.notices, notice{role: "error", text: "Delete failed. The conversation is unchanged."})
		} else if msg.summary.Failed() > 0 {
			m.statusText = "Deleted (some messages lingered)"
		} else {
			m.statusText = "Deleted"
		}
		m.refreshTranscript()
		return m, nil

	case spinMsg:
		m.spinnerPos = (m.spinnerPos + 1) % len(spinnerFrames)
		if m.running {
			return m, m.spinTick()
		}
		return m, nil

	case tea.KeyMsg:
		if cmd, handled := m.handleKey(msg); handled {
			return m, cmd
		}
	}

	var cmd tea.Cmd
	if m.focus == focusInput {
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}
	m.chatVP, cmd = m.chatVP.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *ChatModel) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	keys := m.help.keys

	if m.confirmDelete != "" {
		switch msg.String() {
		case "y", "Y":
			id := m.confirmDelete
			m.confirmDelete = ""
			return m.deleteConversation(id), true
		default:
			m.confirmDelete = ""
			m.statusText = "Ready"
			return nil, true
		}
	}

	if m.showHelp {
		m.showHelp = false
		return nil, true
	}

	switch {
	case key.Matches(msg, keys.Quit):
		return tea.Quit, true

	case key.Matches(msg, keys.Help):
		if m.focus != focusInput || msg.String() != "?" || m.input.Value() == "" {
			m.showHelp = true
			return nil, true
		}
		return nil, false

	case key.Matches(msg, keys.NewChat):
		m.coord.NewChat()
		m.notices = nil
		m.pendingAsk = ""
		m.pendingAnsw = ""
		m.focus = focusInput
		m.input.Focus()
		return nil, true

	case key.Matches(msg, keys.NextPane):
		m.cycleFocus()
		return nil, true

	case key.Matches(msg, keys.NextMode):
		if err := m.coord.SetMode(app.ModeAdvanced); err != nil {
			m.notices = append(m.notices, notice{
				role: "system",
				text: app.ModeLabel(app.ModeAdvanced) + " is not available yet; staying in scholar mode.",
			})
			m.refreshTranscript()
		}
		return nil, true

	case key.Matches(msg, keys.Delete):
		if conv, ok := m.selectedConversation(); ok {
			m.confirmDelete = conv.ID
			m.statusText = "Delete \"" + truncateRunes(conv.Title, 24) + "\"? y/n"
		}
		return nil, true

	case key.Matches(msg, keys.Send):
		switch m.focus {
		case focusList:
			return m.openSelected(), true
		case focusInput:
			return m.onEnter(), true
		}
		return nil, true

	case key.Matches(msg, keys.Up):
		switch m.focus {
		case focusList:
			if m.selected > 0 {
				m.selected--
			}
			return nil, true
		case focusChat:
			m.chatVP.LineUp(1)
			return nil, true
		}

	case key.Matches(msg, keys.Down):
		switch m.focus {
		case focusList:
			if m.selected < len(m.conversations)-1 {
				m.selected++
			}
			return nil, true
		case focusChat:
			m.chatVP.LineDown(1)
			return nil, true
		}

	case msg.Type == tea.KeyPgUp:
		m.chatVP.ViewUp()
		return nil, true
	case msg.Type == tea.KeyPgDown:
		m.chatVP.ViewDown()
		return nil, true
	}

	// On the welcome screen a bare digit picks the matching example question.
	if m.onWelcome() && m.input.Value() == "" && len(msg.String()) == 1 {
		if i := int(msg.String()[0] - '1'); i >= 0 && i < len(m.examples) {
			m.input.SetValue(m.examples[i])
			return m.onEnter(), true
		}
	}
	return nil, false
}

func (m *ChatModel) onWelcome() bool {
	return m.coord.Active() == "" && len(m.transcript) == 0 && !m.running
}

func (m *ChatModel) cycleFocus() {
	switch m.focus {
	case focusInput:
		m.focus = focusList
		m.input.Blur()
	case focusList:
		m.focus = focusChat
	default:
		m.focus = focusInput
		m.input.Focus()
	}
}

func (m *ChatModel) selectedConversation() (store.Conversation, bool) {
	if m.selected < 0 || m.selected >= len(m.conversations) {
		return store.Conversation{}, false
	}
	return m.conversations[m.selected], true
}

func (m *ChatModel) openSelected() tea.Cmd {
	conv, ok := m.selectedConversation()
	if !ok {
		return nil
	}
	m.notices = nil
	m.pendingAsk = ""
	m.pendingAnsw = ""
	m.focus = focusInput
	m.input.Focus()
	coord := m.coord
	return func() tea.Msg {
		return selectDoneMsg{err: coord.Select(conv.ID)}
	}
}

func (m *ChatModel) onEnter() tea.Cmd {
	val := strings.TrimSpace(m.input.Value())
	if val == "" {
		return nil
	}
	if m.running {
		m.notices = append(m.notices, notice{role: "system", text: "Still thinking about the last question."})
		m.refreshTranscript()
		return nil
	}

	m.input.Reset()
	m.running = true
	m.statusText = "Consulting the knowledge base…"
	m.spinnerPos = 0
	m.pendingAsk = val
	m.pendingAnsw = ""
	m.refreshTranscript()
	m.chatVP.GotoBottom()

	coord := m.coord
	return tea.Batch(
		func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			result, err := coord.Send(ctx, val)
			return turnDoneMsg{result: result, err: err}
		},
		m.spinTick(),
	)
}

func (m *ChatModel) deleteConversation(id string) tea.Cmd {
	m.statusText = "Deleting…"
	if m.coord.Active() == id {
		m.notices = nil
		m.pendingAsk = ""
		m.pendingAnsw = ""
	}
	coord := m.coord
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		summary, err := coord.Delete(ctx, id)
		return deleteDoneMsg{summary: summary, err: err}
	}
}

// reconcilePending drops locally echoed turn text once the persisted copy
// shows up in a snapshot, so nothing renders twice.
func (m *ChatModel) reconcilePending() {
	for _, msg := range m.transcript {
		if m.pendingAsk != "" && msg.Role == "user" && msg.Content == m.pendingAsk {
			m.pendingAsk = ""
		}
		if m.pendingAnsw != "" && msg.Role == "assistant" && msg.Content == m.pendingAnsw {
			m.pendingAnsw = ""
		}
	}
}

func (m *ChatModel) spinTick() tea.Cmd {
	return tea.Tick(90*time.Millisecond, func(_ time.Time) tea.Msg { return spinMsg{} })
}

func (m *ChatModel) View() string {
	if !m.ready {
		return "…"
	}
	if m.showHelp {
		return m.help.View()
	}

	layout := m.computeLayout()
	top := m.renderTopBar()
	main := lipgloss.JoinHorizontal(lipgloss.Top,
		m.renderSidebar(layout),
		m.renderChatPane(layout),
	)
	input := m.renderInputArea(layout)
	footer := m.renderFooter()
	return lipgloss.JoinVertical(lipgloss.Left, top, main, input, footer)
}

type layoutInfo struct {
	MainH    int
	SidebarW int
	ChatW    int
	ChatH    int
	InputW   int
}

func (m *ChatModel) computeLayout() layoutInfo {
	top := 1
	foot := 1
	inputH := 3
	mainH := m.height - top - foot - inputH
	if mainH < 3 {
		mainH = 3
	}

	sidebarW := 0
	if m.width >= 80 {
		sidebarW = m.width / 4
		if sidebarW > 36 {
			sidebarW = 36
		}
		if sidebarW < 24 {
			sidebarW = 24
		}
	}
	chatW := m.width - sidebarW
	if chatW < 40 {
		chatW = 40
	}

	return layoutInfo{
		MainH:    mainH,
		SidebarW: sidebarW,
		ChatW:    chatW,
		ChatH:    mainH,
		InputW:   chatW - 4,
	}
}

func (m *ChatModel) renderTopBar() string {
	left := m.theme.TopBarTitle.Render("gita") + " " + m.theme.TopBarBadge.Render(strings.ToUpper(string(m.coord.Mode())))
	status := m.statusText
	if m.running {
		status = m.theme.Spinner.Render(spinnerFrames[m.spinnerPos] + " " + m.statusText)
	} else {
		status = m.theme.TopBarMeta.Render(status)
	}
	right := m.theme.TopBarMeta.Render(m.displayName)

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(status) - lipgloss.Width(right)
	if gap < 2 {
		gap = 2
	}
	a := gap / 2
	b := gap - a
	return m.theme.TopBar.Render(left + strings.Repeat(" ", a) + status + strings.Repeat(" ", b) + right)
}

func (m *ChatModel) renderFooter() string {
	hints := "Tab focus  Ctrl+N new chat  Ctrl+D delete  ? help  Ctrl+Q quit"
	if m.width < 80 {
		hints = "Tab focus  Ctrl+N new  ? help  Ctrl+Q quit"
	}
	return m.theme.Footer.Width(m.width).Render(hints)
}

func (m *ChatModel) renderSidebar(l layoutInfo) string {
	if l.SidebarW <= 0 {
		return ""
	}
	title := "Conversations"
	box := m.theme.Pane
	titleStyled := m.theme.PaneTitle.Render(title)
	if m.focus == focusList {
		box = m.theme.PaneFocused
		titleStyled = m.theme.PaneTitleF.Render(title)
	}

	var b strings.Builder
	b.WriteString(titleStyled)
	b.WriteString("\n")
	if len(m.conversations) == 0 {
		b.WriteString(m.theme.ListPreview.Render("Nothing yet. Ask a question."))
	}
	itemW := max(12, l.SidebarW-4)
	visible := max(1, (l.MainH-2)/2)
	start := 0
	if m.selected >= visible {
		start = m.selected - visible + 1
	}
	for i := start; i < len(m.conversations) && i < start+visible; i++ {
		conv := m.conversations[i]
		titleLine := truncateRunes(oneLineTUI(conv.Title), itemW)
		if titleLine == "" {
			titleLine = "(untitled)"
		}
		previewLine := truncateRunes(oneLineTUI(conv.LastMessage), itemW)
		if i == m.selected {
			b.WriteString(m.theme.ListSelected.Render("> " + titleLine))
		} else {
			b.WriteString(m.theme.ListItem.Render("  " + titleLine))
		}
		b.WriteString("\n")
		b.WriteString(m.theme.ListPreview.Render("  " + previewLine))
		if i != len(m.conversations)-1 {
			b.WriteString("\n")
		}
	}
	return box.Width(l.SidebarW).Height(l.ChatH).Render(b.String())
}

func (m *ChatModel) renderChatPane(l layoutInfo) string {
	title := "Chat"
	box := m.theme.Pane
	titleStyled := m.theme.PaneTitle.Render(title)
	if m.focus == focusChat {
		box = m.theme.PaneFocused
		titleStyled = m.theme.PaneTitleF.Render(title)
	}
	return box.Width(l.ChatW).Height(l.ChatH).Render(titleStyled + "\n" + m.chatVP.View())
}

func (m *ChatModel) renderInputArea(l layoutInfo) string {
	box := m.theme.InputBox
	if m.focus == focusInput {
		box = m.theme.InputBoxF
	}
	return box.Width(max(10, m.width-2)).Render(m.input.View())
}

func (m *ChatModel) refreshTranscript() {
	if !m.ready {
		return
	}
	width := m.computeLayout().ChatW - 4
	if width < 20 {
		width = 20
	}

	if m.coord.Active() == "" && len(m.transcript) == 0 && m.pendingAsk == "" && len(m.notices) == 0 {
		m.chatVP.SetContent(m.renderWelcome(width))
		return
	}

	var b strings.Builder
	for _, msg := range m.transcript {
		b.WriteString(m.renderMessage(msg, width))
		b.WriteString("\n\n")
	}
	if m.pendingAsk != "" {
		b.WriteString(m.theme.RoleYou.Render("YOU"))
		b.WriteString("\n")
		b.WriteString(lipgloss.NewStyle().Foreground(m.theme.TextPrimary).Width(width).Render(m.pendingAsk))
		b.WriteString("\n\n")
	}
	if m.pendingAnsw != "" {
		b.WriteString(m.theme.RoleAI.Render("GITA"))
		b.WriteString("\n")
		b.WriteString(m.renderer.Render(m.pendingAnsw, width))
		b.WriteString("\n\n")
	}
	for _, n := range m.notices {
		style := m.theme.RoleSys
		label := "SYS"
		if n.role == "error" {
			style = m.theme.RoleErr
			label = "ERR"
		}
		b.WriteString(style.Render(label))
		b.WriteString("\n")
		b.WriteString(lipgloss.NewStyle().Foreground(m.theme.TextMuted).Width(width).Render(n.text))
		b.WriteString("\n\n")
	}
	m.chatVP.SetContent(strings.TrimRight(b.String(), "\n"))
}

func (m *ChatModel) renderWelcome(width int) string {
	var b strings.Builder
	greeting := "Welcome"
	if m.displayName != "" {
		greeting = "Welcome, " + m.displayName
	}
	b.WriteString(m.theme.PaneTitleF.Render(greeting))
	b.WriteString("\n\n")
	b.WriteString(lipgloss.NewStyle().Foreground(m.theme.TextPrimary).Width(width).Render(
		"Ask anything about the Bhagavad Gita. Answers cite the verses they draw on."))
	b.WriteString("\n\n")
	if len(m.examples) > 0 {
		b.WriteString(m.theme.RoleAI.Render("Try one of these (press the number):"))
		b.WriteString("\n")
		for i, ex := range m.examples {
			b.WriteString(m.theme.ListPreview.Render(fmt.Sprintf("  %d. %s", i+1, ex)))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (m *ChatModel) renderMessage(msg store.Message, width int) string {
	var roleStyle lipgloss.Style
	roleLabel := "SYS"
	switch msg.Role {
	case "user":
		roleStyle = m.theme.RoleYou
		roleLabel = "YOU"
	case "assistant":
		roleStyle = m.theme.RoleAI
		roleLabel = "GITA"
	default:
		roleStyle = m.theme.RoleSys
	}

	header := roleStyle.Render(roleLabel) + " " + m.theme.TopBarMeta.Render(msg.CreatedAt.Local().Format("15:04"))

	var body string
	if msg.Role == "assistant" {
		body = m.renderer.Render(msg.Content, width)
		if extra := m.renderAnswerMeta(msg, width); extra != "" {
			body += "\n" + extra
		}
	} else {
		body = lipgloss.NewStyle().Foreground(m.theme.TextPrimary).Width(width).Render(msg.Content)
	}
	return header + "\n" + body
}

func (m *ChatModel) renderAnswerMeta(msg store.Message, width int) string {
	var parts []string
	if len(msg.Citations) > 0 {
		parts = append(parts, m.theme.Citation.Render(formatCitations(msg.Citations)))
	}
	if meta := formatAnswerMeta(msg.GenerationTime, msg.ModelUsed); meta != "" {
		parts = append(parts, m.theme.Meta.Render(meta))
	}
	if len(parts) == 0 {
		return ""
	}
	return lipgloss.NewStyle().Width(width).Render(strings.Join(parts, "\n"))
}

func formatCitations(citations []string) string {
	return "Sources: " + strings.Join(citations, ", ")
}

func formatAnswerMeta(generationTime float64, modelUsed string) string {
	var parts []string
	if generationTime > 0 {
		parts = append(parts, fmt.Sprintf("Generated in %.2fs", generationTime))
	}
	if modelUsed != "" {
		parts = append(parts, modelUsed)
	}
	return strings.Join(parts, " · ")
}

func truncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	if maxRunes <= 1 {
		return string(r[:maxRunes])
	}
	return string(r[:maxRunes-1]) + "…"
}

func oneLineTUI(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(strings.Join(strings.Fields(s), " "))
}
