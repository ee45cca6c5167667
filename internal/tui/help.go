package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
)

type helpModel struct {
	keys  keyMap
	theme Theme
	width int
}

func newHelpModel(theme Theme) helpModel {
	return helpModel{
		keys:  defaultKeyMap(),
		theme: theme,
		width: 80,
	}
}

func (m *helpModel) SetWidth(width int) {
	m.width = width
}

func (m helpModel) View() string {
	var b strings.Builder

	title := m.theme.PaneTitleF
	section := m.theme.RoleAI
	keyStyle := m.theme.Citation
	desc := m.theme.ListPreview

	b.WriteString(title.Render("gita help"))
	b.WriteString("\n\n")

	b.WriteString(section.Render("chat"))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("  %s  send question\n", keyStyle.Render("enter")))
	b.WriteString(fmt.Sprintf("  %s  start a new conversation\n", keyStyle.Render("ctrl+n")))
	b.WriteString(fmt.Sprintf("  %s  switch between list and input\n", keyStyle.Render("tab")))
	b.WriteString(fmt.Sprintf("  %s  switch answer mode\n", keyStyle.Render("ctrl+t")))
	b.WriteString("\n")

	b.WriteString(section.Render("conversations"))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("  %s  move through the list\n", keyStyle.Render("up/down")))
	b.WriteString(fmt.Sprintf("  %s  open the selected conversation\n", keyStyle.Render("enter")))
	b.WriteString(fmt.Sprintf("  %s  delete the selected conversation\n", keyStyle.Render("ctrl+d")))
	b.WriteString("\n")

	b.WriteString(section.Render("modes"))
	b.WriteString("\n")
	b.WriteString(desc.Render("  scholar  - answers grounded in the Bhagavad Gita corpus"))
	b.WriteString("\n")
	b.WriteString(desc.Render("  advanced - deeper commentary, not yet available"))
	b.WriteString("\n\n")

	b.WriteString(m.theme.Footer.Render("ctrl+q quit | ? close help"))
	return b.String()
}

type keyMap struct {
	Quit     key.Binding
	Send     key.Binding
	NewChat  key.Binding
	NextPane key.Binding
	NextMode key.Binding
	Delete   key.Binding
	Help     key.Binding
	Up       key.Binding
	Down     key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Quit: key.NewBinding(
			key.WithKeys("ctrl+q", "ctrl+c"),
			key.WithHelp("ctrl+q", "quit"),
		),
		Send: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "send"),
		),
		NewChat: key.NewBinding(
			key.WithKeys("ctrl+n"),
			key.WithHelp("ctrl+n", "new chat"),
		),
		NextPane: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "switch pane"),
		),
		NextMode: key.NewBinding(
			key.WithKeys("ctrl+t"),
			key.WithHelp("ctrl+t", "mode"),
		),
		Delete: key.NewBinding(
			key.WithKeys("ctrl+d"),
			key.WithHelp("ctrl+d", "delete"),
		),
		Help: key.NewBinding(
			key.WithKeys("?", "ctrl+h"),
			key.WithHelp("?", "help"),
		),
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("up", "previous"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("down", "next"),
		),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Send, k.NewChat, k.NextPane, k.Delete, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Send, k.NewChat, k.NextPane, k.NextMode},
		{k.Up, k.Down, k.Delete, k.Quit},
	}
}
