package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"chorus/internal/domain"
)

var agentPalette = []lipgloss.Color{"39", "170", "214", "42", "203", "141", "220", "81"}

var (
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Italic(true)
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	completeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	bodyStyle     = lipgloss.NewStyle().PaddingLeft(2)
)

// printer renders conversation events as a terminal transcript. Each agent
// keeps the color it was first shown with.
type printer struct {
	w      io.Writer
	colors map[string]lipgloss.Color
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w, colors: make(map[string]lipgloss.Color)}
}

func (p *printer) agentStyle(ev domain.ConversationEvent) lipgloss.Style {
	key := ev.AgentID
	if key == "" {
		key = ev.AgentName
	}
	c, ok := p.colors[key]
	if !ok {
		c = agentPalette[len(p.colors)%len(agentPalette)]
		p.colors[key] = c
	}
	return lipgloss.NewStyle().Foreground(c).Bold(true)
}

func (p *printer) Print(ev domain.ConversationEvent) {
	switch ev.Type {
	case domain.EventAgentResponse:
		name := ev.AgentName
		if name == "" {
			name = ev.AgentID
		}
		fmt.Fprintf(p.w, "%s\n%s\n\n", p.agentStyle(ev).Render(name), bodyStyle.Render(strings.TrimSpace(ev.Message)))
	case domain.EventError:
		fmt.Fprintln(p.w, errorStyle.Render("error: "+ev.Message))
	case domain.EventConversationComplete:
		fmt.Fprintln(p.w, completeStyle.Render(ev.Message))
	default:
		fmt.Fprintln(p.w, statusStyle.Render(ev.Message))
	}
}
