package main

import (
	"encoding/hex"
	"strconv"
	"unicode"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	objectplugin "github.com/masegraye/object-plugin-go"
)

var (
	nameStyle    = lipgloss.NewStyle().Bold(true)
	typeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("69"))
	detailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	childIndent  = lipgloss.NewStyle().PaddingLeft(2)
	unknownLabel = "(unknown)"
)

func renderObject(obj fetchedObject) string {
	parts := []string{
		nameStyle.Render(obj.Name) + " " + typeStyle.Render(obj.Type),
		formatPayload(obj.Payload),
	}
	if len(obj.References) > 0 {
		parts = append(parts, renderReferences(obj.References))
	}
	for _, child := range obj.Children {
		parts = append(parts, childIndent.Render(renderObject(child)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func renderMessage(msg *objectplugin.StreamResponse) string {
	parts := []string{formatPayload(msg.Payload)}
	if len(msg.References) > 0 {
		parts = append(parts, renderReferences(msg.References))
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func renderReferences(refs []objectplugin.TypedTicket) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("INDEX", "TYPE", "TICKET")
	for _, ref := range refs {
		typ := ref.Type
		if typ == "" {
			typ = unknownLabel
		}
		t.Row(strconv.Itoa(int(ref.Index)), typ, strconv.Itoa(int(ref.Ticket)))
	}
	return t.Render()
}

// formatPayload prints text payloads as text and anything else as hex.
func formatPayload(payload []byte) string {
	if len(payload) == 0 {
		return detailStyle.Render("(empty)")
	}
	if utf8.Valid(payload) && isPrintable(string(payload)) {
		return string(payload)
	}
	return detailStyle.Render("hex:") + " " + hex.EncodeToString(payload)
}

func isPrintable(s string) bool {
	for _, r := range s {
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
