package xmltv

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// Writer provides streaming XMLTV writing. Channels must be written before
// programmes, matching the DTD's element ordering.
type Writer struct {
	w             io.Writer
	generator     string
	headerWritten bool
	channelsDone  bool
}

// NewWriter creates a new XMLTV writer.
func NewWriter(w io.Writer, generator string) *Writer {
	return &Writer{w: w, generator: generator}
}

// WriteHeader writes the XML declaration and opens the tv element. The first
// WriteChannel or WriteProgramme calls it implicitly.
func (w *Writer) WriteHeader() error {
	if w.headerWritten {
		return nil
	}
	if _, err := fmt.Fprintln(w.w, `<?xml version="1.0" encoding="UTF-8"?>`); err != nil {
		return fmt.Errorf("writing XML declaration: %w", err)
	}
	if _, err := fmt.Fprintf(w.w, "<tv generator-info-name=\"%s\">\n", xmlEscape(w.generator)); err != nil {
		return fmt.Errorf("writing tv element: %w", err)
	}
	w.headerWritten = true
	return nil
}

// WriteChannel writes a channel definition.
func (w *Writer) WriteChannel(ch *Channel) error {
	if err := w.WriteHeader(); err != nil {
		return err
	}
	if w.channelsDone {
		return fmt.Errorf("channels must be written before programmes")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "  <channel id=\"%s\">\n", xmlEscape(ch.ID))
	names := ch.DisplayNames
	if len(names) == 0 {
		names = []string{ch.ID}
	}
	for _, name := range names {
		fmt.Fprintf(&b, "    <display-name>%s</display-name>\n", xmlEscape(name))
	}
	if ch.Icon != "" {
		fmt.Fprintf(&b, "    <icon src=\"%s\"/>\n", xmlEscape(ch.Icon))
	}
	b.WriteString("  </channel>\n")

	if _, err := io.WriteString(w.w, b.String()); err != nil {
		return fmt.Errorf("writing channel: %w", err)
	}
	return nil
}

// WriteProgramme writes a programme entry.
func (w *Writer) WriteProgramme(prog *Programme) error {
	if err := w.WriteHeader(); err != nil {
		return err
	}
	w.channelsDone = true

	var b strings.Builder
	fmt.Fprintf(&b, "  <programme start=\"%s\" stop=\"%s\" channel=\"%s\">\n",
		FormatTime(prog.Start), FormatTime(prog.Stop), xmlEscape(prog.Channel))
	fmt.Fprintf(&b, "    <title>%s</title>\n", xmlEscape(prog.Title))
	if prog.SubTitle != "" {
		fmt.Fprintf(&b, "    <sub-title>%s</sub-title>\n", xmlEscape(prog.SubTitle))
	}
	if prog.Description != "" {
		fmt.Fprintf(&b, "    <desc>%s</desc>\n", xmlEscape(prog.Description))
	}
	for _, cat := range prog.Categories {
		fmt.Fprintf(&b, "    <category>%s</category>\n", xmlEscape(cat))
	}
	if prog.Icon != "" {
		fmt.Fprintf(&b, "    <icon src=\"%s\"/>\n", xmlEscape(prog.Icon))
	}
	b.WriteString("  </programme>\n")

	if _, err := io.WriteString(w.w, b.String()); err != nil {
		return fmt.Errorf("writing programme: %w", err)
	}
	return nil
}

// Close closes the tv element.
func (w *Writer) Close() error {
	if err := w.WriteHeader(); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w.w, "</tv>"); err != nil {
		return fmt.Errorf("closing tv element: %w", err)
	}
	return nil
}

func xmlEscape(s string) string {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(s)); err != nil {
		return s
	}
	return b.String()
}
