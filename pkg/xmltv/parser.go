// Package xmltv provides streaming XMLTV parsing and writing for electronic
// program guide data.
package xmltv

import (
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ulikunitz/xz"
)

// ErrTooLarge is returned when the decompressed input exceeds the size limit.
var ErrTooLarge = errors.New("xmltv input exceeds size limit")

// Channel represents a channel definition in an XMLTV file.
type Channel struct {
	ID           string
	DisplayNames []string
	Icon         string
}

// DisplayName returns the first display name, or the channel ID when the
// feed supplied none.
func (c *Channel) DisplayName() string {
	if len(c.DisplayNames) > 0 {
		return c.DisplayNames[0]
	}
	return c.ID
}

// Programme represents a single program entry in an XMLTV file.
type Programme struct {
	Start       time.Time
	Stop        time.Time
	Channel     string
	Title       string
	SubTitle    string
	Description string
	Categories  []string
	Icon        string
}

// Parser provides streaming XMLTV parsing with callback-based processing.
// Memory use is bounded by one element regardless of feed size.
type Parser struct {
	// OnChannel is called for each channel definition.
	OnChannel func(channel *Channel) error

	// OnProgramme is called for each parsed programme.
	OnProgramme func(programme *Programme) error

	// OnError is called for recoverable per-element errors.
	OnError func(err error)

	// MaxBytes limits how much (decompressed) input is consumed. Zero means
	// unlimited.
	MaxBytes int64
}

// xmltvTimeFormats covers what real feeds actually emit.
var xmltvTimeFormats = []string{
	"20060102150405 -0700",
	"20060102150405",
	"200601021504 -0700",
	"200601021504",
	"20060102",
}

// ParseTime parses XMLTV timestamps like "20240101120000 +0000". Times with
// no offset are treated as UTC.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time string")
	}
	for _, format := range xmltvTimeFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse time %q", s)
}

// FormatTime renders a timestamp in XMLTV format with a UTC offset.
func FormatTime(t time.Time) string {
	return t.UTC().Format("20060102150405 -0700")
}

// Parse parses an uncompressed XMLTV document.
func (p *Parser) Parse(r io.Reader) error {
	if p.MaxBytes > 0 {
		r = &limitedReader{r: r, remaining: p.MaxBytes}
	}

	decoder := xml.NewDecoder(r)
	decoder.Strict = false
	decoder.AutoClose = xml.HTMLAutoClose
	decoder.Entity = xml.HTMLEntity

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			if errors.Is(err, ErrTooLarge) {
				return ErrTooLarge
			}
			return fmt.Errorf("reading XML token: %w", err)
		}

		start, ok := token.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "channel":
			if p.OnChannel == nil {
				_ = decoder.Skip()
				continue
			}
			channel, err := parseChannel(decoder, start)
			if err != nil {
				p.reportError(err)
				continue
			}
			if err := p.OnChannel(channel); err != nil {
				return fmt.Errorf("channel callback: %w", err)
			}
		case "programme":
			if p.OnProgramme == nil {
				_ = decoder.Skip()
				continue
			}
			programme, err := parseProgramme(decoder, start)
			if err != nil {
				p.reportError(err)
				continue
			}
			if err := p.OnProgramme(programme); err != nil {
				return fmt.Errorf("programme callback: %w", err)
			}
		}
	}
	return nil
}

// ParseCompressed parses a document whose compression is detected from magic
// bytes: gzip, bzip2, xz, or none. MaxBytes applies to the decompressed data.
func (p *Parser) ParseCompressed(r io.Reader) error {
	br := bufio.NewReader(r)

	header, err := br.Peek(6)
	if err != nil && err != io.EOF {
		return fmt.Errorf("peeking header: %w", err)
	}

	var reader io.Reader = br
	switch {
	case len(header) >= 2 && header[0] == 0x1f && header[1] == 0x8b:
		gzr, err := gzip.NewReader(br)
		if err != nil {
			return fmt.Errorf("creating gzip reader: %w", err)
		}
		defer gzr.Close()
		reader = gzr

	case len(header) >= 3 && header[0] == 'B' && header[1] == 'Z' && header[2] == 'h':
		reader = bzip2.NewReader(br)

	case len(header) >= 6 && header[0] == 0xfd && header[1] == '7' && header[2] == 'z' &&
		header[3] == 'X' && header[4] == 'Z' && header[5] == 0x00:
		xzr, err := xz.NewReader(br)
		if err != nil {
			return fmt.Errorf("creating xz reader: %w", err)
		}
		reader = xzr
	}

	return p.Parse(reader)
}

// limitedReader fails with ErrTooLarge instead of returning a silent EOF.
type limitedReader struct {
	r         io.Reader
	remaining int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.remaining <= 0 {
		return 0, ErrTooLarge
	}
	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	return n, err
}

func parseChannel(decoder *xml.Decoder, start xml.StartElement) (*Channel, error) {
	channel := &Channel{}
	for _, attr := range start.Attr {
		if attr.Name.Local == "id" {
			channel.ID = attr.Value
		}
	}

	for {
		token, err := decoder.Token()
		if err != nil {
			return nil, err
		}
		switch elem := token.(type) {
		case xml.StartElement:
			switch elem.Name.Local {
			case "display-name":
				var name string
				if err := decoder.DecodeElement(&name, &elem); err == nil {
					if name = strings.TrimSpace(name); name != "" {
						channel.DisplayNames = append(channel.DisplayNames, name)
					}
				}
			case "icon":
				for _, attr := range elem.Attr {
					if attr.Name.Local == "src" {
						channel.Icon = attr.Value
					}
				}
				_ = decoder.Skip()
			default:
				_ = decoder.Skip()
			}
		case xml.EndElement:
			if elem.Name.Local == "channel" {
				return channel, nil
			}
		}
	}
}

func parseProgramme(decoder *xml.Decoder, start xml.StartElement) (*Programme, error) {
	prog := &Programme{}
	for _, attr := range start.Attr {
		switch attr.Name.Local {
		case "start":
			t, err := ParseTime(attr.Value)
			if err != nil {
				return nil, fmt.Errorf("programme start: %w", err)
			}
			prog.Start = t
		case "stop":
			if t, err := ParseTime(attr.Value); err == nil {
				prog.Stop = t
			}
		case "channel":
			prog.Channel = attr.Value
		}
	}

	for {
		token, err := decoder.Token()
		if err != nil {
			return nil, err
		}
		switch elem := token.(type) {
		case xml.StartElement:
			switch elem.Name.Local {
			case "title":
				var title string
				if err := decoder.DecodeElement(&title, &elem); err == nil && prog.Title == "" {
					prog.Title = strings.TrimSpace(title)
				}
			case "sub-title":
				var sub string
				if err := decoder.DecodeElement(&sub, &elem); err == nil {
					prog.SubTitle = strings.TrimSpace(sub)
				}
			case "desc":
				var desc string
				if err := decoder.DecodeElement(&desc, &elem); err == nil {
					prog.Description = strings.TrimSpace(desc)
				}
			case "category":
				var cat string
				if err := decoder.DecodeElement(&cat, &elem); err == nil {
					if cat = strings.TrimSpace(cat); cat != "" {
						prog.Categories = append(prog.Categories, cat)
					}
				}
			case "icon":
				for _, attr := range elem.Attr {
					if attr.Name.Local == "src" {
						prog.Icon = attr.Value
					}
				}
				_ = decoder.Skip()
			default:
				_ = decoder.Skip()
			}
		case xml.EndElement:
			if elem.Name.Local == "programme" {
				return prog, nil
			}
		}
	}
}

func (p *Parser) reportError(err error) {
	if p.OnError != nil {
		p.OnError(err)
	}
}
