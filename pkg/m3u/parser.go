// Package m3u provides streaming M3U playlist parsing and writing.
// It supports plain and extended M3U with EXTINF metadata, as published by
// IPTV providers.
package m3u

import (
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/ulikunitz/xz"
)

// ErrNotAPlaylist is returned when the input contains no EXTINF record at all.
var ErrNotAPlaylist = errors.New("input contains no EXTINF entries")

// Entry represents a single channel entry in an M3U playlist.
type Entry struct {
	// Duration is the track duration in seconds (-1 for live streams).
	Duration int

	// TvgID is the EPG channel identifier from tvg-id.
	TvgID string

	// TvgName is the display name from tvg-name.
	TvgName string

	// TvgLogo is the channel logo URL from tvg-logo.
	TvgLogo string

	// TvgChno is the channel number from tvg-chno, kept as a string because
	// providers emit decimals like "103.1".
	TvgChno string

	// GroupTitle is the category from group-title.
	GroupTitle string

	// Title is the display title after the closing comma of the EXTINF line.
	Title string

	// URL is the stream URL that closed the record.
	URL string

	// Extra preserves unrecognized attributes under their literal keys.
	Extra map[string]string
}

// Stats summarises a parse run.
type Stats struct {
	// Entries is the number of records emitted.
	Entries int

	// IgnoredLines counts lines that matched neither the grammar nor a
	// comment, and were skipped.
	IgnoredLines int
}

// Parser provides streaming M3U parsing with callback-based processing.
// Memory use is bounded by one record regardless of playlist size.
type Parser struct {
	// OnEntry is called for each complete channel record.
	OnEntry func(entry *Entry) error

	// OnError is called for recoverable per-line errors. Nil means skip
	// silently.
	OnError func(lineNum int, err error)
}

var (
	extinfPattern = regexp.MustCompile(`^#EXTINF:\s*(-?\d+(?:\.\d+)?)\s*(.*)$`)
	attrPattern   = regexp.MustCompile(`([a-zA-Z0-9_-]+)=(?:"([^"]*)"|([^\s,]+))`)
)

// recordSchemes are the URL schemes that close a channel record. Anything
// else on a bare line is ignored (and counted).
var recordSchemes = []string{"http://", "https://", "rtsp://", "rtmp://", "udp://", "srt://"}

func hasRecordScheme(line string) bool {
	lower := strings.ToLower(line)
	for _, s := range recordSchemes {
		if strings.HasPrefix(lower, s) {
			return true
		}
	}
	return false
}

// Parse reads an uncompressed playlist, calling OnEntry per record. It
// returns ErrNotAPlaylist when no EXTINF entry was found, and Stats either
// way.
func (p *Parser) Parse(r io.Reader) (Stats, error) {
	var stats Stats
	if p.OnEntry == nil {
		return stats, fmt.Errorf("OnEntry callback is required")
	}

	scanner := bufio.NewScanner(r)
	// Some providers emit Referrer or license-key URLs well over the default
	// token size.
	const maxLineSize = 1024 * 1024
	scanner.Buffer(make([]byte, maxLineSize), maxLineSize)

	var pending *Entry
	sawExtinf := false
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "":
			continue

		case strings.HasPrefix(line, "#EXTM3U"):
			continue

		case strings.HasPrefix(line, "#EXTINF:"):
			entry, err := parseExtinf(line)
			if err != nil {
				p.reportError(lineNum, err)
				stats.IgnoredLines++
				continue
			}
			sawExtinf = true
			pending = entry

		case strings.HasPrefix(line, "#"):
			// Other directives (#EXTGRP, #EXTVLCOPT, ...) are skipped.
			continue

		case hasRecordScheme(line):
			if pending == nil {
				// URL with no preceding EXTINF: not part of the grammar.
				stats.IgnoredLines++
				continue
			}
			pending.URL = line
			if err := p.OnEntry(pending); err != nil {
				return stats, fmt.Errorf("callback error at line %d: %w", lineNum, err)
			}
			stats.Entries++
			pending = nil

		default:
			stats.IgnoredLines++
		}
	}

	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("scanning playlist: %w", err)
	}
	if !sawExtinf {
		return stats, ErrNotAPlaylist
	}
	return stats, nil
}

// ParseCompressed parses a playlist whose compression is detected from magic
// bytes: gzip, bzip2, xz, or none.
func (p *Parser) ParseCompressed(r io.Reader) (Stats, error) {
	br := bufio.NewReader(r)

	header, err := br.Peek(6)
	if err != nil && err != io.EOF {
		return Stats{}, fmt.Errorf("peeking header: %w", err)
	}

	var reader io.Reader = br
	switch {
	case len(header) >= 2 && header[0] == 0x1f && header[1] == 0x8b:
		gzr, err := gzip.NewReader(br)
		if err != nil {
			return Stats{}, fmt.Errorf("creating gzip reader: %w", err)
		}
		defer gzr.Close()
		reader = gzr

	case len(header) >= 3 && header[0] == 'B' && header[1] == 'Z' && header[2] == 'h':
		reader = bzip2.NewReader(br)

	case len(header) >= 6 && header[0] == 0xfd && header[1] == '7' && header[2] == 'z' &&
		header[3] == 'X' && header[4] == 'Z' && header[5] == 0x00:
		xzr, err := xz.NewReader(br)
		if err != nil {
			return Stats{}, fmt.Errorf("creating xz reader: %w", err)
		}
		reader = xzr
	}

	return p.Parse(reader)
}

// parseExtinf parses an EXTINF line into an entry without a URL.
func parseExtinf(line string) (*Entry, error) {
	matches := extinfPattern.FindStringSubmatch(line)
	if matches == nil {
		return nil, fmt.Errorf("malformed EXTINF line")
	}

	duration := -1
	if f, err := strconv.ParseFloat(matches[1], 64); err == nil {
		duration = int(f)
	}
	remainder := matches[2]

	entry := &Entry{Duration: duration, Extra: make(map[string]string)}

	if idx := titleSeparator(remainder); idx >= 0 {
		entry.Title = strings.TrimSpace(remainder[idx+1:])
		remainder = remainder[:idx]
	}

	for _, match := range attrPattern.FindAllStringSubmatch(remainder, -1) {
		key := match[1]
		value := match[2]
		if value == "" {
			value = match[3]
		}
		switch strings.ToLower(key) {
		case "tvg-id":
			entry.TvgID = value
		case "tvg-name":
			entry.TvgName = value
		case "tvg-logo":
			entry.TvgLogo = value
		case "tvg-chno":
			entry.TvgChno = value
		case "group-title":
			entry.GroupTitle = value
		default:
			entry.Extra[key] = value
		}
	}

	return entry, nil
}

// titleSeparator finds the last comma outside quotes, which separates the
// attribute block from the display title.
func titleSeparator(s string) int {
	inQuotes := false
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '"' {
			inQuotes = !inQuotes
		}
		if s[i] == ',' && !inQuotes {
			return i
		}
	}
	return -1
}

func (p *Parser) reportError(lineNum int, err error) {
	if p.OnError != nil {
		p.OnError(lineNum, err)
	}
}
