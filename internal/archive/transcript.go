package archive

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/callscribe/callscribe/internal/session"
)

// Segment is one transcribed utterance of a single channel.
type Segment struct {
	Start float64
	End   float64
	Text  string
}

// Line is one utterance of the unified conversation transcript.
type Line struct {
	Speaker string
	Start   float64
	Text    string
}

// speakerLabel maps a channel role to its transcript prefix.
func speakerLabel(role session.ChannelRole) string {
	switch role {
	case session.RoleInbound:
		return "IN :"
	case session.RoleOutbound:
		return "OUT:"
	default:
		return "?? :"
	}
}

// ParseSegments reads `start; end; "text"` lines, the segment dump
// format produced by the transcription command.
func ParseSegments(r io.Reader) ([]Segment, error) {
	var out []Segment
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ";", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("segment line %d: expected 3 fields, got %d", lineNo, len(parts))
		}
		start, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("segment line %d: start: %w", lineNo, err)
		}
		end, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("segment line %d: end: %w", lineNo, err)
		}
		text := strings.TrimSpace(parts[2])
		text = strings.Trim(text, `"`)
		out = append(out, Segment{Start: start, End: end, Text: text})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Merge interleaves per-channel segments into one conversation ordered
// by segment start time, each line labelled with its speaker.
func Merge(byRole map[session.ChannelRole][]Segment) []Line {
	var lines []Line
	for role, segs := range byRole {
		label := speakerLabel(role)
		for _, s := range segs {
			lines = append(lines, Line{Speaker: label, Start: s.Start, Text: s.Text})
		}
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].Start < lines[j].Start })
	return lines
}

// WriteTranscript renders the unified transcript.
func WriteTranscript(w io.Writer, lines []Line) error {
	for _, l := range lines {
		if _, err := fmt.Fprintf(w, "%s %s\n", l.Speaker, l.Text); err != nil {
			return err
		}
	}
	return nil
}
