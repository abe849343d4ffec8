package proposal

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ControlRecord carries the three lifecycle timestamps embedded in a
// proposal's pinned control message. Only these fields round-trip through the
// rendered text; the rest of the message is presentation.
type ControlRecord struct {
	Decision       *time.Time
	Implementation *time.Time
	Finalization   *time.Time
}

const (
	controlHeader = "── Proposal Control ──"
	noTimestamp   = "—"

	labelDecision       = "Decision"
	labelImplementation = "Implementation"
	labelFinalized      = "Finalized"
)

var (
	reDecision       = regexp.MustCompile(labelDecision + `: <t:(-?\d+):R>`)
	reImplementation = regexp.MustCompile(labelImplementation + `: <t:(-?\d+):R>`)
	reFinalized      = regexp.MustCompile(labelFinalized + `: <t:(-?\d+):R>`)
)

func renderTimestamp(ts *time.Time) string {
	if ts == nil {
		return noTimestamp
	}
	return fmt.Sprintf("<t:%d:R>", ts.Unix())
}

// RenderControl produces the control message body for the current status and
// tags. Deterministic for a given input except for the trailing attribution
// line, which carries the supplied "now".
func RenderControl(status Status, tags TagSet, actor string, record ControlRecord, now time.Time) string {
	names := make([]string, 0, len(tags))
	for _, tag := range tags.Sorted() {
		if _, isStatus := statusTags[tag]; isStatus {
			continue
		}
		names = append(names, string(tag))
	}
	tagLine := "None"
	if len(names) > 0 {
		tagLine = strings.Join(names, ", ")
	}

	var b strings.Builder
	fmt.Fprintln(&b, controlHeader)
	fmt.Fprintf(&b, "Status: %s\n", status)
	fmt.Fprintf(&b, "Tags: %s\n", tagLine)
	fmt.Fprintf(&b, "%s: %s\n", labelDecision, renderTimestamp(record.Decision))
	fmt.Fprintf(&b, "%s: %s\n", labelImplementation, renderTimestamp(record.Implementation))
	fmt.Fprintf(&b, "%s: %s\n", labelFinalized, renderTimestamp(record.Finalization))
	fmt.Fprintf(&b, "Updated <t:%d:R> by %s", now.Unix(), actor)
	return b.String()
}

func parseTimestamp(re *regexp.Regexp, text string) *time.Time {
	match := re.FindStringSubmatch(text)
	if match == nil {
		return nil
	}
	seconds, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return nil
	}
	ts := time.Unix(seconds, 0).UTC()
	return &ts
}

// ParseControl recovers the three timestamps from a previously rendered
// control message. Labels absent from the text yield nil fields.
func ParseControl(text string) ControlRecord {
	return ControlRecord{
		Decision:       parseTimestamp(reDecision, text),
		Implementation: parseTimestamp(reImplementation, text),
		Finalization:   parseTimestamp(reFinalized, text),
	}
}
