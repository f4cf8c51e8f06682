package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"streamscraper/pkg/errors"
	"streamscraper/pkg/session"
)

// ProgressDisplay renders session events as a single refreshing status line,
// breaking out to full lines for rollovers, cooldowns and failures
type ProgressDisplay struct {
	mu          sync.Mutex
	out         io.Writer
	interval    time.Duration
	lastPrint   time.Time
	lastEvent   session.Event
	isDebug     bool
	lineWritten bool
}

// NewProgressDisplay creates a display writing to out. In debug mode every
// event gets its own line and the status line is not redrawn.
func NewProgressDisplay(out io.Writer, debug bool) *ProgressDisplay {
	return &ProgressDisplay{out: out, interval: 250 * time.Millisecond, isDebug: debug}
}

// OnEvent implements session.Observer
func (p *ProgressDisplay) OnEvent(e session.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastEvent = e

	switch e.Type {
	case session.EventRecord:
		if p.isDebug || e.Time.Sub(p.lastPrint) < p.interval {
			return
		}
		p.printProgress(e)

	case session.EventConnected:
		if e.Stats.Reconnects > 0 {
			p.println(fmt.Sprintf("%s Reconnected (attempt %d)", Green("→"), e.Stats.Reconnects))
		} else {
			p.println(fmt.Sprintf("%s Streaming", Green("→")))
		}

	case session.EventRollover:
		if e.Rollover == nil {
			return
		}
		if e.Rollover.Initial() {
			p.println(fmt.Sprintf("%s Writing partition %s", Magenta("→"), e.Rollover.NewKey))
			return
		}
		p.println(fmt.Sprintf("%s Closed partition %s, now writing %s (%d total)",
			Green("✓"), e.Rollover.PreviousKey, e.Rollover.NewKey, e.Stats.TotalRecords))

	case session.EventBackoff:
		p.println(p.backoffLine(e))

	case session.EventDecodeError:
		if p.isDebug {
			p.println(fmt.Sprintf("%s Malformed record skipped: %v", Yellow("⚠"), e.Err))
		}

	case session.EventWriteFailure:
		p.println(fmt.Sprintf("%s Record dropped: %v", Red("✗"), e.Err))

	case session.EventStopped:
		p.complete(e)
	}
}

func (p *ProgressDisplay) backoffLine(e session.Event) string {
	wait := e.Backoff.Until.Sub(e.Time)
	if e.Backoff.LastKind == errors.KindRateLimited {
		return fmt.Sprintf("%s Rate limited (%d in a row). Reconnecting at %s (%s)",
			Yellow("⚠"), e.Stats.ConsecutiveRateLimitEvents, e.Backoff.Until.Format("15:04:05"), formatDuration(wait))
	}
	return fmt.Sprintf("%s Connection lost: %v. Reconnecting in %s", Yellow("⚠"), e.Err, formatDuration(wait))
}

// printProgress redraws the status line
func (p *ProgressDisplay) printProgress(e session.Event) {
	p.lastPrint = e.Time
	line := fmt.Sprintf("%s %d today • %d total • %.1f/min",
		Cyan(e.Stats.Partition),
		e.Stats.TodaysRecords,
		e.Stats.TotalRecords,
		rate(e),
	)
	if e.Stats.DecodeErrors > 0 {
		line += " • " + Yellow(fmt.Sprintf("%d malformed", e.Stats.DecodeErrors))
	}
	if e.Stats.DroppedRecords > 0 {
		line += " • " + Red(fmt.Sprintf("%d dropped", e.Stats.DroppedRecords))
	}
	fmt.Fprintf(p.out, "\r%s\r%s", strings.Repeat(" ", 100), line)
	p.lineWritten = true
}

// println ends the status line, if any, before writing msg
func (p *ProgressDisplay) println(msg string) {
	if p.lineWritten {
		fmt.Fprintln(p.out)
		p.lineWritten = false
	}
	fmt.Fprintln(p.out, msg)
}

// complete prints the run summary
func (p *ProgressDisplay) complete(e session.Event) {
	elapsed := e.Time.Sub(e.Stats.StartedAt)
	mark := Green("✓")
	if e.Err != nil {
		mark = Red("✗")
	}
	p.println(fmt.Sprintf("\n%s Collected %d records in %s (%.1f/min)", mark, e.Stats.TotalRecords, formatDuration(elapsed), rate(e)))

	details := []string{
		fmt.Sprintf("%d in partition %s", e.Stats.TodaysRecords, e.Stats.Partition),
		fmt.Sprintf("%d rate limits, %d reconnects", e.Stats.TotalRateLimitEvents, e.Stats.Reconnects),
	}
	if e.Stats.DecodeErrors > 0 || e.Stats.DroppedRecords > 0 {
		details = append(details, fmt.Sprintf("%d malformed, %d dropped", e.Stats.DecodeErrors, e.Stats.DroppedRecords))
	}
	for _, d := range details {
		fmt.Fprintf(p.out, "  %s %s\n", Dim("•"), d)
	}
}

// Last returns the most recent event seen
func (p *ProgressDisplay) Last() session.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastEvent
}

func rate(e session.Event) float64 {
	minutes := e.Time.Sub(e.Stats.StartedAt).Minutes()
	if minutes <= 0 {
		return 0
	}
	return float64(e.Stats.TotalRecords) / minutes
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
