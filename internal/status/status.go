// Package status reports progress and timing of long-running analysis jobs.
package status

import (
	"fmt"
	"io"
	"math"
	"os"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
)

// progressWidth is the number of characters inside a text progress bar.
const progressWidth = 20

// Reporter shows status messages and progress on a terminal writer and
// mirrors them to the log.
type Reporter struct {
	log zerolog.Logger
	out io.Writer

	mu  sync.Mutex
	bar *progressbar.ProgressBar
	max int
}

// NewReporter returns a Reporter writing to out. A nil out discards the
// display and keeps only the log.
func NewReporter(log zerolog.Logger, out io.Writer) *Reporter {
	if out == nil {
		out = io.Discard
	}
	return &Reporter{log: log, out: out}
}

// ShowStatus logs msg and prints it on the status line.
func (r *Reporter) ShowStatus(msg string) {
	r.log.Info().Msg(msg)

	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.out, msg)
}

// ShowProgress advances the progress bar to step cur (0-based) of final.
// The bar displays cur+1 so the last step fills it.
func (r *Reporter) ShowProgress(cur, final int) {
	if final <= 0 {
		return
	}
	r.log.Info().Msgf("Progress: %d / %d (%v)", cur+1, final, float64(cur+1)/float64(final))

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bar == nil || r.max != final {
		r.bar = progressbar.NewOptions(final,
			progressbar.OptionSetWriter(r.out),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
		r.max = final
	}
	_ = r.bar.Set(cur + 1)
}

// ShowLineProgress writes a ProgressLine for the current time, overwriting
// the previous one on terminals.
func (r *Reporter) ShowLineProgress(progress, total int, prefix string) {
	line := ProgressLine(progress, total, prefix, time.Now())
	r.log.Debug().Msg(line)

	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprint(r.out, "\r"+line)
	if progress >= total {
		fmt.Fprintln(r.out)
	}
}

// TimedLog logs msg with the wall-clock prefix of TimedMessage.
func (r *Reporter) TimedLog(msg string) {
	line := TimedMessage(msg, time.Now())
	r.log.Info().Msg(strings.TrimSpace(line))

	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.out, line)
}

// ProgressLine renders a fixed-width text bar such as
// "14:03:09: Files [#####...............] 5/20".
func ProgressLine(progress, total int, prefix string, now time.Time) string {
	x := 0
	if total > 0 {
		x = progressWidth * progress / total
	}
	x = max(0, min(x, progressWidth))
	return fmt.Sprintf("%s[%s%s] %d/%d",
		TimedMessage(prefix, now),
		strings.Repeat("#", x),
		strings.Repeat(".", progressWidth-x),
		progress, total)
}

// TimedMessage prefixes msg with the time of day as "HH:MM:SS: msg ".
func TimedMessage(msg string, now time.Time) string {
	return now.Format("15:04:05") + ": " + msg + " "
}

// ElapsedTimeSince formats the time between start and end as HH:MM:SS.ss.
// A zero end means now.
func ElapsedTimeSince(start, end time.Time) string {
	if end.IsZero() {
		end = time.Now()
	}
	elapsed := end.Sub(start).Seconds()

	hours := math.Floor(elapsed / 3600)
	rem := elapsed - hours*3600
	minutes := math.Floor(rem / 60)
	seconds := rem - minutes*60
	return fmt.Sprintf("%02d:%02d:%05.2f", int(hours), int(minutes), seconds)
}

// FreeMemory returns the bytes still available to the heap: the soft memory
// limit minus the live heap. Without a limit the heap reserved from the OS
// stands in for it.
func FreeMemory() int64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	limit := debug.SetMemoryLimit(-1)
	if limit == math.MaxInt64 {
		limit = int64(ms.HeapSys)
	}
	return limit - int64(ms.HeapAlloc)
}

var exit = os.Exit

// ErrorExit logs msg at error level, prints it to stderr and terminates the
// process with status 1. Only command-line entry points may call it.
func ErrorExit(log zerolog.Logger, msg string) {
	log.Error().Msg(msg)
	fmt.Fprintln(os.Stderr, msg)
	exit(1)
}
