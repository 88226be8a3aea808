package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

const (
	// TickInterval is how often the bar is redrawn.
	TickInterval = 100 * time.Millisecond
	// Cap is the highest percentage shown before the result arrives.
	Cap      = 95
	barWidth = 24
)

// Percent is the advisory completion for elapsed out of d, never above Cap.
func Percent(elapsed, d time.Duration) int {
	if d <= 0 {
		return Cap
	}
	p := int(elapsed * 100 / d)
	if p < 0 {
		return 0
	}
	if p > Cap {
		return Cap
	}
	return p
}

// Animator draws a single rewritten progress line. It never affects the
// request deadline.
type Animator struct {
	out      io.Writer
	enabled  bool
	interval time.Duration

	mu sync.Mutex
}

func New(out io.Writer, enabled bool) *Animator {
	return &Animator{
		out:      out,
		enabled:  enabled,
		interval: TickInterval,
	}
}

// ForTerminal enables animation only when out is a terminal.
func ForTerminal(out io.Writer) *Animator {
	return New(out, IsTerminal(out))
}

func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Begin starts the animation and returns the function that stops it.
func (a *Animator) Begin(label string, d time.Duration) func(success bool) {
	if !a.enabled {
		return func(bool) {}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	start := time.Now()

	go func() {
		defer close(done)
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()

		a.draw(label, Percent(0, d))
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				a.draw(label, Percent(time.Since(start), d))
			}
		}
	}()

	var once sync.Once
	return func(success bool) {
		once.Do(func() {
			close(stop)
			<-done
			if success {
				a.draw(label, 100)
			}
			a.clear()
		})
	}
}

func (a *Animator) draw(label string, pct int) {
	filled := pct * barWidth / 100
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	a.mu.Lock()
	defer a.mu.Unlock()
	fmt.Fprintf(a.out, "\r\033[K%s %s %3d%%", bar, label, pct)
}

func (a *Animator) clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	fmt.Fprint(a.out, "\r\033[K")
}
