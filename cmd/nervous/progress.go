package main

import (
	"fmt"
	"io"
	"sync"
	"time"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// countdown shows the time left of a bounded operation on one line.
//
// Usage:
//
//	c := startCountdown(os.Stderr, "Scanning for sensors", 10*time.Second)
//	defer c.Stop()
type countdown struct {
	w        io.Writer
	prefix   string
	deadline time.Time
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
}

func startCountdown(w io.Writer, prefix string, d time.Duration) *countdown {
	c := &countdown{
		w:        w,
		prefix:   prefix,
		deadline: time.Now().Add(d),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	c.print()

	go func() {
		defer close(c.done)
		ticker := time.NewTicker(progressUpdateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				c.print()
			}
		}
	}()
	return c
}

func (c *countdown) print() {
	// Round to the nearest second, never below zero
	remaining := time.Until(c.deadline)
	seconds := 0
	if remaining > 0 {
		seconds = int(remaining.Seconds() + 0.5)
	}
	fmt.Fprintf(c.w, "\r%s (%ds)   ", c.prefix, seconds)
}

// Stop ends the display and clears the line. Safe to call more than once.
func (c *countdown) Stop() {
	c.once.Do(func() {
		close(c.stop)
		<-c.done
		fmt.Fprint(c.w, clearLineSequence)
	})
}
