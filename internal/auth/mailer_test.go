package auth

import (
	"context"
	"sync"
)

// captureMailer records every send for assertions.
type captureMailer struct {
	mu    sync.Mutex
	sends []capturedMail
}

type capturedMail struct {
	To       string
	Template string
	Vars     map[string]string
}

func (c *captureMailer) Send(_ context.Context, to, template string, vars map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends = append(c.sends, capturedMail{To: to, Template: template, Vars: vars})
	return nil
}

func (c *captureMailer) last() (capturedMail, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sends) == 0 {
		return capturedMail{}, false
	}
	return c.sends[len(c.sends)-1], true
}
