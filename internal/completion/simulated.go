package completion

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Simulated answers locally in the voice of the requested personality. It is
// used when no completion endpoint is configured.
type Simulated struct {
	// Delay is how long each reply takes, to mimic a remote call.
	Delay time.Duration
}

// Complete waits Delay, then returns a canned reply.
func (s Simulated) Complete(ctx context.Context, prompt, personality string) (string, error) {
	if s.Delay > 0 {
		timer := time.NewTimer(s.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", contextError(ctx, "completion/simulated")
		case <-timer.C:
		}
	} else if err := contextError(ctx, "completion/simulated"); err != nil {
		return "", err
	}

	p, _ := LookupPersonality(personality)
	topic := strings.TrimSpace(prompt)
	if runes := []rune(topic); len(runes) > 80 {
		topic = string(runes[:80]) + "..."
	}

	switch p.Name {
	case "creative":
		return fmt.Sprintf("What a canvas to paint on! %q sparks a whole palette of ideas.", topic), nil
	case "technical":
		return fmt.Sprintf("Let's break %q down step by step and look at the moving parts.", topic), nil
	case "casual":
		return fmt.Sprintf("Ha, good one! So about %q, here's my take.", topic), nil
	case "professional":
		return fmt.Sprintf("Regarding %q: here is a concise summary and recommended next steps.", topic), nil
	case "philosopher":
		return fmt.Sprintf("%q invites a deeper question: what do we really mean by it?", topic), nil
	default:
		return fmt.Sprintf("%s here! You asked about %q. Happy to help with that.", p.DisplayName, topic), nil
	}
}
