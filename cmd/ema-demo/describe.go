package main

import (
	"fmt"

	"github.com/koscakluka/ema-demo/core/events"
)

// describe renders a session event as a single line, or the empty string
// for events only a machine cares about.
func describe(event events.Event) string {
	switch e := event.(type) {
	case events.SessionStarted:
		return fmt.Sprintf("session %s started on %s", e.SessionID, e.Target)
	case events.SessionStateChanged:
		return fmt.Sprintf("state %s -> %s", e.From, e.To)
	case events.SessionStopped:
		return "session stopped: " + e.Reason
	case events.LoopStarted:
		return "demo loop " + e.LoopID + " started"
	case events.LoopFinished:
		return fmt.Sprintf("demo loop %s %s (%s) after %d cycle(s)", e.LoopID, e.Status, e.Reason, e.Cycles)
	case events.ActionExecuted:
		if e.Target == "" {
			return fmt.Sprintf("%s: %s", e.Action, e.Outcome)
		}
		return fmt.Sprintf("%s %s: %s", e.Action, e.Target, e.Outcome)
	case events.DetourStarted:
		return fmt.Sprintf("handling %s: %q", e.Classification, e.Text)
	case events.DetourFinished:
		return fmt.Sprintf("%s %s", e.Classification, e.Result)
	case events.AssistantSpeechStarted:
		return "ema: " + e.Text
	case events.UtteranceFinalized:
		if e.StopReason != "" {
			return fmt.Sprintf("you: %s [%s, %s]", e.Text, e.Classification, e.StopReason)
		}
		return fmt.Sprintf("you: %s [%s]", e.Text, e.Classification)
	case events.UtteranceDiscarded:
		return fmt.Sprintf("ignored %q", e.Text)
	}
	return ""
}
