package scenario

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind identifies the variant of an Action.
type Kind int

const (
	// KindInvalid is a token that failed to parse. It is kept in the script
	// so the interpreter can log it at the point it would have run.
	KindInvalid Kind = iota
	// KindLiteral emits Text verbatim.
	KindLiteral
	// KindTransition moves the session to Target and ends the script.
	KindTransition
	// KindPause waits Duration before the next token.
	KindPause
	// KindSuppress produces nothing.
	KindSuppress
	// KindGenerate calls the generation client with Text appended to the
	// speaker name in the prompt.
	KindGenerate
)

func (k Kind) String() string {
	switch k {
	case KindLiteral:
		return "literal"
	case KindTransition:
		return "transition"
	case KindPause:
		return "pause"
	case KindSuppress:
		return "suppress"
	case KindGenerate:
		return "generate"
	default:
		return "invalid"
	}
}

// Token keywords as written in scenario cells. A keyword may be followed by
// an ASCII or full-width colon.
const (
	keywordLiteral    = "SOLID"
	keywordTransition = "TRANS"
	keywordPause      = "HOLD"
	keywordSuppress   = "SILENCE"
	keywordGenerate   = "GEN"
)

// Action is one parsed script token. Only the fields relevant to Kind are set.
type Action struct {
	Kind Kind
	// Text is the literal reply for KindLiteral, the persona fragment for
	// KindGenerate, and the source line for KindInvalid.
	Text string
	// Target is the destination scenario for KindTransition.
	Target string
	// Duration is the wait for KindPause.
	Duration time.Duration
	// Reason explains why a KindInvalid token was rejected.
	Reason string
}

// Literal returns a fixed-reply action.
func Literal(text string) Action { return Action{Kind: KindLiteral, Text: text} }

// Transition returns a scenario-change action.
func Transition(target string) Action { return Action{Kind: KindTransition, Target: target} }

// Pause returns a wait action.
func Pause(d time.Duration) Action { return Action{Kind: KindPause, Duration: d} }

// Suppress returns a no-reply action.
func Suppress() Action { return Action{Kind: KindSuppress} }

// Generate returns a generation action with the given persona fragment.
func Generate(fragment string) Action { return Action{Kind: KindGenerate, Text: fragment} }

func (a Action) String() string {
	switch a.Kind {
	case KindLiteral:
		return keywordLiteral + ":" + a.Text
	case KindTransition:
		return keywordTransition + ":" + a.Target
	case KindPause:
		return keywordPause + ":" + strconv.FormatFloat(a.Duration.Seconds(), 'f', -1, 64)
	case KindSuppress:
		return keywordSuppress
	case KindGenerate:
		return keywordGenerate + ":" + a.Text
	default:
		return fmt.Sprintf("invalid(%q: %s)", a.Text, a.Reason)
	}
}

// Script is the ordered list of actions selected by one trigger.
type Script []Action

// Transitions returns the target of every transition token in s.
func (s Script) Transitions() []string {
	var out []string
	for _, a := range s {
		if a.Kind == KindTransition {
			out = append(out, a.Target)
		}
	}
	return out
}

// ParseScript splits a cell on newlines and parses each non-blank line.
func ParseScript(cell string) Script {
	var out Script
	for _, line := range strings.Split(cell, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, ParseAction(line))
	}
	return out
}

// ParseAction parses a single token. Lines without a keyword are persona
// fragments for generation.
func ParseAction(line string) Action {
	if _, ok := cutKeyword(line, keywordSuppress); ok {
		return Suppress()
	}
	if rest, ok := cutKeyword(line, keywordLiteral); ok {
		if rest == "" {
			return invalid(line, "empty literal reply")
		}
		return Literal(rest)
	}
	if rest, ok := cutKeyword(line, keywordTransition); ok {
		if rest == "" {
			return invalid(line, "missing transition target")
		}
		return Transition(rest)
	}
	if rest, ok := cutKeyword(line, keywordPause); ok {
		d, err := parsePause(rest)
		if err != nil {
			return invalid(line, err.Error())
		}
		return Pause(d)
	}
	if rest, ok := cutKeyword(line, keywordGenerate); ok {
		return Generate(rest)
	}
	return Generate(line)
}

func cutKeyword(line, keyword string) (string, bool) {
	rest, ok := strings.CutPrefix(line, keyword)
	if !ok {
		return "", false
	}
	switch {
	case strings.HasPrefix(rest, ":"):
		rest = rest[1:]
	case strings.HasPrefix(rest, "："):
		rest = rest[len("："):]
	}
	return strings.TrimSpace(rest), true
}

// parsePause accepts plain seconds ("3", "1.5") or a Go duration ("800ms").
func parsePause(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("missing pause duration")
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		if secs < 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
			return 0, fmt.Errorf("pause duration %q out of range", s)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("malformed pause duration %q", s)
	}
	if d < 0 {
		return 0, fmt.Errorf("pause duration %q out of range", s)
	}
	return d, nil
}

func invalid(line, reason string) Action {
	return Action{Kind: KindInvalid, Text: line, Reason: reason}
}
