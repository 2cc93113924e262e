package match

import (
	"strings"
	"unicode"
)

// Kind is the closed set of commands. Dispatch over it is exhaustive, so a
// new command is a compile-time visible change.
type Kind int

const (
	KindUnknown Kind = iota
	KindRegister
	KindThrow
	KindQuit
	KindHelp
)

// Command is a parsed inbound message: the recognized verb plus the raw
// remainder after it. Raw keeps the original text for unknown commands.
type Command struct {
	Kind Kind
	Arg  string
	Raw  string
}

// splitFirst splits s into the token before the first whitespace run and the
// trimmed remainder.
func splitFirst(s string) (string, string) {
	s = strings.TrimSpace(s)
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i:])
}

// Parse recognizes the verb case-insensitively with its aliases. Anything
// else, including an empty message, is KindUnknown.
func Parse(text string) Command {
	verb, rest := splitFirst(text)
	cmd := Command{Arg: rest, Raw: strings.TrimSpace(text)}
	switch strings.ToLower(verb) {
	case "nick", "n":
		cmd.Kind = KindRegister
	case "throw", "t", "play", "p":
		cmd.Kind = KindThrow
	case "quit", "stop":
		cmd.Kind = KindQuit
	case "help", "?":
		cmd.Kind = KindHelp
	default:
		cmd.Kind = KindUnknown
	}
	return cmd
}
