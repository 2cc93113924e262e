package match

import (
	"fmt"
	"strings"
)

// Play is one of the three throws.
type Play string

const (
	PlayRock     Play = "rock"
	PlayPaper    Play = "paper"
	PlayScissors Play = "scissors"
)

// ParsePlay matches tok case-insensitively as a prefix of rock, paper or
// scissors ("r", "ro", "rock" all mean rock). The three words have distinct
// first letters, so a matching prefix is never ambiguous.
func ParsePlay(tok string) (Play, bool) {
	tok = strings.ToLower(strings.TrimSpace(tok))
	if tok == "" {
		return "", false
	}
	for _, p := range [...]Play{PlayRock, PlayPaper, PlayScissors} {
		if strings.HasPrefix(string(p), tok) {
			return p, true
		}
	}
	return "", false
}

// Outcome is the result of a throw from the requester's point of view.
type Outcome int

const (
	OutcomeTie Outcome = iota
	OutcomeWin
	OutcomeLoss
)

// rotation encodes the cyclic dominance order: each play loses to the next
// position mod 3. Paper, scissors, rock at 0, 1, 2 yields
// rock > scissors > paper > rock.
var rotation = [...]Play{PlayPaper, PlayScissors, PlayRock}

func playIndex(p Play) int {
	for i, r := range rotation {
		if r == p {
			return i
		}
	}
	return -1
}

// Compare resolves mine against theirs. Plays here are canonical; a
// non-canonical value means an upstream parsing bug and fails loudly.
func Compare(mine, theirs Play) (Outcome, error) {
	i := playIndex(mine)
	j := playIndex(theirs)
	if i < 0 || j < 0 {
		return 0, fmt.Errorf("compare: non-canonical plays %q vs %q", mine, theirs)
	}
	switch {
	case i == j:
		return OutcomeTie, nil
	case j == (i+1)%3:
		return OutcomeLoss, nil
	default:
		return OutcomeWin, nil
	}
}
