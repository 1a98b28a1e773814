package bot

import (
	"regexp"
	"strconv"
	"strings"
)

// commandPattern matches `!<word> <rest-of-line>` anywhere in a chat line.
var commandPattern = regexp.MustCompile(`!([a-zA-Z0-9]+)\s?([\s\S]*)`)

// shorthandPattern catches shortened betting commands such as !y12 or !no15.
var shorthandPattern = regexp.MustCompile(`^(?:yes|no|y|n)[0-9]+$`)

// parseCommand extracts the command word and its whitespace-split arguments
// from a chat line. It returns ok=false when the line carries no command.
func parseCommand(text string) (name string, args []string, ok bool) {
	groups := commandPattern.FindStringSubmatch(text)
	if groups == nil {
		return "", nil, false
	}
	name = strings.ToLower(groups[1])
	for _, a := range strings.Split(groups[2], " ") {
		if a != "" {
			args = append(args, a)
		}
	}
	return name, args, true
}

// isBetShorthand reports whether a command word is itself a shorthand bet
// token, e.g. "y12" for 12 on YES.
func isBetShorthand(name string) bool {
	return shorthandPattern.MatchString(name)
}

// directionTokens are tried in order; longer spellings first so that "yes50"
// binds to "yes" rather than "y".
var directionTokens = []struct {
	token string
	yes   bool
}{
	{"yes", true},
	{"y", true},
	{"no", false},
	{"n", false},
}

// parseBetToken resolves a fuzzy bet token (y50, 50yes, no20, ...) into a
// direction and integer amount. Unparseable tokens report ok=false and are
// silently dropped by the caller.
func parseBetToken(arg string) (yes bool, amount int, ok bool) {
	arg = strings.ToLower(arg)
	for _, d := range directionTokens {
		var rest string
		switch {
		case strings.HasPrefix(arg, d.token):
			rest = arg[len(d.token):]
		case strings.HasSuffix(arg, d.token):
			rest = arg[:len(arg)-len(d.token)]
		default:
			continue
		}
		n, err := strconv.Atoi(rest)
		if err != nil || n <= 0 {
			return false, 0, false
		}
		return d.yes, n, true
	}
	return false, 0, false
}
