package command

import "strings"

// Quote protects a word for a POSIX shell and for the command splitter of rsync -e.
//
// Words made of safe characters are left as is. Others are single-quoted, and an embedded
// single quote is written as '"'"': rsync does not honor backslash escapes.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, unsafe) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

func unsafe(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	case strings.ContainsRune("_@%+=:,./-", r):
		return false
	default:
		return true
	}
}
