package client

import (
	"errors"
	"strconv"
	"strings"
)

var ErrUnbalancedQuotes = errors.New("invalid argument(s): unbalanced quotes")

// SplitArgs splits a command line into arguments the way redis-cli does.
//
// Arguments are separated by whitespace. Double quoted arguments understand
// the escapes \n \r \t \a \b \\ \" and \xHH, single quoted ones only \'. A
// closing quote must be followed by whitespace or the end of the line.
func SplitArgs(line string) ([]string, error) {
	var args []string

	i := 0
	for {
		for i < len(line) && isSpace(line[i]) {
			i++
		}

		if i == len(line) {
			return args, nil
		}

		var (
			arg strings.Builder
			err error
		)

		switch line[i] {
		case '"':
			i, err = readDoubleQuoted(line, i+1, &arg)
		case '\'':
			i, err = readSingleQuoted(line, i+1, &arg)
		default:
			for i < len(line) && !isSpace(line[i]) {
				arg.WriteByte(line[i])
				i++
			}
		}

		if err != nil {
			return nil, err
		}

		args = append(args, arg.String())
	}
}

// readDoubleQuoted reads up to and including the closing quote and returns
// the position after it.
func readDoubleQuoted(line string, i int, arg *strings.Builder) (int, error) {
	for i < len(line) {
		c := line[i]

		switch {
		case c == '"':
			return closeQuote(line, i+1)

		case c == '\\' && i+3 < len(line) && line[i+1] == 'x' && isHex(line[i+2]) && isHex(line[i+3]):
			v, _ := strconv.ParseUint(line[i+2:i+4], 16, 8)
			arg.WriteByte(byte(v))
			i += 4

		case c == '\\' && i+1 < len(line):
			switch e := line[i+1]; e {
			case 'n':
				arg.WriteByte('\n')
			case 'r':
				arg.WriteByte('\r')
			case 't':
				arg.WriteByte('\t')
			case 'a':
				arg.WriteByte('\a')
			case 'b':
				arg.WriteByte('\b')
			default:
				arg.WriteByte(e)
			}
			i += 2

		default:
			arg.WriteByte(c)
			i++
		}
	}

	return 0, ErrUnbalancedQuotes
}

func readSingleQuoted(line string, i int, arg *strings.Builder) (int, error) {
	for i < len(line) {
		c := line[i]

		switch {
		case c == '\'':
			return closeQuote(line, i+1)

		case c == '\\' && i+1 < len(line) && line[i+1] == '\'':
			arg.WriteByte('\'')
			i += 2

		default:
			arg.WriteByte(c)
			i++
		}
	}

	return 0, ErrUnbalancedQuotes
}

func closeQuote(line string, i int) (int, error) {
	if i < len(line) && !isSpace(line[i]) {
		return 0, ErrUnbalancedQuotes
	}

	return i, nil
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}

	return false
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}
