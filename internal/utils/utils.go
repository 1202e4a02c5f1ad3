package utils

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
)

var normalPadding = cli.Default.Padding

type stop struct {
	error
}

// Stop wraps err so Retry gives up immediately and returns err.
func Stop(err error) error {
	return stop{err}
}

// Retry calls f until it succeeds or attempts run out, sleeping between
// calls with a jittered, doubling delay.
func Retry(attempts int, sleep time.Duration, f func() error) error {
	err := f()
	if err == nil {
		return nil
	}
	var s stop
	if errors.As(err, &s) {
		return s.error
	}
	if attempts--; attempts > 0 {
		if sleep > 0 {
			sleep += time.Duration(rand.Int64N(int64(sleep))) / 2
		}
		log.WithError(err).Debugf("retrying in %s (%d attempts left)", sleep.Round(time.Millisecond), attempts)
		time.Sleep(sleep)
		return Retry(attempts, 2*sleep, f)
	}
	return fmt.Errorf("after all attempts, %w", err)
}

// ParseAddress parses a decimal or hexadecimal address. Hex is assumed for a
// 0x prefix, any hex letter, or a debugger-style "0000`0000" separator.
func ParseAddress(s string) (uint64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "_", "")
	if strings.HasPrefix(s, "0x") {
		return strconv.ParseUint(s[2:], 16, 64)
	}
	if strings.Contains(s, "`") {
		return strconv.ParseUint(strings.ReplaceAll(s, "`", ""), 16, 64)
	}
	if strings.ContainsAny(s, "abcdef") {
		return strconv.ParseUint(s, 16, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}

// Indent returns a logging func that pads its output by level steps.
func Indent(f func(s string), level int) func(string) {
	return func(s string) {
		cli.Default.Padding = normalPadding * level
		f(s)
		cli.Default.Padding = normalPadding
	}
}
