package input

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
)

const DefaultMaxAttempts = 5

var (
	ErrInputExhausted  = errors.New("no valid value entered")
	ErrInvalidArgument = errors.New("invalid argument")
)

// ArgumentSource reports values the user supplied up front.
type ArgumentSource interface {
	Lookup(name string) (string, bool)
}

type flagSource struct {
	flags *pflag.FlagSet
}

// NewFlagSource returns a source that only reports flags set on the command line,
// so defaults never shadow the interactive prompt.
func NewFlagSource(flags *pflag.FlagSet) ArgumentSource {
	return &flagSource{flags: flags}
}

func (s *flagSource) Lookup(name string) (string, bool) {
	f := s.flags.Lookup(name)
	if f == nil || !f.Changed {
		return "", false
	}
	return f.Value.String(), true
}

// Prompter reads parameters and answers from a line-oriented reader,
// writing its questions to w.
type Prompter struct {
	log         *slog.Logger
	r           *bufio.Reader
	w           io.Writer
	maxAttempts int
}

// NewPrompter reads answers from r and writes prompts to w.
// The same Prompter must serve every question of a session: it buffers r.
func NewPrompter(log *slog.Logger, r io.Reader, w io.Writer, maxAttempts int) *Prompter {
	if log == nil {
		log = slog.Default()
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Prompter{
		log:         log.With("svc", "input"),
		r:           bufio.NewReader(r),
		w:           w,
		maxAttempts: maxAttempts,
	}
}

// Acquire returns the positive integer for name, taken from src when present
// and asked interactively otherwise. Supplied values get no second chance;
// typed ones may fail maxAttempts times before ErrInputExhausted.
func (p *Prompter) Acquire(src ArgumentSource, name, prompt string) (int, error) {
	if src != nil {
		if raw, ok := src.Lookup(name); ok {
			v, err := parsePositive(raw)
			if err != nil {
				return 0, fmt.Errorf("%w: --%s %q: %v", ErrInvalidArgument, name, raw, err)
			}
			p.log.Debug("value from arguments", "name", name, "value", v)
			return v, nil
		}
	}

	for failed := 0; failed < p.maxAttempts; {
		fmt.Fprint(p.w, prompt)
		line, err := p.readLine()
		if err != nil {
			return 0, fmt.Errorf("fail to read %s: %w", name, err)
		}

		v, err := parsePositive(line)
		if err != nil {
			failed++
			p.log.Debug("rejected input", "name", name, "input", line, "attempt", failed, "max", p.maxAttempts, "err", err)
			continue
		}
		return v, nil
	}

	return 0, fmt.Errorf("%w for %s in %d attempts", ErrInputExhausted, name, p.maxAttempts)
}

// Confirm asks question and reports whether the answer is one of the
// affirmative letters, ignoring case. Empty input and end of input mean no.
func (p *Prompter) Confirm(question string, affirmative ...string) bool {
	fmt.Fprint(p.w, question)
	line, err := p.readLine()
	if err != nil {
		p.log.Debug("no confirmation read", "err", err)
		return false
	}
	if line == "" {
		return false
	}
	for _, a := range affirmative {
		if strings.EqualFold(line, a) {
			return true
		}
	}
	return false
}

// readLine returns the next line without its terminator. A final line with
// no newline is still returned; io.EOF only comes back when nothing was read.
func (p *Prompter) readLine() (string, error) {
	line, err := p.r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func parsePositive(s string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, fmt.Errorf("must be greater than zero, got %d", v)
	}
	return v, nil
}
