package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/vango-go/vai-voice/pkg/client/language"
)

// Controller is the part of the turn controller the command loop drives.
type Controller interface {
	Start()
	Stop()
	Reset()
	Interrupt()
	SubmitText(text string)
	ChangeLanguage(tag string)
	SwitchModel()
	DismissQuotaBanner()
}

const helpText = `Commands:
  /start          start listening
  /stop           stop listening
  /reset          clear the conversation
  /lang <tag>     change language (%s)
  /switch         use the backup model
  /dismiss        hide the quota banner
  /quit           exit
An empty line interrupts the assistant. Anything else is spoken to it.
`

type Loop struct {
	In         io.Reader
	Out        io.Writer
	Controller Controller
	Mic        *Mic
	Logger     *slog.Logger
}

// Run reads commands until /quit, end of input or ctx is done. The reader
// goroutine exits when In is closed.
func (l *Loop) Run(ctx context.Context) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(l.In)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			return nil
		case line := <-lines:
			if quit := l.handle(line, logger); quit {
				return nil
			}
		}
	}
}

func (l *Loop) handle(line string, logger *slog.Logger) bool {
	text := strings.TrimSpace(line)
	if text == "" {
		l.Controller.Interrupt()
		return false
	}
	if !strings.HasPrefix(text, "/") {
		if l.Mic == nil || !l.Mic.Hear(text) {
			l.Controller.SubmitText(text)
		}
		return false
	}

	fields := strings.Fields(text)
	logger.Debug("command", "name", fields[0])
	switch fields[0] {
	case "/start":
		l.Controller.Start()
	case "/stop":
		l.Controller.Stop()
	case "/reset":
		l.Controller.Reset()
	case "/lang":
		if len(fields) < 2 {
			fmt.Fprintf(l.Out, "* Usage: /lang <tag>. Known: %s\n", strings.Join(language.Tags(), ", "))
			return false
		}
		if _, ok := language.Lookup(fields[1]); !ok {
			fmt.Fprintf(l.Out, "* Unknown language %q. Known: %s\n", fields[1], strings.Join(language.Tags(), ", "))
			return false
		}
		l.Controller.ChangeLanguage(fields[1])
	case "/switch":
		l.Controller.SwitchModel()
	case "/dismiss":
		l.Controller.DismissQuotaBanner()
	case "/help":
		fmt.Fprintf(l.Out, helpText, strings.Join(language.Tags(), ", "))
	case "/quit", "/exit":
		return true
	default:
		fmt.Fprintf(l.Out, "* Unknown command %q. Type /help.\n", fields[0])
	}
	return false
}
