// Package pager implements paging long content to a connection one screen
// at a time via the input-handler-stack model. It has no dependency on the
// dispatch package — a *Pager satisfies dispatch's Handler interface
// structurally, the same duck-typed wiring the relay and direct packages
// use between each other (neither imports the other; both satisfy
// io.ReadWriteCloser).
package pager

import (
	"strconv"
	"strings"
)

// DefaultLinesPerPage approximates a typical terminal height.
const DefaultLinesPerPage = 24

// Options configures a paging session.
type Options struct {
	LinesPerPage int
	Title        string
	LineNumbers  bool
	OnExit       func()
}

// Pager is a pushed input-handler instance: one user's in-progress paging
// session over one block of content.
type Pager struct {
	lines    []string
	top      int
	perPage  int
	title    string
	numbered bool
	onExit   func()
	send     func(string) error
}

// Page renders content to send, starting with the first page. If content
// fits within a single page it is rendered immediately, onExit fires (if
// set), and Page returns (nil, nil) — no handler to push. Otherwise it
// returns a *Pager ready to be pushed onto the caller's input-handler
// stack; every subsequent line the player sends should go to HandleLine
// until it reports done.
func Page(send func(string) error, content string, opts Options) (*Pager, error) {
	perPage := opts.LinesPerPage
	if perPage <= 0 {
		perPage = DefaultLinesPerPage
	}
	lines := strings.Split(content, "\n")

	p := &Pager{
		lines:    lines,
		perPage:  perPage,
		title:    opts.Title,
		numbered: opts.LineNumbers,
		onExit:   opts.OnExit,
		send:     send,
	}

	if len(lines) <= perPage {
		if err := p.renderPage(); err != nil {
			return nil, err
		}
		if p.onExit != nil {
			p.onExit()
		}
		return nil, nil
	}

	if err := p.renderPage(); err != nil {
		return nil, err
	}
	return p, nil
}

// HandleLine consumes one line of input while this pager holds the input
// focus. done is true once the pager should be popped from the stack.
func (p *Pager) HandleLine(line string) (handled bool, done bool) {
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == "" || trimmed == "n":
		p.advance(p.perPage)
	case trimmed == "p" || trimmed == "b":
		p.advance(-p.perPage)
	case trimmed == "g":
		p.top = 0
	case trimmed == "q":
		if p.onExit != nil {
			p.onExit()
		}
		return true, true
	case strings.HasPrefix(trimmed, "/"):
		p.searchForward(trimmed[1:])
	default:
		if n, err := strconv.Atoi(trimmed); err == nil {
			p.jumpTo(n - 1)
		} else {
			return false, false
		}
	}

	p.renderPage()
	if p.top >= len(p.lines) {
		if p.onExit != nil {
			p.onExit()
		}
		return true, true
	}
	return true, false
}

func (p *Pager) advance(delta int) {
	p.top += delta
	if p.top < 0 {
		p.top = 0
	}
}

func (p *Pager) jumpTo(line int) {
	if line < 0 {
		line = 0
	}
	if line >= len(p.lines) {
		line = len(p.lines) - 1
	}
	p.top = line
}

func (p *Pager) searchForward(needle string) {
	if needle == "" {
		return
	}
	for i := p.top + 1; i < len(p.lines); i++ {
		if strings.Contains(p.lines[i], needle) {
			p.top = i
			return
		}
	}
}

func (p *Pager) renderPage() error {
	if p.send == nil {
		return nil
	}
	if p.title != "" && p.top == 0 {
		if err := p.send(p.title); err != nil {
			return err
		}
	}

	end := p.top + p.perPage
	if end > len(p.lines) {
		end = len(p.lines)
	}
	for i := p.top; i < end; i++ {
		line := p.lines[i]
		if p.numbered {
			line = strconv.Itoa(i+1) + ": " + line
		}
		if err := p.send(line); err != nil {
			return err
		}
	}

	if end < len(p.lines) {
		return p.send("-- more --")
	}
	return nil
}
