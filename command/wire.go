package command

import (
	"bufio"
	"context"
	"io"
	"strings"

	"cellcycler-go/model"
	"cellcycler-go/x/timex"
)

// ServeStdin reads the operator console's normalized wire format — one
// command per line, emitted by cmd/cyclerctl after shlex-splitting the
// operator's typed input — and routes each line to router until ctx is
// cancelled or r hits EOF. A line-delimited pipe is the simplest
// transport that lets cyclerctl run as its own process feeding this
// device's stdin.
func ServeStdin(ctx context.Context, r io.Reader, router *Router) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if ev, ok := parseLine(line); ok {
				router.Route(ev, timex.NowMs()*1000)
			}
		}
	}
}

// parseLine decodes one wire line: "<channel|*> <tag> [set_id value...]".
func parseLine(line string) (model.OperatorEvent, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return model.OperatorEvent{}, false
	}
	channel, ok := parseChannelToken(fields[0])
	if !ok {
		return model.OperatorEvent{}, false
	}
	tag := model.OperatorTag(fields[1])
	ev := model.OperatorEvent{Channel: channel, Tag: tag}
	if tag == model.OpSetID && len(fields) >= 3 {
		ev.SetID = strings.Join(fields[2:], " ")
	}
	return ev, true
}

func parseChannelToken(tok string) (int, bool) {
	if tok == "*" {
		return model.Broadcast, true
	}
	if tok == "" {
		return 0, false
	}
	n := 0
	for i := 0; i < len(tok); i++ {
		if tok[i] < '0' || tok[i] > '9' {
			return 0, false
		}
		n = n*10 + int(tok[i]-'0')
	}
	return n, true
}
