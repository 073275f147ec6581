// cmd/cyclerctl is a line-oriented operator console standing in for
// the device's front panel: it reads one typed command per line from
// stdin, tokenizes it with shlex (so a quoted
// battery ID like `set_id 1 "B-07"` survives as one token), and writes
// the normalized wire line command.ServeStdin expects on the far end of
// the pipe — meant to be run as `cyclerctl | cycler-device` or against
// a running device's stdin directly.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/shlex"

	"cellcycler-go/model"
	"cellcycler-go/x/fmtx"
)

func main() {
	run(os.Stdin, os.Stdout)
}

func run(in io.Reader, out io.Writer) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		wire, err := translate(line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cyclerctl: %v\n", err)
			continue
		}
		fmtx.Fprintf(out, "%s\n", wire)
	}
}

// translate tokenizes a human-typed command ("charge 2", `set_id 1 "B-07"`,
// "disable *") and renders it as the "<channel|*> <tag> [set_id value...]"
// wire line command.ServeStdin parses.
func translate(line string) (string, error) {
	tokens, err := shlex.Split(line)
	if err != nil {
		return "", fmt.Errorf("tokenize %q: %w", line, err)
	}
	if len(tokens) < 2 {
		return "", fmt.Errorf("need <command> <channel> [args...], got %q", line)
	}

	tag := model.OperatorTag(tokens[0])
	channel := tokens[1]

	switch tag {
	case model.OpSetID:
		if len(tokens) < 3 {
			return "", fmt.Errorf("set_id requires a battery ID argument")
		}
		return channel + " " + string(tag) + " " + strings.Join(tokens[2:], " "), nil
	case model.OpCharge, model.OpDischarge, model.OpCancel, model.OpAck,
		model.OpDisable, model.OpInit, model.OpGetID, model.OpPause,
		model.OpResume, model.OpReset, model.OpResetMetrics:
		return channel + " " + string(tag), nil
	default:
		return "", fmt.Errorf("unknown command %q", tokens[0])
	}
}
