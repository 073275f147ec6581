// cmd/cycler-device/main.go wires up a complete four-channel cycler
// device: one shared bus, one Bus Arbiter, a Telemetry Router and a
// Command Router, and one Channel Supervisor per channel. It runs
// against the host demo hardware stand-ins in platform/ so it is
// runnable without a board; a real deployment replaces platform.DemoSource
// / platform.DemoSwitch / platform.HostI2C with board-specific
// implementations of the same interfaces.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cellcycler-go/arbiter"
	"cellcycler-go/bus"
	"cellcycler-go/channel"
	"cellcycler-go/command"
	"cellcycler-go/config"
	"cellcycler-go/model"
	"cellcycler-go/platform"
	"cellcycler-go/telemetry"
	"cellcycler-go/x/fmtx"
	"cellcycler-go/x/strconvx"
	"cellcycler-go/x/strx"
	"cellcycler-go/x/timex"
)

const numChannels = 4

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	doc, err := config.Load(readConfigFile())
	if err != nil {
		fmtx.Printf("config: %v, using defaults\n", err)
	}

	b := bus.NewBus(4)
	cfgConn := b.NewConnection("config")
	cmdConn := b.NewConnection("command")

	config.Publish(cfgConn, doc)

	transportKind := strx.Coalesce(os.Getenv("CELLCYCLER_TRANSPORT"), "line")
	sink := telemetry.NewTransportSink(transportKind, stdoutWriteCloser{})
	go sink.Run(ctx)
	router := telemetry.NewRouter(sink, numChannels)
	go router.Run(ctx)

	i2c := &platform.HostI2C{}
	arb := arbiter.New(i2c, 20*time.Millisecond, func(ch int, detail string) {
		router.Offer(ctx, ch, model.KindFault, model.FaultRecord{
			Channel: ch, TUs: timex.NowMs() * 1000, Kind: model.FaultBus, Detail: detail,
		})
	})

	src := platform.NewDemoSource()
	sw := platform.NewDemoSwitch()

	cmdRouter := command.NewRouter(cmdConn, numChannels)
	cmdRouter.OnReject(func(detail string) {
		fmtx.Printf("command: %s\n", detail)
	})

	supervisors := make([]*channel.Supervisor, numChannels)
	for ch := 0; ch < numChannels; ch++ {
		cal, ok := doc.Channels[ch]
		if !ok {
			id := model.CalPoint{GainUVPerLSB: 1000}
			cal = model.Calibration{VBatt: id, ICh: id, IDch: id}
		}
		s := channel.NewSupervisor(ch, sw, src, arb, cal, doc.Timing, doc.Thresholds, b.NewConnection(connName(ch)), router)
		supervisors[ch] = s
		cmdRouter.BindDisabler(ch, s)
		go s.Run(ctx)

		src.Plug(ch, 3300)
		s.BC.HandleOperator(model.OperatorEvent{Channel: ch, Tag: model.OpInit}, 0)
	}

	go command.ServeStdin(ctx, os.Stdin, cmdRouter)

	fmtx.Printf("cellcycler: %d channels running\n", numChannels)
	<-ctx.Done()
	for _, s := range supervisors {
		s.DisableNow(timex.NowMs() * 1000)
	}
	fmtx.Printf("cellcycler: shutting down\n")
}

func connName(ch int) string {
	return "channel-" + strconvx.Itoa(ch)
}

func readConfigFile() []byte {
	path := os.Getenv("CELLCYCLER_CONFIG")
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return raw
}

type stdoutWriteCloser struct{}

func (stdoutWriteCloser) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdoutWriteCloser) Close() error                { return nil }
