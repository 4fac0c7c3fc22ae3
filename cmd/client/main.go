// Command client connects to a netcode server and drives a scripted
// exercise of the protocol, grounded on the teacher's client.go main()
// (which ran a fixed-length simulated gameplay loop rather than reading
// real input).
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gameraccoon/tank-game-sub000/networking/client"
	"github.com/gameraccoon/tank-game-sub000/networking/shared/input"
	"github.com/gameraccoon/tank-game-sub000/networking/shared/wire"
)

// demoSimulator is a no-op reconcile.Simulator: FixedStep changes nothing
// and always succeeds, so no entity position is updated between updates.
// It stands in for a real game's ECS so the netcode state machine can run
// without one.
type demoSimulator struct{}

func (demoSimulator) FixedStep(uint32) error { return nil }

func main() {
	serverAddr := flag.String("server", "127.0.0.1:8080", "server UDP address")
	durationSeconds := flag.Int("duration", 60, "how long to run before disconnecting")
	flag.Parse()

	log := logrus.New()

	cfg := client.Config{
		ServerAddr:       *serverAddr,
		ProtocolVersion:  wire.ProtocolVersion,
		OneFixedUpdateUS: 16000,
		WindowSize:       input.MaxInputHistorySendSize,
	}

	c := client.New(cfg, log, demoSimulator{}, nil)
	if err := c.Connect(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		driveScriptedInput(c, *durationSeconds)
	}()

	select {
	case <-sigCh:
	case <-done:
	}

	c.Disconnect()
	stats := c.Stats()
	log.WithFields(logrus.Fields{
		"messages_sent":     stats.MessagesSent,
		"messages_received": stats.MessagesReceived,
		"desyncs":           stats.Desyncs,
		"reconciliations":   stats.Reconciliations,
	}).Info("client stopped")
}

// driveScriptedInput sends a sine-wave movement axis each tick, mirroring
// the teacher's main()'s sine/cosine test pattern, for `durationSeconds` of
// simulated gameplay.
func driveScriptedInput(c *client.Client, durationSeconds int) {
	ticker := time.NewTicker(16 * time.Millisecond)
	defer ticker.Stop()

	ticks := durationSeconds * 1000 / 16
	for i := 0; i < ticks; i++ {
		<-ticker.C
		fi := input.FrameInput{
			Axes: [input.AxisCount]float32{
				float32(math.Sin(float64(i) * 0.01)),
				float32(math.Cos(float64(i) * 0.005)),
			},
		}
		c.SetInput(fi)
	}
}
