// Command forward is a two-NIC L2 forwarder: whatever arrives on nic1 is
// retransmitted verbatim on nic2, and vice versa, each direction its own
// goroutine. Supplemented from original_source/src/bin/forward.rs, which
// spawned one OS thread per direction over raw sockets opened with
// vlan_off=true (no VLAN sub-interface, just the physical NIC).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tsnkit/tsnkit/pkg/tsnerr"
	"github.com/tsnkit/tsnkit/pkg/tsnlog"
	"github.com/tsnkit/tsnkit/pkg/tsnsock"
)

const ethPAll = 0x0003 // linux/if_ether.h ETH_P_ALL, host order; tsnsock.OpenRaw htons()'s it

var debug bool

func main() {
	root := &cobra.Command{
		Use:          "forward <nic1> <nic2>",
		Short:        "Forward raw Ethernet frames between two NICs",
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runForward(args[0], args[1])
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runForward(nic1, nic2 string) error {
	log := tsnlog.New("forward", debug)

	sock1, err := tsnsock.OpenRaw(nic1, ethPAll, log)
	if err != nil {
		return err
	}
	defer sock1.CloseRaw()
	log.Info("forward: nic1 socket ready", zap.String("nic", nic1))

	sock2, err := tsnsock.OpenRaw(nic2, ethPAll, log)
	if err != nil {
		return err
	}
	defer sock2.CloseRaw()
	log.Info("forward: nic2 socket ready", zap.String("nic", nic2))

	// Short timeouts so each direction's loop wakes up to check ctx.Err()
	// between reads instead of blocking forever on a quiet link.
	_ = sock1.SetReceiveTimeout(500 * time.Millisecond)
	_ = sock2.SetReceiveTimeout(500 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		cancel()
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return forwardLoop(ctx, log, nic1, nic2, sock1, sock2) })
	g.Go(func() error { return forwardLoop(ctx, log, nic2, nic1, sock2, sock1) })
	return g.Wait()
}

// forwardLoop copies frames from src to dst until ctx is cancelled. A recv
// error other than a timeout is logged at debug and the loop continues,
// matching the original's "don't abort on error" behavior while making the
// choice observable instead of silent.
func forwardLoop(ctx context.Context, log *zap.Logger, srcName, dstName string, src, dst *tsnsock.Socket) error {
	buf := make([]byte, 1514)
	for ctx.Err() == nil {
		n, err := src.Recv(buf)
		if err != nil {
			if tsnerr.Is(err, tsnerr.Timeout) {
				continue
			}
			log.Debug("forward: recv error", zap.String("from", srcName), zap.Error(err))
			continue
		}
		if _, err := dst.Send(buf[:n]); err != nil {
			log.Debug("forward: send error", zap.String("to", dstName), zap.Error(err))
		}
	}
	return ctx.Err()
}
