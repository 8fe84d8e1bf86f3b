// Command rtxmonitor runs a small demo workload on top of rtxkernel and
// prints a live task table whenever the operator presses a key, in the
// spirit of the original's print_kernel_info console dump.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	rtxkernel "github.com/cantone-labs/rtxkernel"
	"github.com/cantone-labs/rtxkernel/internal/platform"
)

func main() {
	heapSize := flag.Uint("heap", 32768, "heap size in bytes, must be a power of two")
	tickPeriod := flag.Duration("tick", 50*time.Millisecond, "simulated SysTick period")
	flag.Parse()

	hal := platform.NewSimHAL()
	k := rtxkernel.NewKernel(hal, log.New(os.Stderr, "rtxmonitor: ", log.LstdFlags))

	if err := k.MemInit(uint32(*heapSize)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := spawnDemoTasks(k); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	go k.Start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var g errgroup.Group
	stopTick := make(chan struct{})

	g.Go(func() error {
		platform.Driver(*tickPeriod, stopTick, k.Tick)
		return nil
	})

	oldState, rawErr := term.MakeRaw(int(os.Stdin.Fd()))
	if rawErr == nil {
		defer term.Restore(int(os.Stdin.Fd()), oldState)
	}

	g.Go(func() error {
		buf := make([]byte, 1)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil {
				return nil
			}
			if n == 0 {
				continue
			}
			if buf[0] == 'q' || buf[0] == 0x03 {
				closeOnce(stopTick)
				return nil
			}
			k.WriteDebugInfo(os.Stdout)
		}
	})

	go func() {
		<-ctx.Done()
		closeOnce(stopTick)
	}()

	_ = g.Wait()
}

var stopOnce sync.Once

func closeOnce(ch chan struct{}) {
	stopOnce.Do(func() { close(ch) })
}

// spawnDemoTasks reproduces the original demo's TaskA/TaskB/TaskC shape: one
// cooperative task and two deadline tasks contending under EDF.
func spawnDemoTasks(k *rtxkernel.Kernel) error {
	if _, err := k.CreateDeadlineTask(func() {
		for {
			k.PeriodYield()
		}
	}, 10); err != nil {
		return err
	}
	if _, err := k.CreateDeadlineTask(func() {
		for {
			k.PeriodYield()
		}
	}, 30); err != nil {
		return err
	}
	if _, err := k.CreateTask(func() {
		for {
			k.Yield()
		}
	}); err != nil {
		return err
	}
	return nil
}
