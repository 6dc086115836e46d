package main

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	peakthreads "github.com/matthewtolman/peak-threads"
	"github.com/matthewtolman/peak-threads/internal/syncprim"
	"github.com/matthewtolman/peak-threads/internal/thread"
	"github.com/matthewtolman/peak-threads/internal/threadaddr"
	"github.com/matthewtolman/peak-threads/internal/threadpool"
	"github.com/matthewtolman/peak-threads/internal/workerrt"
)

func main() {
	peakthreads.MarkMainGoroutine()

	root := &cobra.Command{
		Use:   "peakthreads",
		Short: "Demos for the worker-thread/shared-memory protocol",
	}

	root.AddCommand(
		squareCmd(),
		mutexCmd(),
		barrierCmd(),
		semaphoreCmd(),
		waitGroupCmd(),
		transferCmd(),
		poolCmd(),
	)

	if err := root.Execute(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func sharedInt32() *threadaddr.Address[int32] {
	addr, err := threadaddr.New[int32](make([]byte, 4), 0, 1)
	if err != nil {
		panic(err)
	}
	return addr
}

func squareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "square [n]",
		Short: "Spawn one worker and send it a number to square",
		RunE: func(cmd *cobra.Command, args []string) error {
			n := 6
			if len(args) > 0 {
				fmt.Sscanf(args[0], "%d", &n)
			}

			th, err := thread.Spawn("", func(rt *workerrt.Runtime) {
				rt.OnWork(func(work any) (any, error) {
					v := work.(int)
					return v * v, nil
				})
			}, thread.SpawnOptions{})
			if err != nil {
				return err
			}
			defer th.Close()

			result, err := th.SendWork(n)
			if err != nil {
				return err
			}
			pterm.Success.Printfln("%s sent %d, got back %v", th.ID(), n, result)
			return nil
		},
	}
}

// mutexCmd reproduces spec §8's mutex-contention scenario: two workers
// each perform 300 lock/inc/unlock cycles on a shared counter seeded
// at 0; the final value is exactly 600.
func mutexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mutex",
		Short: "Two workers race 300 lock/inc/unlock cycles each",
		RunE: func(cmd *cobra.Command, args []string) error {
			mux, err := syncprim.MakeMutex()
			if err != nil {
				return err
			}
			counter := sharedInt32()

			var wg sync.WaitGroup
			for i := 0; i < 2; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for j := 0; j < 300; j++ {
						if _, err := mux.Lock(0); err != nil {
							continue
						}
						v, _ := counter.Get(0)
						counter.Set(0, v+1)
						mux.Unlock()
					}
				}()
			}
			wg.Wait()

			final, _ := counter.Get(0)
			pterm.Success.Printfln("final counter value: %d (expected 600)", final)
			return nil
		},
	}
}

// barrierCmd reproduces spec §8's barrier scenario: Barrier(3), two
// workers each add(1) to shared memory then wait; the parent waits
// asynchronously too, and once all three arrive memory equals 2.
func barrierCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "barrier",
		Short: "Three parties cross a Barrier(3), reused across two epochs",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := syncprim.MakeBarrier(3)
			if err != nil {
				return err
			}
			mem := sharedInt32()

			runEpoch := func(epoch int) {
				var wg sync.WaitGroup
				for i := 0; i < 2; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						mem.Add(0, 1)
						b.Wait()
					}()
				}
				waitCh := b.WaitAsync()
				wg.Wait()
				<-waitCh
				v, _ := mem.Get(0)
				pterm.Info.Printfln("epoch %d: shared memory = %d", epoch, v)
			}

			runEpoch(1)
			mem.Store(0, 0)
			runEpoch(2)
			return nil
		},
	}
}

// semaphoreCmd reproduces spec §8's bound-1 semaphore scenario: four
// workers loop 200x acquire/inc/release; final memory equals 800.
func semaphoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "semaphore",
		Short: "Four workers share a Semaphore(1) for 200 increments each",
		RunE: func(cmd *cobra.Command, args []string) error {
			sem, err := syncprim.MakeSemaphore(1)
			if err != nil {
				return err
			}
			counter := sharedInt32()

			var wg sync.WaitGroup
			var maxConcurrent, inFlight int32
			var mu sync.Mutex
			for i := 0; i < 4; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for j := 0; j < 200; j++ {
						if _, err := sem.Acquire(0); err != nil {
							continue
						}
						mu.Lock()
						inFlight++
						if inFlight > maxConcurrent {
							maxConcurrent = inFlight
						}
						mu.Unlock()

						v, _ := counter.Get(0)
						counter.Set(0, v+1)

						mu.Lock()
						inFlight--
						mu.Unlock()
						sem.Release()
					}
				}()
			}
			wg.Wait()

			final, _ := counter.Get(0)
			pterm.Success.Printfln("final counter value: %d (expected 800), max concurrent holders: %d", final, maxConcurrent)
			return nil
		},
	}
}

// waitGroupCmd reproduces spec §8's WaitGroup scenario: add(1) x4,
// send works {4,5,6,7} each adding to shared memory and calling done;
// after waitAsync, memory equals 22.
func waitGroupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "waitgroup",
		Short: "Four contributions converge via WaitGroup",
		RunE: func(cmd *cobra.Command, args []string) error {
			wgPrim, err := syncprim.MakeWaitGroup()
			if err != nil {
				return err
			}
			mem := sharedInt32()
			contributions := []int32{4, 5, 6, 7}

			if err := wgPrim.Add(int32(len(contributions))); err != nil {
				return err
			}

			for _, c := range contributions {
				go func(n int32) {
					mem.Add(0, n)
					wgPrim.Done()
				}(c)
			}

			waitCh, err := wgPrim.WaitAsync(0)
			if err != nil {
				return err
			}
			done := <-waitCh
			v, _ := mem.Get(0)
			pterm.Success.Printfln("converged=%v, shared memory = %d (expected 22)", done, v)
			return nil
		},
	}
}

func transferCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transfer",
		Short: "Transfer a payload's ownership from parent to worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			received := make(chan []any, 1)
			th, err := thread.Spawn("", func(rt *workerrt.Runtime) {
				rt.OnTransfer(func(message any, items []any) {
					received <- items
				})
			}, thread.SpawnOptions{})
			if err != nil {
				return err
			}
			defer th.Close()

			if err := th.Transfer("payload incoming", []any{1, 2, 3}); err != nil {
				return err
			}
			items := <-received
			pterm.Success.Printfln("worker received transferred items: %v", items)
			return nil
		},
	}
}

func poolCmd() *cobra.Command {
	var size int
	cmd := &cobra.Command{
		Use:   "pool",
		Short: "Dynamically scale a pool of square-workers under load",
		RunE: func(cmd *cobra.Command, args []string) error {
			if size == 0 {
				prompt := &survey.Input{Message: "Pool max threads:", Default: "4"}
				var answer string
				if err := survey.AskOne(prompt, &answer); err != nil {
					return err
				}
				fmt.Sscanf(answer, "%d", &size)
				if size <= 0 {
					size = 4
				}
			}

			cfg := threadpool.DefaultConfig()
			cfg.MaxThreads = size
			cfg.MinThreads = 1

			worker := func(rt *workerrt.Runtime) {
				rt.OnWork(func(work any) (any, error) {
					time.Sleep(30 * time.Millisecond)
					v := work.(int)
					return v * v, nil
				})
			}

			pool, err := threadpool.New(worker, cfg, nil, nil)
			if err != nil {
				return err
			}
			defer pool.Kill()

			var wg sync.WaitGroup
			for i := 0; i < size*3; i++ {
				wg.Add(1)
				go func(n int) {
					defer wg.Done()
					pool.SendWork(n)
				}(i)
			}
			wg.Wait()

			pterm.Success.Printfln("pool grew to %d live workers (max %d), degraded=%v", pool.Size(), size, pool.Degraded())
			return nil
		},
	}
	cmd.Flags().IntVar(&size, "size", 0, "max pool threads (prompts interactively if omitted)")
	return cmd
}
