package main

import (
	"fmt"
	"log"
	"math/rand"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"
	"unsafe"

	"github.com/dgraph-io/memquota"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	runLimit    string
	runLo       string
	runHi       string
	runMaxAlloc string
	runMode     string
	runDuration time.Duration
	runHTTP     string
	runReport   time.Duration
)

func init() {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Allocate and free until interrupted or the duration elapses",
		Long: `The run command oscillates live bytes between --lo and --hi through a
tracker limited to --limit. Requests the tracker denies switch the run into
its freeing phase early.

Example:
  memtest run --limit 1GiB --hi 768MiB --lo 256MiB --mode list
  memtest run --mode map --duration 30s --http localhost:8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMemtest()
		},
	}
	cmd.Flags().StringVar(&runLimit, "limit", "1GiB", "Ceiling on live bytes")
	cmd.Flags().StringVar(&runLo, "lo", "256MiB", "Start allocating again below this")
	cmd.Flags().StringVar(&runHi, "hi", "768MiB", "Start freeing above this")
	cmd.Flags().StringVar(&runMaxAlloc, "max-alloc", "32MiB", "Largest single allocation")
	cmd.Flags().StringVar(&runMode, "mode", "ll", "Allocation pattern: ll, map or list")
	cmd.Flags().DurationVar(&runDuration, "duration", 0, "Stop after this long (0 runs until interrupted)")
	cmd.Flags().StringVar(&runHTTP, "http", "", "Serve pprof on this address")
	cmd.Flags().DurationVar(&runReport, "report", 0,
		"Print and reset the metrics this often (0 reports only at the end)")
	rootCmd.AddCommand(cmd)
}

// driver holds the state shared by the allocation patterns.
type driver struct {
	tr       *memquota.Tracker
	lo, hi   uint64
	maxAlloc int
	increase bool
	stop     atomic.Bool
	fill     []byte
}

func runMemtest() error {
	var sizes [4]uint64
	for i, s := range []string{runLimit, runLo, runHi, runMaxAlloc} {
		n, err := humanize.ParseBytes(s)
		if err != nil {
			return errors.Wrapf(err, "while parsing size %q", s)
		}
		sizes[i] = n
	}
	limit, lo, hi, maxAlloc := sizes[0], sizes[1], sizes[2], sizes[3]
	if lo >= hi {
		return errors.Errorf("--lo (%s) must be below --hi (%s)", runLo, runHi)
	}
	if maxAlloc == 0 {
		return errors.New("--max-alloc can't be zero")
	}

	level := memquota.WARNING
	if verbose {
		level = memquota.DEBUG
	}
	d := &driver{
		tr: memquota.NewTracker(&memquota.Config{
			Limit:   limit,
			Logger:  memquota.DefaultLogger(level),
			Metrics: true,
		}),
		lo:       lo,
		hi:       hi,
		maxAlloc: int(maxAlloc),
		increase: true,
		fill:     make([]byte, maxAlloc),
	}
	rand.Read(d.fill)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		fmt.Println("Stopping")
		d.stop.Store(true)
	}()
	if runDuration > 0 {
		time.AfterFunc(runDuration, func() { d.stop.Store(true) })
	}
	if runHTTP != "" {
		go func() {
			if err := http.ListenAndServe(runHTTP, nil); err != nil {
				log.Printf("Error: %v", err)
			}
		}()
	}

	var reporting chan struct{}
	if runReport > 0 {
		reporting = make(chan struct{})
		go d.reportEvery(runReport, reporting)
	}

	switch runMode {
	case "ll":
		d.viaLL()
	case "map":
		d.viaMap()
	case "list":
		d.viaList()
	default:
		return errors.Errorf("unknown mode %q", runMode)
	}

	if reporting != nil {
		close(reporting)
	}
	d.report()
	s := d.tr.Stats()
	if s.Live != 0 || s.Tracked != 0 {
		return errors.Errorf("unable to deallocate all memory: %s", s)
	}
	fmt.Println("Done. Reduced to zero memory usage.")
	return nil
}

// report prints the metrics gathered so far along with the median and tail
// request sizes.
func (d *driver) report() {
	fmt.Println(d.tr.Metrics)
	hist := d.tr.Metrics.Sizes()
	if hist == nil || hist.Count == 0 {
		return
	}
	fmt.Print(hist)
	fmt.Printf("Request size p50: %s p99: %s\n",
		humanize.IBytes(uint64(hist.Percentile(0.5))),
		humanize.IBytes(uint64(hist.Percentile(0.99))))
}

// reportEvery prints one report per interval, each covering only the activity
// since the previous one.
func (d *driver) reportEvery(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			fmt.Printf("Last %s:\n", interval)
			d.report()
			d.tr.Metrics.Clear()
		}
	}
}

// alloc returns a filled buffer of a random size, or nil if the tracker said no.
func (d *driver) alloc() []byte {
	sz := rand.Intn(d.maxAlloc) + 1
	p := d.tr.Malloc(uint64(sz))
	if p == nil {
		// Denied. Give memory back before asking for more.
		d.increase = false
		return nil
	}
	buf := unsafe.Slice((*byte)(p), sz)
	copy(buf, d.fill)
	return buf
}

func (d *driver) free(buf []byte) {
	if len(buf) > 0 {
		d.tr.Free(unsafe.Pointer(&buf[0]))
	}
}

func (d *driver) memory() {
	s := d.tr.Stats()
	if d.increase {
		if s.Live > d.hi {
			d.increase = false
		}
	} else if s.Live < d.lo {
		d.increase = true
	}
	rss := "n/a"
	if u, err := readStatus(statusPath("self")); err == nil {
		rss = humanize.IBytes(u.RSS)
	}
	fmt.Printf("Current Memory: %s. RSS: %s. Increase? %v\n",
		humanize.IBytes(s.Live), rss, d.increase)
}

// node is a linked list element living in tracked memory.
type node struct {
	val  []byte
	next *node
}

var nodeSize = uint64(unsafe.Sizeof(node{}))

func (d *driver) newNode() *node {
	p := d.tr.Calloc(1, nodeSize)
	if p == nil {
		d.increase = false
		return nil
	}
	n := (*node)(p)
	if n.val = d.alloc(); n.val == nil {
		d.tr.Free(p)
		return nil
	}
	return n
}

func (d *driver) freeNode(n *node) {
	d.free(n.val)
	d.tr.Free(unsafe.Pointer(n))
}

func (d *driver) viaLL() {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	var root node
	for range ticker.C {
		if d.stop.Load() {
			break
		}
		if d.increase {
			if n := d.newNode(); n != nil {
				root.next, n.next = n, root.next
			}
		} else if next := root.next; next != nil {
			root.next = next.next
			d.freeNode(next)
		}
		d.memory()
	}
	for root.next != nil {
		next := root.next
		root.next = next.next
		d.freeNode(next)
	}
	d.memory()
}

func (d *driver) viaMap() {
	m := make(map[int][]byte)

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		if d.stop.Load() {
			break
		}
		if d.increase {
			k := rand.Intn(1000000)
			d.free(m[k])
			delete(m, k)
			if buf := d.alloc(); buf != nil {
				m[k] = buf
			}
		} else {
			for k, val := range m {
				d.free(val)
				delete(m, k)
				break
			}
		}
		d.memory()
	}
	for k, val := range m {
		delete(m, k)
		d.free(val)
	}
	d.memory()
}

func (d *driver) viaList() {
	var slices [][]byte

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		if d.stop.Load() {
			break
		}
		if d.increase {
			if buf := d.alloc(); buf != nil {
				slices = append(slices, buf)
			}
		} else if idx := len(slices) - 1; idx >= 0 {
			// Shrink the newest buffer before dropping it, to exercise Realloc.
			buf := slices[idx]
			if p := d.tr.Realloc(unsafe.Pointer(&buf[0]), uint64(len(buf))/2+1); p != nil {
				buf = unsafe.Slice((*byte)(p), len(buf)/2+1)
			}
			d.free(buf)
			slices = slices[:idx]
		}
		d.memory()
	}
	for _, val := range slices {
		d.free(val)
	}
	slices = nil
	d.memory()
}
