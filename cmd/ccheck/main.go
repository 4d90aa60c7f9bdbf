// Command ccheck is a consistency checker for a running rcluster-managed
// cluster, as described in http://redis.io/topics/cluster-tutorial. It
// hammers a cluster with INCRs and GETs while it is reshuffled or
// failed over, and reports reads that come back lower than the last
// acknowledged write (a lost write) or higher (a write that was
// actually acknowledged by the cluster without the client seeing the
// ack).
package main

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/mna/mainer"
	"github.com/mna/rcluster"
)

const (
	workingSet = 1000
	keySpace   = 10000
)

var (
	mu sync.Mutex

	writes, reads             int
	failedWrites, failedReads int
	lostWrites, noAckWrites   int
)

const binName = "ccheck"

var (
	longUsage = fmt.Sprintf(`usage: %s [<option>...]
       %[1]s -h|--help

Run a consistency check against a running rcluster cluster: repeatedly
INCRs and GETs keys from a working set while the cluster is reshuffled
or failed over, and reports any read that disagrees with the last
acknowledged write.

Valid flag options are:
       -h --help               Show this help and exit immediately.
       -a --addr ADDR          Seed node `+"`address`"+` to bootstrap from.
       -c --conn-timeout DUR   Connection `+"`timeout`"+`.
       -d --delay DUR          Delay `+"`duration`"+` between INCR calls.
       -r --read-timeout DUR   Read `+"`timeout`"+`.
       -w --write-timeout DUR  Write `+"`timeout`"+`.
`, binName)
)

type cmd struct {
	Help bool `flag:"h,help"`

	Addr         string        `flag:"a,addr"`
	ConnTimeout  time.Duration `flag:"c,conn-timeout"`
	Delay        time.Duration `flag:"d,delay"`
	ReadTimeout  time.Duration `flag:"r,read-timeout"`
	WriteTimeout time.Duration `flag:"w,write-timeout"`
}

func (c *cmd) SetArgs([]string) {}

func (c *cmd) Validate() error {
	if c.Help {
		return nil
	}
	if c.Addr == "" {
		return errors.New("--addr is required")
	}
	return nil
}

func (c *cmd) Main(args []string, stdio mainer.Stdio) mainer.ExitCode {
	c.ConnTimeout = time.Second
	c.ReadTimeout = 100 * time.Millisecond
	c.WriteTimeout = 100 * time.Millisecond

	var p mainer.Parser
	if err := p.Parse(args, c); err != nil {
		fmt.Fprintln(stdio.Stderr, err)
		return mainer.InvalidArgs
	}

	if c.Help {
		fmt.Fprint(stdio.Stdout, longUsage)
		return mainer.Success
	}

	cluster, err := rcluster.New(rcluster.Options{
		ClusterNodes: []string{c.Addr},
		AdapterOptions: []redis.DialOption{
			redis.DialConnectTimeout(c.ConnTimeout),
			redis.DialReadTimeout(c.ReadTimeout),
			redis.DialWriteTimeout(c.WriteTimeout),
		},
	})
	if err != nil {
		fmt.Fprintln(stdio.Stderr, err)
		return mainer.Failure
	}
	defer cluster.Close()

	if err := cluster.Refresh(); err != nil {
		fmt.Fprintln(stdio.Stderr, err)
		return mainer.Failure
	}

	go printStats(stdio)
	runChecks(cluster, c.Delay)
	return mainer.Success
}

func runChecks(cluster *rcluster.Cluster, delay time.Duration) {
	cache := make(map[string]int, workingSet)
	for {
		var r, w, fr, fw, lw, naw int

		key := genKey()

		if exp, ok := cache[key]; ok {
			v, err := cluster.Call("GET", key)
			if err != nil {
				fr = 1
			} else {
				r = 1
				n, _ := redis.Int(v, nil)
				if exp > n {
					lw = exp - n
				} else if exp < n {
					naw = n - exp
				}
			}
		}

		v, err := cluster.Call("INCR", key)
		if err != nil {
			fw = 1
		} else {
			w = 1
			n, _ := redis.Int(v, nil)
			cache[key] = n
		}

		updateStats(w, r, fw, fr, lw, naw)
		time.Sleep(delay)
	}
}

func updateStats(deltas ...int) {
	mu.Lock()
	writes += deltas[0]
	reads += deltas[1]
	failedWrites += deltas[2]
	failedReads += deltas[3]
	lostWrites += deltas[4]
	noAckWrites += deltas[5]
	mu.Unlock()
}

func printStats(stdio mainer.Stdio) {
	for range time.Tick(time.Second) {
		mu.Lock()
		w, r := writes, reads
		fw, fr := failedWrites, failedReads
		lw, naw := lostWrites, noAckWrites
		mu.Unlock()
		fmt.Fprintf(stdio.Stdout, "%d R (%d err) | %d W (%d err) | %d lost | %d noack\n", r, fr, w, fw, lw, naw)
	}
}

func genKey() string {
	ks := workingSet
	if rand.Float64() > 0.5 {
		ks = keySpace
	}
	return "key_" + strconv.Itoa(rand.Intn(ks))
}

func main() {
	var c cmd
	os.Exit(int(c.Main(os.Args, mainer.CurrentStdio())))
}
