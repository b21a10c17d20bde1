// ABOUTME: Command-line client for a running playthrough control surface
// ABOUTME: Sends one request per invocation and prints the reply
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Resonate-Protocol/playthrough/internal/control"
	"github.com/Resonate-Protocol/playthrough/internal/discovery"
)

var (
	addr    = flag.String("addr", "localhost:8928", "Control server address (host:port)")
	find    = flag.Bool("discover", false, "Locate the server via mDNS instead of -addr")
	timeout = flag.Duration("timeout", 5*time.Second, "Request timeout")
)

const usage = `usage: playthroughctl [flags] COMMAND [ARGS]

commands:
  status                 show session, volume and equalizer state
  devices                list audio devices
  start NAME             start a session on the named device
  stop                   stop the session
  volume V               set output volume (0..1)
  gains G1 G2 ... [@O]   set every band gain in dB, optionally the overall gain O
  reset                  flatten the equalizer
`

func main() {
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	target := *addr
	if *find {
		found, err := discover(ctx)
		if err != nil {
			fail(err)
		}
		target = found
	}

	client, err := control.Dial(ctx, target)
	if err != nil {
		fail(err)
	}
	defer client.Close()

	if err := run(ctx, client, flag.Arg(0), flag.Args()[1:]); err != nil {
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "playthroughctl: %v\n", err)
	os.Exit(1)
}

func discover(ctx context.Context) (string, error) {
	mgr := discovery.NewManager(discovery.Config{BrowseTimeout: time.Second})
	defer mgr.Stop()
	if err := mgr.Browse(); err != nil {
		return "", err
	}
	select {
	case svc := <-mgr.Services():
		return svc.Address(), nil
	case <-ctx.Done():
		return "", fmt.Errorf("no playthrough instance found: %w", ctx.Err())
	}
}

func run(ctx context.Context, c *control.Client, cmd string, args []string) error {
	var (
		st  control.ServerState
		err error
	)
	switch cmd {
	case "status":
		st, err = c.Status(ctx)
	case "devices":
		devs, err := c.Devices(ctx)
		if err != nil {
			return err
		}
		printDevices(devs)
		return nil
	case "start":
		if len(args) == 0 {
			return fmt.Errorf("start needs a device name")
		}
		st, err = c.Start(ctx, strings.Join(args, " "))
	case "stop":
		st, err = c.Stop(ctx)
	case "volume":
		if len(args) != 1 {
			return fmt.Errorf("volume needs one value")
		}
		v, perr := strconv.ParseFloat(args[0], 64)
		if perr != nil {
			return fmt.Errorf("bad volume %q: %w", args[0], perr)
		}
		st, err = c.SetVolume(ctx, v)
	case "gains":
		bands, overall, perr := parseGains(args)
		if perr != nil {
			return perr
		}
		st, err = c.SetGains(ctx, bands, overall)
	case "reset":
		st, err = c.ResetEQ(ctx)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		return err
	}
	printState(st)
	return nil
}

// parseGains reads band gains, with an optional trailing @overall
func parseGains(args []string) ([]float64, *float64, error) {
	var bands []float64
	var overall *float64
	for _, a := range args {
		if strings.HasPrefix(a, "@") {
			v, err := strconv.ParseFloat(a[1:], 64)
			if err != nil {
				return nil, nil, fmt.Errorf("bad overall gain %q: %w", a, err)
			}
			overall = &v
			continue
		}
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("bad gain %q: %w", a, err)
		}
		bands = append(bands, v)
	}
	if bands == nil && overall == nil {
		return nil, nil, fmt.Errorf("gains needs at least one value")
	}
	return bands, overall, nil
}

func printDevices(devs []control.DeviceInfo) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ROLE\tNAME\tUID\tBACKEND\tFORMAT")
	for _, d := range devs {
		name := d.Name
		if d.IsDefault {
			name += " *"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", d.Role, name, d.UID, d.Backend, d.Format)
	}
	w.Flush()
}

func printState(st control.ServerState) {
	fmt.Printf("%s %s (%s)\n", st.Product, st.Version, st.ServerID)
	if st.Session != nil {
		s := st.Session
		mode := "input"
		if s.Loopback {
			mode = "tap"
		}
		fmt.Printf("running: %s %s -> %s, %s, up %s\n", mode, s.Input, s.Output, s.Format,
			time.Since(s.Started).Round(time.Second))
	} else {
		fmt.Println("stopped")
	}
	fmt.Printf("volume: %.2f\n", st.Volume)

	parts := make([]string, len(st.EQ.Gains))
	for i, g := range st.EQ.Gains {
		label := "?"
		if i < len(st.EQ.Centres) {
			label = strconv.FormatFloat(st.EQ.Centres[i], 'f', -1, 64)
		}
		parts[i] = fmt.Sprintf("%s:%+.1f", label, g)
	}
	fmt.Printf("eq: %s overall:%+.1f\n", strings.Join(parts, " "), st.EQ.Overall)

	if st.Stats != nil {
		s := st.Stats
		fmt.Printf("queued: %.1fms rendered: %d underruns: %d flushes: %d dropped: %dB late: %d drift: %.1fppm (%s)\n",
			s.QueuedMS, s.Rendered, s.Underruns, s.Flushes, s.Dropped, s.Late, s.DriftPPM, s.DriftQuality)
	}
}
