// Command-line interface to the remote raster compute service.
// Provides a tile proxy server and commands to inspect, fetch, split, and merge rasters.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/geogenius/rda/graph"
	"github.com/geogenius/rda/patch"
	"github.com/geogenius/rda/raster"
	"github.com/geogenius/rda/rda"
	"github.com/geogenius/rda/server"
	"github.com/geogenius/rda/service"
	"github.com/geogenius/rda/storage"
	"github.com/geogenius/rda/tiles"
)

var (
	// Display usage if true.
	showHelp = flag.BoolP("help", "h", false, "Show help message")

	// Run in verbose mode if true.
	runVerbose = flag.BoolP("verbose", "v", false, "Log debug messages")

	// TOML configuration file.
	configFile = flag.StringP("config", "c", "", "TOML configuration file")

	// Address for http communication.
	httpAddress = flag.String("http", "", "Address for HTTP communication")

	// Compute service endpoint, overriding the configuration.
	endpoint = flag.String("endpoint", "", "Compute service endpoint")

	// Tile fetch concurrency, overriding the configuration.
	workers = flag.IntP("workers", "w", 0, "Number of concurrent tile fetches")

	// Merge settings.
	mergeMethod = flag.StringP("method", "m", "first", "Merge method: first or last")
	padding     = flag.Int("padding", 0, "Pixels trimmed from each patch side when merging")

	// Compression of saved patch sets.
	compression = flag.String("compress", "lz4", "Patch compression: none, snappy, lz4, zstd")

	// Upload outputs to the configured bucket under this key.
	uploadKey = flag.String("upload", "", "Upload output to this key of the configured bucket")
)

const helpMessage = `
rdatiles reads rasters from the remote compute service

Usage: rdatiles [options] <command>

  -c, --config    =string   TOML configuration file.
      --http      =string   Address for HTTP communication.
      --endpoint  =string   Compute service endpoint.
  -w, --workers   =number   Number of concurrent tile fetches.
  -m, --method    =string   Merge method: first or last.
      --padding   =number   Pixels trimmed from each patch side when merging.
      --compress  =string   Patch compression: none, snappy, lz4, zstd.
      --upload    =string   Upload output to this key of the configured bucket.
  -v, --verbose   (flag)    Log debug messages.
  -h, --help      (flag)    Show help message.

Commands:

	serve
	meta     <graph id> [<node id>]
	split    <rows>,<cols> <tile> [<step>]
	fetch    <graph id> <node id> <minx>,<miny>,<maxx>,<maxy> <output tif>
	patches  <graph id> <node id> <tile> <step> <output file>
	merge    <patch file> <output tif>
	token    <user>
	download <key> <local dir>
`

func main() {
	flag.Usage = func() {
		fmt.Print(helpMessage)
	}
	flag.Parse()

	if flag.NArg() >= 1 && strings.ToLower(flag.Arg(0)) == "help" {
		*showHelp = true
	}
	if *showHelp || flag.NArg() == 0 {
		flag.Usage()
		os.Exit(0)
	}

	// Capture ctrl+c and other interrupts, cancelling work in progress.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := DoCommand(ctx, flag.Args())
	rda.Shutdown()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func loadConfig() (*server.Config, error) {
	var cfg *server.Config
	if *configFile == "" {
		cfg = server.DefaultConfig()
		cfg.RDA.ApplyEnv()
	} else {
		var err error
		if cfg, err = server.LoadConfig(*configFile); err != nil {
			return nil, err
		}
	}
	if *httpAddress != "" {
		cfg.Server.HTTPAddress = *httpAddress
	}
	if *endpoint != "" {
		cfg.RDA.Endpoint = *endpoint
	}
	if *workers != 0 {
		cfg.Fetch.Workers = *workers
	}
	if err := cfg.Logging.SetLogger(); err != nil {
		return nil, err
	}
	if *runVerbose {
		rda.SetLogMode(rda.DebugMode)
	}
	return cfg, nil
}

// env holds the clients a command needs.
type env struct {
	cfg     *server.Config
	svc     *service.Client
	fetcher *tiles.Fetcher
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	svc := service.NewClient(cfg.RDA)
	if err := svc.Open(ctx); err != nil {
		return nil, err
	}
	session := svc.Session()
	transport := func() http.RoundTripper {
		return session.Transport(tiles.DefaultTransport())
	}
	return &env{
		cfg:     cfg,
		svc:     svc,
		fetcher: tiles.NewFetcher(cfg.Fetch.Tiles(), transport, nil),
	}, nil
}

func (e *env) close() {
	e.svc.Close()
}

func (e *env) image(ctx context.Context, gid, node string) (*raster.Image, error) {
	c := raster.NewClient(e.svc, e.svc, e.fetcher)
	return c.FromGraph(ctx, service.GraphID(gid), graph.NodeID(node))
}

func argCount(cmd []string, min, max int) error {
	if n := len(cmd) - 1; n < min || n > max {
		return fmt.Errorf("%s: expected %d to %d arguments, got %d; see 'rdatiles help'", cmd[0], min, max, n)
	}
	return nil
}

func parseInts(s string, n int) ([]int, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("expected %d comma-separated integers, got %q", n, s)
	}
	out := make([]int, n)
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("bad integer %q in %q", p, s)
		}
		out[i] = v
	}
	return out, nil
}

// DoCommand serves as a switchboard for commands.
func DoCommand(ctx context.Context, cmd []string) error {
	if len(cmd) == 0 {
		return fmt.Errorf("blank command")
	}
	switch cmd[0] {
	case "serve":
		return doServe(ctx)
	case "meta":
		if err := argCount(cmd, 1, 2); err != nil {
			return err
		}
		return doMeta(ctx, cmd[1:])
	case "split":
		if err := argCount(cmd, 2, 3); err != nil {
			return err
		}
		return doSplit(cmd[1:])
	case "fetch":
		if err := argCount(cmd, 4, 4); err != nil {
			return err
		}
		return doFetch(ctx, cmd[1:])
	case "patches":
		if err := argCount(cmd, 5, 5); err != nil {
			return err
		}
		return doPatches(ctx, cmd[1:])
	case "merge":
		if err := argCount(cmd, 2, 2); err != nil {
			return err
		}
		return doMerge(ctx, cmd[1:])
	case "token":
		if err := argCount(cmd, 1, 1); err != nil {
			return err
		}
		return doToken(cmd[1])
	case "download":
		if err := argCount(cmd, 2, 2); err != nil {
			return err
		}
		return doDownload(ctx, cmd[1], cmd[2])
	default:
		return fmt.Errorf("unknown command %q; see 'rdatiles help'", cmd[0])
	}
}

func doServe(ctx context.Context) error {
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.close()
	s, err := server.New(e.cfg, e.svc, e.fetcher)
	if err != nil {
		return err
	}
	return s.Serve(ctx)
}

func doMeta(ctx context.Context, args []string) error {
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.close()
	var node graph.NodeID
	if len(args) == 2 {
		node = graph.NodeID(args[1])
	}
	md, err := e.svc.Metadata(ctx, service.GraphID(args[0]), node)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(md)
}

func doSplit(args []string) error {
	total, err := parseInts(args[0], 2)
	if err != nil {
		return err
	}
	tile, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("bad tile size %q", args[1])
	}
	step := tile
	if len(args) == 3 {
		if step, err = strconv.Atoi(args[2]); err != nil {
			return fmt.Errorf("bad step %q", args[2])
		}
	}
	plan, err := patch.NewSplitter(total, tile, step)
	if err != nil {
		return err
	}
	fmt.Println(plan)
	for i, win := range plan.Windows() {
		info := plan.Info(i)
		fmt.Printf("%4d  x %3d  y %3d  %s\n", i, info.IndexX, info.IndexY, win)
	}
	return nil
}

// writeOutput writes a file with fn and uploads it if requested.
func writeOutput(ctx context.Context, cfg *server.Config, name string, fn func(f *os.File) error) error {
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if *uploadKey == "" {
		return nil
	}
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Upload(ctx, name, *uploadKey)
}

func doFetch(ctx context.Context, args []string) error {
	box, err := parseInts(args[2], 4)
	if err != nil {
		return err
	}
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.close()
	img, err := e.image(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	win := rda.PixelWindow{MinX: box[0], MinY: box[1], MaxX: box[2], MaxY: box[3]}
	a, err := img.Read(ctx, win)
	if err != nil {
		return err
	}
	return writeOutput(ctx, e.cfg, args[3], func(f *os.File) error {
		return patch.ExportTIFF(f, a)
	})
}

func doPatches(ctx context.Context, args []string) error {
	tile, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("bad tile size %q", args[2])
	}
	step, err := strconv.Atoi(args[3])
	if err != nil {
		return fmt.Errorf("bad step %q", args[3])
	}
	compress, err := rda.ParseCompression(*compression)
	if err != nil {
		return err
	}
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.close()
	img, err := e.image(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	shape := img.Shape()
	plan, err := patch.NewSplitter(rda.Shape2d{shape[1], shape[2]}, tile, step)
	if err != nil {
		return err
	}
	fill, _ := img.NoData(0)
	ps, err := patch.New(img, plan, patch.Options{Fill: fill})
	if err != nil {
		return err
	}
	if err := ps.Load(ctx, e.fetcher.Workers()); err != nil {
		return err
	}
	return writeOutput(ctx, e.cfg, args[4], func(f *os.File) error {
		return ps.Save(ctx, f, compress)
	})
}

func doMerge(ctx context.Context, args []string) error {
	method, err := patch.ParseMergeMethod(*mergeMethod)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	saved, err := patch.Open(f)
	f.Close()
	if err != nil {
		return err
	}
	a, err := saved.Merge(method, *padding)
	if err != nil {
		return err
	}
	return writeOutput(ctx, cfg, args[1], func(f *os.File) error {
		return patch.ExportTIFF(f, a)
	})
}

func doToken(user string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Auth.SecretKey == "" {
		return fmt.Errorf("no [auth] secret_key configured")
	}
	token, err := server.GenerateJWT(cfg.Auth.SecretKey, user)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func doDownload(ctx context.Context, key, dir string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()
	p, err := store.Download(ctx, key, dir)
	if err != nil {
		return err
	}
	fmt.Println(p)
	return nil
}
