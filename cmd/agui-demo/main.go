// Command agui-demo serves a scripted AG-UI agent over SSE and drives it with
// the client runtime. Run it with -mode=both to watch a full run: streamed
// text, a frontend tool call executed by the client, a human approval
// interrupt and the final answer.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"goa.design/clue/health"
	"goa.design/clue/log"
	"golang.org/x/time/rate"

	runmongo "github.com/umbraco/Umbraco.AI-sub013/features/run/mongo"
	mongoc "github.com/umbraco/Umbraco.AI-sub013/features/run/mongo/clients/mongo"
	journal "github.com/umbraco/Umbraco.AI-sub013/features/stream/pulse"
	pulsec "github.com/umbraco/Umbraco.AI-sub013/features/stream/pulse/clients/pulse"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/run"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/run/inmem"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/server"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/telemetry"
	"github.com/umbraco/Umbraco.AI-sub013/runtime/agent/transport/sse"
)

func main() {
	var (
		modeF    = flag.String("mode", envOr("AGUI_MODE", "both"), "server, client or both")
		addrF    = flag.String("addr", envOr("AGUI_ADDR", "localhost:8088"), "HTTP listen address")
		urlF     = flag.String("url", envOr("AGUI_URL", ""), "Run endpoint used by the client (defaults to the local server)")
		configF  = flag.String("config", envOr("AGUI_CONFIG", ""), "YAML agent configuration (defaults to the built-in script)")
		promptF  = flag.String("prompt", "Book me a flight to New York", "User message sent by the client")
		approveF = flag.Bool("approve", true, "Approve interrupts raised by the agent")
		dbgF     = flag.Bool("debug", false, "Log debug messages")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	cfg, err := LoadConfig(*configF)
	if err != nil {
		log.Fatalf(ctx, err, "invalid configuration")
	}

	errc := make(chan error, 1)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runServer := *modeF == "server" || *modeF == "both"
	runClient := *modeF == "client" || *modeF == "both"
	if !runServer && !runClient {
		log.Fatalf(ctx, fmt.Errorf("unknown mode %q", *modeF), "invalid -mode")
	}

	var store run.Store = inmem.New()
	var pingers []health.Pinger
	if uri := os.Getenv("AGUI_MONGO_URI"); uri != "" {
		s, err := connectMongo(ctx, uri, envOr("AGUI_MONGO_DB", "agui"))
		if err != nil {
			log.Fatalf(ctx, err, "connect mongo")
		}
		store = s
		pingers = append(pingers, s.Client())
	}

	if runServer {
		opts := []sse.HandlerOption{
			sse.WithLogger(telemetry.NewClueLogger()),
			sse.WithRateLimit(rate.Limit(envFloatOr("AGUI_RATE", 2)), envIntOr("AGUI_BURST", 5)),
		}
		if redisURL := os.Getenv("AGUI_REDIS_URL"); redisURL != "" {
			j, err := connectJournal(redisURL)
			if err != nil {
				log.Fatalf(ctx, err, "connect redis")
			}
			opts = append(opts, sse.WithJournal(j.Sink))
			pingers = append(pingers, j)
		}
		svc := server.NewService(newScriptedAgent(cfg.Agent), server.WithLogger(telemetry.NewClueLogger()))
		handleHTTPServer(ctx, *addrF, sse.NewHandler(svc, opts...), pingers, &wg, errc)
	}

	if runClient {
		endpoint := *urlF
		if endpoint == "" {
			endpoint = "http://" + *addrF + "/agui"
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if runServer {
				waitReady(ctx, "http://"+*addrF+"/livez")
			}
			err := runDemoClient(ctx, clientOptions{
				Endpoint: endpoint,
				Config:   cfg,
				Prompt:   *promptF,
				Approve:  *approveF,
				Store:    store,
				Timeout:  envDurationOr("AGUI_CLIENT_TIMEOUT", 2*time.Minute),
				Out:      os.Stdout,
			})
			if err != nil {
				log.Errorf(ctx, err, "demo client failed")
			}
			select {
			case errc <- errors.New("demo run complete"):
			case <-ctx.Done():
			}
		}()
	}

	log.Printf(ctx, "exiting (%v)", <-errc)
	cancel()
	wg.Wait()
	log.Printf(ctx, "exited")
}

func handleHTTPServer(ctx context.Context, addr string, runs http.Handler, pingers []health.Pinger, wg *sync.WaitGroup, errc chan error) {
	mux := http.NewServeMux()
	mux.Handle("/agui", runs)
	check := health.Handler(health.NewChecker(pingers...))
	mux.Handle("/livez", check)
	mux.Handle("/healthz", check)

	var handler http.Handler = mux
	handler = log.HTTP(ctx)(handler)
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 60 * time.Second}

	wg.Add(1)
	go func() {
		defer wg.Done()
		go func() {
			log.Printf(ctx, "HTTP server listening on %q", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
		}()

		<-ctx.Done()
		log.Printf(ctx, "shutting down HTTP server at %q", addr)
		sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Printf(ctx, "failed to shutdown: %v", err)
		}
	}()
}

func connectMongo(ctx context.Context, uri, database string) (*runmongo.Store, error) {
	cl, err := mongodriver.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := cl.Ping(pctx, nil); err != nil {
		return nil, err
	}
	return runmongo.NewStoreFromMongo(mongoc.Options{Client: cl, Database: database})
}

func connectJournal(redisURL string) (*journal.Journal, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client, err := pulsec.New(pulsec.Options{
		Redis:            redis.NewClient(opts),
		StreamMaxLen:     envIntOr("AGUI_JOURNAL_MAXLEN", 1000),
		OperationTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return journal.NewJournal(journal.JournalOptions{Client: client})
}

// waitReady polls url until it answers or ctx is done.
func waitReady(ctx context.Context, url string) {
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return
		}
		if resp, err := http.DefaultClient.Do(req); err == nil {
			_ = resp.Body.Close()
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}
