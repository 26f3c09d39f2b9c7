package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mzoughi/stockpulse/internal/config"
	"github.com/mzoughi/stockpulse/internal/mockfeed"
	"github.com/mzoughi/stockpulse/internal/portfolio"
	"github.com/mzoughi/stockpulse/internal/protocol"
	"github.com/mzoughi/stockpulse/internal/session"
	"github.com/mzoughi/stockpulse/internal/transport"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := run(os.Args[1:]); err != nil {
		log.Fatalf("stockpulse: %v", err)
	}
}

func run(args []string) error {
	mgr, err := config.NewManager()
	if err != nil {
		return err
	}
	cfg, err := mgr.Load()
	if err != nil {
		return err
	}
	cfg.ApplyEnv()

	fs := flag.NewFlagSet("stockpulse", flag.ExitOnError)
	serviceURL := fs.String("service", cfg.ServiceURL, "Analysis service base URL")
	userID := fs.Int("user", cfg.UserID, "Requester id")
	timeFrequency := fs.String("timeframe", cfg.TimeFrequency, "Analysis horizon (1D, 1W, 1M, 3M, 6M, 1Y)")
	pollInterval := fs.Duration("interval", cfg.PollInterval(), "Status poll spacing for the fallback driver")
	pollOnly := fs.Bool("poll", cfg.PollingOnly, "Skip streaming and poll the status endpoint from the start")
	useMock := fs.Bool("mock", false, "Run against an in-process scripted service")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: stockpulse [flags] SYMBOL=ALLOCATION ...\n\n")
		fmt.Fprintf(fs.Output(), "Example: stockpulse -timeframe 1W AAPL=40 MSFT=35 NVDA=25\n\nFlags:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() == 0 {
		fs.Usage()
		return fmt.Errorf("no holdings given")
	}
	positions := make([]protocol.Position, 0, fs.NArg())
	for _, arg := range fs.Args() {
		p, err := portfolio.ParseHolding(arg)
		if err != nil {
			return err
		}
		positions = append(positions, p)
	}

	req, err := portfolio.NewRequest(*userID, positions, *timeFrequency)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	base := *serviceURL
	if *useMock {
		base, err = startMockFeed(ctx)
		if err != nil {
			return err
		}
		log.Printf("🧪 Using in-process mock service at %s", base)
	}

	policy := transport.DefaultPollPolicy()
	policy.Interval = *pollInterval
	opts := []session.Option{session.WithPollPolicy(policy)}
	if *pollOnly {
		opts = append(opts, session.WithPollingOnly())
	}

	manager := session.NewManager(transport.NewClient(base), opts...)

	log.Printf("📡 Starting analysis for %d holdings (%s horizon)", len(req.PortfolioData), req.TimeFrequency)
	ctl, err := manager.Start(ctx, req)
	if err != nil {
		return err
	}

	unsub := ctl.Subscribe(newProgressPrinter())
	defer unsub()

	<-ctl.Done()
	return printOutcome(ctl)
}

// startMockFeed serves a scripted analysis on an ephemeral port for the
// lifetime of ctx.
func startMockFeed(ctx context.Context) (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("starting mock service: %w", err)
	}
	feed := mockfeed.New(mockfeed.DefaultScript())
	srv := &http.Server{Handler: feed.Handler()}
	go srv.Serve(ln)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	return "http://" + ln.Addr().String(), nil
}

// newProgressPrinter logs each new step exactly once. Snapshots arrive from
// the session goroutine and (once, at subscription) from main, so the
// cursor needs a lock.
func newProgressPrinter() session.SubscribeFunc {
	var mu sync.Mutex
	printed := 0
	return func(snap session.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		steps := snap.Steps
		for ; printed < len(steps); printed++ {
			printStep(snap, steps[printed])
		}
	}
}

func printStep(snap session.Snapshot, step session.Step) {
	agent := snap.Agents[step.AgentID]
	switch step.Kind {
	case session.StepUserMessage:
		log.Printf("you> %s", step.Content)
	case session.StepSystemMessage:
		log.Printf("ℹ️  %s", step.Content)
	case session.StepAgentStart:
		log.Printf("%s %s is analyzing...", agent.Icon, agent.DisplayName)
	case session.StepAgentThinking:
		log.Printf("%s %s: %s", agent.Icon, agent.DisplayName, step.Content)
	case session.StepAgentComplete:
		log.Printf("%s %s done (confidence %.0f%%)", agent.Icon, agent.DisplayName, step.Confidence*100)
	case session.StepFinalResult:
		log.Printf("✅ Final result ready (confidence %.0f%%)", step.Confidence*100)
	}
}

func printOutcome(ctl *session.Controller) error {
	snap := ctl.Snapshot()
	switch snap.Status {
	case session.StatusCompleted:
		report := snap.FinalResult
		fmt.Printf("\n=== Analysis Report (session %s) ===\n\n", snap.SessionID)
		fmt.Printf("%s\n\nOverall confidence: %.0f%%\n\n", report.Content, report.ConfidenceScore*100)

		ids := make([]string, 0, len(report.ByAgent))
		for id := range report.ByAgent {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			f := report.ByAgent[id]
			fmt.Printf("• %s (%.0f%%): %s\n", f.DisplayName, f.Confidence*100, f.Analysis)
		}
		return nil
	case session.StatusCancelled:
		log.Printf("🛑 Analysis cancelled: %s", snap.FailureReason)
		return nil
	default:
		if err := ctl.Err(); err != nil {
			log.Printf("transport: %v", err)
		}
		return fmt.Errorf("analysis failed: %s", snap.FailureReason)
	}
}
