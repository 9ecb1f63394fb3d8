package probe

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/showwin/speedtest-go/speedtest"
)

// SpeedtestProbe measures download/upload throughput against the closest
// responsive speedtest.net server.
type SpeedtestProbe struct {
	name string
	log  *slog.Logger

	// candidates is how many nearby servers to latency-test before picking
	// the best one for the full run.
	candidates int
}

func NewSpeedtest(name string, log *slog.Logger) *SpeedtestProbe {
	if log == nil {
		log = slog.Default()
	}
	return &SpeedtestProbe{name: name, log: log, candidates: 5}
}

func (p *SpeedtestProbe) Name() string { return p.name }
func (p *SpeedtestProbe) Type() string { return "speedtest" }

func (p *SpeedtestProbe) Run(ctx context.Context) (*Result, error) {
	start := time.Now()

	// A fresh client per run: speedtest-go's package-level client keeps a
	// DataManager that can retain large snapshots across runs.
	st := speedtest.New()
	defer func() {
		st.Snapshots().Clean()
		st.Reset()
	}()

	servers, err := st.FetchServerListContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch server list: %w", err)
	}
	if a := servers.Available(); a != nil {
		servers = *a
	}
	if len(servers) == 0 {
		return nil, fmt.Errorf("no speedtest servers available")
	}

	// Closest few by distance first (cheap), then pick the lowest latency.
	sort.Slice(servers, func(i, j int) bool {
		return servers[i].Distance < servers[j].Distance
	})
	n := p.candidates
	if n > len(servers) {
		n = len(servers)
	}

	var best *speedtest.Server
	for _, s := range servers[:n] {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// PingTestContext sets s.Latency.
		if err := s.PingTestContext(ctx, nil); err != nil || s.Latency <= 0 {
			continue
		}
		if best == nil || s.Latency < best.Latency {
			best = s
		}
	}
	if best == nil {
		return nil, fmt.Errorf("all latency tests failed")
	}

	if err := best.DownloadTestContext(ctx); err != nil {
		return nil, fmt.Errorf("download test (%s): %w", best.Host, err)
	}
	if err := best.UploadTestContext(ctx); err != nil {
		return nil, fmt.Errorf("upload test (%s): %w", best.Host, err)
	}

	took := time.Since(start)
	p.log.Info("speedtest probe completed",
		slog.String("probe", p.name),
		slog.String("server", best.Sponsor),
		slog.Float64("download_mbps", best.DLSpeed.Mbps()),
		slog.Float64("upload_mbps", best.ULSpeed.Mbps()),
		slog.Int64("ping_ms", best.Latency.Milliseconds()),
		slog.Duration("took", took),
	)
	return &Result{
		Probe:    p.name,
		Type:     p.Type(),
		Started:  start,
		Duration: took,
		Detail: fmt.Sprintf("%.1f/%.1f Mbps, ping %dms via %s",
			best.DLSpeed.Mbps(), best.ULSpeed.Mbps(), best.Latency.Milliseconds(), best.Sponsor),
	}, nil
}
