package cmd

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	"github.com/urfave/cli/v2"

	"github.com/webitel/im-forum-delivery/config"
	storedi "github.com/webitel/im-forum-delivery/infra/store/di"
	"github.com/webitel/im-forum-delivery/internal/domain/model"
	"github.com/webitel/im-forum-delivery/internal/domain/presence"
	"github.com/webitel/im-forum-delivery/internal/domain/registry"
	"github.com/webitel/im-forum-delivery/internal/service"
)

const (
	monitorTopUsers = 15
	monitorHistory  = 60
)

func monitorCmd() *cli.Command {
	return &cli.Command{
		Name:    "monitor",
		Aliases: []string{"m"},
		Usage:   "Watch live connections and throughput from the shared store",
		Flags: []cli.Flag{
			configFileFlag,
			&cli.DurationFlag{
				Name:  "interval",
				Value: 2 * time.Second,
				Usage: "Refresh period",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			// The terminal belongs to the dashboard; logs go to log.file or nowhere.
			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			if cfg.Log.File != "" {
				logger = ProvideLogger(nil, cfg)
			}
			stats, err := newMonitorStats(cfg, logger)
			if err != nil {
				return err
			}
			return runMonitor(c.Context, stats, c.Duration("interval"))
		},
	}
}

func newMonitorStats(cfg *config.Config, logger *slog.Logger) (*service.StatsService, error) {
	s, err := storedi.New(nil, cfg, logger)
	if err != nil {
		return nil, err
	}
	reg := registry.NewRegistry(s, logger, registry.WithMetadataTTL(cfg.Registry.MetadataTTL))
	queue := registry.NewQueue(s, registry.NewNotifier(), logger, registry.WithQueueTTL(cfg.Queue.TTL))
	pres := presence.NewResolver(s, reg, logger, presence.WithTypingTTL(cfg.Presence.TypingTTL))
	return service.NewStatsService(reg, queue, pres, nil), nil
}

// dashboard keeps the widgets and the throughput history between refreshes.
type dashboard struct {
	summary *widgets.Paragraph
	users   *widgets.Table
	spark   *widgets.Sparkline
	group   *widgets.SparklineGroup

	lastEnqueued int64
	primed       bool
}

func newDashboard() *dashboard {
	d := &dashboard{
		summary: widgets.NewParagraph(),
		users:   widgets.NewTable(),
		spark:   widgets.NewSparkline(),
	}
	d.summary.Title = " " + ServiceName + " "
	d.summary.SetRect(0, 0, 60, 8)

	d.users.Title = " connections per user "
	d.users.RowSeparator = false
	d.users.SetRect(0, 8, 60, 8+monitorTopUsers+3)

	d.spark.Title = "frames enqueued / tick"
	d.spark.LineColor = ui.ColorGreen
	d.group = widgets.NewSparklineGroup(d.spark)
	d.group.Title = " throughput "
	d.group.SetRect(60, 0, 120, 8)
	return d
}

func (d *dashboard) update(st *model.Stats, err error) {
	if err != nil {
		d.summary.Text = fmt.Sprintf("[store error](fg:red)\n%v", err)
		return
	}
	d.summary.Text = fmt.Sprintf(
		"live connections  %d\nactive users      %d\nenqueued total    %d\nupdated           %s",
		st.LiveConnections, st.ActiveUsers, st.EnqueuedTotal, time.Now().Format(time.TimeOnly),
	)
	d.users.Rows = connectionRows(st, monitorTopUsers)

	if d.primed {
		d.spark.Data = appendBounded(d.spark.Data, float64(max(st.EnqueuedTotal-d.lastEnqueued, 0)), monitorHistory)
	}
	d.lastEnqueued, d.primed = st.EnqueuedTotal, true
}

func runMonitor(ctx context.Context, stats *service.StatsService, interval time.Duration) error {
	if err := ui.Init(); err != nil {
		return fmt.Errorf("terminal init: %w", err)
	}
	defer ui.Close()

	d := newDashboard()
	refresh := func() {
		qctx, cancel := context.WithTimeout(ctx, interval)
		st, err := stats.Stats(qctx)
		cancel()
		d.update(st, err)
		ui.Render(d.summary, d.users, d.group)
	}
	refresh()

	events := ui.PollEvents()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-events:
			switch e.ID {
			case "q", "<C-c>":
				return nil
			case "<Resize>":
				ui.Clear()
				ui.Render(d.summary, d.users, d.group)
			}
		case <-ticker.C:
			refresh()
		}
	}
}

// connectionRows renders the users with the most connections first, ties by id.
func connectionRows(st *model.Stats, limit int) [][]string {
	type row struct {
		user  string
		count int
	}
	rows := make([]row, 0, len(st.ConnectionsPerUser))
	for u, n := range st.ConnectionsPerUser {
		rows = append(rows, row{u, n})
	}
	slices.SortFunc(rows, func(a, b row) int {
		if c := cmp.Compare(b.count, a.count); c != 0 {
			return c
		}
		return cmp.Compare(a.user, b.user)
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}

	out := [][]string{{"user", "connections"}}
	for _, r := range rows {
		out = append(out, []string{r.user, strconv.Itoa(r.count)})
	}
	return out
}

func appendBounded(data []float64, v float64, limit int) []float64 {
	data = append(data, v)
	if len(data) > limit {
		data = data[len(data)-limit:]
	}
	return data
}
