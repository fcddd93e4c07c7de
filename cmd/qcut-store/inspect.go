package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
)

// runInspect lists every project with its scene and media counts.
func runInspect(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	sync := fs.Bool("sync", false, "Recover metadata for orphaned media payloads first")
	_ = fs.Parse(args)

	cfg := loadConfig(*configPath)
	ctx := context.Background()

	svc := openService(ctx, cfg)
	defer svc.Close()

	projects, err := svc.LoadAllProjects(ctx)
	if err != nil {
		slog.Error("Failed to list projects", "error", err)
		os.Exit(1)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSCENES\tMEDIA\tUPDATED")
	for _, p := range projects {
		if *sync {
			if report, err := svc.SyncProjectMedia(ctx, p.ID); err != nil {
				slog.Warn("Media sync failed", "project", p.ID, "error", err)
			} else if len(report.Recovered) > 0 {
				slog.Info("Recovered media records", "project", p.ID, "count", len(report.Recovered))
			}
		}
		ids, err := svc.ListMediaIDs(ctx, p.ID)
		if err != nil {
			slog.Warn("Failed to list media", "project", p.ID, "error", err)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", p.ID, p.Name, len(p.Scenes), len(ids), p.UpdatedAt.Format("2006-01-02 15:04"))
	}
	_ = tw.Flush()
}
