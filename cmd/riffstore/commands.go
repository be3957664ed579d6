package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"riffstore/internal/library"
	"riffstore/internal/metadata"
	"riffstore/internal/server"
	"riffstore/pkg/models"

	"github.com/dustin/go-humanize"
)

func (a *app) initStore(ctx context.Context) error {
	if err := a.store.Ping(ctx); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Database ready at %s\n", a.store.Path())
	return nil
}

func (a *app) stats(ctx context.Context) error {
	stats, err := a.store.GetStatistics(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Total downloads:\t%d\n", stats.TotalDownloads)
	fmt.Fprintf(tw, "  audio:\t%d\n", stats.TotalAudioDownloads)
	fmt.Fprintf(tw, "  video:\t%d\n", stats.TotalVideoDownloads)
	fmt.Fprintf(tw, "Playlists created:\t%d\n", stats.TotalPlaylists)
	fmt.Fprintf(tw, "Total size:\t%s\n", humanize.Bytes(uint64(stats.TotalFileSize)))
	fmt.Fprintf(tw, "Average size:\t%s\n", humanize.Bytes(uint64(stats.AverageFileSize)))
	fmt.Fprintf(tw, "Unique artists:\t%d\n", stats.UniqueArtists)
	fmt.Fprintf(tw, "Unique albums:\t%d\n", stats.UniqueAlbums)
	if stats.LastDownloadDate != nil {
		fmt.Fprintf(tw, "Last download:\t%s\n", humanize.Time(*stats.LastDownloadDate))
	}
	fmt.Fprintf(tw, "Failed downloads:\t%d\n", stats.FailedDownloads)
	if stats.LastError != "" && stats.LastErrorDate != nil {
		fmt.Fprintf(tw, "Last error:\t%s (%s)\n", stats.LastError, humanize.Time(*stats.LastErrorDate))
	}

	sources := make([]string, 0, len(stats.DownloadsBySource))
	for source := range stats.DownloadsBySource {
		sources = append(sources, source)
	}
	sort.Strings(sources)
	for _, source := range sources {
		fmt.Fprintf(tw, "  from %s:\t%d\n", source, stats.DownloadsBySource[source])
	}
	return tw.Flush()
}

func (a *app) search(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	var q models.TrackQuery
	fs.StringVar(&q.Query, "q", "", "substring matched against title, artist and album")
	fs.StringVar(&q.Artist, "artist", "", "exact artist (case-insensitive)")
	fs.StringVar(&q.Album, "album", "", "exact album (case-insensitive)")
	fs.StringVar(&q.Source, "source", "", "download source")
	fs.StringVar(&q.SortBy, "sort", "", "sort column")
	fs.StringVar(&q.SortDir, "dir", "", "sort direction (asc or desc)")
	fs.IntVar(&q.Limit, "limit", 0, "page size")
	fs.IntVar(&q.Offset, "offset", 0, "page offset")
	video := fs.String("video", "", "true for videos only, false for audio only")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 && q.Query == "" {
		q.Query = strings.Join(fs.Args(), " ")
	}
	switch *video {
	case "":
	case "true", "false":
		isVideo := *video == "true"
		q.IsVideo = &isVideo
	default:
		return fmt.Errorf("-video must be true or false")
	}

	page, err := a.store.SearchTracks(ctx, q)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TRACK ID\tTITLE\tARTIST\tALBUM\tDURATION\tSIZE\tPLAYS")
	for _, t := range page.Tracks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			t.TrackID, t.Title, t.Artist, t.Album,
			time.Duration(t.Duration)*time.Second,
			humanize.Bytes(uint64(t.FileSize)), t.PlayCount)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "\n%d of %d matches (offset %d)\n", len(page.Tracks), page.Total, page.Offset)
	return nil
}

func (a *app) display(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("display", flag.ContinueOnError)
	limit := fs.Int("limit", 10, "number of recent downloads to show")
	if err := fs.Parse(args); err != nil {
		return err
	}

	tracks, err := a.store.RecentTracks(ctx, *limit)
	if err != nil {
		return err
	}
	if len(tracks) == 0 {
		fmt.Fprintln(a.out, "No tracks recorded")
		return nil
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tARTIST\tDOWNLOADED\tFILE")
	for _, t := range tracks {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			t.ID, t.Title, t.Artist, humanize.Time(t.DownloadDate), t.FilePath)
	}
	return tw.Flush()
}

func (a *app) check(ctx context.Context) error {
	if err := a.store.Ping(ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	missing, err := a.store.MissingColumns(ctx)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		for _, column := range missing {
			fmt.Fprintf(a.out, "missing column: %s\n", column)
		}
		return fmt.Errorf("schema is missing %d columns", len(missing))
	}
	fmt.Fprintf(a.out, "Database %s is healthy\n", a.store.Path())
	return nil
}

func (a *app) newImporter() *library.Importer {
	prober := metadata.NewProber(a.cfg.Library, a.logger)
	return library.NewImporter(a.store, prober, a.logger)
}

func (a *app) importFiles(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return errors.New("import needs at least one file")
	}

	importer := a.newImporter()
	var errs []error
	for _, path := range paths {
		track, err := importer.ImportFile(ctx, path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		fmt.Fprintf(a.out, "%s\t%s - %s\n", track.TrackID, track.Artist, track.Title)
	}
	return errors.Join(errs...)
}

func (a *app) scan(ctx context.Context, args []string) error {
	root := a.cfg.Library.Path
	if len(args) > 0 {
		root = args[0]
	}

	result, err := a.newImporter().Scan(ctx, root, a.cfg.Library.ScanWorkers)
	fmt.Fprintf(a.out, "Imported %d files, %d failed\n", result.Imported, result.Failed)
	return err
}

func (a *app) serve(ctx context.Context) error {
	return server.New(a.cfg, a.store, a.logger).Run(ctx)
}
