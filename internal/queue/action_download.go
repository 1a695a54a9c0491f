package queue

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"mangadexzip/internal/catalog"

	"github.com/ygrebnov/workers"
)

// chapterRateLimiter enforces the ~1.5s-per-chapter throttle DownloadChapter
// applies on behalf of the catalog: one token every 1.5 seconds, burst of 1.
var chapterRateLimiter = rate.NewLimiter(rate.Every(1500*time.Millisecond), 1)

// DownloadChapter fetches every page of one chapter into a subdirectory of
// the task's working directory, with bounded concurrency, per-page retry,
// and CDN reassignment on transport failure.
type DownloadChapter struct {
	Client *catalog.Client
	Stats  Stats // optional; nil disables daily byte accounting

	ChapterID    string
	Chapter      *catalog.Chapter // prefetched metadata, optional
	Light        bool
	Subfolder    bool
	AppendTitle  bool
	VolumeDedupe bool
}

func (a *DownloadChapter) Run(reg *Registry, task *Task) error {
	task.Started = true
	task.Status = fmt.Sprintf("Downloading chapter %s", a.ChapterID)

	dir := TaskDir(reg, task)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating working directory: %w", err)
	}

	ctx := context.Background()

	chap := a.Chapter
	if chap == nil {
		var err error
		chap, err = a.Client.GetChapter(ctx, a.ChapterID)
		if err != nil {
			task.Failed = true
			if err == catalog.ErrChapterNotFound {
				task.Status = fmt.Sprintf("Chapter %s Not Found", a.ChapterID)
			} else {
				task.Status = fmt.Sprintf("MD API Error occurred during information fetch for chapter %s", a.ChapterID)
			}
			return nil
		}
	}

	outDir := dir
	if a.Subfolder {
		label := "Ch." + orPlaceholder(chap.Chapter)
		if a.VolumeDedupe {
			label = fmt.Sprintf("Ch.%s (Vol.%s)", orPlaceholder(chap.Chapter), orPlaceholder(chap.Volume))
		}
		if a.AppendTitle && chap.Title != "" {
			title := chap.Title
			if len(title) > 64 {
				title = title[:64]
			}
			label = label + " - " + title
		}
		outDir = filepath.Join(dir, label)
		if err := os.MkdirAll(outDir, 0755); err != nil {
			return fmt.Errorf("creating chapter subdirectory: %w", err)
		}
	}

	net, err := a.Client.GetNetwork(ctx, chap.ID)
	if err != nil {
		task.Failed = true
		task.Status = fmt.Sprintf("MD API Error occurred during server attribution for chapter %s", chap.ID)
		return nil
	}

	pages := net.Pages
	if a.Light {
		pages = net.Redux
	}
	total := len(pages)

	if total == 0 {
		// Zero pages: nothing to write, task simply moves on.
		a.throttle(ctx)
		return nil
	}

	pool := workers.New[pageResult](ctx, &workers.Config{StartImmediately: true})
	for i, url := range pages {
		i, url := i, url
		if err := pool.AddTask(func(ctx context.Context) (pageResult, error) {
			return a.downloadPage(ctx, chap, net, url, outDir, total)
		}); err != nil {
			return fmt.Errorf("scheduling page %d: %w", i, err)
		}
	}

	joined := 0
	for joined < total {
		select {
		case res := <-pool.GetResults():
			joined++
			task.Status = fmt.Sprintf("Downloading Vol.%s Ch.%s p.%d/%d",
				orPlaceholder(chap.Volume), orPlaceholder(chap.Chapter), joined, total)
			if !res.ok {
				task.Failed = true
				task.Status = res.status
			}
		case err := <-pool.GetErrors():
			joined++
			if err != nil {
				task.Failed = true
			}
		}
	}

	a.throttle(ctx)
	return nil
}

// throttle blocks for the chapter-level token, so the dispatch loop never
// issues a chapter's worth of page requests faster than one chapter every
// 1.5s across the whole process.
func (a *DownloadChapter) throttle(ctx context.Context) {
	_ = chapterRateLimiter.Wait(ctx)
}

type pageResult struct {
	ok     bool
	status string
}

// downloadPage fetches one page, retrying up to 5 attempts with a 1.5s sleep
// and a fresh CDN assignment between attempts.
func (a *DownloadChapter) downloadPage(ctx context.Context, chap *catalog.Chapter, net *catalog.Network, url, outDir string, total int) (pageResult, error) {
	name := fmtPage(lastSegment(url), total)

	for attempt := 1; attempt <= 5; attempt++ {
		body, success, cached, elapsed, err := a.Client.FetchPage(ctx, url)
		if err != nil {
			if attempt == 5 {
				return pageResult{ok: false, status: fmt.Sprintf(
					"MD Node Error when downloading page %s from chapter %s", name, chap.ID)}, nil
			}
			time.Sleep(1500 * time.Millisecond)
			if fresh, ferr := a.Client.GetNetwork(ctx, chap.ID); ferr == nil {
				net = fresh
			}
			continue
		}

		if werr := os.WriteFile(filepath.Join(outDir, name), body, 0644); werr != nil {
			return pageResult{ok: false, status: werr.Error()}, werr
		}

		_ = net.Report(ctx, url, success, cached, len(body), elapsed.Milliseconds())
		if a.Stats != nil {
			_ = a.Stats.IncrementDailyBytes(int64(len(body)))
		}
		return pageResult{ok: true}, nil
	}

	return pageResult{ok: false, status: "MD Node Error: retries exhausted"}, nil
}

func orPlaceholder(s string) string {
	if s == "" {
		return "?"
	}
	return s
}

func lastSegment(url string) string {
	parts := strings.Split(url, "/")
	return parts[len(parts)-1]
}

// fmtPage collects the digits of page's prefix (before any "-"), pads
// it with zeros to match len(str(length)), and reattaches the extension.
// This guarantees natural lexical sort order for any page count up to 9999.
func fmtPage(page string, length int) string {
	prefix := strings.SplitN(page, "-", 2)[0]
	var digits strings.Builder
	for _, r := range prefix {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	num := digits.String()

	width := len(strconv.Itoa(length))
	pad := width - len(num)
	ext := filepath.Ext(page)

	var b strings.Builder
	for i := 0; i < pad; i++ {
		b.WriteByte('0')
	}
	b.WriteString(num)
	b.WriteString(ext)
	return b.String()
}

func (a *DownloadChapter) Describe() (map[string]any, map[string]string) {
	data := map[string]any{
		"data":          a.ChapterID,
		"light":         a.Light,
		"subfolder":     a.Subfolder,
		"append_title":  a.AppendTitle,
		"volume_dedupe": a.VolumeDedupe,
	}
	unserializable := map[string]string{}
	if a.Chapter != nil {
		unserializable["data_obj"] = "catalog.Chapter"
	}
	return data, unserializable
}
