package queue

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"mangadexzip/internal/catalog"
)

// AddMangaChapters expands a manga id into one DownloadChapter action per
// surviving chapter, plus a terminal ArchiveContents action.
type AddMangaChapters struct {
	Client *catalog.Client
	Stats  Stats // optional; propagated to spawned DownloadChapter and ArchiveContents actions

	MangaID         string
	Light           bool
	Language        string
	AppendTitles    bool
	PreferredGroups []string
	GroupsSubstitute bool
	Start           *float64
	End             *float64
}

func (a *AddMangaChapters) Run(reg *Registry, task *Task) error {
	task.Started = true
	task.Status = fmt.Sprintf("Retrieving chapters for manga %s", a.MangaID)

	ctx := context.Background()

	manga, err := a.Client.GetManga(ctx, a.MangaID)
	if err != nil {
		task.Failed = true
		if err == catalog.ErrMangaNotFound {
			task.Status = fmt.Sprintf("Manga %s not found", a.MangaID)
		} else {
			task.Status = fmt.Sprintf("MD API Error occurred during information fetch for manga %s", a.MangaID)
		}
		return nil
	}

	chaps, err := a.Client.GetChapters(ctx, manga.ID, catalog.DefaultChapterFilter(a.Language))
	if err != nil {
		task.Failed = true
		task.Status = fmt.Sprintf("There are no chapters available for manga %s", manga.ID)
		return nil
	}

	if len(a.PreferredGroups) > 0 {
		chaps = a.filterGroups(chaps)
	}
	if a.Start != nil {
		chaps = filterStart(chaps, *a.Start)
	}
	if a.End != nil {
		chaps = filterEnd(chaps, *a.End)
	}

	if len(chaps) == 0 {
		task.Failed = true
		task.Status = fmt.Sprintf("There are no chapters available for manga %s matching your filters", manga.ID)
		return nil
	}

	ordered := dedupChapters(chaps)

	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].key < ordered[j].key
	})

	for _, entry := range ordered {
		task.AddAction(&DownloadChapter{
			Client:       a.Client,
			Stats:        a.Stats,
			ChapterID:    entry.chapter.ID,
			Chapter:      &entry.chapter,
			Light:        a.Light,
			Subfolder:    true,
			AppendTitle:  a.AppendTitles,
			VolumeDedupe: entry.volumeDedupe,
		})
	}
	task.AddAction(&ArchiveContents{Stats: a.Stats})

	return nil
}

// filterGroups groups chapters by (volume, chapter) and, for each bucket,
// picks the first chapter whose translator-group list intersects
// PreferredGroups (priority follows input order); falls back to an
// arbitrary bucket member when GroupsSubstitute is set, else drops it.
func (a *AddMangaChapters) filterGroups(chaps []catalog.Chapter) []catalog.Chapter {
	type bucket struct {
		key   string
		chaps []catalog.Chapter
	}
	order := make([]string, 0)
	buckets := make(map[string]*bucket)
	for _, c := range chaps {
		k := bucketKey(c)
		b, ok := buckets[k]
		if !ok {
			b = &bucket{key: k}
			buckets[k] = b
			order = append(order, k)
		}
		b.chaps = append(b.chaps, c)
	}

	filtered := make([]catalog.Chapter, 0, len(chaps))
	for _, k := range order {
		b := buckets[k]
		picked, ok := pickPreferred(b.chaps, a.PreferredGroups)
		if ok {
			filtered = append(filtered, picked)
		} else if a.GroupsSubstitute {
			filtered = append(filtered, b.chaps[0])
		}
	}
	return filtered
}

func pickPreferred(chaps []catalog.Chapter, preferred []string) (catalog.Chapter, bool) {
	for _, group := range preferred {
		for _, c := range chaps {
			for _, g := range c.Groups {
				if g == group {
					return c, true
				}
			}
		}
	}
	return catalog.Chapter{}, false
}

func bucketKey(c catalog.Chapter) string {
	if f, err := strconv.ParseFloat(c.Chapter, 64); err == nil {
		return fmt.Sprintf("%s|%g", c.Volume, f)
	}
	return c.Volume + "|" + c.Chapter
}

func filterStart(chaps []catalog.Chapter, start float64) []catalog.Chapter {
	out := make([]catalog.Chapter, 0, len(chaps))
	for _, c := range chaps {
		if f, err := strconv.ParseFloat(c.Chapter, 64); err == nil && f >= start {
			out = append(out, c)
		}
	}
	return out
}

func filterEnd(chaps []catalog.Chapter, end float64) []catalog.Chapter {
	out := make([]catalog.Chapter, 0, len(chaps))
	for _, c := range chaps {
		if f, err := strconv.ParseFloat(c.Chapter, 64); err == nil && f <= end {
			out = append(out, c)
		}
	}
	return out
}

type dedupEntry struct {
	key          float64
	chapter      catalog.Chapter
	volumeDedupe bool
}

// dedupChapters keeps the first chapter seen per (volume, numeric-or-raw
// chapter) key, matching the original's non-deterministic-by-design
// iteration-order tie-break: no attempt is made to reconcile "10.5" vs
// "10.50". Each entry's volumeDedupe is set per-chapter (chapter label
// absent), matching the original's `volume_dedupe=chap.chapter is None` —
// only unnumbered chapters embed the volume in their subfolder name, not
// every chapter in the set.
func dedupChapters(chaps []catalog.Chapter) (ordered []dedupEntry) {
	type entry struct {
		sortKey      float64
		chapter      catalog.Chapter
		volumeDedupe bool
	}
	seen := make(map[string]entry)
	order := make([]string, 0, len(chaps))

	for _, c := range chaps {
		var key string
		var sortKey float64
		volumeDedupe := false
		if f, err := strconv.ParseFloat(c.Chapter, 64); err == nil {
			key = fmt.Sprintf("%s|%g", c.Volume, f)
			sortKey = f
		} else {
			label := c.Chapter
			if label == "" {
				label = "0"
				volumeDedupe = true
			}
			key = c.Volume + "|" + label
			sortKey = 0
		}
		if _, exists := seen[key]; !exists {
			seen[key] = entry{sortKey: sortKey, chapter: c, volumeDedupe: volumeDedupe}
			order = append(order, key)
		}
	}

	for _, k := range order {
		e := seen[k]
		ordered = append(ordered, dedupEntry{key: e.sortKey, chapter: e.chapter, volumeDedupe: e.volumeDedupe})
	}

	return ordered
}

func (a *AddMangaChapters) Describe() (map[string]any, map[string]string) {
	data := map[string]any{
		"data":              a.MangaID,
		"light":             a.Light,
		"language":          a.Language,
		"append_titles":     a.AppendTitles,
		"preferred_groups":  a.PreferredGroups,
		"groups_substitute": a.GroupsSubstitute,
	}
	if a.Start != nil {
		data["start"] = *a.Start
	}
	if a.End != nil {
		data["end"] = *a.End
	}
	return data, nil
}
