package queue_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"mangadexzip/internal/catalog"
	"mangadexzip/internal/queue"
)

func chapterServer(t *testing.T, manga catalog.Manga, chapters []catalog.Chapter, mangaStatus, chaptersStatus int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/manga/"+manga.ID, func(w http.ResponseWriter, r *http.Request) {
		if mangaStatus != 0 {
			w.WriteHeader(mangaStatus)
			return
		}
		json.NewEncoder(w).Encode(manga)
	})
	mux.HandleFunc("/manga/"+manga.ID+"/chapters", func(w http.ResponseWriter, r *http.Request) {
		if chaptersStatus != 0 {
			w.WriteHeader(chaptersStatus)
			return
		}
		json.NewEncoder(w).Encode(chapters)
	})
	return httptest.NewServer(mux)
}

func TestAddMangaChaptersExpandsIntoDownloadAndArchive(t *testing.T) {
	manga := catalog.Manga{ID: "m1"}
	chapters := []catalog.Chapter{
		{ID: "c1", Volume: "1", Chapter: "1"},
		{ID: "c2", Volume: "1", Chapter: "2"},
	}
	srv := chapterServer(t, manga, chapters, 0, 0)
	defer srv.Close()

	client := catalog.New(srv.URL)
	reg := queue.NewRegistry()
	task := queue.NewTask(reg, "t1", "download_archive")

	action := &queue.AddMangaChapters{Client: client, MangaID: "m1"}
	require.NoError(t, action.Run(reg, task))

	require.False(t, task.Failed)
	actions := task.Actions()
	require.Len(t, actions, 3) // 2 chapters + terminal archive

	_, ok := actions[0].(*queue.DownloadChapter)
	require.True(t, ok)
	_, ok = actions[1].(*queue.DownloadChapter)
	require.True(t, ok)
	_, ok = actions[2].(*queue.ArchiveContents)
	require.True(t, ok)
}

func TestAddMangaChaptersMangaNotFound(t *testing.T) {
	manga := catalog.Manga{ID: "missing"}
	srv := chapterServer(t, manga, nil, http.StatusNotFound, 0)
	defer srv.Close()

	client := catalog.New(srv.URL)
	reg := queue.NewRegistry()
	task := queue.NewTask(reg, "t1", "download_archive")

	action := &queue.AddMangaChapters{Client: client, MangaID: "missing"}
	require.NoError(t, action.Run(reg, task))

	require.True(t, task.Failed)
	require.Contains(t, task.Status, "not found")
}

func TestAddMangaChaptersNoChaptersAvailable(t *testing.T) {
	manga := catalog.Manga{ID: "m1"}
	srv := chapterServer(t, manga, nil, 0, http.StatusNotFound)
	defer srv.Close()

	client := catalog.New(srv.URL)
	reg := queue.NewRegistry()
	task := queue.NewTask(reg, "t1", "download_archive")

	action := &queue.AddMangaChapters{Client: client, MangaID: "m1"}
	require.NoError(t, action.Run(reg, task))

	require.True(t, task.Failed)
	require.Empty(t, task.Actions())
}

func TestAddMangaChaptersStartEndFiltersDropNonNumeric(t *testing.T) {
	manga := catalog.Manga{ID: "m1"}
	chapters := []catalog.Chapter{
		{ID: "c1", Volume: "1", Chapter: "1"},
		{ID: "c2", Volume: "1", Chapter: "5"},
		{ID: "c3", Volume: "1", Chapter: "10"},
		{ID: "c4", Volume: "1", Chapter: "extra"},
	}
	srv := chapterServer(t, manga, chapters, 0, 0)
	defer srv.Close()

	client := catalog.New(srv.URL)
	reg := queue.NewRegistry()
	task := queue.NewTask(reg, "t1", "download_archive")

	start := 2.0
	end := 9.0
	action := &queue.AddMangaChapters{Client: client, MangaID: "m1", Start: &start, End: &end}
	require.NoError(t, action.Run(reg, task))

	require.False(t, task.Failed)
	// only chapter "5" survives both the numeric range and the non-numeric drop
	require.Len(t, task.Actions(), 2) // 1 download + terminal archive
	dl := task.Actions()[0].(*queue.DownloadChapter)
	require.Equal(t, "c2", dl.ChapterID)
}

func TestAddMangaChaptersPreferredGroupsPicksFirstMatch(t *testing.T) {
	manga := catalog.Manga{ID: "m1"}
	chapters := []catalog.Chapter{
		{ID: "c1", Volume: "1", Chapter: "1", Groups: []string{"groupB"}},
		{ID: "c2", Volume: "1", Chapter: "1", Groups: []string{"groupA"}},
	}
	srv := chapterServer(t, manga, chapters, 0, 0)
	defer srv.Close()

	client := catalog.New(srv.URL)
	reg := queue.NewRegistry()
	task := queue.NewTask(reg, "t1", "download_archive")

	action := &queue.AddMangaChapters{Client: client, MangaID: "m1", PreferredGroups: []string{"groupA", "groupB"}}
	require.NoError(t, action.Run(reg, task))

	require.False(t, task.Failed)
	require.Len(t, task.Actions(), 2)
	dl := task.Actions()[0].(*queue.DownloadChapter)
	require.Equal(t, "c2", dl.ChapterID)
}

func TestAddMangaChaptersPreferredGroupsDropsWithoutSubstitute(t *testing.T) {
	manga := catalog.Manga{ID: "m1"}
	chapters := []catalog.Chapter{
		{ID: "c1", Volume: "1", Chapter: "1", Groups: []string{"groupX"}},
	}
	srv := chapterServer(t, manga, chapters, 0, 0)
	defer srv.Close()

	client := catalog.New(srv.URL)
	reg := queue.NewRegistry()
	task := queue.NewTask(reg, "t1", "download_archive")

	action := &queue.AddMangaChapters{Client: client, MangaID: "m1", PreferredGroups: []string{"groupA"}}
	require.NoError(t, action.Run(reg, task))

	require.True(t, task.Failed)
	require.Empty(t, task.Actions())
}

func TestAddMangaChaptersVolumeDedupeIsPerChapter(t *testing.T) {
	manga := catalog.Manga{ID: "m1"}
	chapters := []catalog.Chapter{
		{ID: "c1", Volume: "1", Chapter: "5"},
		{ID: "c2", Volume: "2", Chapter: ""},
	}
	srv := chapterServer(t, manga, chapters, 0, 0)
	defer srv.Close()

	client := catalog.New(srv.URL)
	reg := queue.NewRegistry()
	task := queue.NewTask(reg, "t1", "download_archive")

	action := &queue.AddMangaChapters{Client: client, MangaID: "m1"}
	require.NoError(t, action.Run(reg, task))

	require.False(t, task.Failed)
	actions := task.Actions()
	require.Len(t, actions, 3) // 2 chapters + terminal archive

	byID := map[string]*queue.DownloadChapter{}
	for _, a := range actions[:2] {
		dl := a.(*queue.DownloadChapter)
		byID[dl.ChapterID] = dl
	}
	// numbered chapter keeps a plain Ch.N subfolder, not Ch.N (Vol.X)
	require.False(t, byID["c1"].VolumeDedupe)
	// unnumbered chapter embeds its volume so same-title unnumbered
	// chapters from different volumes don't collide on disk
	require.True(t, byID["c2"].VolumeDedupe)
}
