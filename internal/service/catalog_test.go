package service

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/voyagen/livevault/internal/models"
	"github.com/voyagen/livevault/internal/store"
)

const samplePlaylist = `#EXTM3U
#EXTINF:-1 tvg-id="bbc1" tvg-logo="http://x/logo.png" group-title="News",BBC One
http://stream/bbc1.m3u8
#EXTINF:-1 tvg-id="cnn",CNN
http://stream/cnn.m3u8
`

func TestImportReader_DedupByURL(t *testing.T) {
	d := newTestCatalog(t)
	ctx := context.Background()

	res, err := d.catalog.ImportReader(ctx, strings.NewReader(samplePlaylist))
	if err != nil {
		t.Fatalf("first import: %v", err)
	}
	if res.Parsed != 2 || res.Inserted != 2 {
		t.Errorf("first import = %+v", res)
	}

	d.store.SetFavorite(ctx, 1, true)
	res, err = d.catalog.ImportReader(ctx, strings.NewReader(samplePlaylist))
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if res.Parsed != 2 || res.Inserted != 0 {
		t.Errorf("second import = %+v", res)
	}
	d.catalog.Wait()

	all, _ := d.store.Snapshot(ctx)
	if len(all) != 2 {
		t.Fatalf("catalog size = %d, want 2", len(all))
	}
	if !all[0].Favorite {
		t.Error("re-import reset favorite flag")
	}
	if all[0].LastUpdated != 1_700_000_000_000 {
		t.Errorf("LastUpdated = %d, want parser clock", all[0].LastUpdated)
	}
	if st := d.state.Current(); st.Loading {
		t.Error("loading flag left set")
	}
}

func TestImportReader_EnrichesAfterImport(t *testing.T) {
	d := newTestCatalog(t)
	d.logos.mapping = models.LogoMapping{"cnn": "http://logo/cnn.png", "bbc1": "http://logo/other.png"}

	if _, err := d.catalog.ImportReader(context.Background(), strings.NewReader(samplePlaylist)); err != nil {
		t.Fatal(err)
	}
	d.catalog.Wait()

	all, _ := d.store.Snapshot(context.Background())
	if *all[0].LogoURL != "http://x/logo.png" {
		t.Errorf("playlist logo overwritten: %q", *all[0].LogoURL)
	}
	if all[1].LogoURL == nil || *all[1].LogoURL != "http://logo/cnn.png" {
		t.Errorf("missing logo not backfilled: %v", all[1].LogoURL)
	}
}

func TestImportReader_Batches(t *testing.T) {
	d := newTestCatalog(t)
	d.catalog.opts.BatchSize = 2

	var b strings.Builder
	for i := 0; i < 5; i++ {
		b.WriteString("#EXTINF:-1,Channel\nhttp://s/")
		b.WriteByte(byte('a' + i))
		b.WriteString("\n")
	}
	res, err := d.catalog.ImportReader(context.Background(), strings.NewReader(b.String()))
	if err != nil {
		t.Fatal(err)
	}
	if res.Inserted != 5 {
		t.Errorf("Inserted = %d", res.Inserted)
	}
	want := []int{2, 2, 1}
	if len(d.store.insertBatches) != len(want) {
		t.Fatalf("batches = %v, want %v", d.store.insertBatches, want)
	}
	for i := range want {
		if d.store.insertBatches[i] != want[i] {
			t.Errorf("batches = %v, want %v", d.store.insertBatches, want)
		}
	}
}

func TestImportReader_ReadErrorKeepsParsedPrefix(t *testing.T) {
	d := newTestCatalog(t)
	boom := errors.New("connection reset")
	r := io.MultiReader(strings.NewReader(samplePlaylist), iotest.ErrReader(boom))

	res, err := d.catalog.ImportReader(context.Background(), r)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if res.Inserted != 2 {
		t.Errorf("Inserted = %d, want 2", res.Inserted)
	}
	all, _ := d.store.Snapshot(context.Background())
	if len(all) != 2 {
		t.Errorf("catalog size = %d, want 2", len(all))
	}
}

func TestImportReader_AlreadyLoading(t *testing.T) {
	d := newTestCatalog(t)
	d.state.BeginLoading()
	if _, err := d.catalog.ImportReader(context.Background(), strings.NewReader(samplePlaylist)); !errors.Is(err, ErrImportInProgress) {
		t.Fatalf("err = %v, want ErrImportInProgress", err)
	}
}

func playlistServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Error("missing User-Agent")
		}
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestImportURL(t *testing.T) {
	ctx := context.Background()

	t.Run("success saves url", func(t *testing.T) {
		d := newTestCatalog(t)
		srv := playlistServer(t, http.StatusOK, samplePlaylist)
		res, err := d.catalog.ImportURL(ctx, srv.URL+"/list.m3u")
		if err != nil {
			t.Fatalf("ImportURL: %v", err)
		}
		if res.Inserted != 2 {
			t.Errorf("Inserted = %d", res.Inserted)
		}
		if saved, _ := d.prefs.PlaylistURL(ctx); saved != srv.URL+"/list.m3u" {
			t.Errorf("saved url = %q", saved)
		}
	})

	t.Run("http error is reported and not saved", func(t *testing.T) {
		d := newTestCatalog(t)
		srv := playlistServer(t, http.StatusInternalServerError, "")
		_, err := d.catalog.ImportURL(ctx, srv.URL)
		if err == nil || !strings.Contains(err.Error(), "fetch: HTTP 500") {
			t.Fatalf("err = %v", err)
		}
		if saved, _ := d.prefs.PlaylistURL(ctx); saved != "" {
			t.Errorf("failed import saved url %q", saved)
		}
		if d.state.Current().Loading {
			t.Error("loading flag left set")
		}
	})

	t.Run("invalid url", func(t *testing.T) {
		d := newTestCatalog(t)
		for _, u := range []string{"", "ftp://host/list.m3u", "/local/list.m3u", "http://"} {
			if _, err := d.catalog.ImportURL(ctx, u); !errors.Is(err, ErrInvalidPlaylistURL) {
				t.Errorf("%q: err = %v, want ErrInvalidPlaylistURL", u, err)
			}
		}
	})
}

func TestReloadSaved(t *testing.T) {
	ctx := context.Background()

	t.Run("nothing saved", func(t *testing.T) {
		d := newTestCatalog(t)
		if res := d.catalog.ReloadSaved(ctx); res.Parsed != 0 {
			t.Errorf("res = %+v", res)
		}
	})

	t.Run("failure keeps catalog", func(t *testing.T) {
		d := newTestCatalog(t)
		seedChannels(t, d.store, 3)
		srv := playlistServer(t, http.StatusServiceUnavailable, "")
		d.prefs.SetPlaylistURL(ctx, srv.URL)

		d.catalog.ReloadSaved(ctx)
		all, _ := d.store.Snapshot(ctx)
		if len(all) != 3 {
			t.Errorf("catalog size = %d, want 3", len(all))
		}
	})

	t.Run("success imports", func(t *testing.T) {
		d := newTestCatalog(t)
		srv := playlistServer(t, http.StatusOK, samplePlaylist)
		d.prefs.SetPlaylistURL(ctx, srv.URL)
		if res := d.catalog.ReloadSaved(ctx); res.Inserted != 2 {
			t.Errorf("res = %+v", res)
		}
	})
}

func TestUserActions(t *testing.T) {
	d := newTestCatalog(t)
	ctx := context.Background()
	all := seedChannels(t, d.store, 3)

	ch, err := d.catalog.ToggleFavorite(ctx, all[0].ID)
	if err != nil || !ch.Favorite {
		t.Fatalf("toggle on: %+v, %v", ch, err)
	}
	ch, _ = d.catalog.ToggleFavorite(ctx, all[0].ID)
	if ch.Favorite {
		t.Error("toggle off failed")
	}
	if _, err := d.catalog.ToggleFavorite(ctx, 999); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("toggle missing: %v", err)
	}

	if err := d.catalog.MarkWatched(ctx, all[1].ID); err != nil {
		t.Fatal(err)
	}
	recent, _ := d.catalog.Recent(ctx, 0)
	if len(recent) != 1 || recent[0].LastUpdated != 1_700_000_000_000 {
		t.Errorf("recent = %+v", recent)
	}

	d.catalog.ToggleFavorite(ctx, all[2].ID)
	if err := d.catalog.ClearFavorites(ctx); err != nil {
		t.Fatal(err)
	}
	if favs, _ := d.catalog.Favorites(ctx); len(favs) != 0 {
		t.Errorf("favorites after clear = %d", len(favs))
	}
	if err := d.catalog.ClearHistory(ctx); err != nil {
		t.Fatal(err)
	}
	if recent, _ := d.catalog.Recent(ctx, 0); len(recent) != 0 {
		t.Errorf("recent after clear = %d", len(recent))
	}

	if err := d.catalog.Delete(ctx, all[0].ID); err != nil {
		t.Fatal(err)
	}
	if err := d.catalog.DeleteAll(ctx); err != nil {
		t.Fatal(err)
	}
	if rest, _ := d.catalog.Channels(ctx, store.ChannelFilter{}); len(rest) != 0 {
		t.Errorf("channels after DeleteAll = %d", len(rest))
	}
}

func TestCleanup(t *testing.T) {
	d := newTestCatalog(t)
	seedChannels(t, d.store, 4)
	d.prober.aliveFunc = func(_ context.Context, url string) bool { return url != "http://streams/2" }

	res, err := d.catalog.Cleanup(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Deleted != 1 {
		t.Errorf("Deleted = %d, want 1", res.Deleted)
	}
	if d.catalog.CancelCleanup() {
		t.Error("no scan should be running")
	}
}
