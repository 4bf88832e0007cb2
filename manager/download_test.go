package manager_test

import (
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/adamwoolhether/xfer/filecache"
	"github.com/adamwoolhether/xfer/manager"
	"github.com/adamwoolhether/xfer/session"
	"github.com/adamwoolhether/xfer/transfer"
)

func TestCacheName(t *testing.T) {
	testCases := []struct {
		name string
		url  string
		ext  string
	}{
		{name: "png", url: "https://x/y.png", ext: ".png"},
		{name: "upper case ext", url: "https://x/y.JPEG", ext: ".jpeg"},
		{name: "query ignored", url: "https://x/y.mp4?sig=abc.def", ext: ".mp4"},
		{name: "no ext", url: "https://x/y", ext: ""},
		{name: "long ext dropped", url: "https://x/y.verylongext", ext: ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := manager.CacheName(tc.url)
			if len(got) != 64+len(tc.ext) {
				t.Fatalf("unexpected name length %d: %s", len(got), got)
			}
			if got[64:] != tc.ext {
				t.Errorf("exp ext %q, got %q", tc.ext, got[64:])
			}
			if got != manager.CacheName(tc.url) {
				t.Error("exp stable name")
			}
		})
	}

	if manager.CacheName("https://x/a.png") == manager.CacheName("https://x/b.png") {
		t.Error("exp distinct names for distinct urls")
	}
}

func TestDownloadFile_Coalesces(t *testing.T) {
	const url = "https://x/y.png"
	h := newHarness(t)

	var (
		done     outcomes[string]
		progress sync.WaitGroup
		mu       sync.Mutex
		deltas   []int64
	)

	const callers = 8
	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		progress.Add(1)
		go func() {
			defer wg.Done()
			var once sync.Once
			h.m.DownloadFile(url, done.add, manager.WithProgress(func(_ string, delta, _, _ int64) {
				mu.Lock()
				deltas = append(deltas, delta)
				mu.Unlock()
				once.Do(progress.Done)
			}))
		}()
	}
	wg.Wait()

	task := h.onlyTask(t, transfer.ClassDownload)
	if task.Spec().URL != url {
		t.Errorf("exp task for %s, got %s", url, task.Spec().URL)
	}
	if state := task.State(); state != session.TaskRunning {
		t.Errorf("exp task resumed, got %s", state)
	}

	task.WriteData(10, 10, 20)
	progress.Wait()
	if len(deltas) != callers {
		t.Errorf("exp %d progress calls, got %d", callers, len(deltas))
	}

	task.FinishDownloading(writeTemp(t, "png bytes"))
	task.Complete(nil)

	got := done.list()
	if len(got) != callers {
		t.Fatalf("exp %d completions, got %d", callers, len(got))
	}
	want := h.files.Path(manager.CacheName(url))
	for i, out := range got {
		if out.Err != nil || out.Value != want {
			t.Errorf("completion %d: exp %s, got %+v", i, want, out)
		}
	}
	for _, key := range done.keys {
		if key != url {
			t.Errorf("exp key %s, got %s", url, key)
		}
	}

	if _, ok := h.m.Status(transfer.Handle{Class: transfer.ClassDownload, Key: url}); ok {
		t.Error("exp registry entry removed")
	}
	b, err := h.files.Read(manager.CacheName(url))
	if err != nil || string(b) != "png bytes" {
		t.Errorf("exp cached content, got %q %v", b, err)
	}
}

// Two callers ask for the same URL while it downloads; a later caller is
// served from the cache without a new task.
func TestDownloadFile_JoinThenCacheHit(t *testing.T) {
	const url = "https://x/y.png"
	h := newHarness(t)

	var first, second outcomes[string]
	h.m.DownloadFile(url, first.add, manager.WithTag("first"))
	hd := h.m.DownloadFile(url, second.add, manager.WithTag("second"))
	if hd.Tag != "first" {
		t.Errorf("exp joined handle to carry the first tag, got %q", hd.Tag)
	}

	task := h.onlyTask(t, transfer.ClassDownload)
	if task.Spec().Description != "first" {
		t.Errorf("exp tag stored with task, got %q", task.Spec().Description)
	}

	task.FinishDownloading(writeTemp(t, "img"))
	task.Complete(nil)

	path := h.files.Path(manager.CacheName(url))
	for name, o := range map[string]*outcomes[string]{"first": &first, "second": &second} {
		if out := o.only(t); out.Err != nil || out.Value != path {
			t.Errorf("%s: exp %s, got %+v", name, path, out)
		}
	}

	var third outcomes[string]
	h.m.DownloadFile(url, third.add)
	if out := third.only(t); out.Value != path {
		t.Errorf("exp synchronous cache hit, got %+v", out)
	}
	if n := len(h.created(t, transfer.ClassDownload)); n != 1 {
		t.Errorf("exp no new task, got %d", n)
	}
}

func TestDownloadFile_CacheHitBuildsNoSession(t *testing.T) {
	const url = "https://x/cached.pdf"
	h := newHarness(t)

	if err := writeCached(h, url, "cached"); err != nil {
		t.Fatal(err)
	}

	var done outcomes[string]
	h.m.DownloadFile(url, done.add)

	if out := done.only(t); out.Err != nil || out.Value != h.files.Path(manager.CacheName(url)) {
		t.Errorf("unexpected outcome: %+v", out)
	}
	if n := h.rec.Builds(transfer.ClassDownload); n != 0 {
		t.Errorf("exp no session built, got %d", n)
	}
}

func TestDownloadFile_InvalidURL(t *testing.T) {
	h := newHarness(t)

	for _, url := range []string{"", "not a url", "ftp://x/y", "/relative/path"} {
		var done outcomes[string]
		h.m.DownloadFile(url, done.add)

		out := done.only(t)
		if !errors.Is(out.Err, transfer.ErrInvalidURL) {
			t.Errorf("%q: exp ErrInvalidURL, got %v", url, out.Err)
		}
	}

	if n := h.rec.Builds(transfer.ClassDownload); n != 0 {
		t.Errorf("exp no session built, got %d", n)
	}
}

func TestDownloadFile_Failure(t *testing.T) {
	const url = "https://x/broken.bin"
	h := newHarness(t)

	cause := &session.UnexpectedStatusError{StatusCode: 503}

	var a, b outcomes[string]
	h.m.DownloadFile(url, a.add)
	h.m.DownloadFile(url, b.add)

	task := h.onlyTask(t, transfer.ClassDownload)
	task.Complete(cause)

	for _, o := range []*outcomes[string]{&a, &b} {
		out := o.only(t)
		if !errors.Is(out.Err, transfer.ErrOther) {
			t.Errorf("exp ErrOther, got %v", out.Err)
		}
		var status *session.UnexpectedStatusError
		if !errors.As(out.Err, &status) || status.StatusCode != 503 {
			t.Errorf("exp cause preserved, got %v", out.Err)
		}
	}

	// A failed download is not remembered; the next call starts over.
	h.m.DownloadFile(url, nil)
	if n := len(h.created(t, transfer.ClassDownload)); n != 2 {
		t.Errorf("exp a second task, got %d", n)
	}
}

func TestDownloadFile_CannotMoveFile(t *testing.T) {
	const url = "https://x/missing.bin"
	h := newHarness(t)

	var done outcomes[string]
	h.m.DownloadFile(url, done.add)

	task := h.onlyTask(t, transfer.ClassDownload)
	task.FinishDownloading("/nonexistent/xfer/location")
	task.Complete(nil)

	out := done.only(t)
	if !errors.Is(out.Err, transfer.ErrCannotMoveFile) {
		t.Errorf("exp ErrCannotMoveFile, got %v", out.Err)
	}
	if !errors.Is(out.Err, fs.ErrNotExist) {
		t.Errorf("exp not-exist cause, got %v", out.Err)
	}
}

func TestDownloadFile_CompleteWithoutLocation(t *testing.T) {
	h := newHarness(t)

	var done outcomes[string]
	h.m.DownloadFile("https://x/empty.bin", done.add)
	h.onlyTask(t, transfer.ClassDownload).Complete(nil)

	if out := done.only(t); !errors.Is(out.Err, transfer.ErrOther) {
		t.Errorf("exp ErrOther, got %+v", out)
	}
}

func TestCancelDownload(t *testing.T) {
	const url = "https://x/big.iso"
	h := newHarness(t)

	var (
		order []string
		mu    sync.Mutex
	)
	listener := func(name string) transfer.CompletionFunc[string] {
		return func(_ string, out transfer.Outcome[string]) {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, fmt.Sprintf("%s:%v", name, errors.Is(out.Err, transfer.ErrCancelled)))
		}
	}

	h.m.DownloadFile(url, listener("a"))
	h.m.DownloadFile(url, listener("b"))
	h.m.DownloadFile(url, listener("c"))
	task := h.onlyTask(t, transfer.ClassDownload)

	hd, ok := h.m.CancelDownload(url)
	if !ok || hd.Key != url {
		t.Fatalf("exp live download cancelled, got %+v %v", hd, ok)
	}

	if diff := cmp.Diff([]string{"a:true", "b:true", "c:true"}, order); diff != "" {
		t.Errorf("completion order mismatch (-want +got):\n%s", diff)
	}
	if _, _, cancels := task.Calls(); cancels != 1 {
		t.Errorf("exp task cancelled once, got %d", cancels)
	}

	if _, ok := h.m.CancelDownload(url); ok {
		t.Error("exp second cancel to be rejected")
	}

	// Until the transport acknowledges, new callers join the cancellation.
	h.m.DownloadFile(url, listener("late"))
	if !h.m.AddDownloadListeners(url, nil, listener("added")) {
		t.Error("exp cancelled download still known before acknowledgement")
	}
	if n := len(h.created(t, transfer.ClassDownload)); n != 1 {
		t.Fatalf("exp no new task before acknowledgement, got %d", n)
	}
	if state, ok := h.m.Status(hd); !ok || state != transfer.StateCancelled {
		t.Errorf("exp cancelled status, got %s %v", state, ok)
	}

	want := []string{"a:true", "b:true", "c:true", "late:true", "added:true"}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Errorf("completion order mismatch (-want +got):\n%s", diff)
	}

	// The transport reports the cancellation; nobody hears it twice.
	task.Complete(session.ErrTaskCancelled)
	if len(order) != len(want) {
		t.Errorf("exp no further completions, got %v", order)
	}
	if _, ok := h.m.Status(hd); ok {
		t.Error("exp registry entry dropped after acknowledgement")
	}

	// A fresh call starts a new transfer that the stale task cannot touch.
	var fresh outcomes[string]
	h.m.DownloadFile(url, fresh.add)
	tasks := h.created(t, transfer.ClassDownload)
	if len(tasks) != 2 {
		t.Fatalf("exp a new task, got %d", len(tasks))
	}
	task.FinishDownloading(writeTemp(t, "stale"))
	if got := fresh.list(); len(got) != 0 {
		t.Errorf("exp stale events ignored, got %+v", got)
	}

	tasks[1].FinishDownloading(writeTemp(t, "fresh"))
	tasks[1].Complete(nil)
	if out := fresh.only(t); out.Err != nil {
		t.Errorf("exp fresh download to succeed, got %v", out.Err)
	}
}

// cancelOnMove cancels url while the finished file is being moved into the
// cache.
type cancelOnMove struct {
	filecache.Store
	m   *manager.Manager
	url string
}

func (c *cancelOnMove) Move(src, name string) (string, error) {
	c.m.CancelDownload(c.url)
	return c.Store.Move(src, name)
}

func TestCancelDownload_DuringMove(t *testing.T) {
	const url = "https://x/racing.zip"

	hook := &cancelOnMove{url: url}
	h := newHarness(t, manager.WithFileCache(hook))
	hook.Store = h.files
	hook.m = h.m

	var first outcomes[string]
	h.m.DownloadFile(url, first.add)
	task := h.onlyTask(t, transfer.ClassDownload)

	task.FinishDownloading(writeTemp(t, "cancelled content"))
	if out := first.only(t); !errors.Is(out.Err, transfer.ErrCancelled) {
		t.Fatalf("exp ErrCancelled, got %v", out.Err)
	}
	if h.files.Exists(manager.CacheName(url)) {
		t.Error("exp file of cancelled download removed from cache")
	}

	task.Complete(session.ErrTaskCancelled)

	// Nothing was cached, so a new call goes to the network again.
	hook.url = ""
	var second outcomes[string]
	h.m.DownloadFile(url, second.add)
	if n := len(h.created(t, transfer.ClassDownload)); n != 2 {
		t.Fatalf("exp a new task, got %d", n)
	}
	if got := second.list(); len(got) != 0 {
		t.Errorf("exp no cached result, got %+v", got)
	}
}

func TestDownloadFile_ListenerStartsNewTransfer(t *testing.T) {
	const url = "https://x/retry.bin"
	h := newHarness(t)

	var retried outcomes[string]
	h.m.DownloadFile(url, func(key string, out transfer.Outcome[string]) {
		if out.Err != nil {
			h.m.DownloadFile(key, retried.add)
		}
	})

	h.onlyTask(t, transfer.ClassDownload).Complete(errors.New("connection reset"))

	tasks := h.created(t, transfer.ClassDownload)
	if len(tasks) != 2 {
		t.Fatalf("exp retry to create a task, got %d", len(tasks))
	}
	if got := retried.list(); len(got) != 0 {
		t.Errorf("exp retry pending, got %+v", got)
	}
}

func TestDownload_PauseResume(t *testing.T) {
	const url = "https://x/pausable.bin"
	h := newHarness(t)

	hd := h.m.DownloadFile(url, nil)
	task := h.onlyTask(t, transfer.ClassDownload)

	if !h.m.Pause(hd) {
		t.Fatal("exp pause")
	}
	if state, _ := h.m.Status(hd); state != transfer.StatePaused {
		t.Errorf("exp paused, got %s", state)
	}
	if task.State() != session.TaskSuspended {
		t.Errorf("exp task suspended, got %s", task.State())
	}
	if h.m.Pause(hd) {
		t.Error("exp second pause to be rejected")
	}

	if !h.m.Resume(hd) {
		t.Fatal("exp resume")
	}
	if state, _ := h.m.Status(hd); state != transfer.StateInProgress {
		t.Errorf("exp in progress, got %s", state)
	}
	if resumes, suspends, _ := task.Calls(); resumes != 2 || suspends != 1 {
		t.Errorf("exp 2 resumes and 1 suspend, got %d %d", resumes, suspends)
	}

	if h.m.Pause(transfer.Handle{Class: transfer.ClassDownload, Key: "https://x/unknown"}) {
		t.Error("exp unknown handle to be rejected")
	}
}

func TestAddDownloadListeners(t *testing.T) {
	const url = "https://x/late.bin"
	h := newHarness(t)

	if h.m.AddDownloadListeners(url, nil, nil) {
		t.Error("exp unknown url to be rejected")
	}

	h.m.DownloadFile(url, nil)

	var (
		late  outcomes[string]
		moved int64
	)
	ok := h.m.AddDownloadListeners(url, func(_ string, _, total, _ int64) { moved = total }, late.add)
	if !ok {
		t.Fatal("exp listeners added")
	}

	task := h.onlyTask(t, transfer.ClassDownload)
	task.WriteData(4, 4, 8)
	task.FinishDownloading(writeTemp(t, "late"))

	if moved != 4 {
		t.Errorf("exp progress 4, got %d", moved)
	}
	if out := late.only(t); out.Err != nil {
		t.Errorf("unexpected error: %v", out.Err)
	}
}

func TestClearDownloadCache(t *testing.T) {
	const url = "https://x/clear.txt"
	h := newHarness(t)

	if err := writeCached(h, url, "x"); err != nil {
		t.Fatal(err)
	}
	if err := h.m.ClearDownloadCache(); err != nil {
		t.Fatal(err)
	}

	h.m.DownloadFile(url, nil)
	if n := len(h.created(t, transfer.ClassDownload)); n != 1 {
		t.Errorf("exp cleared file to be downloaded again, got %d tasks", n)
	}
}

func TestManager_Closed(t *testing.T) {
	h := newHarness(t)
	if err := h.m.Close(); err != nil {
		t.Fatal(err)
	}

	var done outcomes[string]
	h.m.DownloadFile("https://x/after-close.bin", done.add)
	if out := done.only(t); !errors.Is(out.Err, manager.ErrClosed) {
		t.Errorf("exp ErrClosed, got %v", out.Err)
	}
	if _, err := h.m.SessionIdentifier(transfer.ClassRequest); !errors.Is(err, manager.ErrClosed) {
		t.Errorf("exp ErrClosed, got %v", err)
	}
}

func writeCached(h *harness, url, content string) error {
	f, err := h.files.Raw().Create(manager.CacheName(url))
	if err != nil {
		return err
	}
	if _, err := f.Write([]byte(content)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
