// Package browser owns the automated Chrome session a provider driver works
// through: a persistent profile, network transfer capture and downloads.
package browser

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"videobatch/internal/capture"
	"videobatch/internal/domain"
)

const (
	defaultWindowWidth  = 1280
	defaultWindowHeight = 800
	// Response bodies are only fetched for these content types.
	defaultBodyMediaPrefix = "video/"
)

// Options configure a browser session.
type Options struct {
	// Name identifies the provider; it names the profile and download folders.
	Name        string
	ProfileRoot string
	DownloadDir string
	ExecPath    string
	Headless    bool
	Width       int
	Height      int
	// BodyMediaPrefix limits which responses have their bodies captured.
	BodyMediaPrefix string
	Logger          zerolog.Logger
}

// Session is one exclusive Chrome tab on a persistent profile.
type Session struct {
	name        string
	profileDir  string
	downloadDir string
	mediaPrefix string
	logger      zerolog.Logger

	lock        *flock.Flock
	allocCancel context.CancelFunc
	tabCancel   context.CancelFunc
	tab         context.Context

	transfers *hub[domain.Transfer]
	downloads *hub[Download]

	// cancelDownload stops an in-progress browser download by GUID.
	cancelDownload func(ctx context.Context, guid string) error

	mu        sync.Mutex
	responses map[network.RequestID]*network.Response
	pending   map[string]*pendingDownload
	// epoch counts MarkJob calls; downloads begun in an older epoch are
	// never handed to a capture.
	epoch int

	closeOnce sync.Once
}

// Download is a file the browser finished (or failed) saving.
type Download struct {
	GUID     string
	URL      string
	Filename string
	Path     string
	Size     int64
	Err      error
}

type pendingDownload struct {
	url       string
	filename  string
	epoch     int
	abandoned bool
}

var errDownloadCanceled = errors.New("browser: download canceled")

// Open starts Chrome on the profile of opts.Name. The profile is locked for
// the lifetime of the session; a second process gets domain.ErrProviderBusy.
func Open(ctx context.Context, opts Options) (*Session, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return nil, errors.New("browser: session name is required")
	}
	if opts.ProfileRoot == "" {
		return nil, errors.New("browser: profile root is required")
	}
	profileDir := filepath.Join(opts.ProfileRoot, name)
	if err := os.MkdirAll(profileDir, 0o700); err != nil {
		return nil, fmt.Errorf("browser: ensure profile dir: %w", err)
	}
	downloadDir := opts.DownloadDir
	if downloadDir == "" {
		downloadDir = filepath.Join(opts.ProfileRoot, name+"-downloads")
	}
	if abs, err := filepath.Abs(downloadDir); err == nil {
		downloadDir = abs
	}
	if err := os.MkdirAll(downloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("browser: ensure download dir: %w", err)
	}

	lock := flock.New(filepath.Join(opts.ProfileRoot, name+".lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("browser: lock profile: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: profile %s is used by another process", domain.ErrProviderBusy, profileDir)
	}

	width, height := opts.Width, opts.Height
	if width <= 0 || height <= 0 {
		width, height = defaultWindowWidth, defaultWindowHeight
	}
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(profileDir),
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.NoSandbox,
		chromedp.WindowSize(width, height),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	mediaPrefix := opts.BodyMediaPrefix
	if mediaPrefix == "" {
		mediaPrefix = defaultBodyMediaPrefix
	}
	logger := opts.Logger.With().Str("provider", name).Logger()

	// The browser outlives the request that opened it; Close ends it.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocOpts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) { logger.Debug().Msgf(format, args...) }),
		chromedp.WithErrorf(func(format string, args ...any) { logger.Warn().Msgf(format, args...) }),
	)

	s := &Session{
		name:        name,
		profileDir:  profileDir,
		downloadDir: downloadDir,
		mediaPrefix: strings.ToLower(mediaPrefix),
		logger:      logger,
		lock:        lock,
		allocCancel: allocCancel,
		tabCancel:   tabCancel,
		tab:         tabCtx,
		transfers:   newHub[domain.Transfer]("transfer", logger),
		downloads:   newHub[Download]("download", logger),
		responses:   make(map[network.RequestID]*network.Response),
		pending:     make(map[string]*pendingDownload),
	}
	s.cancelDownload = func(ctx context.Context, guid string) error {
		return s.Run(ctx, browser.CancelDownload(guid))
	}
	chromedp.ListenTarget(tabCtx, s.onEvent)

	err = s.Run(ctx,
		network.Enable(),
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(downloadDir).
			WithEventsEnabled(true),
	)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("browser: start %s: %w", name, err)
	}
	logger.Info().Str("profile", profileDir).Bool("headless", opts.Headless).Msg("browser: session opened")
	return s, nil
}

func (s *Session) Name() string { return s.name }

func (s *Session) DownloadDir() string { return s.downloadDir }

// Close ends Chrome and releases the profile lock.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.tabCancel()
		s.allocCancel()
		if unlockErr := s.lock.Unlock(); unlockErr != nil {
			err = fmt.Errorf("browser: release profile lock: %w", unlockErr)
		}
		s.logger.Info().Msg("browser: session closed")
	})
	return err
}

// Run executes actions on the tab. ctx bounds the call: its deadline and
// cancellation apply, but cancelling it never closes the tab.
func (s *Session) Run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.tab)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func awaitPromise(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithAwaitPromise(true)
}

// Eval evaluates a script and decodes its JSON value into out.
func (s *Session) Eval(ctx context.Context, script string, out any) error {
	return s.Run(ctx, chromedp.Evaluate(script, out, awaitPromise))
}

// Navigate loads url in the tab.
func (s *Session) Navigate(ctx context.Context, url string) error {
	return s.Run(ctx, chromedp.Navigate(url))
}

// WaitUntil polls a boolean script until it returns true or ctx ends.
func (s *Session) WaitUntil(ctx context.Context, script string, interval time.Duration) error {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		var ok bool
		if err := s.Eval(ctx, script, &ok); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Pages mid-navigation reject evaluation; retry on the next tick.
			s.logger.Debug().Err(err).Msg("browser: wait probe failed")
		} else if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Pause waits for d unless ctx ends first.
func Pause(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ClearState drops cookies and the storage of origin, then reloads. It is
// the reliable part of signing out.
func (s *Session) ClearState(ctx context.Context, origin string) error {
	actions := []chromedp.Action{network.ClearBrowserCookies()}
	if origin != "" {
		actions = append(actions, storage.ClearDataForOrigin(origin, "all"))
	}
	actions = append(actions,
		chromedp.Evaluate(`(() => { try { localStorage.clear(); sessionStorage.clear(); } catch (e) {} return true; })()`, nil),
		chromedp.Reload(),
	)
	if err := s.Run(ctx, actions...); err != nil {
		return fmt.Errorf("browser: clear state: %w", err)
	}
	return nil
}

// MarkJob starts a new job: transfers and downloads seen before are no
// longer offered to captures.
func (s *Session) MarkJob() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.transfers.Mark()
	s.downloads.Mark()
}

// Transfers subscribes to captured response bodies since the last MarkJob.
func (s *Session) Transfers() (<-chan domain.Transfer, func()) {
	return s.transfers.Subscribe()
}

// Downloads subscribes to finished downloads since the last MarkJob.
func (s *Session) Downloads() (<-chan Download, func()) {
	return s.downloads.Subscribe()
}

// AwaitDownload waits for the next finished download on downloads.
func AwaitDownload(ctx context.Context, downloads <-chan Download) (Download, error) {
	select {
	case <-ctx.Done():
		return Download{}, ctx.Err()
	case d := <-downloads:
		if d.Err != nil {
			return d, d.Err
		}
		return d, nil
	}
}

// DownloadURL asks the page to save url through an anchor click, which keeps
// the page's cookies on the request, and waits for the file.
func (s *Session) DownloadURL(ctx context.Context, url string) (Download, error) {
	return s.awaitOwnDownload(ctx, func(ctx context.Context) error {
		if err := s.Do(ctx, "start download", AnchorDownload(url)); err != nil {
			return fmt.Errorf("browser: start download: %w", err)
		}
		return nil
	})
}

// awaitOwnDownload runs start and waits for the download it causes. When no
// download is taken, every download begun in the current job is cancelled
// and its file removed, so a late file cannot surface in a later capture.
func (s *Session) awaitOwnDownload(ctx context.Context, start func(context.Context) error) (Download, error) {
	downloads, release := s.Downloads()
	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()

	d, err := func() (Download, error) {
		if err := start(ctx); err != nil {
			return Download{}, err
		}
		return AwaitDownload(ctx, downloads)
	}()
	release()
	if err != nil {
		s.abandonDownloads(epoch, downloads)
	}
	return d, err
}

// abandonDownloads cancels the pending downloads of epoch and removes the
// files of finished ones still queued on downloads.
func (s *Session) abandonDownloads(epoch int, downloads <-chan Download) {
	s.mu.Lock()
	var guids []string
	for guid, p := range s.pending {
		if p.epoch == epoch && !p.abandoned {
			p.abandoned = true
			guids = append(guids, guid)
		}
	}
	s.mu.Unlock()

	for _, guid := range guids {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.cancelDownload(ctx, guid); err != nil {
			s.logger.Debug().Err(err).Str("guid", guid).Msg("browser: cancel download failed")
		}
		cancel()
		s.removeDownload(filepath.Join(s.downloadDir, guid))
	}
	for {
		select {
		case d := <-downloads:
			if d.Err == nil && d.Path != "" {
				s.removeDownload(d.Path)
			}
		default:
			return
		}
	}
}

func (s *Session) removeDownload(path string) {
	for _, p := range []string{path, path + ".crdownload"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Debug().Err(err).Str("path", p).Msg("browser: remove download failed")
		}
	}
}

func (s *Session) onEvent(ev any) {
	switch ev := ev.(type) {
	case *network.EventResponseReceived:
		if ev.Response == nil || !strings.HasPrefix(strings.ToLower(ev.Response.MimeType), s.mediaPrefix) {
			return
		}
		s.mu.Lock()
		s.responses[ev.RequestID] = ev.Response
		s.mu.Unlock()
	case *network.EventLoadingFinished:
		s.mu.Lock()
		resp, ok := s.responses[ev.RequestID]
		delete(s.responses, ev.RequestID)
		s.mu.Unlock()
		if ok {
			// Listeners must not block; fetch the body off the event loop.
			go s.fetchBody(ev.RequestID, resp)
		}
	case *network.EventLoadingFailed:
		s.mu.Lock()
		delete(s.responses, ev.RequestID)
		s.mu.Unlock()
	case *browser.EventDownloadWillBegin:
		s.mu.Lock()
		s.pending[ev.GUID] = &pendingDownload{url: ev.URL, filename: ev.SuggestedFilename, epoch: s.epoch}
		s.mu.Unlock()
	case *browser.EventDownloadProgress:
		s.onDownloadProgress(ev)
	}
}

func (s *Session) fetchBody(id network.RequestID, resp *network.Response) {
	c := chromedp.FromContext(s.tab)
	if c == nil || c.Target == nil {
		return
	}
	ctx, cancel := context.WithTimeout(cdp.WithExecutor(s.tab, c.Target), time.Minute)
	defer cancel()
	body, err := network.GetResponseBody(id).Do(ctx)
	if err != nil {
		s.logger.Debug().Err(err).Str("url", resp.URL).Msg("browser: response body unavailable")
		return
	}
	s.transfers.Publish(domain.Transfer{
		URL:         resp.URL,
		ContentType: resp.MimeType,
		Size:        int64(len(body)),
		Data:        body,
	})
}

func (s *Session) onDownloadProgress(ev *browser.EventDownloadProgress) {
	if ev.State != browser.DownloadProgressStateCompleted && ev.State != browser.DownloadProgressStateCanceled {
		return
	}
	path := ev.FilePath
	if path == "" {
		// allowAndName saves the file under its GUID.
		path = filepath.Join(s.downloadDir, ev.GUID)
	}
	completed := ev.State == browser.DownloadProgressStateCompleted

	// Held across Publish so MarkJob cannot slip between the epoch check
	// and the backlog append.
	s.mu.Lock()
	defer s.mu.Unlock()
	p, known := s.pending[ev.GUID]
	delete(s.pending, ev.GUID)
	if known && (p.abandoned || p.epoch != s.epoch) {
		if completed {
			s.removeDownload(path)
		}
		s.logger.Debug().Str("guid", ev.GUID).Int("epoch", p.epoch).Msg("browser: stale download dropped")
		return
	}

	d := Download{GUID: ev.GUID, Size: int64(ev.ReceivedBytes)}
	if known {
		d.URL, d.Filename = p.url, p.filename
	}
	if !completed {
		d.Err = errDownloadCanceled
		s.downloads.Publish(d)
		return
	}
	d.Path = path
	s.downloads.Publish(d)
	s.logger.Debug().Str("path", d.Path).Int64("bytes", d.Size).Msg("browser: download finished")
}

// ErrElementNotFound reports that a page script found nothing to act on.
var ErrElementNotFound = errors.New("browser: element not found")

// Do evaluates a script that reports success as a boolean. A false result
// is ErrElementNotFound.
func (s *Session) Do(ctx context.Context, what, script string) error {
	var ok bool
	if err := s.Eval(ctx, script, &ok); err != nil {
		return fmt.Errorf("browser: %s: %w", what, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrElementNotFound, what)
	}
	return nil
}

// Type replaces the value of the element matching selector with text.
func (s *Session) Type(ctx context.Context, selector, text string) error {
	err := s.Run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SetValue(selector, "", chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("browser: type into %s: %w", selector, err)
	}
	return nil
}

// PressEnter sends the Enter key to the focused element.
func (s *Session) PressEnter(ctx context.Context) error {
	return s.Run(ctx, chromedp.KeyEvent(kb.Enter))
}

// CapturePassive waits for a transfer accepted by policy since the last
// MarkJob.
func (s *Session) CapturePassive(ctx context.Context, policy domain.CapturePolicy) (*domain.CaptureResult, error) {
	transfers, release := s.Transfers()
	defer release()
	return capture.Observe(ctx, transfers, policy)
}

// CaptureDownload runs start, which must make the page begin a download,
// and returns the saved file as an active capture.
// A download that is not taken, because ctx ended or start failed, is
// cancelled and removed.
func (s *Session) CaptureDownload(ctx context.Context, start func(context.Context) error) (*domain.CaptureResult, error) {
	d, err := s.awaitOwnDownload(ctx, start)
	if err != nil {
		return nil, err
	}
	return DownloadResult(d)
}

// DownloadResult describes a finished download as an active capture.
func DownloadResult(d Download) (*domain.CaptureResult, error) {
	info, err := os.Stat(d.Path)
	if err != nil {
		return nil, fmt.Errorf("browser: stat download: %w", err)
	}
	return &domain.CaptureResult{
		Strategy:    domain.CaptureActive,
		Path:        d.Path,
		SourceURL:   d.URL,
		ContentType: contentTypeOf(d.Filename, d.URL),
		Size:        info.Size(),
	}, nil
}

var videoTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".webm": "video/webm",
	".mov":  "video/quicktime",
}

func contentTypeOf(names ...string) string {
	for _, name := range names {
		if i := strings.IndexAny(name, "?#"); i >= 0 {
			name = name[:i]
		}
		ext := strings.ToLower(filepath.Ext(name))
		if ext == "" {
			continue
		}
		if ct, ok := videoTypes[ext]; ok {
			return ct
		}
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
	}
	return "video/mp4"
}
