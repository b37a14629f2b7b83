package fetch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/site-mirror/pkg/config"
	mlog "github.com/Sriram-PR/site-mirror/pkg/log"
	"github.com/Sriram-PR/site-mirror/pkg/utils"
)

// Renderer produces the post-JavaScript HTML of a page
type Renderer interface {
	Render(ctx context.Context, rawURL string) (string, error)
}

type renderReply struct {
	html string
	err  error
}

type renderRequest struct {
	ctx   context.Context
	url   string
	reply chan renderReply // Buffered(1): the worker never blocks on an abandoned caller
}

// RenderWorker serialises all headless rendering through one goroutine that owns the
// browser. Callers submit a request and wait for the reply or their own deadline.
type RenderWorker struct {
	requests chan renderRequest
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	timeout  time.Duration
	render   func(ctx context.Context, rawURL string) (string, error)
	teardown func()
	log      *logrus.Entry
}

func newRenderWorker(render func(ctx context.Context, rawURL string) (string, error), teardown func(), timeout time.Duration, log *logrus.Entry) *RenderWorker {
	w := &RenderWorker{
		requests: make(chan renderRequest),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		timeout:  timeout,
		render:   render,
		teardown: teardown,
		log:      log.WithField("component", "render"),
	}
	go w.loop()
	return w
}

func (w *RenderWorker) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case req := <-w.requests:
			if req.ctx.Err() != nil {
				// Caller already gave up
				continue
			}
			html, err := w.safeRender(req.ctx, req.url)
			req.reply <- renderReply{html: html, err: err}
		}
	}
}

func (w *RenderWorker) safeRender(ctx context.Context, rawURL string) (html string, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.log.WithFields(logrus.Fields{
				"url":         rawURL,
				"panic_info":  fmt.Sprintf("%v", r),
				"stack_trace": string(debug.Stack()),
			}).Error("PANIC recovered in render worker")
			err = fmt.Errorf("%w: render panicked: %v", utils.ErrRenderUnavailable, r)
		}
	}()
	return w.render(ctx, rawURL)
}

// Render submits rawURL to the worker and waits at most the configured timeout
func (w *RenderWorker) Render(ctx context.Context, rawURL string) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	req := renderRequest{ctx: reqCtx, url: rawURL, reply: make(chan renderReply, 1)}

	select {
	case w.requests <- req:
	case <-w.stop:
		return "", utils.ErrRenderUnavailable
	case <-reqCtx.Done():
		return "", w.contextError(ctx, reqCtx)
	}

	select {
	case rep := <-req.reply:
		if rep.err != nil && reqCtx.Err() != nil {
			return "", w.contextError(ctx, reqCtx)
		}
		return rep.html, rep.err
	case <-reqCtx.Done():
		return "", w.contextError(ctx, reqCtx)
	}
}

// contextError distinguishes the caller's own cancellation from the render deadline
func (w *RenderWorker) contextError(parent, reqCtx context.Context) error {
	if err := parent.Err(); err != nil {
		return err
	}
	if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %v", utils.ErrRenderTimeout, w.timeout)
	}
	return reqCtx.Err()
}

// Close stops the worker and waits up to joinTimeout for an in-flight render to finish
func (w *RenderWorker) Close(joinTimeout time.Duration) {
	w.stopOnce.Do(func() {
		close(w.stop)
		select {
		case <-w.done:
		case <-time.After(joinTimeout):
			w.log.Warnf("Render worker did not stop within %v", joinTimeout)
		}
		if w.teardown != nil {
			w.teardown()
		}
	})
}

// NewChromeRenderer starts a headless Chrome and a RenderWorker that drives it.
// Returns an error wrapping utils.ErrRenderUnavailable if the browser cannot be launched.
func NewChromeRenderer(cfg config.JSRenderingConfig, userAgent string, log *logrus.Entry) (*RenderWorker, error) {
	entry := log.WithField("component", "chromedp")

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(userAgent),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(mlog.ChromedpLogf(entry)),
		chromedp.WithErrorf(mlog.ChromedpErrorf(entry)),
	)

	// Launch eagerly so a missing browser is reported before crawling starts
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("%w: launch chrome: %w", utils.ErrRenderUnavailable, err)
	}
	entry.Info("Headless browser started")

	settle := cfg.SettleTime
	render := func(ctx context.Context, rawURL string) (string, error) {
		tabCtx, cancelTab := chromedp.NewContext(browserCtx)
		defer cancelTab()
		stopAfter := context.AfterFunc(ctx, cancelTab)
		defer stopAfter()

		var html string
		err := chromedp.Run(tabCtx,
			chromedp.Navigate(rawURL),
			waitForDocumentReady(),
			chromedp.Sleep(settle),
			chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		)
		if err != nil {
			return "", fmt.Errorf("render %s: %w", rawURL, err)
		}
		return html, nil
	}
	teardown := func() {
		browserCancel()
		allocCancel()
	}

	return newRenderWorker(render, teardown, cfg.Timeout, log), nil
}

// waitForDocumentReady polls document.readyState until the page reports complete
func waitForDocumentReady() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			var readyState string
			if err := chromedp.Evaluate(`document.readyState`, &readyState).Do(ctx); err != nil {
				return err
			}
			if readyState == "complete" {
				return nil
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
}
