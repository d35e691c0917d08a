package live

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// bindingName is the page-exposed function the observer script delivers
// through. Runtime bindings only accept a single string argument, which is
// exactly the payload shape here.
const bindingName = "flashcrawlDeliver"

// ObserverConfig controls the headless capture session.
type ObserverConfig struct {
	// URL is the page hosting the live flash stream.
	URL string
	// UserAgent overrides the browser user agent when non-empty.
	UserAgent string
	// ImportantOnly restricts capture to items the page marks as important.
	ImportantOnly bool
	// NavigationTimeout bounds the initial page load only; the session
	// itself runs until the context is canceled.
	NavigationTimeout time.Duration
	// BufferSize is the delivery channel depth between the browser event
	// loop and the pipeline consumer.
	BufferSize int
}

// Observer drives a headless browser session that watches the flash stream
// DOM and hands every appended text to the collector. Delivery order is
// preserved: the CDP event handler only enqueues, and a single consumer
// goroutine runs the pipeline.
type Observer struct {
	cfg       ObserverConfig
	collector *Collector
	logger    *zap.Logger
}

// NewObserver builds a DOM observer session.
func NewObserver(cfg ObserverConfig, collector *Collector, logger *zap.Logger) *Observer {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	return &Observer{
		cfg:       cfg,
		collector: collector,
		logger:    logger,
	}
}

// Run starts the browser, installs the observer script, and consumes
// deliveries until ctx is canceled or the browser dies.
func (o *Observer) Run(ctx context.Context) error {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if o.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(o.cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	deliveries := make(chan string, o.cfg.BufferSize)
	chromedp.ListenTarget(taskCtx, func(ev interface{}) {
		call, ok := ev.(*runtime.EventBindingCalled)
		if !ok || call.Name != bindingName {
			return
		}
		select {
		case deliveries <- call.Payload:
		default:
			// Dropping under backpressure beats stalling the CDP event
			// loop; the store constraint catches anything re-delivered.
			o.logger.Warn("delivery buffer full, dropping payload")
		}
	})

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		for {
			select {
			case <-taskCtx.Done():
				return
			case raw := <-deliveries:
				o.collector.HandleText(taskCtx, raw)
			}
		}
	}()

	if err := o.navigate(taskCtx); err != nil {
		taskCancel()
		<-consumerDone
		return err
	}

	o.logger.Info("live capture session started",
		zap.String("url", o.cfg.URL),
		zap.Bool("important_only", o.cfg.ImportantOnly),
	)

	<-taskCtx.Done()
	<-consumerDone
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return taskCtx.Err()
}

// navigate installs the binding and the observer script, then loads the page.
// The script is registered for new documents first so a mid-load navigation
// cannot slip past it.
func (o *Observer) navigate(taskCtx context.Context) error {
	navCtx, cancel := context.WithTimeout(taskCtx, o.cfg.NavigationTimeout)
	defer cancel()

	script := observerScript(o.cfg.ImportantOnly)
	err := chromedp.Run(navCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			return runtime.AddBinding(bindingName).Do(ctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx)
			return err
		}),
		chromedp.Navigate(o.cfg.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("start capture session: %w", err)
	}
	return nil
}

// observerScript builds the in-page watcher: scan the flash list once, then
// observe mutations. A page-side Set keeps bursty mutation storms from
// flooding the binding; real dedup still happens on the Go side.
func observerScript(importantOnly bool) string {
	scope := ""
	if importantOnly {
		scope = ".is-important "
	}
	return fmt.Sprintf(`(function () {
		var SELECTOR = '%[1]s.flash-text, %[1]s.right-content_intro';
		var seen = new Set();

		function deliver(node) {
			var text = (node.innerText || node.textContent || '').trim();
			if (!text || seen.has(text)) {
				return;
			}
			seen.add(text);
			if (seen.size > 5000) {
				seen.clear();
			}
			window.%[2]s(text);
		}

		function scan(root) {
			if (!root || !root.querySelectorAll) {
				return;
			}
			root.querySelectorAll(SELECTOR).forEach(deliver);
			if (root.matches && root.matches(SELECTOR)) {
				deliver(root);
			}
		}

		function start() {
			scan(document);
			new MutationObserver(function (mutations) {
				mutations.forEach(function (m) {
					if (m.type === 'childList') {
						m.addedNodes.forEach(scan);
					} else if (m.target) {
						var el = m.target.nodeType === 3 ? m.target.parentElement : m.target;
						scan(el);
					}
				});
			}).observe(document.body, {
				childList: true,
				subtree: true,
				characterData: true,
				attributes: true,
			});
		}

		if (document.readyState === 'loading') {
			document.addEventListener('DOMContentLoaded', start);
		} else {
			start();
		}
	})();`, scope, bindingName)
}
