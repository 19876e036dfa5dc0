//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/seealln/seealln/internal/capture"
	"github.com/seealln/seealln/internal/config"
	"github.com/seealln/seealln/internal/control"
	"github.com/seealln/seealln/internal/domain"
	"github.com/seealln/seealln/internal/guardrail"
	"github.com/seealln/seealln/internal/infra"
	"github.com/seealln/seealln/internal/perception"
	"github.com/seealln/seealln/internal/policy"
	"github.com/seealln/seealln/internal/usecase"
	"github.com/seealln/seealln/internal/watchdog"
)

// scriptedDesktop simulates the screen: it serves frames whose content
// reflects a mutable "view" counter and exposes hooks so injected input
// can change what the next frame shows.
type scriptedDesktop struct {
	mu     sync.Mutex
	view   byte
	tokens []domain.OCRToken

	keys   []string
	clicks [][2]int
	onKey  func(key string)
}

func (d *scriptedDesktop) Grab(region domain.Region) (*domain.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pixels := make([]byte, region.W*region.H*4)
	for i := range pixels {
		pixels[i] = d.view
	}
	return &domain.Frame{
		CapturedAt: time.Now(),
		Region:     region,
		Width:      region.W,
		Height:     region.H,
		Stride:     region.W * 4,
		Pixels:     pixels,
	}, nil
}

func (d *scriptedDesktop) DisplayBounds() (domain.Region, error) {
	return domain.Region{W: 1920, H: 1080}, nil
}

func (d *scriptedDesktop) Recognize(ctx context.Context, frame *domain.Frame) ([]domain.OCRToken, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tokens, nil
}

func (d *scriptedDesktop) Available() bool { return true }

func (d *scriptedDesktop) MoveMouse(x, y int) error { return nil }

func (d *scriptedDesktop) Click(x, y int, button string) error {
	d.mu.Lock()
	d.clicks = append(d.clicks, [2]int{x, y})
	d.mu.Unlock()
	return nil
}

func (d *scriptedDesktop) KeyTap(key string) error {
	d.mu.Lock()
	d.keys = append(d.keys, key)
	hook := d.onKey
	d.mu.Unlock()
	if hook != nil {
		hook(key)
	}
	return nil
}

func (d *scriptedDesktop) advanceView() {
	d.mu.Lock()
	d.view++
	d.mu.Unlock()
}

var _ = Describe("Guarded intent execution", func() {
	var (
		desktop *scriptedDesktop
		cfg     config.Config
		guard   *guardrail.Layer
		audit   *infra.AuditStore
		handler http.Handler
		cancel  context.CancelFunc
	)

	BeforeEach(func() {
		logger := zap.NewNop()
		region := domain.Region{X: 0, Y: 0, W: 64, H: 48}

		cfg = config.Default()
		cfg.Capture.FPS = 15
		cfg.Guardrail.GateTimeoutSeconds = 5
		cfg.Executor.RetryLimit = 1
		cfg.Executor.VerifyTimeoutMillis = 300
		cfg.Executor.VerifyPollMillis = 10
		cfg.Executor.FallbackDelayMillis = 100

		desktop = &scriptedDesktop{}
		desktop.onKey = func(string) { desktop.advanceView() }

		keys := infra.NewFileKeyProvider(GinkgoT().TempDir())
		key, err := keys.EnsureKey()
		Expect(err).NotTo(HaveOccurred())
		audit, err = infra.NewAuditStore(GinkgoT().TempDir(), key)
		Expect(err).NotTo(HaveOccurred())

		guard = guardrail.NewLayer(cfg.Guardrail, region, audit, logger)

		capSvc := capture.NewService(cfg.Capture, region, desktop, logger)
		adapter := perception.NewAdapter(desktop,
			cfg.Executor.ConfidenceFloor(), cfg.Executor.MatchThreshold(), logger)
		exec := usecase.NewExecutor(capSvc, adapter, guard, guard.Kill(), desktop,
			policy.NewRegistry(cfg.Guardrail.SensitiveIntents), cfg.Executor, logger)
		wd := watchdog.NewSupervisor(cfg.Watchdog, capSvc, logger)

		server := control.NewServer(cfg, capSvc, exec, guard, wd, nil, logger)
		handler = server.Handler()

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		go capSvc.Run(ctx)

		Eventually(func() bool {
			return !capSvc.LastHeartbeat().IsZero()
		}, 3*time.Second, 20*time.Millisecond).Should(BeTrue())
	})

	AfterEach(func() {
		cancel()
		guard.Shutdown()
		audit.Close()
	})

	Describe("running a normal intent over HTTP", func() {
		It("advances the view and reports success", func() {
			res := postIntent(handler, "next_email", "")

			Expect(res.Status).To(Equal(domain.StatusSuccess))
			Expect(res.StepsCompleted).To(Equal(1))
			Expect(res.FallbackUsed).To(BeFalse())
			Expect(desktop.keys).To(ContainElement("down"))
		})

		It("captures a batch and reports every item", func() {
			res := postIntent(handler, "capture_batch", `{"count":"3"}`)

			Expect(res.Status).To(Equal(domain.StatusSuccess))
			Expect(res.ItemsCaptured).To(Equal(3))
		})
	})

	Describe("sensitive intents", func() {
		It("blocks on the confirmation gate until the operator approves", func() {
			cfgS := cfg
			cfgS.Guardrail.SensitiveIntents = []string{"next_email"}

			logger := zap.NewNop()
			region := domain.Region{X: 0, Y: 0, W: 64, H: 48}
			capSvc := capture.NewService(cfgS.Capture, region, desktop, logger)
			adapter := perception.NewAdapter(desktop,
				cfgS.Executor.ConfidenceFloor(), cfgS.Executor.MatchThreshold(), logger)
			guardS := guardrail.NewLayer(cfgS.Guardrail, region, audit, logger)
			defer guardS.Shutdown()
			exec := usecase.NewExecutor(capSvc, adapter, guardS, guardS.Kill(), desktop,
				policy.NewRegistry(cfgS.Guardrail.SensitiveIntents), cfgS.Executor, logger)
			wd := watchdog.NewSupervisor(cfgS.Watchdog, capSvc, logger)
			h := control.NewServer(cfgS, capSvc, exec, guardS, wd, nil, logger).Handler()

			ctx, stop := context.WithCancel(context.Background())
			defer stop()
			go capSvc.Run(ctx)
			Eventually(func() bool {
				return !capSvc.LastHeartbeat().IsZero()
			}, 3*time.Second, 20*time.Millisecond).Should(BeTrue())

			resCh := make(chan domain.IntentResult, 1)
			go func() {
				defer GinkgoRecover()
				resCh <- postIntent(h, "next_email", "")
			}()

			// The gate shows up, the operator approves it.
			Eventually(func() int {
				return len(guardS.Gates().Pending())
			}, 3*time.Second, 20*time.Millisecond).Should(Equal(1))

			pending := guardS.Gates().Pending()
			Expect(guardS.Gates().Resolve(pending[0].ID, true)).To(Succeed())

			var res domain.IntentResult
			Eventually(resCh, 5*time.Second).Should(Receive(&res))
			Expect(res.Status).To(Equal(domain.StatusSuccess))
		})
	})

	Describe("kill switch", func() {
		It("aborts execution and stays sticky until confirmed reset", func() {
			doRequest(handler, http.MethodPost, "/safety/kill", "", nil)
			Expect(guard.Kill().Triggered()).To(BeTrue())

			res := postIntent(handler, "next_email", "")
			Expect(res.Status).To(Equal(domain.StatusAborted))

			// Reset without the confirm header is refused.
			rec := doRequest(handler, http.MethodPost, "/safety/reset", "", nil)
			Expect(rec.StatusCode).To(Equal(http.StatusPreconditionRequired))
			Expect(guard.Kill().Triggered()).To(BeTrue())

			rec = doRequest(handler, http.MethodPost, "/safety/reset", "", map[string]string{
				"X-Seealln-Confirm": "yes",
			})
			Expect(rec.StatusCode).To(Equal(http.StatusOK))
			Expect(guard.Kill().Triggered()).To(BeFalse())
		})
	})

	Describe("human handoff", func() {
		It("aborts when an authentication challenge appears", func() {
			desktop.mu.Lock()
			desktop.tokens = []domain.OCRToken{{Text: "Password", Confidence: 0.97}}
			desktop.mu.Unlock()

			res := postIntent(handler, "next_email", "")
			Expect(res.Status).To(Equal(domain.StatusAborted))
			Expect(res.Detail).To(ContainSubstring("handoff"))
			Expect(desktop.keys).To(BeEmpty())
		})
	})
})

func postIntent(handler http.Handler, name, body string) domain.IntentResult {
	rec := doRequest(handler, http.MethodPost, "/intent/"+name, body, nil)
	defer rec.Body.Close()

	var res domain.IntentResult
	Expect(json.NewDecoder(rec.Body).Decode(&res)).To(Succeed())
	return res
}

func doRequest(handler http.Handler, method, path, body string, headers map[string]string) *http.Response {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec.Result()
}
