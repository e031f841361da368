package integration

import (
	"context"
	"log/slog"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Mercury0/talon/internal/domain"
	"github.com/Mercury0/talon/internal/falcon"
	"github.com/Mercury0/talon/internal/store/memory"
	"github.com/Mercury0/talon/internal/watch"
)

const (
	itPollInterval = 20 * time.Millisecond
	itLookback     = 10 * time.Minute
)

func itLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(GinkgoWriter, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// createdAgo renders a vendor timestamp the given offset before now,
// comfortably inside the lookback window.
func createdAgo(d time.Duration) string {
	return time.Now().UTC().Add(-d).Format(time.RFC3339Nano)
}

var _ = Describe("Watch session lifecycle", func() {
	var (
		api       *fakeFalcon
		alertSt   *memory.Store
		out       *captureSink
		poller    *watch.Poller
		cancel    context.CancelFunc
		summaries chan watch.Summary
	)

	newPoller := func(filter *domain.AlertFilter) {
		client, err := falcon.New(falcon.Config{
			BaseURL:      api.URL(),
			ClientID:     "it-client",
			ClientSecret: "it-secret",
			// Two ids per page forces the pagination loop.
			PageSize: 2,
		}, itLogger())
		Expect(err).NotTo(HaveOccurred())

		poller = watch.NewPoller(client, alertSt, out, filter, nil,
			itPollInterval, itLookback, itLogger())
	}

	startWatch := func() {
		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		summaries = make(chan watch.Summary, 1)
		go func() {
			defer GinkgoRecover()
			summary, _ := poller.Run(ctx)
			summaries <- summary
		}()
	}

	stopWatch := func() watch.Summary {
		cancel()
		var summary watch.Summary
		Eventually(summaries, 2*time.Second).Should(Receive(&summary))
		return summary
	}

	BeforeEach(func() {
		api = newFakeFalcon()
		alertSt = memory.NewStore()
		out = &captureSink{}
	})

	AfterEach(func() {
		api.Close()
	})

	Context("when alerts span several query pages", func() {
		It("delivers every alert exactly once, in creation order, and caches it", func() {
			for i, offset := range []time.Duration{5 * time.Minute, 4 * time.Minute, 3 * time.Minute, 2 * time.Minute, time.Minute} {
				api.add(alertID(i), createdAgo(offset), 70, "epp")
			}
			newPoller(nil)
			startWatch()

			Eventually(out.displayIDs, 3*time.Second).Should(HaveLen(5))
			Expect(out.displayIDs()).To(Equal([]string{
				"ind:00", "ind:01", "ind:02", "ind:03", "ind:04",
			}))

			// Further polls must not re-deliver anything.
			Consistently(out.displayIDs, 200*time.Millisecond).Should(HaveLen(5))

			stored, err := alertSt.GetByDisplayID(context.Background(), "ind:02")
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.FullID).To(Equal(alertID(2)), "full id must stay untransformed")

			summary := stopWatch()
			Expect(summary.NewAlerts).To(Equal(5))
		})

		It("picks up alerts that appear between polls and advances the watermark", func() {
			api.add(alertID(0), createdAgo(5*time.Minute), 70, "epp")
			newPoller(nil)
			startWatch()

			Eventually(out.displayIDs, 3*time.Second).Should(HaveLen(1))

			newest := createdAgo(time.Second)
			api.add(alertID(1), newest, 50, "idp")
			Eventually(out.displayIDs, 3*time.Second).Should(HaveLen(2))

			summary := stopWatch()
			Expect(summary.NewAlerts).To(Equal(2))
			Expect(summary.Since).To(Equal(newest),
				"watermark should sit at the newest accepted record")
		})
	})

	Context("when the query endpoint rate limits", func() {
		It("retries the page after Retry-After and loses nothing", func() {
			api.add(alertID(0), createdAgo(3*time.Minute), 70, "epp")
			api.add(alertID(1), createdAgo(2*time.Minute), 70, "epp")
			api.throttleNext(1)

			newPoller(nil)
			startWatch()

			// One 429 plus a one-second Retry-After precede delivery.
			Eventually(out.displayIDs, 5*time.Second).Should(HaveLen(2))
			Expect(out.displayIDs()).To(Equal([]string{"ind:00", "ind:01"}))

			_, queryHits, _ := api.counts()
			Expect(queryHits).To(BeNumerically(">=", 2), "the throttled page must be re-requested")

			summary := stopWatch()
			Expect(summary.NewAlerts).To(Equal(2))
		})
	})

	Context("with a severity filter", func() {
		It("delivers and caches only matching alerts", func() {
			api.add(alertID(0), createdAgo(3*time.Minute), 30, "epp")
			api.add(alertID(1), createdAgo(2*time.Minute), 80, "epp")

			min := 50
			newPoller(&domain.AlertFilter{SeverityMin: &min})
			startWatch()

			Eventually(out.displayIDs, 3*time.Second).Should(Equal([]string{"ind:01"}))

			_, err := alertSt.GetByDisplayID(context.Background(), "ind:00")
			Expect(err).To(HaveOccurred(), "rejected alerts must not be cached")

			summary := stopWatch()
			Expect(summary.NewAlerts).To(Equal(1))
		})
	})
})

// alertID builds a deterministic composite id whose display form is
// ind:NN.
func alertID(n int) string {
	return "itcid:ind:" + twoDigits(n)
}

func twoDigits(n int) string {
	return string(rune('0'+n/10)) + string(rune('0'+n%10))
}
