package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Mercury0/talon/internal/domain"
	"github.com/Mercury0/talon/internal/falcon"
	sqlitestor "github.com/Mercury0/talon/internal/store/sqlite"
	"github.com/Mercury0/talon/internal/watch"
)

var _ = Describe("Durable cache round trip", func() {
	var (
		api     *fakeFalcon
		alertSt *sqlitestor.Store
	)

	BeforeEach(func() {
		api = newFakeFalcon()
		var err error
		alertSt, err = sqlitestor.New(filepath.Join(GinkgoT().TempDir(), "alerts.db"))
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(alertSt.Close()).To(Succeed())
		api.Close()
	})

	It("persists watched alerts to the sqlite file and exports them losslessly", func() {
		api.add(alertID(0), createdAgo(3*time.Minute), 70, "epp")
		api.add(alertID(1), createdAgo(2*time.Minute), 40, "idp")

		client, err := falcon.New(falcon.Config{
			BaseURL:      api.URL(),
			ClientID:     "it-client",
			ClientSecret: "it-secret",
		}, itLogger())
		Expect(err).NotTo(HaveOccurred())

		out := &captureSink{}
		poller := watch.NewPoller(client, alertSt, out, nil, nil,
			itPollInterval, itLookback, itLogger())

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan watch.Summary, 1)
		go func() {
			defer GinkgoRecover()
			summary, _ := poller.Run(ctx)
			done <- summary
		}()

		Eventually(out.displayIDs, 3*time.Second).Should(HaveLen(2))
		cancel()
		Eventually(done, 2*time.Second).Should(Receive())

		// The cached record must round-trip field for field, including
		// fields talon itself never reads.
		var buf bytes.Buffer
		count, err := alertSt.ExportJSON(context.Background(), &buf)
		Expect(err).NotTo(HaveOccurred())
		Expect(count).To(Equal(2))

		var exported []domain.Alert
		Expect(json.Unmarshal(buf.Bytes(), &exported)).To(Succeed())
		Expect(exported).To(HaveLen(2))
		Expect(exported[0].ID()).To(Equal(alertID(1)), "export is newest first")
		Expect(exported[0]["device"]).To(Equal(map[string]any{"hostname": "it-host"}))

		stats, err := alertSt.Stats(context.Background(), "")
		Expect(err).NotTo(HaveOccurred())
		Expect(stats.Total).To(Equal(2))
		Expect(stats.ByProduct).To(HaveKeyWithValue("epp", 1))
		Expect(stats.ByProduct).To(HaveKeyWithValue("idp", 1))
	})
})
