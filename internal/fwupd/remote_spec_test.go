package fwupd_test

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/onsi/gomega/ghttp"

	"github.com/ydb-platform/fwupd-client/internal/fwupd"
	"github.com/ydb-platform/fwupd-client/internal/fwupd/fwupdtest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Remote.UpdateMetadata", func() {
	var (
		ctx      context.Context
		server   *ghttp.Server
		bus      *fwupdtest.Bus
		client   *fwupd.Client
		cacheDir string
		remote   *fwupd.Remote
	)

	BeforeEach(func() {
		ctx = context.Background()
		server = ghttp.NewServer()
		bus = fwupdtest.NewBus().SetReply("UpdateMetadata")
		cacheDir = GinkgoT().TempDir()
		client = fwupd.NewWithBus(bus, fwupd.WithCacheDir(cacheDir))
		remote = &fwupd.Remote{
			ID:          "lvfs",
			Kind:        fwupd.RemoteKindDownload,
			Keyring:     fwupd.KeyringKindJcat,
			Enabled:     true,
			MetadataURI: server.URL() + "/downloads/firmware.xml.gz",
		}
	})

	AfterEach(func() {
		server.Close()
	})

	updateCalls := func() []fwupdtest.Call {
		var res []fwupdtest.Call
		for _, call := range bus.Calls() {
			if call.Method == "UpdateMetadata" {
				res = append(res, call)
			}
		}
		return res
	}

	It("should download metadata and hand it to the daemon", func() {
		server.AppendHandlers(
			ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodGet, "/downloads/firmware.xml.gz.jcat"),
				ghttp.RespondWith(http.StatusOK, "signature-v1"),
			),
			ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodGet, "/downloads/firmware.xml.gz"),
				ghttp.RespondWith(http.StatusOK, "metadata-v1"),
			),
		)

		Expect(remote.UpdateMetadata(ctx, client, http.DefaultClient)).To(Succeed())

		calls := updateCalls()
		Expect(calls).To(HaveLen(1))
		Expect(calls[0].Args).To(HaveLen(3))
		Expect(calls[0].Args[0]).To(Equal("lvfs"))
		Expect(calls[0].Args[1]).To(BeAssignableToTypeOf(dbus.UnixFD(0)))
		Expect(calls[0].Args[2]).To(BeAssignableToTypeOf(dbus.UnixFD(0)))

		Expect(filepath.Join(cacheDir, "lvfs", "firmware.xml.gz")).To(BeARegularFile())
		data, err := os.ReadFile(filepath.Join(cacheDir, "lvfs", "firmware.xml.gz"))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("metadata-v1"))
		sig, err := os.ReadFile(filepath.Join(cacheDir, "lvfs", "firmware.xml.gz.sig"))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(sig)).To(Equal("signature-v1"))
	})

	It("should not download again while the signature is unchanged", func() {
		server.AppendHandlers(
			ghttp.RespondWith(http.StatusOK, "signature-v1"),
			ghttp.RespondWith(http.StatusOK, "metadata-v1"),
			ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodGet, "/downloads/firmware.xml.gz.jcat"),
				ghttp.RespondWith(http.StatusOK, "signature-v1"),
			),
		)

		Expect(remote.UpdateMetadata(ctx, client, http.DefaultClient)).To(Succeed())
		Expect(remote.UpdateMetadata(ctx, client, http.DefaultClient)).To(Succeed())

		Expect(server.ReceivedRequests()).To(HaveLen(3))
		Expect(updateCalls()).To(HaveLen(1))
	})

	It("should refresh when the signature changed", func() {
		server.AppendHandlers(
			ghttp.RespondWith(http.StatusOK, "signature-v1"),
			ghttp.RespondWith(http.StatusOK, "metadata-v1"),
			ghttp.RespondWith(http.StatusOK, "signature-v2"),
			ghttp.RespondWith(http.StatusOK, "metadata-v2"),
		)

		Expect(remote.UpdateMetadata(ctx, client, http.DefaultClient)).To(Succeed())
		Expect(remote.UpdateMetadata(ctx, client, http.DefaultClient)).To(Succeed())

		Expect(updateCalls()).To(HaveLen(2))
		data, err := os.ReadFile(filepath.Join(cacheDir, "lvfs", "firmware.xml.gz"))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("metadata-v2"))
	})

	It("should retry the download after the daemon rejected the metadata", func() {
		bus.SetError("UpdateMetadata", fwupdtest.DaemonError("org.freedesktop.fwupd.SignatureInvalid", "bad signature"))
		server.AppendHandlers(
			ghttp.RespondWith(http.StatusOK, "signature-v1"),
			ghttp.RespondWith(http.StatusOK, "metadata-v1"),
			ghttp.RespondWith(http.StatusOK, "signature-v1"),
			ghttp.RespondWith(http.StatusOK, "metadata-v1"),
		)

		err := remote.UpdateMetadata(ctx, client, http.DefaultClient)
		Expect(err).To(MatchError(fwupd.ErrSignatureInvalid))
		Expect(err).To(MatchError(ContainSubstring(`daemon rejected metadata of remote "lvfs"`)))
		Expect(filepath.Join(cacheDir, "lvfs", "firmware.xml.gz.sig")).NotTo(BeAnExistingFile())

		err = remote.UpdateMetadata(ctx, client, http.DefaultClient)
		Expect(err).To(MatchError(fwupd.ErrSignatureInvalid))
		Expect(server.ReceivedRequests()).To(HaveLen(4))
	})

	It("should send credentials of private remotes", func() {
		remote.Username = "user"
		remote.Password = "secret"
		server.AppendHandlers(
			ghttp.CombineHandlers(
				ghttp.VerifyBasicAuth("user", "secret"),
				ghttp.RespondWith(http.StatusOK, "signature-v1"),
			),
			ghttp.CombineHandlers(
				ghttp.VerifyBasicAuth("user", "secret"),
				ghttp.RespondWith(http.StatusOK, "metadata-v1"),
			),
		)

		Expect(remote.UpdateMetadata(ctx, client, http.DefaultClient)).To(Succeed())
	})

	It("should report HTTP failures", func() {
		server.AppendHandlers(ghttp.RespondWith(http.StatusNotFound, "gone"))

		err := remote.UpdateMetadata(ctx, client, http.DefaultClient)
		var httpErr *fwupd.HTTPError
		Expect(errors.As(err, &httpErr)).To(BeTrue())
		Expect(httpErr.StatusCode).To(Equal(http.StatusNotFound))
		Expect(httpErr.URL).To(HaveSuffix(".jcat"))
		Expect(updateCalls()).To(BeEmpty())
	})

	It("should fetch only metadata for unsigned remotes", func() {
		remote.Keyring = fwupd.KeyringKindNone
		server.AppendHandlers(
			ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodGet, "/downloads/firmware.xml.gz"),
				ghttp.RespondWith(http.StatusOK, "metadata-v1"),
			),
		)

		Expect(remote.UpdateMetadata(ctx, client, http.DefaultClient)).To(Succeed())
		Expect(updateCalls()).To(HaveLen(1))
	})

	It("should refresh unsigned remotes every time", func() {
		remote.Keyring = fwupd.KeyringKindNone
		Expect(remote.SignatureURI()).To(BeEmpty())
		server.AppendHandlers(
			ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodGet, "/downloads/firmware.xml.gz"),
				ghttp.RespondWith(http.StatusOK, "metadata-v1"),
			),
			ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodGet, "/downloads/firmware.xml.gz"),
				ghttp.RespondWith(http.StatusOK, "metadata-v1"),
			),
		)

		Expect(remote.UpdateMetadata(ctx, client, http.DefaultClient)).To(Succeed())
		Expect(remote.UpdateMetadata(ctx, client, http.DefaultClient)).To(Succeed())

		Expect(server.ReceivedRequests()).To(HaveLen(2))
		Expect(updateCalls()).To(HaveLen(2))
	})

	It("should reject oversized signatures", func() {
		server.AppendHandlers(
			ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodGet, "/downloads/firmware.xml.gz.jcat"),
				ghttp.RespondWith(http.StatusOK, strings.Repeat("s", 1<<20+1)),
			),
		)

		err := remote.UpdateMetadata(ctx, client, http.DefaultClient)
		Expect(err).To(MatchError(ContainSubstring("exceeds 1048576 bytes")))
		Expect(err).To(MatchError(ContainSubstring(`remote "lvfs"`)))
		Expect(server.ReceivedRequests()).To(HaveLen(1))
		Expect(updateCalls()).To(BeEmpty())
	})

	It("should accept a signature of the maximum size", func() {
		server.AppendHandlers(
			ghttp.RespondWith(http.StatusOK, strings.Repeat("s", 1<<20)),
			ghttp.RespondWith(http.StatusOK, "metadata-v1"),
		)

		Expect(remote.UpdateMetadata(ctx, client, http.DefaultClient)).To(Succeed())
		Expect(updateCalls()).To(HaveLen(1))
	})

	DescribeTable("should skip remotes that are not refreshed over HTTP",
		func(mutate func(*fwupd.Remote)) {
			mutate(remote)
			Expect(remote.UpdateMetadata(ctx, client, http.DefaultClient)).To(Succeed())
			Expect(server.ReceivedRequests()).To(BeEmpty())
			Expect(updateCalls()).To(BeEmpty())
		},
		Entry("disabled", func(r *fwupd.Remote) { r.Enabled = false }),
		Entry("local", func(r *fwupd.Remote) { r.Kind = fwupd.RemoteKindLocal }),
		Entry("directory", func(r *fwupd.Remote) { r.Kind = fwupd.RemoteKindDirectory }),
	)

	It("should fail for download remotes without a metadata URI", func() {
		remote.MetadataURI = ""
		Expect(remote.UpdateMetadata(ctx, client, http.DefaultClient)).NotTo(Succeed())
	})
})
