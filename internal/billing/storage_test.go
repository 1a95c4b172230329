package billing

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		dir     string
		storage *LocalStorage
	)

	BeforeEach(func() {
		dir = filepath.Join(GinkgoT().TempDir(), "documents")
		var err error
		storage, err = NewLocalStorage(dir)
		Expect(err).NotTo(HaveOccurred())
	})

	It("should create the directory", func() {
		info, err := os.Stat(dir)
		Expect(err).NotTo(HaveOccurred())
		Expect(info.IsDir()).To(BeTrue())
	})

	It("should save, read and delete a page", func() {
		name, err := storage.Save("inv-1_1_scan.png", []byte("png"))
		Expect(err).NotTo(HaveOccurred())
		Expect(name).To(Equal("inv-1_1_scan.png"))

		data, err := storage.Get(name)
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(Equal([]byte("png")))

		Expect(storage.Delete(name)).To(Succeed())
		_, err = storage.Get(name)
		Expect(err).To(HaveOccurred())
	})

	It("should refuse names outside the directory", func() {
		_, err := storage.Save("../escape.png", []byte("x"))
		Expect(err).To(MatchError(ContainSubstring("invalid document name")))

		_, err = storage.Get("nested/scan.png")
		Expect(err).To(HaveOccurred())
	})
})
