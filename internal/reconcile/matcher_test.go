package reconcile

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/billcheck/internal/billing"
	"github.com/zombor/billcheck/internal/extraction"
)

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

func measurementOver(id string, seq uint64, start, end time.Time) *billing.Measurement {
	return &billing.Measurement{ID: id, UserID: "alice", Seq: seq, Start: start, End: end}
}

var _ = Describe("Matcher", func() {
	var (
		period  Period
		matcher Matcher
	)

	BeforeEach(func() {
		period = Period{
			Start: extraction.NewDate(2023, time.January, 1),
			End:   extraction.NewDate(2023, time.January, 31),
		}
		matcher = Matcher{}
	})

	Describe("Overlapping", func() {
		It("should select a measurement that straddles the end of the period", func() {
			m := measurementOver("m-1", 1, day(2023, time.January, 15), day(2023, time.February, 10))
			Expect(matcher.Overlapping(period, []*billing.Measurement{m})).To(ConsistOf(m))
		})

		It("should skip a measurement that starts after the period", func() {
			m := measurementOver("m-1", 1, day(2023, time.February, 1), day(2023, time.February, 28))
			Expect(matcher.Overlapping(period, []*billing.Measurement{m})).To(BeEmpty())
		})

		It("should skip a measurement that ends before the period", func() {
			m := measurementOver("m-1", 1, day(2022, time.December, 1), day(2022, time.December, 31))
			Expect(matcher.Overlapping(period, []*billing.Measurement{m})).To(BeEmpty())
		})

		It("should count a single shared day as overlap", func() {
			m := measurementOver("m-1", 1, day(2023, time.January, 31).Add(18*time.Hour), day(2023, time.February, 28))
			Expect(matcher.Overlapping(period, []*billing.Measurement{m})).To(HaveLen(1))
		})

		It("should return candidates in creation order", func() {
			late := measurementOver("m-late", 7, day(2023, time.January, 1), day(2023, time.January, 31))
			early := measurementOver("m-early", 2, day(2023, time.January, 10), day(2023, time.January, 20))
			found := matcher.Overlapping(period, []*billing.Measurement{late, early})
			Expect(found).To(Equal([]*billing.Measurement{early, late}))
		})
	})

	Describe("Select", func() {
		var (
			partial *billing.Measurement
			full    *billing.Measurement
		)

		BeforeEach(func() {
			partial = measurementOver("m-partial", 1, day(2023, time.January, 20), day(2023, time.February, 20))
			full = measurementOver("m-full", 2, day(2023, time.January, 1), day(2023, time.January, 31))
		})

		It("should pick the earliest-created measurement by default", func() {
			m, err := matcher.Select(period, []*billing.Measurement{full, partial})
			Expect(err).NotTo(HaveOccurred())
			Expect(m.ID).To(Equal("m-partial"))
		})

		When("the policy prefers the greatest overlap", func() {
			BeforeEach(func() {
				matcher.Policy = GreatestOverlap
			})

			It("should pick the measurement sharing the most days", func() {
				m, err := matcher.Select(period, []*billing.Measurement{partial, full})
				Expect(err).NotTo(HaveOccurred())
				Expect(m.ID).To(Equal("m-full"))
			})

			It("should break ties by creation order", func() {
				twin := measurementOver("m-twin", 3, day(2023, time.January, 1), day(2023, time.January, 31))
				m, err := matcher.Select(period, []*billing.Measurement{twin, full})
				Expect(err).NotTo(HaveOccurred())
				Expect(m.ID).To(Equal("m-full"))
			})
		})

		It("should report when nothing overlaps", func() {
			_, err := matcher.Select(period, []*billing.Measurement{
				measurementOver("m-1", 1, day(2023, time.March, 1), day(2023, time.March, 31)),
			})
			Expect(err).To(MatchError(ErrNoMatchingMeasurement))
		})
	})
})

var _ = Describe("ParseMatchPolicy", func() {
	DescribeTable("flag values",
		func(in string, want MatchPolicy) {
			got, err := ParseMatchPolicy(in)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(want))
			Expect(ParseMatchPolicy(got.String())).To(Equal(want))
		},
		Entry("first", "first", FirstCreated),
		Entry("overlap", "overlap", GreatestOverlap),
	)

	It("should reject unknown policies", func() {
		_, err := ParseMatchPolicy("best")
		Expect(err).To(HaveOccurred())
	})
})
