package extraction

import (
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ParseDecimal", func() {
	DescribeTable("locale formatted tokens",
		func(token string, expected float64) {
			value, ok := ParseDecimal(token)
			Expect(ok).To(BeTrue())
			Expect(value).To(Equal(expected))
		},
		Entry("thousands and decimal comma", "1.234,56", 1234.56),
		Entry("decimal comma", "0,11", 0.11),
		Entry("four decimals", "0,1121", 0.1121),
		Entry("negative", "-281,00", -281.0),
		Entry("several thousands groups", "1.234.567,89", 1234567.89),
		Entry("period decimal", "0.1121", 0.1121),
		Entry("period thousands only", "1.234", 1234.0),
		Entry("period decimal with three places", "0.112", 0.112),
		Entry("plain integer", "42", 42.0),
	)

	DescribeTable("tokens that do not parse",
		func(token string) {
			_, ok := ParseDecimal(token)
			Expect(ok).To(BeFalse())
		},
		Entry("empty", ""),
		Entry("letters", "abc"),
		Entry("two decimal commas", "1,2,3"),
	)
})

var _ = Describe("ParseInteger", func() {
	It("should strip thousands separators", func() {
		n, ok := ParseInteger("1,234")
		Expect(ok).To(BeTrue())
		Expect(n).To(Equal(1234))

		n, ok = ParseInteger("1.234")
		Expect(ok).To(BeTrue())
		Expect(n).To(Equal(1234))
	})

	It("should read plain digits", func() {
		n, ok := ParseInteger("213")
		Expect(ok).To(BeTrue())
		Expect(n).To(Equal(213))
	})

	It("should reject decimal tokens", func() {
		_, ok := ParseInteger("12,5")
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("ParseDate", func() {
	DescribeTable("valid dates",
		func(token, expected string) {
			d, ok := ParseDate(token)
			Expect(ok).To(BeTrue())
			Expect(d.String()).To(Equal(expected))
		},
		Entry("spelled month", "15 de enero de 2024", "2024-01-15"),
		Entry("capitalized month", "4 de Diciembre de 2020", "2020-12-04"),
		Entry("setiembre spelling", "01 de setiembre de 2022", "2022-09-01"),
		Entry("numeric", "28/12/2020", "2020-12-28"),
	)

	DescribeTable("invalid dates",
		func(token string) {
			_, ok := ParseDate(token)
			Expect(ok).To(BeFalse())
		},
		Entry("unknown month", "15 de brumario de 2024"),
		Entry("day overflow", "31/02/2024"),
		Entry("month overflow", "01/13/2024"),
		Entry("free text", "mañana"),
	)
})

var _ = Describe("Convert", func() {
	It("should degrade to no value when the token does not fit the shape", func() {
		_, ok := Convert("not a number", ShapeDecimal)
		Expect(ok).To(BeFalse())
	})

	It("should reject empty text", func() {
		_, ok := Convert("  ", ShapeText)
		Expect(ok).To(BeFalse())
	})

	It("should set exactly the field matching the shape", func() {
		v, ok := Convert("21", ShapeInteger)
		Expect(ok).To(BeTrue())
		Expect(*v.Integer).To(Equal(21))
		Expect(v.Number).To(BeNil())
		Expect(*v.number()).To(Equal(21.0))
	})
})

var _ = Describe("Date", func() {
	It("should serialize as an ISO date", func() {
		data, err := json.Marshal(NewDate(2024, time.January, 15))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal(`"2024-01-15"`))

		var d Date
		Expect(json.Unmarshal(data, &d)).To(Succeed())
		Expect(d.Equal(NewDate(2024, time.January, 15).Time)).To(BeTrue())
	})

	It("should take the calendar day of a timestamp", func() {
		ts := time.Date(2023, time.March, 5, 23, 59, 0, 0, time.UTC)
		Expect(DateOf(ts).String()).To(Equal("2023-03-05"))
	})
})
