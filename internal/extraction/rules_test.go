package extraction

import (
	"regexp"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Rule", func() {
	const text = "Importe 1,00 € Importe 2,00 € Importe 3,00 €"

	var (
		rule  Rule
		value Value
		ok    bool
	)

	JustBeforeEach(func() {
		value, ok = rule.Apply(text)
	})

	Describe("Anchored", func() {
		When("picking the first occurrence", func() {
			BeforeEach(func() {
				rule = Rule{Field: FieldTotalPayable, Shape: ShapeDecimal, Locate: anchored(`Importe (`+amountToken+`) €`, First)}
			})

			It("should return the first match", func() {
				Expect(ok).To(BeTrue())
				Expect(*value.Number).To(Equal(1.0))
			})
		})

		When("picking the last occurrence", func() {
			BeforeEach(func() {
				rule = Rule{Field: FieldTotalPayable, Shape: ShapeDecimal, Locate: anchored(`Importe (`+amountToken+`) €`, Last)}
			})

			It("should return the last match", func() {
				Expect(*value.Number).To(Equal(3.0))
			})
		})

		When("picking the nth occurrence", func() {
			BeforeEach(func() {
				rule = Rule{Field: FieldTotalPayable, Shape: ShapeDecimal, Locate: anchored(`Importe (`+amountToken+`) €`, Nth(2))}
			})

			It("should return that match", func() {
				Expect(*value.Number).To(Equal(2.0))
			})
		})

		When("the occurrence does not exist", func() {
			BeforeEach(func() {
				rule = Rule{Field: FieldTotalPayable, Shape: ShapeDecimal, Locate: anchored(`Importe (`+amountToken+`) €`, Nth(4))}
			})

			It("should not match", func() {
				Expect(ok).To(BeFalse())
			})
		})

		When("the anchor is absent", func() {
			BeforeEach(func() {
				rule = Rule{Field: FieldTaxes, Shape: ShapeDecimal, Locate: anchored(`Impuestos (`+amountToken+`) €`, First)}
			})

			It("should not match", func() {
				Expect(ok).To(BeFalse())
			})
		})

		When("a scale is set", func() {
			BeforeEach(func() {
				rule = Rule{Field: FieldEnergyUnitPrice, Shape: ShapeDecimal, Scale: 0.01, Locate: anchored(`Importe (`+amountToken+`) €`, Last)}
			})

			It("should scale the value", func() {
				Expect(*value.Number).To(Equal(0.03))
			})
		})
	})

	Describe("Preceding", func() {
		When("counting back from an anchor", func() {
			BeforeEach(func() {
				rule = Rule{Field: FieldPeakConsumption, Shape: ShapeDecimal, Locate: Preceding{
					Anchor: regexp.MustCompile(`Importe`),
					Pick:   Last,
					Token:  quantity,
					Back:   2,
				}}
			})

			It("should take the token that many places before the anchor", func() {
				Expect(*value.Number).To(Equal(1.0))
			})
		})

		When("there are too few tokens before the anchor", func() {
			BeforeEach(func() {
				rule = Rule{Field: FieldPeakConsumption, Shape: ShapeDecimal, Locate: Preceding{
					Anchor: regexp.MustCompile(`Importe`),
					Pick:   Nth(2),
					Token:  quantity,
					Back:   2,
				}}
			})

			It("should not match", func() {
				Expect(ok).To(BeFalse())
			})
		})
	})
})

var _ = Describe("rule tables", func() {
	shapes := map[Field][]Shape{
		FieldCustomerName:       {ShapeText},
		FieldReferenceNumber:    {ShapeText},
		FieldPaymentMethod:      {ShapeText},
		FieldMandate:            {ShapeText},
		FieldIssueDate:          {ShapeDate},
		FieldChargeDate:         {ShapeDate},
		FieldPeriodStart:        {ShapeDate},
		FieldPeriodEnd:          {ShapeDate},
		FieldPeriodDays:         {ShapeInteger},
		FieldPowerCost:          {ShapeDecimal},
		FieldEnergyCost:         {ShapeDecimal},
		FieldDiscounts:          {ShapeDecimal},
		FieldTaxes:              {ShapeDecimal},
		FieldTotalPayable:       {ShapeDecimal},
		FieldPeakConsumption:    {ShapeDecimal, ShapeInteger},
		FieldOffPeakConsumption: {ShapeDecimal, ShapeInteger},
		FieldTotalConsumption:   {ShapeDecimal, ShapeInteger},
		FieldEnergyUnitPrice:    {ShapeDecimal},
	}

	It("should declare a shape each field can hold", func() {
		for _, p := range detectionOrder {
			for _, rule := range p.rules() {
				Expect(shapes).To(HaveKey(rule.Field))
				Expect(shapes[rule.Field]).To(ContainElement(rule.Shape), "%s %s", p, rule.Field)
			}
		}
	})

	It("should cover every field for every provider", func() {
		for _, p := range detectionOrder {
			covered := map[Field]bool{}
			for _, rule := range p.rules() {
				covered[rule.Field] = true
			}
			for _, f := range Fields {
				Expect(covered).To(HaveKey(f), "%s %s", p, f)
			}
		}
	})
})
