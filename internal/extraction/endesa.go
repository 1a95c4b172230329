package extraction

import "regexp"

// endesaRules reads the Endesa layout. The summary block lists the cost terms
// before the consumption table, so cost anchors take their first match. The
// consumption table prints figures ahead of the "Llano" and "Potencia" row
// labels, which is why the peak and off-peak rules count backwards.
var endesaRules = []Rule{
	{Field: FieldCustomerName, Shape: ShapeText, Locate: anchored(`Titular del contrato: (.+?) CUPS:`, First)},
	{Field: FieldReferenceNumber, Shape: ShapeText, Locate: anchored(`Referencia: ([\w/-]+)`, First)},
	{Field: FieldIssueDate, Shape: ShapeDate, Locate: anchored(`(?i)Fecha emisión factur[a:]*\s*(`+dateToken+`)`, First)},
	{Field: FieldPeriodStart, Shape: ShapeDate, Locate: anchored(`Periodo de facturación: del (`+dateToken+`)`, First)},
	{Field: FieldPeriodEnd, Shape: ShapeDate, Locate: anchored(`Periodo de facturación: del `+dateToken+` a (`+dateToken+`)`, First)},
	{Field: FieldPeriodDays, Shape: ShapeInteger, Locate: anchored(`\((\d+) días\)`, First)},
	{Field: FieldPaymentMethod, Shape: ShapeText, Locate: anchored(`Forma de pago: (.+?) (?:Fecha de cargo|Cod\.?Mandato|IBAN)`, First)},
	{Field: FieldChargeDate, Shape: ShapeDate, Locate: anchored(`Fecha de cargo: (`+spelledDateToken+`)`, First)},
	{Field: FieldMandate, Shape: ShapeText, Locate: anchored(`Cod\.?Mandato: (\w+)`, First)},

	{Field: FieldPowerCost, Shape: ShapeDecimal, Locate: anchored(`Potencia.*? (`+amountToken+`) €`, First)},
	{Field: FieldEnergyCost, Shape: ShapeDecimal, Locate: anchored(`Energía (`+amountToken+`)`, First)},
	{Field: FieldDiscounts, Shape: ShapeDecimal, Locate: anchored(`Descuentos.*? (`+amountToken+`) €`, First)},
	{Field: FieldTaxes, Shape: ShapeDecimal, Locate: anchored(`Impuestos.*? (`+amountToken+`) €`, First)},
	{Field: FieldTotalPayable, Shape: ShapeDecimal, Locate: anchored(`Total.*? (`+amountToken+`) €`, First)},

	{Field: FieldPeakConsumption, Shape: ShapeDecimal, Locate: Preceding{
		Anchor: regexp.MustCompile(`(?i)llano`),
		Pick:   First,
		Token:  quantity,
		Back:   1,
	}},
	{Field: FieldOffPeakConsumption, Shape: ShapeDecimal, Locate: Preceding{
		Anchor: regexp.MustCompile(`(?i)potencia`),
		Pick:   Nth(6),
		Token:  quantity,
		Back:   3,
	}},
	{Field: FieldTotalConsumption, Shape: ShapeInteger, Locate: anchored(`Consumo Total (`+integerToken+`)(?: kWh)?`, First)},
	{Field: FieldEnergyUnitPrice, Shape: ShapeDecimal, Locate: anchored(`ha salido a (`+decimalToken+`) €/kWh`, First)},
}
