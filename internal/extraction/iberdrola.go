package extraction

// iberdrolaRules reads the Iberdrola layout. The consumption history repeats
// the previous invoice's figures ahead of the current ones and the payment
// slip repeats the total, so those anchors take their last match. The average
// price is printed in cents per kWh.
var iberdrolaRules = []Rule{
	{Field: FieldCustomerName, Shape: ShapeText, Locate: anchored(`Titular: (.+?) (?:NIF|DNI|CIF):`, First)},
	{Field: FieldReferenceNumber, Shape: ShapeText, Locate: anchored(`N[º°o]\.? ?factura: (\w+)`, First)},
	{Field: FieldIssueDate, Shape: ShapeDate, Locate: anchored(`Fecha de emisión: (`+spelledDateToken+`|`+dateToken+`)`, First)},
	{Field: FieldPeriodStart, Shape: ShapeDate, Locate: anchored(`Periodo de consumo: (`+dateToken+`) - `+dateToken, First)},
	{Field: FieldPeriodEnd, Shape: ShapeDate, Locate: anchored(`Periodo de consumo: `+dateToken+` - (`+dateToken+`)`, First)},
	{Field: FieldPeriodDays, Shape: ShapeInteger, Locate: anchored(`Días facturados: (\d+)`, First)},
	{Field: FieldPaymentMethod, Shape: ShapeText, Locate: anchored(`Forma de pago: (.+?) Fecha de cargo`, First)},
	{Field: FieldChargeDate, Shape: ShapeDate, Locate: anchored(`Fecha de cargo: (`+spelledDateToken+`|`+dateToken+`)`, First)},
	{Field: FieldMandate, Shape: ShapeText, Locate: anchored(`Referencia del mandato: (\w+)`, First)},

	{Field: FieldPowerCost, Shape: ShapeDecimal, Locate: anchored(`Total potencia (`+amountToken+`) €`, First)},
	{Field: FieldEnergyCost, Shape: ShapeDecimal, Locate: anchored(`Total energía (`+amountToken+`) €`, First)},
	{Field: FieldDiscounts, Shape: ShapeDecimal, Locate: anchored(`Descuentos? (`+amountToken+`) €`, First)},
	{Field: FieldTaxes, Shape: ShapeDecimal, Locate: anchored(`Total impuestos (`+amountToken+`) €`, First)},
	{Field: FieldTotalPayable, Shape: ShapeDecimal, Locate: anchored(`TOTAL IMPORTE FACTURA (`+amountToken+`) €`, Last)},

	{Field: FieldPeakConsumption, Shape: ShapeDecimal, Locate: anchored(`(?i)consumo punta (`+quantityToken+`) kWh`, Last)},
	{Field: FieldOffPeakConsumption, Shape: ShapeDecimal, Locate: anchored(`(?i)consumo valle (`+quantityToken+`) kWh`, Last)},
	{Field: FieldTotalConsumption, Shape: ShapeInteger, Locate: anchored(`(?i)consumo total (`+integerToken+`) kWh`, First)},
	{Field: FieldEnergyUnitPrice, Shape: ShapeDecimal, Scale: 0.01, Locate: anchored(`Precio medio de la energía (`+decimalToken+`) c€/kWh`, First)},
}
