package extraction

// Field names one slot of an invoice record.
type Field string

const (
	FieldCustomerName       Field = "customer_name"
	FieldReferenceNumber    Field = "reference_number"
	FieldIssueDate          Field = "issue_date"
	FieldChargeDate         Field = "charge_date"
	FieldPaymentMethod      Field = "payment_method"
	FieldMandate            Field = "mandate"
	FieldPeriodStart        Field = "period_start"
	FieldPeriodEnd          Field = "period_end"
	FieldPeriodDays         Field = "period_days"
	FieldPowerCost          Field = "power_cost"
	FieldEnergyCost         Field = "energy_cost"
	FieldDiscounts          Field = "discounts"
	FieldTaxes              Field = "taxes"
	FieldTotalPayable       Field = "total_payable"
	FieldPeakConsumption    Field = "peak_consumption"
	FieldOffPeakConsumption Field = "off_peak_consumption"
	FieldTotalConsumption   Field = "total_consumption"
	FieldEnergyUnitPrice    Field = "energy_unit_price"
)

// Fields lists every record field in display order.
var Fields = []Field{
	FieldCustomerName, FieldReferenceNumber, FieldIssueDate, FieldChargeDate,
	FieldPaymentMethod, FieldMandate, FieldPeriodStart, FieldPeriodEnd, FieldPeriodDays,
	FieldPowerCost, FieldEnergyCost, FieldDiscounts, FieldTaxes, FieldTotalPayable,
	FieldPeakConsumption, FieldOffPeakConsumption, FieldTotalConsumption, FieldEnergyUnitPrice,
}

// Period is the billing interval as printed on the invoice. The day count is
// extracted on its own and may disagree with the dates.
type Period struct {
	Start *Date `json:"start"`
	End   *Date `json:"end"`
	Days  *int  `json:"days"`
}

// Charges holds the monetary terms of an invoice.
type Charges struct {
	PowerCost    *float64 `json:"power_cost"`
	EnergyCost   *float64 `json:"energy_cost"`
	Discounts    *float64 `json:"discounts"`
	Taxes        *float64 `json:"taxes"`
	TotalPayable *float64 `json:"total_payable"`
}

// Consumption holds billed energy in kWh and the effective price per kWh.
type Consumption struct {
	Peak      *float64 `json:"peak"`
	OffPeak   *float64 `json:"off_peak"`
	Total     *float64 `json:"total"`
	UnitPrice *float64 `json:"unit_price"`
}

// Record is one parsed invoice. Every extracted field is optional; a nil
// field was not found or did not parse.
type Record struct {
	Provider        Provider    `json:"provider"`
	CustomerName    *string     `json:"customer_name"`
	ReferenceNumber *string     `json:"reference_number"`
	IssueDate       *Date       `json:"issue_date"`
	ChargeDate      *Date       `json:"charge_date"`
	PaymentMethod   *string     `json:"payment_method"`
	Mandate         *string     `json:"mandate"`
	Period          Period      `json:"billing_period"`
	Charges         Charges     `json:"charges"`
	Consumption     Consumption `json:"consumption"`
	RawText         string      `json:"raw_text"`
}

// set stores v in the slot for f. It reports false when v has the wrong
// shape for f.
func (r *Record) set(f Field, v Value) bool {
	switch f {
	case FieldCustomerName:
		r.CustomerName = v.Text
		return v.Text != nil
	case FieldReferenceNumber:
		r.ReferenceNumber = v.Text
		return v.Text != nil
	case FieldPaymentMethod:
		r.PaymentMethod = v.Text
		return v.Text != nil
	case FieldMandate:
		r.Mandate = v.Text
		return v.Text != nil
	case FieldIssueDate:
		r.IssueDate = v.Date
		return v.Date != nil
	case FieldChargeDate:
		r.ChargeDate = v.Date
		return v.Date != nil
	case FieldPeriodStart:
		r.Period.Start = v.Date
		return v.Date != nil
	case FieldPeriodEnd:
		r.Period.End = v.Date
		return v.Date != nil
	case FieldPeriodDays:
		r.Period.Days = v.Integer
		return v.Integer != nil
	case FieldPowerCost:
		r.Charges.PowerCost = v.number()
		return r.Charges.PowerCost != nil
	case FieldEnergyCost:
		r.Charges.EnergyCost = v.number()
		return r.Charges.EnergyCost != nil
	case FieldDiscounts:
		r.Charges.Discounts = v.number()
		return r.Charges.Discounts != nil
	case FieldTaxes:
		r.Charges.Taxes = v.number()
		return r.Charges.Taxes != nil
	case FieldTotalPayable:
		r.Charges.TotalPayable = v.number()
		return r.Charges.TotalPayable != nil
	case FieldPeakConsumption:
		r.Consumption.Peak = v.number()
		return r.Consumption.Peak != nil
	case FieldOffPeakConsumption:
		r.Consumption.OffPeak = v.number()
		return r.Consumption.OffPeak != nil
	case FieldTotalConsumption:
		r.Consumption.Total = v.number()
		return r.Consumption.Total != nil
	case FieldEnergyUnitPrice:
		r.Consumption.UnitPrice = v.number()
		return r.Consumption.UnitPrice != nil
	}
	return false
}

// has reports whether the slot for f is populated.
func (r *Record) has(f Field) bool {
	switch f {
	case FieldCustomerName:
		return r.CustomerName != nil
	case FieldReferenceNumber:
		return r.ReferenceNumber != nil
	case FieldPaymentMethod:
		return r.PaymentMethod != nil
	case FieldMandate:
		return r.Mandate != nil
	case FieldIssueDate:
		return r.IssueDate != nil
	case FieldChargeDate:
		return r.ChargeDate != nil
	case FieldPeriodStart:
		return r.Period.Start != nil
	case FieldPeriodEnd:
		return r.Period.End != nil
	case FieldPeriodDays:
		return r.Period.Days != nil
	case FieldPowerCost:
		return r.Charges.PowerCost != nil
	case FieldEnergyCost:
		return r.Charges.EnergyCost != nil
	case FieldDiscounts:
		return r.Charges.Discounts != nil
	case FieldTaxes:
		return r.Charges.Taxes != nil
	case FieldTotalPayable:
		return r.Charges.TotalPayable != nil
	case FieldPeakConsumption:
		return r.Consumption.Peak != nil
	case FieldOffPeakConsumption:
		return r.Consumption.OffPeak != nil
	case FieldTotalConsumption:
		return r.Consumption.Total != nil
	case FieldEnergyUnitPrice:
		return r.Consumption.UnitPrice != nil
	}
	return false
}

// Missing lists the fields extraction could not populate.
func (r *Record) Missing() []Field {
	var missing []Field
	for _, f := range Fields {
		if !r.has(f) {
			missing = append(missing, f)
		}
	}
	return missing
}
