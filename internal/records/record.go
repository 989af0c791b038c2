// File: internal/records/record.go
package records

import (
	"sort"
	"strings"
)

// Login fields.
const (
	FieldUserName        = "UserName"
	FieldPassword        = "Password"
	FieldLanguage        = "Language"
	FieldLoginDataTime   = "LoginDataTime"
	FieldValidateCaptcha = "ValidateCaptcha"
	FieldNextPage        = "NextPage"
)

// Loan disbursement fields.
const (
	FieldLoanAccountNo      = "LoanAccountNo"
	FieldDisbursementDate   = "DisbursementDate"
	FieldDisbursementAmount = "DisbursementAmount"
	FieldDisbursementMode   = "DisbursementMode"
	FieldBankAccountNo      = "BankAccountNo"
	FieldChequeNo           = "ChequeNo"
	FieldNarration          = "Narration"
)

// Transaction payment fields.
const (
	FieldTransactionType = "TransactionType"
	FieldAccountNo       = "AccountNo"
	FieldPaymentDate     = "PaymentDate"
	FieldPaymentAmount   = "PaymentAmount"
	FieldPaymentMode     = "PaymentMode"
	FieldReferenceNo     = "ReferenceNo"
	FieldRemarks         = "Remarks"
	FieldConfirmPayment  = "ConfirmPayment"
)

// Sub-detail grid fields. The Sub prefix drives the "save sub-details" action.
const (
	FieldSubAccountHead = "SubAccountHead"
	FieldSubAmount      = "SubAmount"
	FieldSubNarration   = "SubNarration"
)

// Fields is the header whitelist in canonical spelling and column order.
var Fields = []string{
	FieldUserName, FieldPassword, FieldLanguage, FieldLoginDataTime, FieldValidateCaptcha, FieldNextPage,
	FieldLoanAccountNo, FieldDisbursementDate, FieldDisbursementAmount, FieldDisbursementMode,
	FieldBankAccountNo, FieldChequeNo, FieldNarration,
	FieldTransactionType, FieldAccountNo, FieldPaymentDate, FieldPaymentAmount, FieldPaymentMode,
	FieldReferenceNo, FieldRemarks, FieldConfirmPayment,
	FieldSubAccountHead, FieldSubAmount, FieldSubNarration,
}

// LoginFields must be non-empty for a row to be attempted at all.
var LoginFields = []string{FieldUserName, FieldPassword}

var canonical = func() map[string]string {
	m := make(map[string]string, len(Fields))
	for _, f := range Fields {
		m[strings.ToLower(f)] = f
	}
	return m
}()

// CanonicalField maps a spreadsheet header onto the whitelist. Matching is
// case-insensitive after trimming whitespace and a UTF-8 byte order mark.
func CanonicalField(header string) (string, bool) {
	h := strings.TrimPrefix(header, "\ufeff")
	h = strings.ToLower(strings.TrimSpace(h))
	f, ok := canonical[h]
	return f, ok
}

// Record is one input row. It is never modified after construction.
type Record struct {
	row    int
	values map[string]string
}

// NewRecord builds a record for spreadsheet row number row. Unknown keys are
// dropped and every whitelisted field is present afterwards.
func NewRecord(row int, values map[string]string) Record {
	r := Record{row: row, values: make(map[string]string, len(Fields))}
	for _, f := range Fields {
		r.values[f] = ""
	}
	for k, v := range values {
		if f, ok := CanonicalField(k); ok {
			r.values[f] = strings.TrimSpace(v)
		}
	}
	return r
}

// Row is the 1-based spreadsheet row the record came from.
func (r Record) Row() int { return r.row }

// Get returns the value of a whitelisted field, or "" for anything else.
func (r Record) Get(field string) string {
	if f, ok := CanonicalField(field); ok {
		return r.values[f]
	}
	return ""
}

// Has reports whether the field is present with a non-empty value.
func (r Record) Has(field string) bool { return r.Get(field) != "" }

// Username is a shortcut for the UserName field.
func (r Record) Username() string { return r.values[FieldUserName] }

// Values returns a copy of the underlying mapping.
func (r Record) Values() map[string]string {
	out := make(map[string]string, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// Present lists the non-empty fields in sorted order.
func (r Record) Present() []string {
	var out []string
	for k, v := range r.values {
		if v != "" {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Missing lists which of the required fields are empty.
func (r Record) Missing(required ...string) []string {
	var out []string
	for _, f := range required {
		if !r.Has(f) {
			out = append(out, f)
		}
	}
	return out
}
