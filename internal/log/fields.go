package log

// Common field names for structured logging
const (
	FieldComponent = "component"
	FieldError     = "error"
	FieldOperation = "operation"
	FieldAccountID = "account_id"
	FieldPeriod    = "period"
	FieldOldTotal  = "old_total_cents"
	FieldNewTotal  = "new_total_cents"
	FieldDuration  = "duration_ms"
	FieldSuccess   = "success"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentWorker    = "worker"
	ComponentReconcile = "reconcile"
	ComponentImport    = "import"
)

// Operations defines standard operation names
const (
	OpBackfill    = "backfill"
	OpRecalculate = "recalculate"
	OpImport      = "import"
)

// LogFields provides a builder for structured log fields.
type LogFields map[string]any

func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithPeriodKey adds the (account, period) key fields.
func (f LogFields) WithPeriodKey(accountID int64, period string) LogFields {
	f[FieldAccountID] = accountID
	f[FieldPeriod] = period
	return f
}

// WithTotals adds the before/after aggregate fields.
func (f LogFields) WithTotals(oldCents, newCents int64) LogFields {
	f[FieldOldTotal] = oldCents
	f[FieldNewTotal] = newCents
	return f
}

// WithOutcome adds the duration and success fields of a finished run.
func (f LogFields) WithOutcome(durationMs int64, success bool) LogFields {
	f[FieldDuration] = durationMs
	f[FieldSuccess] = success
	return f
}

// ToSlice converts LogFields to a slice for slog.
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
