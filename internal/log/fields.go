package log

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldError         = "error"
	FieldOperation     = "operation"
	FieldExpenseID     = "expense_id"
	FieldCloudID       = "cloud_id"
	FieldCollection    = "collection"
	FieldPin           = "pin"
	FieldAmount        = "amount"
	FieldCategory      = "category"
	FieldJobType       = "job_type"
	FieldAttempt       = "attempt"
	FieldState         = "state"
	FieldDuration      = "duration_ms"
	FieldInserted      = "inserted"
	FieldUpdated       = "updated"
	FieldDeleted       = "deleted"
	FieldSkipped       = "skipped"
	FieldPercent       = "percent"
	FieldPushID        = "push_id"
	FieldSubscriptions = "subscriptions"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentSync      = "sync"
	ComponentReconcile = "reconcile"
	ComponentEnrich    = "enrich"
	ComponentAlert     = "alert"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentCloud     = "cloud"
	ComponentPush      = "push"
	ComponentCache     = "cache"
	ComponentBackend   = "backend"
)

// Operations defines standard operation names
const (
	OpCreate    = "create"
	OpRead      = "read"
	OpUpdate    = "update"
	OpDelete    = "delete"
	OpList      = "list"
	OpSync      = "sync"
	OpReconcile = "reconcile"
	OpEnrich    = "enrich"
	OpPush      = "push"
	OpShare     = "share"
	OpJoin      = "join"
	OpShutdown  = "shutdown"
	OpStartup   = "startup"
)

// ErrorTypes defines standard error type categories
const (
	ErrorTypeValidation    = "validation_error"
	ErrorTypeConfiguration = "configuration_error"
	ErrorTypeDatabase      = "database_error"
	ErrorTypeNetwork       = "network_error"
	ErrorTypeLocation      = "location_error"
	ErrorTypeNotFound      = "not_found_error"
	ErrorTypeMalformed     = "malformed_error"
	ErrorTypeInternal      = "internal_error"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithComponent adds component field
func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithExpense adds expense identity fields
func (f LogFields) WithExpense(id int64, cloudID string, collection string) LogFields {
	f[FieldExpenseID] = id
	if cloudID != "" {
		f[FieldCloudID] = cloudID
	}
	f[FieldCollection] = collection
	return f
}

// WithCollection adds collection fields; pin is omitted for unshared collections
func (f LogFields) WithCollection(name, pin string) LogFields {
	f[FieldCollection] = name
	if pin != "" {
		f[FieldPin] = pin
	}
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
