package log

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldQuery      = "query"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldUserAgent  = "user_agent"
	FieldSuccess    = "success"
	FieldError      = "error"
	FieldOperation  = "operation"
	FieldStudentID  = "student_id"
	FieldPaymentID  = "payment_id"
	FieldReceiptID  = "receipt_id"
	FieldReceiptNo  = "receipt_no"
	FieldAmount     = "amount"
	FieldAttempt    = "attempt"
	FieldCount      = "count"
	FieldTarget     = "target"
)

// Components
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentRelay     = "relay"
	ComponentAPI       = "api"
	ComponentStore     = "store"
	ComponentReports   = "reports"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentSheets    = "sheets"
	ComponentCache     = "cache"
	ComponentRateLimit = "rate_limit"
	ComponentTrace     = "trace"
	ComponentBackend   = "backend"
)

// Operations
const (
	OpLoad           = "load"
	OpAddStudent     = "add_student"
	OpUpdateStudent  = "update_student"
	OpDeleteStudent  = "delete_student"
	OpRestoreStudent = "restore_student"
	OpAddPayment     = "add_payment"
	OpConfirmPayment = "confirm_payment"
	OpDeletePayment  = "delete_payment"
	OpReceipt        = "receipt"
	OpExport         = "export"
	OpShutdown       = "shutdown"
	OpStartup        = "startup"
)

// LogFields builds a set of structured log fields.
type LogFields map[string]any

func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithRequestID(requestID string) LogFields {
	f[FieldRequestID] = requestID
	return f
}

func (f LogFields) WithClientIP(ip string) LogFields {
	f[FieldClientIP] = ip
	return f
}

func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithHTTPRequest adds HTTP request fields
func (f LogFields) WithHTTPRequest(method, path, query, userAgent string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	if query != "" {
		f[FieldQuery] = query
	}
	if userAgent != "" {
		f[FieldUserAgent] = userAgent
	}
	return f
}

// WithHTTPResponse adds HTTP response fields
func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = statusCode < 400
	return f
}

// ToSlice converts LogFields to key/value pairs for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
