package observability

// Metric names shared between registration (main) and call sites.
const (
	MUsecaseRequests        = "usecase_requests_total"
	MUsecaseDuration        = "usecase_duration_seconds"
	MHTTPRequests           = "http_requests_total"
	MHTTPRequestDuration    = "http_request_duration_seconds"
	MStockLow               = "stock_low_total"
	MInvoiceRetries         = "invoice_sequencer_retries_total"
	MPurchaseLinesCommitted = "purchase_lines_committed_total"
)
