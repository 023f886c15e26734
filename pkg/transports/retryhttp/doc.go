// Package retryhttp executes control-plane HTTP requests against a shrinking time budget.
//
// Every response status is classified by a Policy as terminal (one of the caller's success
// codes), retryable or hard failure. Transport errors and retryable statuses are absorbed
// and retried after Budget.RetryInterval; hard failures surface as engine http_status errors
// and an exhausted budget surfaces as an engine timeout error.
package retryhttp
