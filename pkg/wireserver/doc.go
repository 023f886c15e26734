// Package wireserver implements the fabric control-plane protocol.
//
// Client performs the goalstate/health handshake: FetchGoalstate must complete before
// ReportHealth, which echoes the fetched incarnation. Reporter posts JSON
// provisioning-health reports (Ready, NotReady/Provisioning, NotReady/ProvisioningFailed).
// Both are stateless between calls and delegate retries to retryhttp.
package wireserver
