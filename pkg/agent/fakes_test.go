package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/openfroyo/vminit/pkg/engine"
	"github.com/openfroyo/vminit/pkg/imds"
	"github.com/openfroyo/vminit/pkg/stores"
	"github.com/openfroyo/vminit/pkg/wireserver"
)

// recorder is a shared, ordered call log.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type fakeLedger struct {
	rec      *recorder
	complete bool
	markErr  error
}

func (l *fakeLedger) Identity() (string, bool) { return "vm-123", true }
func (l *fakeLedger) IsComplete() bool { return l.complete }
func (l *fakeLedger) MarkComplete() error {
	l.rec.add("mark")
	if l.markErr != nil {
		return l.markErr
	}
	l.complete = true
	return nil
}

type fakeWireserver struct {
	rec      *recorder
	fetchErr error
}

func (w *fakeWireserver) FetchGoalstate(context.Context) (*wireserver.Goalstate, error) {
	w.rec.add("goalstate")
	if w.fetchErr != nil {
		return nil, w.fetchErr
	}
	return &wireserver.Goalstate{ContainerID: "c", InstanceID: "i", Incarnation: "1"}, nil
}

func (w *fakeWireserver) ReportHealth(context.Context, *wireserver.Goalstate) error {
	w.rec.add("health")
	return nil
}

type fakeReporter struct {
	rec           *recorder
	extra         map[string]string
	readyErr      error
	inProgressErr error
	failure       error
}

func (r *fakeReporter) ReportReady(_ context.Context, vmID string, extra map[string]string) error {
	r.rec.add("ready:" + vmID)
	r.extra = extra
	return r.readyErr
}

func (r *fakeReporter) ReportFailure(_ context.Context, cause error, vmID string) error {
	r.rec.add("failure:" + vmID)
	r.failure = cause
	return errors.New("wireserver unreachable")
}

func (r *fakeReporter) ReportInProgress(_ context.Context, vmID string) error {
	r.rec.add("in_progress:" + vmID)
	return r.inProgressErr
}

type fakeMetadata struct {
	rec *recorder
	md  *imds.InstanceMetadata
	err error
}

func (m *fakeMetadata) Query(context.Context) (*imds.InstanceMetadata, error) {
	m.rec.add("imds")
	return m.md, m.err
}

func testMetadata(disablePassword bool) *imds.InstanceMetadata {
	md := &imds.InstanceMetadata{}
	md.Compute.OSProfile.AdminUsername = "azureuser"
	md.Compute.OSProfile.ComputerName = "vm-host"
	md.Compute.OSProfile.DisablePasswordAuthentication = imds.StringBool(disablePassword)
	md.Compute.PublicKeys = []engine.PublicKey{{KeyData: "ssh-ed25519 AAAA test"}}
	return md
}

type fakePolicy struct {
	rec *recorder
	err error
}

func (p *fakePolicy) Check(_ context.Context, spec *engine.ProvisioningSpec) error {
	p.rec.add("policy:" + spec.User.Name)
	return p.err
}

type fakeBackend struct {
	rec  *recorder
	name string
	err  error
	seen *engine.ProvisioningSpec
}

func (b *fakeBackend) Name() string { return b.name }
func (b *fakeBackend) Attempt(_ context.Context, spec *engine.ProvisioningSpec) error {
	b.rec.add("backend:" + b.name)
	b.seen = spec
	return b.err
}

type fakeInstaller struct{ rec *recorder }

func (i *fakeInstaller) Install(_ context.Context, account *engine.Account, keys []engine.PublicKey) error {
	i.rec.add("keys:" + account.Name)
	return nil
}

type fakeLookup struct{}

func (fakeLookup) Lookup(name string) (*engine.Account, error) {
	return &engine.Account{Name: name, UID: 1000, GID: 1000, HomeDir: "/home/" + name}, nil
}

type fakeSSHD struct {
	rec     *recorder
	enabled *bool
}

func (s *fakeSSHD) SetPasswordAuthentication(enabled bool) error {
	s.rec.add("sshd")
	s.enabled = &enabled
	return nil
}

type fakeJournal struct {
	rec      *recorder
	status   stores.RunStatus
	err      error
	attempts int
}

func (j *fakeJournal) StartRun(_ context.Context, vmID string) (*stores.Run, error) {
	return &stores.Run{ID: "run-1", VMID: vmID, Status: stores.RunStatusRunning}, nil
}

func (j *fakeJournal) FinishRun(_ context.Context, _ string, status stores.RunStatus, runErr error) error {
	j.status = status
	j.err = runErr
	return nil
}

func (j *fakeJournal) Observer(context.Context, string) engine.Observer { return j }

func (j *fakeJournal) BackendAttempt(engine.Capability, string, time.Duration, error) {
	j.attempts++
}

type fakeMetrics struct {
	results  []string
	attempts int
}

func (m *fakeMetrics) BackendAttempt(engine.Capability, string, time.Duration, error) { m.attempts++ }
func (m *fakeMetrics) RecordRun(result string, _ time.Duration) { m.results = append(m.results, result) }

type fakeFacts struct{}

func (fakeFacts) Collect() *engine.OSFacts {
	return &engine.OSFacts{ID: "ubuntu", VersionID: "22.04", Kernel: "6.8.0"}
}
