package service

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/mhconf/internal/apierr"
	"github.com/vitaliisemenov/mhconf/internal/authz"
	"github.com/vitaliisemenov/mhconf/internal/coordinator"
	"github.com/vitaliisemenov/mhconf/internal/nsconfig"
	"github.com/vitaliisemenov/mhconf/internal/tracebus"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memSink struct {
	events []any
}

func (s *memSink) Send(ev any) error {
	s.events = append(s.events, ev)
	return nil
}

type memTraceSink struct {
	events []tracebus.Event
}

func (s *memTraceSink) Send(ev tracebus.Event) error {
	s.events = append(s.events, ev)
	return nil
}

func newTestService(t *testing.T) (*Service, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	svc := New(testLogger(), WithFilesystem(fs))
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() { _ = svc.Stop(context.Background()) })
	return svc, fs
}

func writeFile(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
}

func TestService_GetBootstrapsNamespaceLazily(t *testing.T) {
	svc, fs := newTestService(t)
	writeFile(t, fs, "/cfg/app.yaml", "greeting: hi\n")

	res, err := svc.Get(context.Background(), GetRequest{RootPath: "/cfg", Document: "app"})
	require.NoError(t, err)
	assert.Equal(t, "/cfg", res.NamespaceID)
	m, ok := res.Element.Value.AsMap()
	require.True(t, ok)
	assert.Len(t, m, 1)
}

func TestService_GetRejectsInvalidRootPath(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Get(context.Background(), GetRequest{RootPath: "relative/path", Document: "app"})
	require.Error(t, err)
	assert.Equal(t, apierr.StatusInvalidArgument, apierr.ToStatus(err))
}

func TestService_GetRejectsInvalidDocument(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Get(context.Background(), GetRequest{RootPath: "/cfg", Document: "a/b"})
	require.Error(t, err)
	assert.Equal(t, apierr.StatusInvalidArgument, apierr.ToStatus(err))
}

func TestService_GetDeniesWhenAuthenticatorRejects(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/cfg/app.yaml", "a: 1\n")
	denier := authz.Authenticator(denyAll{})
	svc := New(testLogger(), WithFilesystem(fs), WithAuthenticator(denier))
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() { _ = svc.Stop(context.Background()) })

	_, err := svc.Get(context.Background(), GetRequest{RootPath: "/cfg", Document: "app"})
	require.Error(t, err)
	assert.Equal(t, apierr.StatusPermissionDenied, apierr.ToStatus(err))
}

type denyAll struct{}

func (denyAll) Authenticate(context.Context, authz.Request) (authz.Decision, error) {
	return authz.Decision{Allowed: false, Reason: "no"}, nil
}

func TestService_UpdateReindexesAndBumpsVersion(t *testing.T) {
	svc, fs := newTestService(t)
	writeFile(t, fs, "/cfg/app.yaml", "a: 1\n")

	_, err := svc.Get(context.Background(), GetRequest{RootPath: "/cfg", Document: "app"})
	require.NoError(t, err)

	writeFile(t, fs, "/cfg/app.yaml", "a: 2\n")
	up, err := svc.Update(context.Background(), UpdateRequest{RootPath: "/cfg", Reload: true})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), up.NewVersion)
}

func TestService_UpdateRejectsBadRelativePath(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Update(context.Background(), UpdateRequest{RootPath: "/cfg", RelativePaths: []string{"../escape.yaml"}})
	require.Error(t, err)
	assert.Equal(t, apierr.StatusInvalidArgument, apierr.ToStatus(err))
}

func TestService_WatchRegisterAndRemove(t *testing.T) {
	svc, fs := newTestService(t)
	writeFile(t, fs, "/cfg/app.yaml", "a: 1\n")
	_, err := svc.Get(context.Background(), GetRequest{RootPath: "/cfg", Document: "app"})
	require.NoError(t, err)

	w := &nsconfig.Watcher{UID: "w1", Document: "app", Labels: nsconfig.NewLabels(nil), Sink: &memSink{}}
	require.NoError(t, svc.RegisterWatch(context.Background(), "/cfg", "app", w, ""))

	err = svc.RegisterWatch(context.Background(), "/cfg", "app", w, "")
	require.Error(t, err)
	assert.Equal(t, apierr.StatusUIDInUse, apierr.ToStatus(err))

	require.NoError(t, svc.RemoveWatch(context.Background(), "/cfg", "app", "w1", ""))

	err = svc.RemoveWatch(context.Background(), "/cfg", "app", "w1", "")
	require.Error(t, err)
	assert.Equal(t, apierr.StatusUnknownUID, apierr.ToStatus(err))
}

func TestService_TraceSubscriptionReceivesGetEvent(t *testing.T) {
	svc, fs := newTestService(t)
	writeFile(t, fs, "/cfg/app.yaml", "a: 1\n")

	sink := &memTraceSink{}
	tok, err := svc.SubscribeTrace(context.Background(), "/cfg", tracebus.Selector{}, sink, "")
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), GetRequest{RootPath: "/cfg", Document: "app"})
	require.NoError(t, err)

	require.NotEmpty(t, sink.events)
	assert.Equal(t, tracebus.KindReturnedElements, sink.events[len(sink.events)-1].Kind)

	svc.UnsubscribeTrace("/cfg", tok)
}

func TestService_RunGCExecutesNamedPass(t *testing.T) {
	svc, fs := newTestService(t)
	writeFile(t, fs, "/cfg/app.yaml", "a: 1\n")
	_, err := svc.Get(context.Background(), GetRequest{RootPath: "/cfg", Document: "app"})
	require.NoError(t, err)

	evicted, err := svc.RunGC(context.Background(), "/cfg", coordinator.PassMCGen0, 0, "")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, evicted, 0)
}

func TestService_GetOnEmptyNamespaceFailsDocumentLookup(t *testing.T) {
	svc, fs := newTestService(t)
	require.NoError(t, fs.MkdirAll("/cfg", 0o755))
	_, err := svc.Get(context.Background(), GetRequest{RootPath: "/cfg", Document: "app"})
	require.Error(t, err)
	assert.Equal(t, apierr.StatusError, apierr.ToStatus(err))
}
